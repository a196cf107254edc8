package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// DigestBytes returns the BLAKE3-256 hex digest of data.
func DigestBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return DigestBytes(data), nil
}

// VerifyDigest reports whether the file at cfg.SourcePath still matches the
// digest it was loaded with. Observers use it to detect a config edited under
// a running loop.
func VerifyDigest(cfg *Config) error {
	if cfg.SourcePath == "" {
		return fmt.Errorf("config has no source path")
	}
	actual, err := ComputeBlake3Hash(cfg.SourcePath)
	if err != nil {
		return err
	}
	if actual != cfg.Digest {
		return fmt.Errorf("config %s changed since load: expected %s, got %s", cfg.SourcePath, cfg.Digest, actual)
	}
	return nil
}
