package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestBytesStable(t *testing.T) {
	a := DigestBytes([]byte("service: {}\n"))
	b := DigestBytes([]byte("service: {}\n"))
	c := DigestBytes([]byte("service: {name: x}\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestVerifyDigestDetectsEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, VerifyDigest(cfg))

	require.NoError(t, os.WriteFile(path, []byte("service: {name: edited}\n"), 0o644))
	assert.Error(t, VerifyDigest(cfg))
}
