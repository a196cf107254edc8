//go:build !unix

package backend

import (
	"fmt"
	"runtime"

	"github.com/mattjoyce/plantctl/internal/config"
)

// OpenMmapTarget is unavailable off unix.
func OpenMmapTarget(cfg config.RegisterBlockConfig) (MemoryTarget, error) {
	return nil, fmt.Errorf("memory window %s: mmap targets are not supported on %s", cfg.Path, runtime.GOOS)
}
