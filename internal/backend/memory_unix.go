//go:build unix

package backend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/plantctl/internal/config"
)

// mmapTarget maps a file or device node shared and read-write.
type mmapTarget struct {
	*BufferTarget
	f   *os.File
	mem []byte
}

// OpenMmapTarget maps cfg.Path and exposes it at cfg.BaseAddress.
func OpenMmapTarget(cfg config.RegisterBlockConfig) (MemoryTarget, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open memory window: %w", err)
	}

	size := cfg.Size
	if size == 0 {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat memory window: %w", err)
		}
		size = int(info.Size())
	}
	if size <= 0 {
		_ = f.Close()
		return nil, fmt.Errorf("memory window %s is empty", cfg.Path)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %s: %w", cfg.Path, err)
	}

	return &mmapTarget{
		BufferTarget: NewBufferTarget(cfg.BaseAddress, mem),
		f:            f,
		mem:          mem,
	}, nil
}

func (t *mmapTarget) Close() error {
	if t.mem == nil {
		return nil
	}
	err := unix.Munmap(t.mem)
	t.mem = nil
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	return err
}
