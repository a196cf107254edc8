package backend

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MemoryTarget is byte-addressed access to a target's RAM, the way a debug
// probe exposes it. Addresses are target addresses, not offsets.
type MemoryTarget interface {
	Read8(addr uint64) (byte, error)
	ReadBlock(addr uint64, n int) ([]byte, error)
	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, v uint32) error
	Close() error
}

// BufferTarget is a MemoryTarget over a byte slice whose first byte sits at
// Base. 32-bit accesses are little-endian.
type BufferTarget struct {
	mu   sync.Mutex
	base uint64
	data []byte
}

// NewBufferTarget wraps data as target memory starting at base.
func NewBufferTarget(base uint64, data []byte) *BufferTarget {
	return &BufferTarget{base: base, data: data}
}

func (t *BufferTarget) span(addr uint64, n int) (int, error) {
	if addr < t.base || n < 0 {
		return 0, fmt.Errorf("address 0x%X below target base 0x%X", addr, t.base)
	}
	off := addr - t.base
	if off+uint64(n) > uint64(len(t.data)) {
		return 0, fmt.Errorf("access 0x%X+%d outside target window (%d bytes at 0x%X)", addr, n, len(t.data), t.base)
	}
	return int(off), nil
}

func (t *BufferTarget) Read8(addr uint64) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, err := t.span(addr, 1)
	if err != nil {
		return 0, err
	}
	return t.data[off], nil
}

func (t *BufferTarget) ReadBlock(addr uint64, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, err := t.span(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, t.data[off:off+n])
	return out, nil
}

func (t *BufferTarget) Read32(addr uint64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, err := t.span(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(t.data[off:]), nil
}

func (t *BufferTarget) Write32(addr uint64, v uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, err := t.span(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(t.data[off:], v)
	return nil
}

func (t *BufferTarget) Close() error { return nil }
