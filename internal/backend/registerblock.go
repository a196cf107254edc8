package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/mattjoyce/plantctl/internal/config"
)

// Marker precedes the control block in target RAM.
var Marker = [4]byte{'!', 'C', 'T', 'R'}

const (
	slotSize  = 4
	scanChunk = 4096 // multiple of slotSize so aligned slots never straddle chunks
)

// ErrMarkerNotFound is wrapped in the ConnectError when the scan fails.
var ErrMarkerNotFound = errors.New("control block marker not found")

// TargetOpener opens the memory target for a register-block backend.
type TargetOpener func(cfg config.RegisterBlockConfig) (MemoryTarget, error)

// RegisterBlock reads and writes a packed float32 control block:
//
//	base-4: '!' 'C' 'T' 'R'
//	base+0: sensor_0 ... sensor_{n-1}     float32 LE, 4-byte slots
//	base+4n: actuator_0 ... actuator_{m-1}
//
// Reads return all n+m slots. Writes put actuator i at base+(n+i)*4.
type RegisterBlock struct {
	cfg       config.RegisterBlockConfig
	sensors   int
	actuators int
	open      TargetOpener
	logger    *slog.Logger

	mu     sync.Mutex
	target MemoryTarget
	base   uint64
}

// NewRegisterBlock returns an unconnected register-block backend.
func NewRegisterBlock(cfg config.RegisterBlockConfig, sensors, actuators int, open TargetOpener, logger *slog.Logger) *RegisterBlock {
	return &RegisterBlock{
		cfg:       cfg,
		sensors:   sensors,
		actuators: actuators,
		open:      open,
		logger:    logger,
	}
}

// Base returns the address of sensor_0 once connected.
func (b *RegisterBlock) Base() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

func (b *RegisterBlock) Connect(ctx context.Context) error {
	target, err := b.open(b.cfg)
	if err != nil {
		return &ConnectError{Backend: TypeRegisterBlock, Err: err}
	}

	b.logger.Info("scanning for control block", "start", fmt.Sprintf("0x%X", b.cfg.ScanStart), "end", fmt.Sprintf("0x%X", b.cfg.ScanEnd))
	markerAddr, err := scanMarker(ctx, target, b.cfg.ScanStart, b.cfg.ScanEnd)
	if err != nil {
		_ = target.Close()
		return &ConnectError{Backend: TypeRegisterBlock, Err: err}
	}
	base := markerAddr + slotSize

	// The whole block must be addressable before the loop relies on it.
	if _, err := target.ReadBlock(base, (b.sensors+b.actuators)*slotSize); err != nil {
		_ = target.Close()
		return &ConnectError{Backend: TypeRegisterBlock, Err: fmt.Errorf("control block at 0x%X truncated: %w", base, err)}
	}

	b.mu.Lock()
	b.target = target
	b.base = base
	b.mu.Unlock()

	b.logger.Info("control block found", "marker", fmt.Sprintf("0x%X", markerAddr), "base", fmt.Sprintf("0x%X", base))
	return nil
}

func (b *RegisterBlock) Read(ctx context.Context) ([]float64, []float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == nil {
		return nil, nil, &ReadError{Backend: TypeRegisterBlock, Err: errors.New("not connected")}
	}

	raw, err := b.target.ReadBlock(b.base, (b.sensors+b.actuators)*slotSize)
	if err != nil {
		return nil, nil, &ReadError{Backend: TypeRegisterBlock, Err: err}
	}
	values := decodeSlots(raw)
	return values[:b.sensors], values[b.sensors:], nil
}

func (b *RegisterBlock) Send(ctx context.Context, actuators []float64) error {
	if err := checkCount("actuators", b.actuators, len(actuators)); err != nil {
		return &SendError{Backend: TypeRegisterBlock, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == nil {
		return &SendError{Backend: TypeRegisterBlock, Err: errors.New("not connected")}
	}

	for i, v := range actuators {
		addr := b.base + uint64((b.sensors+i)*slotSize)
		if err := b.target.Write32(addr, math.Float32bits(float32(v))); err != nil {
			return &SendError{Backend: TypeRegisterBlock, Err: fmt.Errorf("actuator %d at 0x%X: %w", i, addr, err)}
		}
	}
	return nil
}

// Close releases the memory target.
func (b *RegisterBlock) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == nil {
		return nil
	}
	err := b.target.Close()
	b.target = nil
	return err
}

// scanMarker returns the 4-byte aligned address of the marker in [start, end).
func scanMarker(ctx context.Context, target MemoryTarget, start, end uint64) (uint64, error) {
	addr := alignUp(start)
	for addr+slotSize <= end {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n := uint64(scanChunk)
		if addr+n > end {
			n = end - addr
		}
		buf, err := target.ReadBlock(addr, int(n))
		if err != nil {
			return 0, fmt.Errorf("scan at 0x%X: %w", addr, err)
		}
		for off := 0; off+slotSize <= len(buf); off += slotSize {
			if buf[off] == Marker[0] && bytes.Equal(buf[off:off+slotSize], Marker[:]) {
				return addr + uint64(off), nil
			}
		}
		addr += n
	}
	return 0, fmt.Errorf("%w in [0x%X, 0x%X)", ErrMarkerNotFound, start, end)
}

func alignUp(addr uint64) uint64 {
	return (addr + slotSize - 1) &^ (slotSize - 1)
}

func decodeSlots(raw []byte) []float64 {
	out := make([]float64, len(raw)/slotSize)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*slotSize:])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out
}

// EncodeBlock lays out a marker followed by values as the firmware does.
// It is used to seed memory windows for bench setups and tests.
func EncodeBlock(values []float64) []byte {
	buf := make([]byte, slotSize+len(values)*slotSize)
	copy(buf, Marker[:])
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[slotSize+i*slotSize:], math.Float32bits(float32(v)))
	}
	return buf
}
