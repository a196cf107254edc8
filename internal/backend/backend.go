// Package backend implements the plant backends the sampling loop talks to.
//
// Every backend satisfies the same three-method contract so the loop never
// knows which transport it drives:
//   - Connect prepares the transport. A failure is fatal for the loop.
//   - Read returns the sensor values followed by the actuator readback, in
//     channel registration order.
//   - Send writes one value per actuator channel, in registration order.
//
// Backends are selected by Type through New.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/plantctl/internal/config"
)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks github.com/mattjoyce/plantctl/internal/backend Backend

// Backend is the capability every plant transport provides.
type Backend interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (sensors, actuators []float64, err error)
	Send(ctx context.Context, actuators []float64) error
}

// Type selects a backend implementation.
type Type string

const (
	TypeRegisterBlock Type = config.BackendRegisterBlock
	TypeLineSerial    Type = config.BackendLineSerial
	TypeSimulated     Type = config.BackendSimulated
)

// ConnectError is fatal: the loop refuses to start.
type ConnectError struct {
	Backend Type
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ReadError is recoverable: the loop keeps the previous channel values.
type ReadError struct {
	Backend Type
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Backend, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// SendError is recoverable: the plant keeps whatever it last accepted.
type SendError struct {
	Backend Type
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Backend, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// New builds the backend selected by cfg.Type for the given channel counts.
func New(cfg config.BackendConfig, sensors, actuators int, logger *slog.Logger) (Backend, error) {
	if sensors <= 0 || actuators <= 0 {
		return nil, fmt.Errorf("backend needs at least one sensor and one actuator (got %d/%d)", sensors, actuators)
	}
	logger = logger.With("backend", cfg.Type)

	switch Type(cfg.Type) {
	case TypeRegisterBlock:
		return NewRegisterBlock(cfg.RegisterBlock, sensors, actuators, OpenMmapTarget, logger), nil
	case TypeLineSerial:
		return NewLineSerial(cfg.LineSerial, sensors, actuators, OpenSerialPort, logger), nil
	case TypeSimulated:
		if sensors != actuators {
			return nil, fmt.Errorf("simulated backend needs as many sensors as actuators (%d != %d)", sensors, actuators)
		}
		return NewSimulated(cfg.Simulated, actuators), nil
	default:
		return nil, fmt.Errorf("unsupported backend type %q", cfg.Type)
	}
}

// Close releases the backend's transport if it holds one.
func Close(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func checkCount(what string, want, got int) error {
	if want != got {
		return fmt.Errorf("%s: expected %d values, got %d", what, want, got)
	}
	return nil
}
