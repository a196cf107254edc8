package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mattjoyce/plantctl/internal/config"
)

// ErrReplyTimeout is returned when a device does not finish a reply line in time.
var ErrReplyTimeout = errors.New("timed out waiting for reply line")

// PortOpener opens the serial line for a line-serial backend.
type PortOpener func(cfg config.LineSerialConfig) (io.ReadWriteCloser, error)

// OpenSerialPort opens cfg.Port at cfg.BaudRate with cfg.Timeout as the read timeout.
func OpenSerialPort(cfg config.LineSerialConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
	}
	return port, nil
}

// LineSerial speaks the thermal-lab line protocol:
//
//	GET_TEMP\n          -> r1,r2,...\n   raw ADC counts
//	GET_PWM\n           -> d1,d2,...\n   current duty
//	SET_PWM:<a>,<b>\n   (no reply)
type LineSerial struct {
	cfg       config.LineSerialConfig
	sensors   int
	actuators int
	open      PortOpener
	logger    *slog.Logger

	mu      sync.Mutex
	port    io.ReadWriteCloser
	pending []byte
}

// NewLineSerial returns an unconnected line-serial backend.
func NewLineSerial(cfg config.LineSerialConfig, sensors, actuators int, open PortOpener, logger *slog.Logger) *LineSerial {
	return &LineSerial{
		cfg:       cfg,
		sensors:   sensors,
		actuators: actuators,
		open:      open,
		logger:    logger,
	}
}

func (s *LineSerial) Connect(ctx context.Context) error {
	port, err := s.open(s.cfg)
	if err != nil {
		return &ConnectError{Backend: TypeLineSerial, Err: err}
	}

	// The board resets when the port opens.
	if s.cfg.Settle > 0 {
		s.logger.Info("waiting for device to settle", "port", s.cfg.Port, "settle", s.cfg.Settle)
		select {
		case <-time.After(s.cfg.Settle):
		case <-ctx.Done():
			_ = port.Close()
			return &ConnectError{Backend: TypeLineSerial, Err: ctx.Err()}
		}
	}
	if r, ok := port.(interface{ ResetInputBuffer() error }); ok {
		if err := r.ResetInputBuffer(); err != nil {
			s.logger.Warn("failed to flush serial input", "error", err)
		}
	}

	s.mu.Lock()
	s.port = port
	s.pending = s.pending[:0]
	s.mu.Unlock()

	s.logger.Info("serial device connected", "port", s.cfg.Port, "baud_rate", s.cfg.BaudRate)
	return nil
}

func (s *LineSerial) Read(ctx context.Context) ([]float64, []float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: errors.New("not connected")}
	}

	line, err := s.request("GET_TEMP")
	if err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: err}
	}
	raw, err := parseInts(line)
	if err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: fmt.Errorf("GET_TEMP reply %q: %w", line, err)}
	}
	if err := checkCount("sensors", s.sensors, len(raw)); err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: err}
	}
	sensors := make([]float64, len(raw))
	for i, r := range raw {
		sensors[i] = Celsius(r, s.cfg.VRef)
	}

	line, err = s.request("GET_PWM")
	if err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: err}
	}
	duty, err := parseFloats(line)
	if err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: fmt.Errorf("GET_PWM reply %q: %w", line, err)}
	}
	if err := checkCount("actuators", s.actuators, len(duty)); err != nil {
		return nil, nil, &ReadError{Backend: TypeLineSerial, Err: err}
	}

	return sensors, duty, nil
}

func (s *LineSerial) Send(ctx context.Context, actuators []float64) error {
	if err := checkCount("actuators", s.actuators, len(actuators)); err != nil {
		return &SendError{Backend: TypeLineSerial, Err: err}
	}

	parts := make([]string, len(actuators))
	for i, v := range actuators {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return &SendError{Backend: TypeLineSerial, Err: errors.New("not connected")}
	}
	if err := s.writeLine("SET_PWM:" + strings.Join(parts, ",")); err != nil {
		return &SendError{Backend: TypeLineSerial, Err: err}
	}
	return nil
}

// Close closes the serial port.
func (s *LineSerial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Celsius converts a raw 10-bit ADC count from the on-board sensor.
func Celsius(raw int, vref float64) float64 {
	return float64(raw)*(vref/1023.0*100.0) - 50.0
}

func (s *LineSerial) request(cmd string) (string, error) {
	if err := s.writeLine(cmd); err != nil {
		return "", err
	}
	return s.readLine()
}

func (s *LineSerial) writeLine(line string) error {
	if _, err := io.WriteString(s.port, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

// readLine returns the next newline-terminated reply without the terminator.
// A port read that times out returns zero bytes, so the overall wait is
// bounded by the configured timeout rather than by a single read.
func (s *LineSerial) readLine() (string, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.pending[:i]))
			s.pending = append(s.pending[:0], s.pending[i+1:]...)
			return line, nil
		}

		n, err := s.port.Read(buf)
		if n > 0 {
			s.pending = append(s.pending, buf[:n]...)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		if !time.Now().Before(deadline) {
			s.pending = s.pending[:0]
			return "", ErrReplyTimeout
		}
	}
}

func parseInts(line string) ([]int, error) {
	fields, err := splitFields(line)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(line string) ([]float64, error) {
	fields, err := splitFields(line)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func splitFields(line string) ([]string, error) {
	if line == "" {
		return nil, errors.New("empty reply")
	}
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}
