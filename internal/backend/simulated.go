package backend

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/plantctl/internal/config"
)

// Simulated is an in-process first-order thermal plant, one body per channel:
//
//	T += (gain*u - (T - T_amb)/R_th) * step / C_th
//
// Each Send advances every body by one step using the values sent.
type Simulated struct {
	rth     float64
	cth     float64
	ambient float64
	gain    float64
	step    time.Duration

	mu    sync.Mutex
	temps []float64
	drive []float64
}

// NewSimulated returns a simulator with n channels at ambient temperature.
func NewSimulated(cfg config.SimulatedConfig, n int) *Simulated {
	s := &Simulated{
		rth:     cfg.RTh,
		cth:     cfg.CTh,
		ambient: cfg.Ambient,
		gain:    cfg.Gain,
		step:    cfg.Step,
		temps:   make([]float64, n),
		drive:   make([]float64, n),
	}
	if s.step <= 0 {
		s.step = time.Second
	}
	s.reset()
	return s
}

func (s *Simulated) reset() {
	for i := range s.temps {
		s.temps[i] = s.ambient
		s.drive[i] = 0
	}
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Read(ctx context.Context) ([]float64, []float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	temps := make([]float64, len(s.temps))
	copy(temps, s.temps)
	drive := make([]float64, len(s.drive))
	copy(drive, s.drive)
	return temps, drive, nil
}

func (s *Simulated) Send(ctx context.Context, actuators []float64) error {
	if err := checkCount("actuators", len(s.drive), len(actuators)); err != nil {
		return &SendError{Backend: TypeSimulated, Err: err}
	}

	dt := s.step.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range actuators {
		s.temps[i] = s.next(s.temps[i], u, dt)
		s.drive[i] = u
	}
	return nil
}

func (s *Simulated) next(t, u, dt float64) float64 {
	dT := (s.gain*u - (t-s.ambient)/s.rth) * dt / s.cth
	return t + dT
}
