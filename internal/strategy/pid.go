package strategy

import "math"

// Bounds clamps actuator output.
type Bounds struct {
	Min, Max float64
}

var (
	Bidirectional  = Bounds{Min: -100, Max: 100}
	Unidirectional = Bounds{Min: 0, Max: 100}
)

func (b Bounds) clamp(v float64) float64 {
	return math.Max(b.Min, math.Min(b.Max, v))
}

// PID is a per-channel PID controller. Channel i tracks Setpoints[i] against
// Sensors[i] and drives actuator i. Missing setpoints reuse the last one.
//
// The integral only accumulates while the output is unsaturated. The
// derivative acts on the measurement, so setpoint steps do not kick.
type PID struct {
	Kp      float64
	Ki      float64
	Kd      float64
	Enabled bool

	bounds   Bounds
	integral []float64
	lastPV   []float64
}

// NewZieglerNichols tunes a PI controller from open-loop step-response
// identification: dead time l, time constant t.
//
//	Kp = 0.9·t/l   Ti = l/0.3   Ki = Kp/Ti
func NewZieglerNichols(l, t float64, bounds Bounds) *PID {
	kp := 0.9 * t / l
	ti := l / 0.3
	return &PID{
		Kp:      kp,
		Ki:      kp / ti,
		Enabled: true,
		bounds:  bounds,
	}
}

// WithDerivative sets Kd = Kp·td.
func (p *PID) WithDerivative(td float64) *PID {
	p.Kd = p.Kp * td
	return p
}

// Bind exposes Kp, Ki, Kd and enabled.
func (p *PID) Bind(inst *Instance) error {
	for _, t := range []struct {
		name string
		kind Kind
		ptr  any
	}{
		{"Kp", KindFloat, &p.Kp},
		{"Ki", KindFloat, &p.Ki},
		{"Kd", KindFloat, &p.Kd},
		{"enabled", KindBool, &p.Enabled},
	} {
		if err := inst.RegisterTunable(t.name, t.kind, t.ptr); err != nil {
			return err
		}
	}
	return nil
}

func (p *PID) Produce(in Inputs) []float64 {
	n := len(in.Actuators)
	out := make([]float64, n)
	p.resize(n)

	if !p.Enabled || len(in.Setpoints) == 0 {
		for i := range p.integral {
			p.integral[i] = 0
			p.lastPV[i] = math.NaN()
		}
		return out
	}

	dt := in.DT.Seconds()
	for i := 0; i < n && i < len(in.Sensors); i++ {
		sp := in.Setpoints[min(i, len(in.Setpoints)-1)]
		pv := in.Sensors[i]
		e := sp - pv

		inc := p.Ki * e * dt
		raw := p.Kp*e + p.integral[i] + inc
		if p.Kd != 0 && dt > 0 && !math.IsNaN(p.lastPV[i]) {
			raw -= p.Kd * (pv - p.lastPV[i]) / dt
		}
		p.lastPV[i] = pv

		u := p.bounds.clamp(raw)
		if u == raw {
			p.integral[i] += inc
		}
		out[i] = u
	}
	return out
}

func (p *PID) resize(n int) {
	if len(p.integral) == n {
		return
	}
	p.integral = make([]float64, n)
	p.lastPV = make([]float64, n)
	for i := range p.lastPV {
		p.lastPV[i] = math.NaN()
	}
}

// Integral returns a copy of the per-channel integral terms.
func (p *PID) Integral() []float64 {
	return append([]float64{}, p.integral...)
}
