// Package strategy holds control strategies: labelled instances of an
// algorithm with runtime-typed tunables, and the catalog that tracks which
// one drives the plant.
package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SetpointsTunable is registered on every instance.
const SetpointsTunable = "setpoints"

var (
	ErrUnknownTunable   = errors.New("unknown tunable")
	ErrDuplicateTunable = errors.New("tunable already registered")
	// ErrBusy is returned by TrySetTunable while a computation holds the instance.
	ErrBusy = errors.New("instance busy")
)

// Inputs is what the loop hands an algorithm each tick. The slices are
// copies owned by the call.
type Inputs struct {
	Sensors   []float64
	Setpoints []float64
	// Actuators is the last committed output, one value per actuator channel.
	Actuators []float64
	DT        time.Duration
}

// Algorithm computes one actuator value per actuator channel.
type Algorithm interface {
	Produce(in Inputs) []float64
}

// Binder is implemented by algorithms that expose fields as tunables.
type Binder interface {
	Bind(inst *Instance) error
}

// Tunable is a read-only view of one registered tunable.
type Tunable struct {
	Name  string
	Kind  Kind
	Value Value
}

type binding struct {
	kind  Kind
	ptr   any
	value Value
}

// Instance is one labelled strategy. Produce and tunable writes exclude each
// other, so an algorithm never sees a field change mid-computation.
type Instance struct {
	label string
	algo  Algorithm

	run sync.Mutex // held by Produce and by tunable writes

	mu        sync.RWMutex
	order     []string
	tunables  map[string]*binding
	setpoints []float64
}

// NewInstance wraps algo under label with initial setpoints. If algo is a
// Binder its tunables are registered too.
func NewInstance(label string, algo Algorithm, setpoints []float64) (*Instance, error) {
	if label == "" {
		return nil, errors.New("strategy label is empty")
	}
	inst := &Instance{
		label:     label,
		algo:      algo,
		tunables:  make(map[string]*binding),
		setpoints: append([]float64{}, setpoints...),
	}
	if err := inst.RegisterTunable(SetpointsTunable, KindFloatSeq, &inst.setpoints); err != nil {
		return nil, err
	}
	if b, ok := algo.(Binder); ok {
		if err := b.Bind(inst); err != nil {
			return nil, fmt.Errorf("bind %s: %w", label, err)
		}
	}
	return inst, nil
}

// Label returns the unique instance label.
func (i *Instance) Label() string { return i.label }

// RegisterTunable binds name to ptr, which must be *float64, *int64, *bool
// or *[]float64 matching kind. The current field value becomes the initial
// tunable value.
func (i *Instance) RegisterTunable(name string, kind Kind, ptr any) error {
	v, err := load(kind, ptr)
	if err != nil {
		return fmt.Errorf("tunable %q: %w", name, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.tunables[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTunable, name)
	}
	i.tunables[name] = &binding{kind: kind, ptr: ptr, value: v}
	i.order = append(i.order, name)
	return nil
}

// SetTunable parses raw as the tunable's kind and writes it through. On a
// *CastError the previous value is kept.
func (i *Instance) SetTunable(name, raw string) error {
	b, v, err := i.prepare(name, raw)
	if err != nil {
		return err
	}
	i.run.Lock()
	defer i.run.Unlock()
	i.commit(b, v)
	return nil
}

// TrySetTunable is SetTunable that returns ErrBusy instead of waiting for a
// running computation.
func (i *Instance) TrySetTunable(name, raw string) error {
	b, v, err := i.prepare(name, raw)
	if err != nil {
		return err
	}
	if !i.run.TryLock() {
		return ErrBusy
	}
	defer i.run.Unlock()
	i.commit(b, v)
	return nil
}

func (i *Instance) prepare(name, raw string) (*binding, Value, error) {
	i.mu.RLock()
	b, ok := i.tunables[name]
	i.mu.RUnlock()
	if !ok {
		return nil, Value{}, fmt.Errorf("%s: %w: %q", i.label, ErrUnknownTunable, name)
	}
	v, err := ParseValue(b.kind, raw)
	if err != nil {
		return nil, Value{}, err
	}
	return b, v, nil
}

func (i *Instance) commit(b *binding, v Value) {
	store(b.ptr, v)
	i.mu.Lock()
	b.value = v
	i.mu.Unlock()
}

// Tunable returns the current value of name.
func (i *Instance) Tunable(name string) (Value, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	b, ok := i.tunables[name]
	if !ok {
		return Value{}, false
	}
	return b.value, true
}

// Tunables returns all tunables in registration order.
func (i *Instance) Tunables() []Tunable {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Tunable, 0, len(i.order))
	for _, name := range i.order {
		b := i.tunables[name]
		out = append(out, Tunable{Name: name, Kind: b.kind, Value: b.value})
	}
	return out
}

// Setpoints returns a copy of the instance setpoints.
func (i *Instance) Setpoints() []float64 {
	v, _ := i.Tunable(SetpointsTunable)
	return v.FloatSeq()
}

// SetSetpoints replaces the instance setpoints.
func (i *Instance) SetSetpoints(sp []float64) {
	i.mu.RLock()
	b := i.tunables[SetpointsTunable]
	i.mu.RUnlock()

	i.run.Lock()
	defer i.run.Unlock()
	i.commit(b, FloatSeq(sp))
}

// TrySetSetpoints is SetSetpoints that returns ErrBusy instead of waiting.
func (i *Instance) TrySetSetpoints(sp []float64) error {
	i.mu.RLock()
	b := i.tunables[SetpointsTunable]
	i.mu.RUnlock()

	if !i.run.TryLock() {
		return ErrBusy
	}
	defer i.run.Unlock()
	i.commit(b, FloatSeq(sp))
	return nil
}

// Produce runs the algorithm once. It blocks while a tunable write is in
// progress and excludes concurrent calls.
func (i *Instance) Produce(in Inputs) []float64 {
	i.run.Lock()
	defer i.run.Unlock()
	return i.algo.Produce(in)
}

func load(kind Kind, ptr any) (Value, error) {
	switch p := ptr.(type) {
	case *float64:
		if kind == KindFloat {
			return Float(*p), nil
		}
	case *int64:
		if kind == KindInt {
			return Int(*p), nil
		}
	case *bool:
		if kind == KindBool {
			return Bool(*p), nil
		}
	case *[]float64:
		if kind == KindFloatSeq {
			return FloatSeq(*p), nil
		}
	default:
		return Value{}, fmt.Errorf("unsupported field type %T", ptr)
	}
	return Value{}, fmt.Errorf("field type %T does not hold %s", ptr, kind)
}

func store(ptr any, v Value) {
	switch p := ptr.(type) {
	case *float64:
		*p = v.Float()
	case *int64:
		*p = v.Int()
	case *bool:
		*p = v.Bool()
	case *[]float64:
		*p = v.FloatSeq()
	}
}
