// Package channel holds the ordered sensor and actuator registries shared by
// the sampling loop and the state mirror.
//
// Registration order is the positional contract with the plant backend: the
// i-th value of a backend read or write belongs to the i-th registered channel
// of that kind. A registry is sealed once the loop starts and its size never
// changes afterwards.
package channel

import (
	"errors"
	"fmt"
	"math"
)

// Type is the value type of a channel.
type Type string

const (
	Float Type = "float"
	Int   Type = "int"
	Bool  Type = "bool"
)

// ParseType converts a config type name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Float, Int, Bool:
		return Type(s), nil
	case "":
		return Float, nil
	}
	return "", fmt.Errorf("unknown channel type %q", s)
}

// Channel is a named sensor or actuator slot.
type Channel struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Type  Type    `json:"type"`
	Color string  `json:"color"`
	Value float64 `json:"value"`
}

// Typed returns the value converted to the channel's Go type.
func (c Channel) Typed() any {
	switch c.Type {
	case Int:
		return int64(c.Value)
	case Bool:
		return c.Value != 0
	default:
		return c.Value
	}
}

var (
	// ErrSealed is returned when registering into a registry in use by a loop.
	ErrSealed = errors.New("registry is sealed")
	// ErrDuplicate is returned when a channel name is registered twice.
	ErrDuplicate = errors.New("duplicate channel name")
)

// SizeError reports a backend value vector that does not match the registry.
type SizeError struct {
	Registry string
	Want     int
	Got      int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s: expected %d values, got %d", e.Registry, e.Want, e.Got)
}

// TypeError reports a value that cannot be stored in a channel of the given type.
type TypeError struct {
	Channel string
	Type    Type
	Value   float64
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("channel %q expects %s, got %v", e.Channel, e.Type, e.Value)
}

// Registry is an ordered, fixed-size catalog of channels. It is not safe for
// concurrent use; the sampling loop owns it and hands out copies.
type Registry struct {
	kind     string
	channels []Channel
	index    map[string]int
	sealed   bool
	palette  *Palette
}

// NewRegistry returns an empty registry. kind names it in errors ("sensors").
// A nil palette leaves colours empty unless set per channel.
func NewRegistry(kind string, palette *Palette) *Registry {
	return &Registry{
		kind:    kind,
		index:   make(map[string]int),
		palette: palette,
	}
}

// Register appends a channel in registration order. An empty color is taken
// from the palette.
func (r *Registry) Register(name, unit string, typ Type, color string) error {
	if r.sealed {
		return ErrSealed
	}
	if name == "" {
		return fmt.Errorf("%s: channel name is empty", r.kind)
	}
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("%s: %w: %q", r.kind, ErrDuplicate, name)
	}
	if color == "" && r.palette != nil {
		color = r.palette.Next()
	}
	r.index[name] = len(r.channels)
	r.channels = append(r.channels, Channel{Name: name, Unit: unit, Type: typ, Color: color})
	return nil
}

// Seal freezes the registry size.
func (r *Registry) Seal() { r.sealed = true }

// Len returns the number of registered channels.
func (r *Registry) Len() int { return len(r.channels) }

// Kind returns the registry name.
func (r *Registry) Kind() string { return r.kind }

// Get returns the channel named name.
func (r *Registry) Get(name string) (Channel, bool) {
	i, ok := r.index[name]
	if !ok {
		return Channel{}, false
	}
	return r.channels[i], true
}

// Update overwrites all values in registration order. The update is all or
// nothing: on error no value changes.
func (r *Registry) Update(values []float64) error {
	normalized, err := r.normalizeAll(values)
	if err != nil {
		return err
	}
	for i, v := range normalized {
		r.channels[i].Value = v
	}
	return nil
}

// Check reports the error Update would return for values without storing them.
func (r *Registry) Check(values []float64) error {
	_, err := r.normalizeAll(values)
	return err
}

func (r *Registry) normalizeAll(values []float64) ([]float64, error) {
	if len(values) != len(r.channels) {
		return nil, &SizeError{Registry: r.kind, Want: len(r.channels), Got: len(values)}
	}
	normalized := make([]float64, len(values))
	for i, v := range values {
		n, err := normalize(r.channels[i], v)
		if err != nil {
			return nil, err
		}
		normalized[i] = n
	}
	return normalized, nil
}

// Values returns a copy of the current values in registration order.
func (r *Registry) Values() []float64 {
	out := make([]float64, len(r.channels))
	for i, c := range r.channels {
		out[i] = c.Value
	}
	return out
}

// Channels returns a copy of the channel list.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// normalize rounds ints and maps bools to 0/1. NaN and infinities are not
// storable in any channel type.
func normalize(c Channel, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &TypeError{Channel: c.Name, Type: c.Type, Value: v}
	}
	switch c.Type {
	case Int:
		return math.Round(v), nil
	case Bool:
		if v != 0 {
			return 1, nil
		}
		return 0, nil
	default:
		return v, nil
	}
}
