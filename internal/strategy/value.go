package strategy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the runtime type of a tunable.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindFloatSeq
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindFloatSeq:
		return "float_seq"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "float":
		return KindFloat, nil
	case "int":
		return KindInt, nil
	case "bool":
		return KindBool, nil
	case "float_seq":
		return KindFloatSeq, nil
	default:
		return 0, fmt.Errorf("unknown tunable kind %q", s)
	}
}

// Value holds exactly one of float64, int64, bool or []float64, tagged by Kind.
type Value struct {
	kind Kind
	f    float64
	i    int64
	b    bool
	seq  []float64
}

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// FloatSeq copies s.
func FloatSeq(s []float64) Value {
	return Value{kind: KindFloatSeq, seq: append([]float64{}, s...)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Float() float64 { return v.f }

func (v Value) Int() int64 { return v.i }

func (v Value) Bool() bool { return v.b }

// FloatSeq returns a copy of the sequence.
func (v Value) FloatSeq() []float64 { return append([]float64{}, v.seq...) }

// Any returns the held value as a plain Go value for encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	case KindFloatSeq:
		return v.FloatSeq()
	default:
		return v.f
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindFloatSeq:
		parts := make([]string, len(v.seq))
		for i, f := range v.seq {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
}

// CastError reports a string that does not parse as the tunable's kind.
type CastError struct {
	Kind  Kind
	Input string
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %q to %s: %v", e.Input, e.Kind, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// ErrNotFinite is the cause of a CastError for NaN or an infinity.
var ErrNotFinite = errors.New("value is not a finite number")

// ParseValue parses s as kind. Bools accept the strconv.ParseBool spellings.
// Sequences accept "[1, 2.5]", "1,2.5" or a single number. Floats must be
// finite.
func ParseValue(kind Kind, s string) (Value, error) {
	in := strings.TrimSpace(s)
	switch kind {
	case KindFloat:
		f, err := parseFinite(in)
		if err != nil {
			return Value{}, &CastError{Kind: kind, Input: s, Err: err}
		}
		return Float(f), nil
	case KindInt:
		i, err := strconv.ParseInt(in, 10, 64)
		if err != nil {
			return Value{}, &CastError{Kind: kind, Input: s, Err: err}
		}
		return Int(i), nil
	case KindBool:
		b, err := strconv.ParseBool(in)
		if err != nil {
			return Value{}, &CastError{Kind: kind, Input: s, Err: err}
		}
		return Bool(b), nil
	case KindFloatSeq:
		seq, err := parseSeq(in)
		if err != nil {
			return Value{}, &CastError{Kind: kind, Input: s, Err: err}
		}
		return Value{kind: KindFloatSeq, seq: seq}, nil
	default:
		return Value{}, &CastError{Kind: kind, Input: s, Err: fmt.Errorf("unsupported kind")}
	}
}

func parseSeq(in string) ([]float64, error) {
	in = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(in, "["), "]"))
	if in == "" {
		return []float64{}, nil
	}
	parts := strings.Split(in, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := parseFinite(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotFinite
	}
	return f, nil
}
