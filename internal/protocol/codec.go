package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// NewEnvelope marshals payload under typ.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, fmt.Errorf("envelope type is required")
	}
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
		}
		raw = b
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// SnapshotEnvelope wraps s as a full_state envelope.
func SnapshotEnvelope(s Snapshot) (Envelope, error) {
	return NewEnvelope(TypeFullState, s)
}

// Encode writes env as one JSON line.
func Encode(w io.Writer, env Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("envelope missing required field: type")
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Decode reads one envelope from r.
func Decode(r io.Reader) (Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: type")
	}
	return env, nil
}

// Unmarshal parses one envelope from data.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: type")
	}
	return env, nil
}

// DecodePayload parses env's payload into a T. An absent payload leaves T zero.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return out, nil
}

// DecodeSnapshot parses a full_state envelope.
func DecodeSnapshot(env Envelope) (Snapshot, error) {
	if env.Type != TypeFullState {
		return Snapshot{}, fmt.Errorf("expected %s envelope, got %q", TypeFullState, env.Type)
	}
	return DecodePayload[Snapshot](env)
}
