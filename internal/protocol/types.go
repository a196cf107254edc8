// Package protocol defines the envelopes exchanged between the control
// process and remote observers: full-state snapshots outbound, commands
// inbound.
package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

// Envelope types.
const (
	TypeFullState       = "full_state"
	TypeStartController = "start_controller"
	TypeStopController  = "stop_controller"
	TypeUpdateVariable  = "update_variable"
	TypeUpdateSetpoint  = "update_setpoint"
)

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Snapshot is the consolidated plant and controller state.
type Snapshot struct {
	RunID          string         `json:"run_id,omitempty"`
	Seq            uint64         `json:"seq"`
	Sensors        []float64      `json:"sensors"`
	Actuators      []float64      `json:"actuators"`
	Setpoints      []float64      `json:"setpoints"`
	ActiveLabel    *string        `json:"active_label"`
	Catalog        []StrategyInfo `json:"catalog"`
	LastSampleTime time.Time      `json:"last_sample_time"`
}

// Active returns the active label or "" when no strategy runs.
func (s Snapshot) Active() string {
	if s.ActiveLabel == nil {
		return ""
	}
	return *s.ActiveLabel
}

// StrategyInfo describes one registered strategy and its tunables.
type StrategyInfo struct {
	Label            string    `json:"label"`
	ConfigurableVars []VarInfo `json:"configurable_vars"`
}

// VarInfo is one tunable: its kind name and current value.
type VarInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// StartController activates control_name.
type StartController struct {
	ControlName string `json:"control_name"`
}

// StopController deactivates the running strategy.
type StopController struct{}

// UpdateVariable sets a tunable of control_name from its text form.
type UpdateVariable struct {
	ControlName string    `json:"control_name"`
	VarName     string    `json:"var_name"`
	NewValue    TextValue `json:"new_value"`
}

// UpdateSetpoint replaces the leading loop setpoints.
type UpdateSetpoint struct {
	Value []float64 `json:"value"`
}

// TextValue is a value carried as text. It decodes from a JSON string, or
// from any other JSON value using that value's literal text, so 1.5, "1.5",
// true and [40, 41] all arrive in a form ParseValue understands.
type TextValue string

func (v *TextValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	*v = TextValue(data)
	return nil
}
