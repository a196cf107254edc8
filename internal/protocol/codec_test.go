package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEnvelope(t *testing.T) {
	label := "PID 1"
	snap := Snapshot{
		RunID:       "run-1",
		Seq:         3,
		Sensors:     []float64{25.5},
		Actuators:   []float64{100},
		Setpoints:   []float64{40},
		ActiveLabel: &label,
		Catalog: []StrategyInfo{{
			Label:            "PID 1",
			ConfigurableVars: []VarInfo{{Name: "Kp", Type: "float", Value: 34.3}},
		}},
		LastSampleTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	env, err := SnapshotEnvelope(snap)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, env))
	out := buf.String()
	assert.Contains(t, out, `"type":"full_state"`)
	assert.Contains(t, out, `"active_label":"PID 1"`)
	assert.Contains(t, out, `"configurable_vars"`)
	assert.Contains(t, out, `"last_sample_time":"2026-03-01T12:00:00Z"`)

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	got, err := DecodeSnapshot(decoded)
	require.NoError(t, err)
	assert.Equal(t, "PID 1", got.Active())
	assert.Equal(t, snap.Sensors, got.Sensors)
	assert.Equal(t, snap.Seq, got.Seq)
	assert.True(t, snap.LastSampleTime.Equal(got.LastSampleTime))
}

func TestSnapshotNullActiveLabel(t *testing.T) {
	env, err := SnapshotEnvelope(Snapshot{})
	require.NoError(t, err)
	assert.Contains(t, string(env.Payload), `"active_label":null`)

	got, err := DecodeSnapshot(env)
	require.NoError(t, err)
	assert.Equal(t, "", got.Active())
}

func TestDecodeSnapshotRejectsCommands(t *testing.T) {
	env, err := NewEnvelope(TypeStopController, nil)
	require.NoError(t, err)
	_, err = DecodeSnapshot(env)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, env Envelope)
	}{
		{
			name:  "start controller",
			input: `{"type":"start_controller","payload":{"control_name":"PID 1"}}`,
			check: func(t *testing.T, env Envelope) {
				p, err := DecodePayload[StartController](env)
				require.NoError(t, err)
				assert.Equal(t, "PID 1", p.ControlName)
			},
		},
		{
			name:  "stop without payload",
			input: `{"type":"stop_controller"}`,
			check: func(t *testing.T, env Envelope) {
				_, err := DecodePayload[StopController](env)
				assert.NoError(t, err)
			},
		},
		{
			name:  "update setpoint",
			input: `{"type":"update_setpoint","payload":{"value":[40,35.5]}}`,
			check: func(t *testing.T, env Envelope) {
				p, err := DecodePayload[UpdateSetpoint](env)
				require.NoError(t, err)
				assert.Equal(t, []float64{40, 35.5}, p.Value)
			},
		},
		{
			name:  "unknown type still decodes",
			input: `{"type":"reboot","payload":{}}`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, "reboot", env.Type)
			},
		},
		{name: "missing type", input: `{"payload":{}}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, env)
			}
			env2, err := Unmarshal([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, env.Type, env2.Type)
		})
	}
}

func TestUpdateVariableTextValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  TextValue
	}{
		{name: "string", value: `"1.5"`, want: "1.5"},
		{name: "number", value: `1.5`, want: "1.5"},
		{name: "bool", value: `true`, want: "true"},
		{name: "array", value: `[40, 41]`, want: "[40, 41]"},
		{name: "null", value: `null`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Unmarshal([]byte(`{"type":"update_variable","payload":{"control_name":"PID","var_name":"Kp","new_value":` + tt.value + `}}`))
			require.NoError(t, err)
			p, err := DecodePayload[UpdateVariable](env)
			require.NoError(t, err)
			assert.Equal(t, "Kp", p.VarName)
			assert.Equal(t, tt.want, p.NewValue)
		})
	}
}

func TestDecodePayloadInvalid(t *testing.T) {
	env := Envelope{Type: TypeUpdateSetpoint, Payload: []byte(`{"value":"forty"}`)}
	_, err := DecodePayload[UpdateSetpoint](env)
	assert.Error(t, err)
}

func TestNewEnvelopeRequiresType(t *testing.T) {
	_, err := NewEnvelope("", nil)
	assert.Error(t, err)
	assert.Error(t, Encode(&bytes.Buffer{}, Envelope{}))
}
