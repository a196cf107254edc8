package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessFixture(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte(`
service:
  name: bench
  sample_period: 250ms
channels:
  sensors:
    - {name: T1, unit: "°C"}
  actuators:
    - {name: Q1, unit: "%"}
strategies:
  - {label: PID 1, l: 9.02, t: 344.21, setpoints: [40]}
`))
	require.NoError(t, err)
	return cfg
}

func TestGetPath(t *testing.T) {
	cfg := accessFixture(t)

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "service field", path: "service.name", want: "bench"},
		{name: "nested backend field", path: "backend.line_serial.vref", want: 3.3},
		{name: "defaulted step follows period", path: "backend.simulated.step", want: "250ms"},
		{name: "missing key", path: "service.missing", wantErr: true},
		{name: "through a scalar", path: "service.name.first", wantErr: true},
		{name: "strategy entity", path: "strategy:PID 1", want: cfg.Strategies[0]},
		{name: "sensor entity", path: "sensor:T1", want: cfg.Channels.Sensors[0]},
		{name: "all actuators", path: "actuator:*", want: cfg.Channels.Actuators},
		{name: "unknown strategy", path: "strategy:nope", wantErr: true},
		{name: "unknown entity type", path: "valve:echo", wantErr: true},
		{name: "empty entity name", path: "sensor:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackendDevice(t *testing.T) {
	assert.Equal(t, "", BackendConfig{Type: BackendSimulated}.Device())
	assert.Equal(t, "/dev/ttyACM0", BackendConfig{
		Type:       BackendLineSerial,
		LineSerial: LineSerialConfig{Port: "/dev/ttyACM0"},
	}.Device())
	assert.Equal(t, "/dev/mem", BackendConfig{
		Type:          BackendRegisterBlock,
		RegisterBlock: RegisterBlockConfig{Path: "/dev/mem"},
	}.Device())
}
