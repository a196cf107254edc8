package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file falls back to simulated defaults",
			yaml: `{}`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, BackendSimulated, cfg.Backend.Type)
				assert.Equal(t, time.Second, cfg.Service.SamplePeriod)
				assert.Equal(t, time.Second, cfg.Backend.Simulated.Step)
				assert.Equal(t, 100*time.Millisecond, cfg.Mirror.SweepInterval)
				require.Len(t, cfg.Channels.Sensors, 1)
				require.Len(t, cfg.Channels.Actuators, 1)
			},
		},
		{
			name: "line serial with strategies",
			yaml: `
service:
  sample_period: 500ms
  log_level: debug
  auto_start: PID 1
backend:
  type: line_serial
  line_serial:
    port: /dev/ttyACM0
channels:
  sensors:
    - {name: T1, unit: "°C"}
    - {name: T2, unit: "°C"}
  actuators:
    - {name: Q1, unit: "%"}
    - {name: Q2, unit: "%", type: int}
strategies:
  - label: PID 1
    l: 9.02
    t: 344.21
    setpoints: [40, 35]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 500*time.Millisecond, cfg.Service.SamplePeriod)
				assert.Equal(t, "/dev/ttyACM0", cfg.Backend.LineSerial.Port)
				assert.Equal(t, 115200, cfg.Backend.LineSerial.BaudRate)
				assert.Equal(t, 2*time.Second, cfg.Backend.LineSerial.Settle)
				assert.InDelta(t, 3.3, cfg.Backend.LineSerial.VRef, 1e-9)
				assert.Equal(t, "float", cfg.Channels.Sensors[0].Type)
				assert.Equal(t, "int", cfg.Channels.Actuators[1].Type)
				require.Len(t, cfg.Strategies, 1)
				assert.Equal(t, "pid", cfg.Strategies[0].Kind)
				assert.Equal(t, []float64{40, 35}, cfg.Strategies[0].Setpoints)
			},
		},
		{
			name: "env interpolation in api key",
			yaml: `
mirror:
  api:
    enabled: true
    api_key: ${PLANTCTL_TEST_KEY}
`,
			env: map[string]string{"PLANTCTL_TEST_KEY": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "s3cret", cfg.Mirror.API.APIKey)
				assert.Equal(t, "127.0.0.1:8470", cfg.Mirror.API.Listen)
			},
		},
		{
			name: "unresolved api key env var",
			yaml: `
mirror:
  api:
    enabled: true
    api_key: ${PLANTCTL_TEST_MISSING_KEY}
`,
			wantErr: true,
		},
		{
			name:    "unknown backend type",
			yaml:    "backend:\n  type: canbus\n",
			wantErr: true,
		},
		{
			name: "simulated needs paired channels",
			yaml: `
channels:
  sensors: [{name: A}, {name: B}]
  actuators: [{name: U}]
`,
			wantErr: true,
		},
		{
			name: "duplicate channel names",
			yaml: `
channels:
  sensors: [{name: A}, {name: A}]
  actuators: [{name: U}, {name: V}]
`,
			wantErr: true,
		},
		{
			name: "bad channel type",
			yaml: `
channels:
  sensors: [{name: A, type: string}]
  actuators: [{name: U}]
`,
			wantErr: true,
		},
		{
			name: "register block scan range",
			yaml: `
backend:
  type: register_block
  register_block:
    path: /tmp/ram.img
    base_address: 0x20000000
    scan_start: 0x20000000
    scan_end: 0x20000000
`,
			wantErr: true,
		},
		{
			name:    "auto start must name a strategy",
			yaml:    "service:\n  auto_start: nope\n",
			wantErr: true,
		},
		{
			name: "strategy needs identification constants",
			yaml: `
strategies:
  - label: broken
    l: 0
    t: 10
`,
			wantErr: true,
		},
		{
			name: "strategy constants must be finite",
			yaml: `
strategies:
  - label: broken
    l: .inf
    t: 10
`,
			wantErr: true,
		},
		{
			name: "strategy setpoints must be finite",
			yaml: `
strategies:
  - label: broken
    l: 9
    t: 300
    setpoints: [.nan]
`,
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			assert.Len(t, cfg.Digest, 64)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.SourcePath)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDiscoverConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	t.Setenv("PLANTCTL_CONFIG", path)

	got, err := DiscoverConfig()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
