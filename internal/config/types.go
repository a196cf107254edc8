package config

import "time"

// Backend type names accepted in backend.type.
const (
	BackendRegisterBlock = "register_block"
	BackendLineSerial    = "line_serial"
	BackendSimulated     = "simulated"
)

// Config represents the complete plantctl configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Backend    BackendConfig    `yaml:"backend"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Strategies []StrategyConfig `yaml:"strategies,omitempty"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Trace      TraceConfig      `yaml:"trace,omitempty"`
	Lock       LockConfig       `yaml:"lock,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
	// Digest is the BLAKE3 hex digest of the raw config file.
	Digest string `yaml:"-"`
}

// ServiceConfig defines core loop settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	SamplePeriod time.Duration `yaml:"sample_period"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	// AutoStart names a strategy that is active when the loop starts.
	AutoStart string `yaml:"auto_start,omitempty"`
}

// BackendConfig selects and parameterises the plant backend.
type BackendConfig struct {
	Type          string              `yaml:"type"`
	RegisterBlock RegisterBlockConfig `yaml:"register_block,omitempty"`
	LineSerial    LineSerialConfig    `yaml:"line_serial,omitempty"`
	Simulated     SimulatedConfig     `yaml:"simulated,omitempty"`
}

// Device names the hardware node the backend drives, or "" for none.
func (b BackendConfig) Device() string {
	switch b.Type {
	case BackendRegisterBlock:
		return b.RegisterBlock.Path
	case BackendLineSerial:
		return b.LineSerial.Port
	default:
		return ""
	}
}

// RegisterBlockConfig describes a memory window holding the "!CTR" block.
type RegisterBlockConfig struct {
	// Path is a file or device node exposing the target RAM.
	Path string `yaml:"path"`
	// BaseAddress is the target address of byte 0 of the mapping.
	BaseAddress uint64 `yaml:"base_address"`
	// Size is the number of bytes to map. Zero means the file size.
	Size int `yaml:"size,omitempty"`
	// ScanStart and ScanEnd bound the marker search, in target addresses.
	ScanStart uint64 `yaml:"scan_start"`
	ScanEnd   uint64 `yaml:"scan_end"`
}

// LineSerialConfig describes a line-protocol serial device.
type LineSerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"`
	Settle   time.Duration `yaml:"settle"`
	VRef     float64       `yaml:"vref"`
}

// SimulatedConfig holds first-order thermal model constants.
type SimulatedConfig struct {
	RTh     float64       `yaml:"r_th"`
	CTh     float64       `yaml:"c_th"`
	Ambient float64       `yaml:"t_ambient"`
	Gain    float64       `yaml:"gain"`
	Step    time.Duration `yaml:"step,omitempty"`
}

// ChannelsConfig lists sensor and actuator channels in registration order.
type ChannelsConfig struct {
	Sensors   []ChannelConfig `yaml:"sensors"`
	Actuators []ChannelConfig `yaml:"actuators"`
}

// ChannelConfig defines a single channel.
type ChannelConfig struct {
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit"`
	Type  string `yaml:"type"` // float | int | bool
	Color string `yaml:"color,omitempty"`
}

// StrategyConfig declares a built-in strategy instance.
type StrategyConfig struct {
	Label          string    `yaml:"label"`
	Kind           string    `yaml:"kind"` // pid
	L              float64   `yaml:"l"`
	T              float64   `yaml:"t"`
	Td             float64   `yaml:"td,omitempty"`
	Unidirectional bool      `yaml:"unidirectional,omitempty"`
	Setpoints      []float64 `yaml:"setpoints,omitempty"`
}

// MirrorConfig defines the state-mirror sweep and its remote transport.
type MirrorConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	API           APIConfig     `yaml:"api"`
}

// APIConfig defines the HTTP transport used by remote observers.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey is an optional bearer token. Empty disables auth.
	APIKey string `yaml:"api_key,omitempty"`
}

// TraceConfig defines the current-run tick trace.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LockConfig defines where exclusive device locks live.
type LockConfig struct {
	Dir string `yaml:"dir"`
}

// Defaults returns a Config that runs one simulated thermal channel.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "plantctl",
			SamplePeriod: time.Second,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		Backend: BackendConfig{
			Type: BackendSimulated,
			LineSerial: LineSerialConfig{
				BaudRate: 115200,
				Timeout:  100 * time.Millisecond,
				Settle:   2 * time.Second,
				VRef:     3.3,
			},
			Simulated: SimulatedConfig{
				RTh:     5,
				CTh:     50,
				Ambient: 25,
				Gain:    1,
			},
		},
		Channels: ChannelsConfig{
			Sensors:   []ChannelConfig{{Name: "Temperature", Unit: "°C", Type: "float"}},
			Actuators: []ChannelConfig{{Name: "Heater", Unit: "%", Type: "float"}},
		},
		Mirror: MirrorConfig{
			SweepInterval: 100 * time.Millisecond,
			API: APIConfig{
				Enabled: false,
				Listen:  "127.0.0.1:8470",
			},
		},
		Trace: TraceConfig{
			Enabled: false,
			Path:    "./data/trace.db",
		},
		Lock: LockConfig{
			Dir: "./data",
		},
	}
}
