package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration at configPath.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	cfg.Digest = DigestBytes(data)
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfig finds a config file by checking standard locations.
// Priority order: $PLANTCTL_CONFIG, ~/.config/plantctl/config.yaml, /etc/plantctl/config.yaml, ./plantctl.yaml
func DiscoverConfig() (string, error) {
	if p := os.Getenv("PLANTCTL_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := make([]string, 0, 3)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "plantctl", "config.yaml"))
	}
	candidates = append(candidates, "/etc/plantctl/config.yaml", "./plantctl.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $PLANTCTL_CONFIG, %s)", strings.Join(candidates, ", "))
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.SamplePeriod == 0 {
		cfg.Service.SamplePeriod = defaults.Service.SamplePeriod
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Backend.Type == "" {
		cfg.Backend.Type = defaults.Backend.Type
	}

	ls := &cfg.Backend.LineSerial
	if ls.BaudRate == 0 {
		ls.BaudRate = defaults.Backend.LineSerial.BaudRate
	}
	if ls.Timeout == 0 {
		ls.Timeout = defaults.Backend.LineSerial.Timeout
	}
	if ls.Settle == 0 {
		ls.Settle = defaults.Backend.LineSerial.Settle
	}
	if ls.VRef == 0 {
		ls.VRef = defaults.Backend.LineSerial.VRef
	}

	sim := &cfg.Backend.Simulated
	if sim.RTh == 0 {
		sim.RTh = defaults.Backend.Simulated.RTh
	}
	if sim.CTh == 0 {
		sim.CTh = defaults.Backend.Simulated.CTh
	}
	if sim.Ambient == 0 {
		sim.Ambient = defaults.Backend.Simulated.Ambient
	}
	if sim.Gain == 0 {
		sim.Gain = defaults.Backend.Simulated.Gain
	}
	if sim.Step == 0 {
		sim.Step = cfg.Service.SamplePeriod
	}

	if len(cfg.Channels.Sensors) == 0 && len(cfg.Channels.Actuators) == 0 {
		cfg.Channels = defaults.Channels
	}
	for i := range cfg.Channels.Sensors {
		if cfg.Channels.Sensors[i].Type == "" {
			cfg.Channels.Sensors[i].Type = "float"
		}
	}
	for i := range cfg.Channels.Actuators {
		if cfg.Channels.Actuators[i].Type == "" {
			cfg.Channels.Actuators[i].Type = "float"
		}
	}

	for i := range cfg.Strategies {
		if cfg.Strategies[i].Kind == "" {
			cfg.Strategies[i].Kind = "pid"
		}
	}

	if cfg.Mirror.SweepInterval == 0 {
		cfg.Mirror.SweepInterval = defaults.Mirror.SweepInterval
	}
	if cfg.Mirror.API.Listen == "" {
		cfg.Mirror.API.Listen = defaults.Mirror.API.Listen
	}

	if cfg.Trace.Path == "" {
		cfg.Trace.Path = defaults.Trace.Path
	}
	if cfg.Lock.Dir == "" {
		cfg.Lock.Dir = defaults.Lock.Dir
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	if cfg.Service.SamplePeriod <= 0 {
		return fmt.Errorf("service.sample_period must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if err := validateChannels("channels.sensors", cfg.Channels.Sensors); err != nil {
		return err
	}
	if err := validateChannels("channels.actuators", cfg.Channels.Actuators); err != nil {
		return err
	}

	if err := validateBackend(cfg); err != nil {
		return err
	}

	labels := make(map[string]bool, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		if s.Label == "" {
			return fmt.Errorf("strategies[%d].label is required", i)
		}
		if labels[s.Label] {
			return fmt.Errorf("strategies[%d]: duplicate label %q", i, s.Label)
		}
		labels[s.Label] = true
		if s.Kind != "pid" {
			return fmt.Errorf("strategies[%d]: unknown kind %q (supported: pid)", i, s.Kind)
		}
		if !finite(s.L, s.T, s.Td) || !finite(s.Setpoints...) {
			return fmt.Errorf("strategies[%d]: l, t, td and setpoints must be finite numbers", i)
		}
		if s.L <= 0 || s.T <= 0 {
			return fmt.Errorf("strategies[%d]: l and t must be positive", i)
		}
		if s.Td < 0 {
			return fmt.Errorf("strategies[%d]: td must not be negative", i)
		}
		if len(s.Setpoints) > len(cfg.Channels.Sensors) {
			return fmt.Errorf("strategies[%d]: %d setpoints for %d sensors", i, len(s.Setpoints), len(cfg.Channels.Sensors))
		}
	}
	if cfg.Service.AutoStart != "" && !labels[cfg.Service.AutoStart] {
		return fmt.Errorf("service.auto_start: strategy %q is not declared", cfg.Service.AutoStart)
	}

	if cfg.Mirror.SweepInterval <= 0 {
		return fmt.Errorf("mirror.sweep_interval must be positive")
	}
	if cfg.Mirror.API.Enabled {
		if cfg.Mirror.API.Listen == "" {
			return fmt.Errorf("mirror.api.listen is required when the API is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.Mirror.API.APIKey); len(matches) > 1 {
			return fmt.Errorf("mirror.api.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	if cfg.Trace.Enabled && cfg.Trace.Path == "" {
		return fmt.Errorf("trace.path is required when trace is enabled")
	}

	return nil
}

func validateChannels(field string, chans []ChannelConfig) error {
	if len(chans) == 0 {
		return fmt.Errorf("%s must declare at least one channel", field)
	}
	seen := make(map[string]bool, len(chans))
	for i, c := range chans {
		if c.Name == "" {
			return fmt.Errorf("%s[%d].name is required", field, i)
		}
		if seen[c.Name] {
			return fmt.Errorf("%s[%d]: duplicate name %q", field, i, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case "float", "int", "bool":
		default:
			return fmt.Errorf("%s[%d].type must be float, int or bool (got %q)", field, i, c.Type)
		}
	}
	return nil
}

func validateBackend(cfg *Config) error {
	b := cfg.Backend
	switch b.Type {
	case BackendSimulated:
		if len(cfg.Channels.Sensors) != len(cfg.Channels.Actuators) {
			return fmt.Errorf("backend.simulated needs as many sensors as actuators (%d != %d)",
				len(cfg.Channels.Sensors), len(cfg.Channels.Actuators))
		}
		if b.Simulated.RTh <= 0 || b.Simulated.CTh <= 0 {
			return fmt.Errorf("backend.simulated: r_th and c_th must be positive")
		}
	case BackendLineSerial:
		if b.LineSerial.Port == "" {
			return fmt.Errorf("backend.line_serial.port is required")
		}
		if b.LineSerial.BaudRate <= 0 {
			return fmt.Errorf("backend.line_serial.baud_rate must be positive")
		}
	case BackendRegisterBlock:
		rb := b.RegisterBlock
		if rb.Path == "" {
			return fmt.Errorf("backend.register_block.path is required")
		}
		if rb.ScanEnd <= rb.ScanStart {
			return fmt.Errorf("backend.register_block: scan_end must be greater than scan_start")
		}
		if rb.ScanStart < rb.BaseAddress {
			return fmt.Errorf("backend.register_block: scan_start is below base_address")
		}
	default:
		return fmt.Errorf("backend.type must be one of: %s, %s, %s (got %q)",
			BackendRegisterBlock, BackendLineSerial, BackendSimulated, b.Type)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
