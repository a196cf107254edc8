package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath returns the value at a dot-notation path ("service.sample_period")
// or an entity address ("strategy:PID 1", "sensor:T1", "actuator:*").
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// GetEntity resolves a type:name address. A name of "*" returns all
// entities of that type.
func (c *Config) GetEntity(address string) (any, error) {
	entityType, name, ok := strings.Cut(address, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	switch entityType {
	case "strategy":
		if name == "*" {
			return c.Strategies, nil
		}
		for _, s := range c.Strategies {
			if s.Label == name {
				return s, nil
			}
		}
		return nil, fmt.Errorf("strategy %q not found", name)
	case "sensor":
		return findChannel("sensor", c.Channels.Sensors, name)
	case "actuator":
		return findChannel("actuator", c.Channels.Actuators, name)
	default:
		return nil, fmt.Errorf("unsupported entity type %q (use strategy, sensor or actuator)", entityType)
	}
}

func findChannel(kind string, chans []ChannelConfig, name string) (any, error) {
	if name == "*" {
		return chans, nil
	}
	for _, ch := range chans {
		if ch.Name == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%s %q not found", kind, name)
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
