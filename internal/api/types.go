package api

import (
	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/scheduler"
	"github.com/mattjoyce/plantctl/internal/trace"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	State           string `json:"state"`
	RunID           string `json:"run_id"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueuedSnapshots int    `json:"queued_snapshots"`
}

// RegistryResponse is returned by GET /registry.
type RegistryResponse struct {
	RunID     string                  `json:"run_id"`
	Digest    string                  `json:"config_digest,omitempty"`
	PeriodMS  int64                   `json:"sample_period_ms"`
	State     string                  `json:"state"`
	Sensors   []channel.Channel       `json:"sensors"`
	Actuators []channel.Channel       `json:"actuators"`
	Catalog   []protocol.StrategyInfo `json:"catalog"`
	Active    *string                 `json:"active"`
	Stats     scheduler.Stats         `json:"stats"`
}

// CommandResponse is returned when a command is queued.
type CommandResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// TicksResponse is returned by GET /ticks.
type TicksResponse struct {
	Ticks []trace.Entry `json:"ticks"`
}
