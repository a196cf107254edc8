// Package doctor checks a loaded plantctl configuration against the host it
// is about to run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/plantctl/internal/config"
	"github.com/mattjoyce/plantctl/internal/lock"
	"github.com/mattjoyce/plantctl/internal/storage"
)

// minSamplePeriod is the shortest period the sleep loop holds reliably on a
// general-purpose kernel.
const minSamplePeriod = 5 * time.Millisecond

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates host-dependent settings that loading cannot check.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDevice(r)
	d.validateLock(r)
	d.validateTrace(r)
	d.validateAPI(r)
	d.warnTiming(r)
	d.warnStrategies(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func deviceField(b config.BackendConfig) string {
	if b.Type == config.BackendLineSerial {
		return "backend.line_serial.port"
	}
	return "backend.register_block.path"
}

// validateDevice checks that a hardware backend's node exists.
func (d *Doctor) validateDevice(r *Result) {
	device := d.cfg.Backend.Device()
	if device == "" {
		return
	}
	field := deviceField(d.cfg.Backend)
	info, err := os.Stat(device)
	if err != nil {
		d.addError(r, "backend", field, fmt.Sprintf("device %s is not accessible: %v", device, err))
		return
	}
	if info.IsDir() {
		d.addError(r, "backend", field, fmt.Sprintf("device %s is a directory", device))
		return
	}

	if d.cfg.Backend.Type == config.BackendRegisterBlock {
		rb := d.cfg.Backend.RegisterBlock
		size := uint64(rb.Size)
		if size == 0 && info.Mode().IsRegular() {
			size = uint64(info.Size())
		}
		if size > 0 && rb.ScanEnd > rb.BaseAddress+size {
			d.addError(r, "backend", "backend.register_block.scan_end",
				fmt.Sprintf("scan_end 0x%x is past the end of the mapping (0x%x)", rb.ScanEnd, rb.BaseAddress+size))
		}
	}
}

// validateLock checks that the device lock can be taken right now.
func (d *Doctor) validateLock(r *Result) {
	device := d.cfg.Backend.Device()
	if device == "" {
		return
	}
	l, err := lock.Acquire(d.cfg.Lock.Dir, device)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			d.addError(r, "lock", "lock.dir", fmt.Sprintf("%v; another plantctl is driving this device", err))
			return
		}
		d.addError(r, "lock", "lock.dir", err.Error())
		return
	}
	_ = l.Release()
}

// validateTrace checks the trace path is on a local filesystem.
func (d *Doctor) validateTrace(r *Result) {
	if !d.cfg.Trace.Enabled {
		return
	}
	if err := storage.CheckTracePath(d.cfg.Trace.Path); err != nil {
		d.addError(r, "trace", "trace.path", err.Error())
	}
}

// validateAPI flags observer endpoints reachable off-host without a key.
func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.Mirror.API
	if !api.Enabled || api.APIKey != "" {
		return
	}
	if isLoopback(api.Listen) {
		d.addWarning(r, "api", "mirror.api.api_key", "API enabled without authentication")
		return
	}
	d.addError(r, "api", "mirror.api.api_key",
		fmt.Sprintf("API listens on %s without authentication; set api_key or bind to 127.0.0.1", api.Listen))
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// warnTiming warns about periods the loop or the backend cannot keep.
func (d *Doctor) warnTiming(r *Result) {
	period := d.cfg.Service.SamplePeriod
	if period < minSamplePeriod {
		d.addWarning(r, "timing", "service.sample_period",
			fmt.Sprintf("sample period %s is below %s; expect late ticks", period, minSamplePeriod))
	}
	if sweep := d.cfg.Mirror.SweepInterval; sweep > period {
		d.addWarning(r, "timing", "mirror.sweep_interval",
			fmt.Sprintf("sweep interval %s is longer than the sample period %s; observers will see coalesced snapshots", sweep, period))
	}
	if d.cfg.Backend.Type == config.BackendLineSerial {
		if timeout := d.cfg.Backend.LineSerial.Timeout; timeout >= period {
			d.addWarning(r, "timing", "backend.line_serial.timeout",
				fmt.Sprintf("read timeout %s is not shorter than the sample period %s; one slow reply costs a tick", timeout, period))
		}
	}
}

// warnStrategies warns about strategy declarations that are legal but
// probably not intended.
func (d *Doctor) warnStrategies(r *Result) {
	if len(d.cfg.Strategies) == 0 {
		d.addWarning(r, "strategies", "strategies", "no strategies declared; the loop will only sample")
		return
	}
	sensors := len(d.cfg.Channels.Sensors)
	for i, s := range d.cfg.Strategies {
		field := fmt.Sprintf("strategies[%d]", i)
		switch {
		case len(s.Setpoints) == 0:
			d.addWarning(r, "strategies", field+".setpoints",
				fmt.Sprintf("strategy %q has no setpoints; it outputs 0 until one is set", s.Label))
		case len(s.Setpoints) < sensors:
			d.addWarning(r, "strategies", field+".setpoints",
				fmt.Sprintf("strategy %q sets %d of %d setpoints; the rest reuse the last one", s.Label, len(s.Setpoints), sensors))
		}
		if s.Td > s.T {
			d.addWarning(r, "strategies", field+".td",
				fmt.Sprintf("strategy %q has td %.3g above t %.3g", s.Label, s.Td, s.T))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
