package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/plantctl/internal/client"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/log"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/tui/watch"
)

const defaultAPIURL = "http://127.0.0.1:8470"

type remoteFlags struct {
	url    *string
	apiKey *string
}

func addRemoteFlags(fs *flag.FlagSet) *remoteFlags {
	url := os.Getenv("PLANTCTL_URL")
	if url == "" {
		url = defaultAPIURL
	}
	return &remoteFlags{
		url:    fs.String("url", url, "Observer API base URL"),
		apiKey: fs.String("api-key", os.Getenv("PLANTCTL_API_KEY"), "Bearer key for the observer API"),
	}
}

func (r *remoteFlags) client() (*client.Client, error) {
	return client.New(*r.url, *r.apiKey, log.WithComponent("cli"))
}

func runWatch(args []string) int {
	if hasHelpFlag(args) {
		printSystemNounHelp()
		return 0
	}
	fs := newFlagSet("watch")
	remote := addRemoteFlags(fs)
	withEvents := fs.Bool("events", false, "Follow loop events instead of snapshots")
	withTUI := fs.Bool("tui", false, "Open the interactive monitor")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *withTUI:
		// Log lines would tear the alternate screen.
		quiet, _ := client.New(*remote.url, *remote.apiKey, log.Discard())
		err = watch.Run(ctx, quiet)
	case *withEvents:
		err = c.Events(ctx, 0, func(ev events.Event) {
			fmt.Fprintf(stdout, "%6d %-26s %s\n", ev.ID, ev.Type, ev.Data)
		})
	default:
		err = c.Subscribe(ctx, func(snap protocol.Snapshot) {
			fmt.Fprintln(stdout, formatSnapshot(snap))
		})
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, client.ErrConsumerBusy):
		fmt.Fprintln(stderr, "Another observer is already mirroring this loop; use 'plantctl system status' or --events")
		return 1
	default:
		fmt.Fprintf(stderr, "Watch failed: %v\n", err)
		return 1
	}
}

func formatSnapshot(s protocol.Snapshot) string {
	active := s.Active()
	if active == "" {
		active = "-"
	}
	at := "-"
	if !s.LastSampleTime.IsZero() {
		at = s.LastSampleTime.Local().Format("15:04:05.000")
	}
	return fmt.Sprintf("#%-6d %s  sensors=%s  actuators=%s  setpoints=%s  active=%s",
		s.Seq, at, formatFloats(s.Sensors), formatFloats(s.Actuators), formatFloats(s.Setpoints), active)
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func runCtlNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printCtlHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action := args[0]
	fs := newFlagSet("ctl " + action)
	remote := addRemoteFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	pos := fs.Args()

	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch action {
	case "start":
		if len(pos) != 1 {
			fmt.Fprintln(stderr, "Usage: plantctl ctl start <label>")
			return 1
		}
		err = c.StartController(ctx, pos[0])
	case "stop":
		if len(pos) != 0 {
			fmt.Fprintln(stderr, "Usage: plantctl ctl stop")
			return 1
		}
		err = c.StopController(ctx)
	case "set":
		if len(pos) != 3 {
			fmt.Fprintln(stderr, "Usage: plantctl ctl set <label> <var> <value>")
			return 1
		}
		err = c.UpdateVariable(ctx, pos[0], pos[1], pos[2])
	case "setpoint":
		values, perr := parseSetpoints(pos)
		if perr != nil {
			fmt.Fprintf(stderr, "Usage: plantctl ctl setpoint <v> [v...]: %v\n", perr)
			return 1
		}
		err = c.UpdateSetpoint(ctx, values)
	default:
		fmt.Fprintf(stderr, "Unknown ctl action: %s\n", action)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Command failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "queued %s\n", action)
	return 0
}

func parseSetpoints(args []string) ([]float64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one setpoint is required")
	}
	out := make([]float64, 0, len(args))
	for _, a := range args {
		for _, field := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' }) {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid setpoint %q", field)
			}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one setpoint is required")
	}
	return out, nil
}

func printCtlHelp() {
	fmt.Fprint(stderr, `Usage: plantctl ctl <action> [flags] [args]

Actions:
  start <label>              Activate a strategy
  stop                       Deactivate the active strategy
  set <label> <var> <value>  Set a tunable; value is parsed by its kind
  setpoint <v> [v...]        Replace the leading setpoints (also "40,45")

Flags:
  --url URL       Observer API base URL (default: $PLANTCTL_URL or http://127.0.0.1:8470)
  --api-key KEY   Bearer key (default: $PLANTCTL_API_KEY)
`)
}

func runTraceNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(stderr, "Usage: plantctl trace tail [--limit N] [--url URL] [--api-key KEY]")
		if len(args) < 1 {
			return 1
		}
		return 0
	}
	if args[0] != "tail" {
		fmt.Fprintf(stderr, "Unknown trace action: %s\n", args[0])
		return 1
	}

	fs := newFlagSet("trace tail")
	remote := addRemoteFlags(fs)
	limit := fs.Int("limit", 20, "Number of ticks to show")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries, err := c.Ticks(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read trace: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%8s %10s %10s %10s %10s  %s\n", "seq", "dt", "read", "control", "feedback", "flags")
	for _, e := range entries {
		var flags []string
		for _, f := range []struct {
			set  bool
			name string
		}{{e.Late, "late"}, {e.Missed, "missed"}, {e.ReadFailed, "read_failed"}, {e.SendFailed, "send_failed"}} {
			if f.set {
				flags = append(flags, f.name)
			}
		}
		fmt.Fprintf(stdout, "%8d %10s %10s %10s %10s  %s\n", e.Seq, e.DT, e.Read, e.Control, e.Feedback, strings.Join(flags, ","))
	}
	return 0
}
