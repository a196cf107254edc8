package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/backend"
	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/config"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/lock"
	"github.com/mattjoyce/plantctl/internal/log"
	"github.com/mattjoyce/plantctl/internal/mirror"
	"github.com/mattjoyce/plantctl/internal/scheduler"
	"github.com/mattjoyce/plantctl/internal/storage"
	"github.com/mattjoyce/plantctl/internal/strategy"
	"github.com/mattjoyce/plantctl/internal/trace"
)

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp()
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp()
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "run", "start":
		return runRun(actionArgs)
	case "watch":
		return runWatch(actionArgs)
	case "status":
		return runStatus(actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemNounHelp() {
	fmt.Fprint(stderr, `Usage: plantctl system <run|watch|status> [flags]

run flags:
  --config PATH   Configuration file (default: discovered)
  --listen ADDR   Enable the observer API on ADDR
  --trace PATH    Enable the tick trace at PATH
  --for DURATION  Stop after DURATION (default: until signalled)

watch flags:
  --events        Follow loop events instead of snapshots
  --tui           Open the interactive monitor

watch and status flags:
  --url URL       Observer API base URL (default: $PLANTCTL_URL or http://127.0.0.1:8470)
  --api-key KEY   Bearer key (default: $PLANTCTL_API_KEY)
`)
}

func runRun(args []string) int {
	if hasHelpFlag(args) {
		printSystemNounHelp()
		return 0
	}
	fs := newFlagSet("run")
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Enable the observer API on this address")
	tracePath := fs.String("trace", "", "Enable the tick trace at this path")
	runFor := fs.Duration("for", 0, "Stop after this long")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Mirror.API.Enabled = true
		cfg.Mirror.API.Listen = *listen
	}
	if *tracePath != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.Path = *tracePath
	}

	log.SetupWriter(stdout, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("plantctl starting", "version", version, "config", cfg.SourcePath, "digest", cfg.Digest)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("plantctl stopped with error", "error", err)
		return 1
	}
	return 0
}

// serve runs the loop, the state mirror and the optional API and trace until
// ctx ends or a component fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	if device := cfg.Backend.Device(); device != "" {
		devLock, err := lock.Acquire(cfg.Lock.Dir, device)
		if err != nil {
			return fmt.Errorf("lock %s: %w", device, err)
		}
		defer devLock.Release()
		logger.Info("acquired device lock", "device", device, "path", devLock.Path())
	}

	sensors, actuators, err := buildRegistries(cfg.Channels)
	if err != nil {
		return err
	}

	plant, err := backend.New(cfg.Backend, sensors.Len(), actuators.Len(), logger)
	if err != nil {
		return err
	}

	catalog, err := strategy.Build(cfg.Strategies, logger)
	if err != nil {
		return err
	}

	hub := events.NewHub(256)

	var (
		recorder scheduler.TickRecorder
		ticks    api.TickSource
	)
	if cfg.Trace.Enabled {
		db, store, err := openTrace(ctx, cfg, runID)
		if err != nil {
			return err
		}
		defer db.Close()

		rec := trace.NewRecorder(store, trace.DefaultBuffer, logger)
		rec.Start(context.Background())
		defer rec.Close()
		recorder, ticks = rec, store
		logger.Info("tick trace enabled", "path", cfg.Trace.Path)
	}

	loop, err := scheduler.New(plant, sensors, actuators, catalog, scheduler.Options{
		Period:   cfg.Service.SamplePeriod,
		Events:   hub,
		Recorder: recorder,
		RunID:    runID,
	}, logger)
	if err != nil {
		return err
	}
	if label := cfg.Service.AutoStart; label != "" {
		loop.Submit(scheduler.StartController(label))
		logger.Info("strategy queued for auto start", "label", label)
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	m := mirror.New(loop, loop, nil, cfg.Mirror.SweepInterval, hub, logger)
	m.Start(ctx)
	defer m.Stop()

	errCh := make(chan error, 1)
	if cfg.Mirror.API.Enabled {
		server := api.New(api.Config{
			Listen: cfg.Mirror.API.Listen,
			APIKey: cfg.Mirror.API.APIKey,
			Digest: cfg.Digest,
		}, loop, m, hub, ticks, logger)
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-loop.Done():
		logger.Info("sampling loop stopped")
	case err := <-errCh:
		return err
	}

	stats := loop.Stats()
	logger.Info("plantctl stopped",
		"ticks", stats.Ticks,
		"deadline_misses", stats.Missed,
		"late", stats.Late,
		"read_failures", stats.ReadFailures,
		"send_failures", stats.SendFailures,
	)
	return nil
}

func openTrace(ctx context.Context, cfg *config.Config, runID string) (*sql.DB, *trace.Store, error) {
	db, err := storage.OpenSQLite(ctx, cfg.Trace.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	store := trace.NewStore(db)
	if err := store.BeginRun(ctx, runID, cfg.Service.SamplePeriod, cfg.Digest); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

// buildRegistries registers the configured channels in order and seals both
// registries. One palette is shared so sensor and actuator colours differ.
func buildRegistries(cc config.ChannelsConfig) (*channel.Registry, *channel.Registry, error) {
	palette := channel.NewPalette(2 * max(len(cc.Sensors), len(cc.Actuators), 6))
	sensors := channel.NewRegistry("sensors", palette)
	actuators := channel.NewRegistry("actuators", palette)

	register := func(reg *channel.Registry, chans []config.ChannelConfig) error {
		for _, c := range chans {
			typ, err := channel.ParseType(c.Type)
			if err != nil {
				return fmt.Errorf("%s: %w", reg.Kind(), err)
			}
			if err := reg.Register(c.Name, c.Unit, typ, c.Color); err != nil {
				return err
			}
		}
		reg.Seal()
		return nil
	}
	if err := register(sensors, cc.Sensors); err != nil {
		return nil, nil, err
	}
	if err := register(actuators, cc.Actuators); err != nil {
		return nil, nil, err
	}
	return sensors, actuators, nil
}

func runStatus(args []string) int {
	fs := newFlagSet("status")
	remote := addRemoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg, err := c.Registry(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read registry: %v\n", err)
		return 1
	}

	active := "-"
	if reg.Active != nil {
		active = *reg.Active
	}
	fmt.Fprintf(stdout, "run:      %s\n", reg.RunID)
	fmt.Fprintf(stdout, "state:    %s\n", reg.State)
	fmt.Fprintf(stdout, "period:   %dms\n", reg.PeriodMS)
	fmt.Fprintf(stdout, "active:   %s\n", active)
	fmt.Fprintf(stdout, "ticks:    %d (missed %d, late %d, read failures %d, send failures %d)\n",
		reg.Stats.Ticks, reg.Stats.Missed, reg.Stats.Late, reg.Stats.ReadFailures, reg.Stats.SendFailures)
	for _, ch := range reg.Sensors {
		fmt.Fprintf(stdout, "sensor    %-16s %10.3f %s\n", ch.Name, ch.Value, ch.Unit)
	}
	for _, ch := range reg.Actuators {
		fmt.Fprintf(stdout, "actuator  %-16s %10.3f %s\n", ch.Name, ch.Value, ch.Unit)
	}
	for _, info := range reg.Catalog {
		fmt.Fprintf(stdout, "strategy  %s\n", info.Label)
		for _, v := range info.ConfigurableVars {
			fmt.Fprintf(stdout, "          %-12s %-9s %v\n", v.Name, v.Type, v.Value)
		}
	}
	return 0
}
