// Package scheduler runs the fixed-period sampling and control loop.
//
// Each tick applies queued commands, reads the plant, refreshes the channel
// registries and, when a strategy is active, runs one computation under a
// deadline of 90% of the sample period. An in-time result is committed and
// sent to the plant. A late one is abandoned and the previous output stays.
// Sleeps are drift-corrected against the previous target time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/plantctl/internal/backend"
	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/queue"
	"github.com/mattjoyce/plantctl/internal/strategy"
)

// State is the loop lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotIdle is returned by Start when the loop is already running.
var ErrNotIdle = errors.New("loop is not idle")

// Options configures a Loop. Zero fields take defaults.
type Options struct {
	Period   time.Duration
	Clock    Clock
	Events   events.Publisher
	Recorder TickRecorder
	RunID    string
}

// Stats counts tick outcomes since the loop was created.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Missed       uint64 `json:"deadline_misses"`
	Late         uint64 `json:"late"`
	ReadFailures uint64 `json:"read_failures"`
	SendFailures uint64 `json:"send_failures"`
}

// view is what observers may see. Guarded by Loop.mu.
type view struct {
	sensors    []float64
	actuators  []float64
	setpoints  []float64
	committed  []float64
	active     string
	lastSample time.Time
	dirty      bool
	seq        uint64
}

// Loop is the sampling goroutine and the state it owns. Registries, the
// catalog activation, setpoints and committed output are written only by
// the sampling goroutine. Observers read through TakeSnapshot.
type Loop struct {
	period   time.Duration
	deadline time.Duration
	backend  backend.Backend
	sensors  *channel.Registry
	actuator *channel.Registry
	catalog  *strategy.Catalog
	clock    Clock
	events   events.Publisher
	recorder TickRecorder
	runID    string
	logger   *slog.Logger

	// Channel metadata, fixed once the registries are sealed.
	sensorMeta   []channel.Channel
	actuatorMeta []channel.Channel

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce *sync.Once
	stopCtx  func() bool
	wg       sync.WaitGroup
	inbox    *queue.FIFO[Command]

	// Owned by the sampling goroutine.
	seq       uint64
	lastRead  time.Time
	next      time.Time
	setpoints []float64
	committed []float64
	inflight  map[*strategy.Instance]chan []float64
	deferred  int

	ticks, missed, late, readFail, sendFail atomic.Uint64

	mu   sync.Mutex
	view view
}

// New builds an idle loop. The registries must already be sealed.
func New(b backend.Backend, sensors, actuators *channel.Registry, catalog *strategy.Catalog, opts Options, logger *slog.Logger) (*Loop, error) {
	if opts.Period <= 0 {
		return nil, fmt.Errorf("sample period must be positive, got %s", opts.Period)
	}
	if sensors.Len() == 0 || actuators.Len() == 0 {
		return nil, fmt.Errorf("loop needs sensor and actuator channels (got %d/%d)", sensors.Len(), actuators.Len())
	}
	if catalog == nil {
		catalog = strategy.NewCatalog()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}

	l := &Loop{
		period:    opts.Period,
		deadline:  opts.Period * 9 / 10,
		backend:   b,
		sensors:   sensors,
		actuator:  actuators,
		catalog:   catalog,
		clock:     opts.Clock,
		events:    opts.Events,
		recorder:  opts.Recorder,
		runID:     opts.RunID,
		logger:    logger.With("component", "loop"),
		inbox:     queue.New[Command](),
		setpoints: make([]float64, sensors.Len()),
		committed: make([]float64, actuators.Len()),
		inflight:  make(map[*strategy.Instance]chan []float64),

		sensorMeta:   sensors.Channels(),
		actuatorMeta: actuators.Channels(),
	}
	l.view = view{
		sensors:   sensors.Values(),
		actuators: actuators.Values(),
		setpoints: make([]float64, sensors.Len()),
		committed: make([]float64, actuators.Len()),
	}
	return l, nil
}

// Start connects the backend and launches the sampling goroutine. A connect
// failure returns the loop to idle and is returned as a *backend.ConnectError.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrNotIdle
	}
	l.publishState(StateConnecting)
	l.logger.Info("connecting to plant")

	if err := l.backend.Connect(ctx); err != nil {
		l.setState(StateIdle)
		var connErr *backend.ConnectError
		if !errors.As(err, &connErr) {
			err = &backend.ConnectError{Err: err}
		}
		l.logger.Error("plant connect failed", "error", err)
		return err
	}

	l.stopCh = make(chan struct{})
	l.stopOnce = &sync.Once{}
	stopCh, once := l.stopCh, l.stopOnce
	l.stopCtx = context.AfterFunc(ctx, func() { once.Do(func() { close(stopCh) }) })

	l.setState(StateRunning)
	l.logger.Info("sampling loop started", "period", l.period, "deadline", l.deadline, "run_id", l.runID)

	l.wg.Add(1)
	go l.run(ctx, stopCh)
	return nil
}

// Stop raises the stop flag, waits for the current tick to finish and
// returns the loop to idle. It is safe to call when not running.
func (l *Loop) Stop() {
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		l.wg.Wait()
		return
	}
	l.publishState(StateStopping)
	l.logger.Info("stopping sampling loop")

	stopCh, once := l.stopCh, l.stopOnce
	once.Do(func() { close(stopCh) })
	l.wg.Wait()
	l.stopCtx()

	if err := backend.Close(l.backend); err != nil {
		l.logger.Warn("failed to close backend", "error", err)
	}
	l.setState(StateIdle)
	l.logger.Info("sampling loop stopped", "ticks", l.ticks.Load())
}

// Done is closed once the stop flag is raised.
func (l *Loop) Done() <-chan struct{} { return l.stopCh }

// State returns the lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// RunID identifies this run to observers.
func (l *Loop) RunID() string { return l.runID }

// Period returns the target sample period.
func (l *Loop) Period() time.Duration { return l.period }

// Catalog returns the strategy catalog.
func (l *Loop) Catalog() *strategy.Catalog { return l.catalog }

// Sensors returns sensor channel metadata with the latest values.
func (l *Loop) Sensors() []channel.Channel {
	return l.channelsWith(l.sensorMeta, func(v view) []float64 { return v.sensors })
}

// Actuators returns actuator channel metadata with the latest readback.
func (l *Loop) Actuators() []channel.Channel {
	return l.channelsWith(l.actuatorMeta, func(v view) []float64 { return v.actuators })
}

func (l *Loop) channelsWith(meta []channel.Channel, values func(view) []float64) []channel.Channel {
	chans := append([]channel.Channel(nil), meta...)
	l.mu.Lock()
	vals := values(l.view)
	for i := range chans {
		if i < len(vals) {
			chans[i].Value = vals[i]
		}
	}
	l.mu.Unlock()
	return chans
}

// Stats returns tick counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:        l.ticks.Load(),
		Missed:       l.missed.Load(),
		Late:         l.late.Load(),
		ReadFailures: l.readFail.Load(),
		SendFailures: l.sendFail.Load(),
	}
}

// TakeSnapshot copies observable state and clears the dirty flag in one
// critical section. ok is false when nothing changed since the last take.
func (l *Loop) TakeSnapshot() (protocol.Snapshot, bool) {
	l.mu.Lock()
	if !l.view.dirty {
		l.mu.Unlock()
		return protocol.Snapshot{}, false
	}
	l.view.dirty = false
	l.view.seq++
	snap := l.snapshotLocked()
	l.mu.Unlock()

	snap.Catalog = l.catalogInfo()
	return snap, true
}

// Peek copies observable state without touching the dirty flag.
func (l *Loop) Peek() protocol.Snapshot {
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	snap.Catalog = l.catalogInfo()
	return snap
}

func (l *Loop) snapshotLocked() protocol.Snapshot {
	snap := protocol.Snapshot{
		RunID:          l.runID,
		Seq:            l.view.seq,
		Sensors:        append([]float64{}, l.view.sensors...),
		Actuators:      append([]float64{}, l.view.actuators...),
		Setpoints:      append([]float64{}, l.view.setpoints...),
		LastSampleTime: l.view.lastSample,
	}
	if l.view.active != "" {
		active := l.view.active
		snap.ActiveLabel = &active
	}
	return snap
}

func (l *Loop) catalogInfo() []protocol.StrategyInfo {
	instances := l.catalog.Instances()
	out := make([]protocol.StrategyInfo, 0, len(instances))
	for _, inst := range instances {
		info := protocol.StrategyInfo{Label: inst.Label()}
		for _, t := range inst.Tunables() {
			info.ConfigurableVars = append(info.ConfigurableVars, protocol.VarInfo{
				Name:  t.Name,
				Type:  t.Kind.String(),
				Value: t.Value.Any(),
			})
		}
		out = append(out, info)
	}
	return out
}

func (l *Loop) markDirty() {
	l.mu.Lock()
	l.view.dirty = true
	l.mu.Unlock()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.publishState(s)
}

func (l *Loop) publishState(s State) {
	l.events.Publish(events.LoopState, map[string]any{"state": s.String(), "run_id": l.runID})
}

func (l *Loop) run(ctx context.Context, stop <-chan struct{}) {
	defer l.wg.Done()

	l.next = l.clock.Now()
	l.lastRead = time.Time{}
	for {
		select {
		case <-stop:
			return
		default:
		}

		l.tick(ctx)

		if !l.sleep(stop) {
			return
		}
	}
}

// sleep advances the target by one period. If the loop is already past the
// new target it resynchronises to now+period instead of catching up.
func (l *Loop) sleep(stop <-chan struct{}) bool {
	now := l.clock.Now()
	l.next = l.next.Add(l.period)
	if now.After(l.next) {
		behind := now.Sub(l.next)
		l.late.Add(1)
		l.logger.Warn("sampling loop late", "behind", behind, "tick", l.seq)
		l.events.Publish(events.LoopLate, map[string]any{"tick": l.seq, "behind_ms": behind.Milliseconds()})
		l.next = now.Add(l.period)
		if l.recorder != nil {
			l.recorder.Record(TickRecord{Seq: l.seq, At: now, Late: true})
		}
	}
	return l.clock.Sleep(l.next.Sub(now), stop)
}

func (l *Loop) tick(ctx context.Context) {
	start := l.clock.Now()
	l.seq++
	l.ticks.Add(1)

	dt := l.period
	if !l.lastRead.IsZero() {
		dt = start.Sub(l.lastRead)
	}
	rec := TickRecord{Seq: l.seq, At: start, DT: dt}

	l.drainInbox()

	sensors, actuators, err := l.backend.Read(ctx)
	if err == nil {
		err = l.updateRegistries(sensors, actuators)
	}
	readDone := l.clock.Now()
	rec.Read = readDone.Sub(start)

	if err != nil {
		rec.ReadFailed = true
		l.readFail.Add(1)
		l.logger.Warn("plant read failed, keeping previous values", "tick", l.seq, "error", err)
		l.events.Publish(events.ReadFailed, map[string]any{"tick": l.seq, "error": err.Error()})
	} else {
		l.lastRead = start
		l.mu.Lock()
		l.view.sensors = l.sensors.Values()
		l.view.actuators = l.actuator.Values()
		l.view.lastSample = start
		l.view.dirty = true
		l.mu.Unlock()
	}

	if inst := l.catalog.Active(); inst != nil {
		rec.Active = inst.Label()
		out, ok := l.compute(inst, dt)
		controlDone := l.clock.Now()
		rec.Control = controlDone.Sub(readDone)

		if ok {
			l.committed = out
			l.mu.Lock()
			l.view.committed = append(l.view.committed[:0], out...)
			l.mu.Unlock()
			if err := l.backend.Send(ctx, out); err != nil {
				rec.SendFailed = true
				l.sendFail.Add(1)
				l.logger.Warn("plant send failed", "tick", l.seq, "error", err)
				l.events.Publish(events.SendFailed, map[string]any{"tick": l.seq, "error": err.Error()})
			}
			rec.Feedback = l.clock.Now().Sub(controlDone)
		} else {
			rec.Missed = true
		}
	}

	if l.recorder != nil {
		l.recorder.Record(rec)
	}
}

func (l *Loop) updateRegistries(sensors, actuators []float64) error {
	// Check both first so a bad read changes neither registry.
	if err := l.sensors.Check(sensors); err != nil {
		return err
	}
	if err := l.actuator.Check(actuators); err != nil {
		return err
	}
	if err := l.sensors.Update(sensors); err != nil {
		return err
	}
	return l.actuator.Update(actuators)
}

// compute runs inst once on its own goroutine. ok is false when the result
// is not usable: the deadline passed, a previous abandoned run of inst is
// still going, or the output has the wrong length or a non-finite value.
func (l *Loop) compute(inst *strategy.Instance, dt time.Duration) ([]float64, bool) {
	if ch, running := l.inflight[inst]; running {
		select {
		case <-ch:
			delete(l.inflight, inst)
		default:
			l.missDeadline(inst, "previous computation still running")
			return nil, false
		}
	}

	in := strategy.Inputs{
		Sensors:   l.sensors.Values(),
		Setpoints: append([]float64{}, l.setpoints...),
		Actuators: append([]float64{}, l.committed...),
		DT:        dt,
	}
	done := make(chan []float64, 1)
	go func() {
		done <- inst.Produce(in)
	}()

	select {
	case out := <-done:
		if len(out) != l.actuator.Len() {
			l.logger.Error("strategy output has wrong length, keeping previous output",
				"label", inst.Label(), "want", l.actuator.Len(), "got", len(out))
			return nil, false
		}
		if i := firstNonFinite(out); i >= 0 {
			l.logger.Error("strategy output is not finite, keeping previous output",
				"label", inst.Label(), "channel", i, "value", out[i])
			return nil, false
		}
		return out, true
	case <-l.clock.After(l.deadline):
		l.inflight[inst] = done
		l.missDeadline(inst, "deadline exceeded")
		return nil, false
	}
}

// firstNonFinite returns the index of the first NaN or infinity in vs, or -1.
func firstNonFinite(vs []float64) int {
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func (l *Loop) missDeadline(inst *strategy.Instance, reason string) {
	l.missed.Add(1)
	l.logger.Warn("control computation missed deadline, keeping previous output",
		"label", inst.Label(), "deadline", l.deadline, "reason", reason, "tick", l.seq)
	l.events.Publish(events.DeadlineMissed, map[string]any{
		"label":  inst.Label(),
		"tick":   l.seq,
		"reason": reason,
	})
}

// Committed returns the last committed actuator output.
func (l *Loop) Committed() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64{}, l.view.committed...)
}
