// Package mirror keeps a remote observer's view of the loop consistent
// without sharing memory. Two unbounded FIFOs connect it to the transport:
// snapshots flow out, commands flow in. A sweep goroutine applies at most one
// inbound command per cycle and then publishes one snapshot if the loop
// state changed.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/queue"
)

// Source yields a snapshot when the loop state is dirty, clearing the flag.
type Source interface {
	TakeSnapshot() (protocol.Snapshot, bool)
}

// Mirror owns the two queues and the sweep goroutine.
type Mirror struct {
	source   Source
	control  LoopControl
	handlers *Handlers
	interval time.Duration
	events   events.Publisher
	logger   *slog.Logger

	outbound *queue.FIFO[protocol.Envelope]
	inbound  *queue.FIFO[protocol.Envelope]

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New returns a mirror sweeping every interval. A nil handler table means
// DefaultHandlers.
func New(source Source, control LoopControl, handlers *Handlers, interval time.Duration, pub events.Publisher, logger *slog.Logger) *Mirror {
	if handlers == nil {
		handlers = DefaultHandlers()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Mirror{
		source:   source,
		control:  control,
		handlers: handlers,
		interval: interval,
		events:   pub,
		logger:   logger.With("component", "mirror"),
		outbound: queue.New[protocol.Envelope](),
		inbound:  queue.New[protocol.Envelope](),
		stopCh:   make(chan struct{}),
	}
}

// Outbound is the snapshot queue read by the transport.
func (m *Mirror) Outbound() *queue.FIFO[protocol.Envelope] { return m.outbound }

// Inbound is the command queue written by the transport.
func (m *Mirror) Inbound() *queue.FIFO[protocol.Envelope] { return m.inbound }

// PushCommand queues a command envelope from the remote side.
func (m *Mirror) PushCommand(env protocol.Envelope) {
	m.inbound.Push(env)
}

// Start launches the sweep goroutine.
func (m *Mirror) Start(ctx context.Context) {
	m.logger.Info("state mirror started", "sweep_interval", m.interval)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop raises the stop signal and waits for the sweep goroutine.
func (m *Mirror) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.logger.Info("state mirror stopped", "queued_snapshots", m.outbound.Len(), "queued_commands", m.inbound.Len())
}

func (m *Mirror) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Sweep()
		select {
		case <-ticker.C:
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one cycle: apply at most one inbound command, then push one
// snapshot if the loop state is dirty. Handler failures are logged.
func (m *Mirror) Sweep() {
	if env, ok := m.inbound.Pop(); ok {
		m.dispatch(env)
	}

	snap, ok := m.source.TakeSnapshot()
	if !ok {
		return
	}
	env, err := protocol.SnapshotEnvelope(snap)
	if err != nil {
		m.logger.Error("failed to encode snapshot", "seq", snap.Seq, "error", err)
		return
	}
	m.outbound.Push(env)
}

func (m *Mirror) dispatch(env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("command handler panicked", "type", env.Type, "panic", r)
			m.events.Publish(events.CommandRejected, map[string]any{"command": env.Type, "error": fmt.Sprint("handler panic: ", r)})
		}
	}()

	err := m.handlers.Dispatch(m.control, env)
	switch {
	case err == nil:
		m.logger.Debug("command accepted", "type", env.Type)
	case errors.Is(err, ErrUnknownCommand):
		m.logger.Warn("ignoring unknown command", "type", env.Type)
	default:
		m.logger.Error("command handler failed", "type", env.Type, "error", err)
		m.events.Publish(events.CommandRejected, map[string]any{"command": env.Type, "error": err.Error()})
	}
}
