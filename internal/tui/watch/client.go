package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
)

// Source is the part of the observer API the monitor drives.
// *client.Client satisfies it.
type Source interface {
	Registry(ctx context.Context) (api.RegistryResponse, error)
	Snapshot(ctx context.Context) (protocol.Snapshot, error)
	Subscribe(ctx context.Context, fn func(protocol.Snapshot)) error
	Events(ctx context.Context, lastID int64, fn func(events.Event)) error
	StartController(ctx context.Context, label string) error
	StopController(ctx context.Context) error
	UpdateVariable(ctx context.Context, label, name, value string) error
	UpdateSetpoint(ctx context.Context, values []float64) error
}

// --- Message types ---

type snapshotMsg protocol.Snapshot

// polledMsg is a snapshot read with GET /snapshot while another observer
// holds the stream.
type polledMsg protocol.Snapshot

type eventMsg events.Event

type registryMsg api.RegistryResponse

type tickMsg time.Time

type errMsg error

type streamEndedMsg struct {
	stream string
	err    error
}

type reconnectMsg struct {
	stream string
}

type commandMsg struct {
	action string
	err    error
}

const (
	streamSnapshots = "snapshots"
	streamEvents    = "events"
)

// --- Commands ---

// subscribeToSnapshots consumes the snapshot stream into ch until it ends.
func subscribeToSnapshots(ctx context.Context, src Source, ch chan<- protocol.Snapshot) tea.Cmd {
	return func() tea.Msg {
		err := src.Subscribe(ctx, func(s protocol.Snapshot) {
			select {
			case ch <- s:
			case <-ctx.Done():
			}
		})
		return streamEndedMsg{stream: streamSnapshots, err: err}
	}
}

// subscribeToEvents follows the event stream after lastID into ch.
func subscribeToEvents(ctx context.Context, src Source, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		err := src.Events(ctx, lastID, func(e events.Event) {
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		})
		return streamEndedMsg{stream: streamEvents, err: err}
	}
}

func receiveSnapshot(ctx context.Context, ch <-chan protocol.Snapshot) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-ch:
			return snapshotMsg(s)
		case <-ctx.Done():
			return nil
		}
	}
}

func receiveEvent(ctx context.Context, ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-ch:
			return eventMsg(e)
		case <-ctx.Done():
			return nil
		}
	}
}

func pollSnapshot(ctx context.Context, src Source, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		s, err := src.Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return polledMsg(s)
	})
}

func fetchRegistry(ctx context.Context, src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		reg, err := src.Registry(ctx)
		if err != nil {
			return errMsg(err)
		}
		return registryMsg(reg)
	}
}

func runCommand(ctx context.Context, action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return commandMsg{action: action, err: fn(ctx)}
	}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
