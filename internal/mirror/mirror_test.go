package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plantctl/internal/events"
	plantlog "github.com/mattjoyce/plantctl/internal/log"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/scheduler"
)

// fakeSource behaves like the loop's dirty flag: every read marks it.
type fakeSource struct {
	mu    sync.Mutex
	dirty bool
	seq   uint64
	temp  float64
}

func (s *fakeSource) read(temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = temp
	s.dirty = true
}

func (s *fakeSource) TakeSnapshot() (protocol.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return protocol.Snapshot{}, false
	}
	s.dirty = false
	s.seq++
	return protocol.Snapshot{Seq: s.seq, Sensors: []float64{s.temp}}, true
}

type fakeControl struct {
	mu   sync.Mutex
	cmds []scheduler.Command
}

func (c *fakeControl) Submit(cmd scheduler.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
}

func (c *fakeControl) submitted() []scheduler.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scheduler.Command(nil), c.cmds...)
}

func newTestMirror(src Source, ctl LoopControl, pub events.Publisher) *Mirror {
	return New(src, ctl, nil, time.Millisecond, pub, plantlog.Discard())
}

func drainSnapshots(t *testing.T, m *Mirror) []protocol.Snapshot {
	t.Helper()
	var out []protocol.Snapshot
	for {
		env, ok := m.Outbound().Pop()
		if !ok {
			return out
		}
		snap, err := protocol.DecodeSnapshot(env)
		require.NoError(t, err)
		out = append(out, snap)
	}
}

func command(t *testing.T, typ string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload)
	require.NoError(t, err)
	return env
}

func TestSweepPublishesOneSnapshotPerRead(t *testing.T) {
	src := &fakeSource{}
	m := newTestMirror(src, &fakeControl{}, nil)

	for i := 0; i < 5; i++ {
		src.read(float64(20 + i))
		m.Sweep()
		m.Sweep()
	}

	snaps := drainSnapshots(t, m)
	require.Len(t, snaps, 5)
	for i, snap := range snaps {
		assert.Equal(t, uint64(i+1), snap.Seq)
		assert.Equal(t, []float64{float64(20 + i)}, snap.Sensors)
	}
}

func TestSweepCoalescesWhenSlowerThanLoop(t *testing.T) {
	src := &fakeSource{}
	m := newTestMirror(src, &fakeControl{}, nil)

	src.read(20)
	src.read(21)
	src.read(22)
	m.Sweep()

	snaps := drainSnapshots(t, m)
	require.Len(t, snaps, 1)
	assert.Equal(t, []float64{22}, snaps[0].Sensors)
}

func TestSweepIdleWhenClean(t *testing.T) {
	m := newTestMirror(&fakeSource{}, &fakeControl{}, nil)
	m.Sweep()
	assert.Equal(t, 0, m.Outbound().Len())
}

func TestSweepAppliesAtMostOneCommand(t *testing.T) {
	ctl := &fakeControl{}
	m := newTestMirror(&fakeSource{}, ctl, nil)

	m.PushCommand(command(t, protocol.TypeStartController, protocol.StartController{ControlName: "pid"}))
	m.PushCommand(command(t, protocol.TypeStopController, protocol.StopController{}))

	m.Sweep()
	require.Len(t, ctl.submitted(), 1)
	assert.Equal(t, scheduler.CmdStartController, ctl.submitted()[0].Kind)
	assert.Equal(t, "pid", ctl.submitted()[0].Label)

	m.Sweep()
	require.Len(t, ctl.submitted(), 2)
	assert.Equal(t, scheduler.CmdStopController, ctl.submitted()[1].Kind)
	assert.Equal(t, 0, m.Inbound().Len())
}

func TestDefaultHandlersTranslatePayloads(t *testing.T) {
	tests := []struct {
		name string
		env  protocol.Envelope
		want scheduler.Command
	}{
		{
			name: "start",
			env:  protocol.Envelope{Type: protocol.TypeStartController, Payload: json.RawMessage(`{"control_name":"pid"}`)},
			want: scheduler.StartController("pid"),
		},
		{
			name: "stop with no payload",
			env:  protocol.Envelope{Type: protocol.TypeStopController},
			want: scheduler.StopController(),
		},
		{
			name: "update variable with text",
			env:  protocol.Envelope{Type: protocol.TypeUpdateVariable, Payload: json.RawMessage(`{"control_name":"pid","var_name":"Kp","new_value":"1.5"}`)},
			want: scheduler.UpdateVariable("pid", "Kp", "1.5"),
		},
		{
			name: "update variable with literal",
			env:  protocol.Envelope{Type: protocol.TypeUpdateVariable, Payload: json.RawMessage(`{"control_name":"pid","var_name":"enabled","new_value":false}`)},
			want: scheduler.UpdateVariable("pid", "enabled", "false"),
		},
		{
			name: "update setpoint",
			env:  protocol.Envelope{Type: protocol.TypeUpdateSetpoint, Payload: json.RawMessage(`{"value":[40,45]}`)},
			want: scheduler.UpdateSetpoint([]float64{40, 45}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeControl{}
			require.NoError(t, DefaultHandlers().Dispatch(ctl, tt.env))
			require.Len(t, ctl.submitted(), 1)
			assert.Equal(t, tt.want, ctl.submitted()[0])
		})
	}
}

func TestDefaultHandlersRejectInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		env  protocol.Envelope
	}{
		{"start without label", protocol.Envelope{Type: protocol.TypeStartController, Payload: json.RawMessage(`{}`)}},
		{"start with bad json", protocol.Envelope{Type: protocol.TypeStartController, Payload: json.RawMessage(`{"control_name":`)}},
		{"update variable without var", protocol.Envelope{Type: protocol.TypeUpdateVariable, Payload: json.RawMessage(`{"control_name":"pid"}`)}},
		{"empty setpoint", protocol.Envelope{Type: protocol.TypeUpdateSetpoint, Payload: json.RawMessage(`{"value":[]}`)}},
		{"setpoint of strings", protocol.Envelope{Type: protocol.TypeUpdateSetpoint, Payload: json.RawMessage(`{"value":["a"]}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeControl{}
			assert.Error(t, DefaultHandlers().Dispatch(ctl, tt.env))
			assert.Empty(t, ctl.submitted())
		})
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	hub := events.NewHub(16)
	ctl := &fakeControl{}
	src := &fakeSource{}
	m := newTestMirror(src, ctl, hub)

	m.PushCommand(protocol.Envelope{Type: "reboot_plant"})
	src.read(30)
	m.Sweep()

	assert.Empty(t, ctl.submitted())
	assert.Empty(t, hub.Since(0), "unknown types are only logged")
	assert.Len(t, drainSnapshots(t, m), 1, "sweep continues to the snapshot step")
}

func TestHandlerErrorPublishesRejection(t *testing.T) {
	hub := events.NewHub(16)
	m := newTestMirror(&fakeSource{}, &fakeControl{}, hub)

	m.PushCommand(protocol.Envelope{Type: protocol.TypeUpdateSetpoint, Payload: json.RawMessage(`{"value":[]}`)})
	m.Sweep()

	evs := hub.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.CommandRejected, evs[0].Type)
}

func TestCustomHandlerRegistration(t *testing.T) {
	h := DefaultHandlers()
	called := false
	h.Register("ping", func(LoopControl, protocol.Envelope) error {
		called = true
		return nil
	})
	assert.Contains(t, h.Types(), "ping")
	require.NoError(t, h.Dispatch(&fakeControl{}, protocol.Envelope{Type: "ping"}))
	assert.True(t, called)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	hub := events.NewHub(16)
	ctl := &fakeControl{}
	src := &fakeSource{}
	h := DefaultHandlers()
	h.Register("explode", func(LoopControl, protocol.Envelope) error {
		panic("bad payload")
	})
	m := New(src, ctl, h, time.Millisecond, hub, plantlog.Discard())

	m.PushCommand(protocol.Envelope{Type: "explode"})
	m.PushCommand(command(t, protocol.TypeStopController, nil))
	src.read(30)
	require.NotPanics(t, m.Sweep)

	evs := hub.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.CommandRejected, evs[0].Type)
	assert.Contains(t, string(evs[0].Data), "bad payload")
	assert.Len(t, drainSnapshots(t, m), 1, "sweep still publishes after a panic")

	m.Sweep()
	assert.Equal(t, []scheduler.Command{scheduler.StopController()}, ctl.submitted())
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{}
	m := newTestMirror(src, &fakeControl{}, nil)
	m.Start(context.Background())

	src.read(25)
	require.Eventually(t, func() bool { return m.Outbound().Len() == 1 }, time.Second, time.Millisecond)

	m.Stop()
	m.Stop()
}
