package watch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/client"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/scheduler"
)

type fakeSource struct {
	mu    sync.Mutex
	calls []string
	snap  protocol.Snapshot
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeSource) Registry(context.Context) (api.RegistryResponse, error) {
	return testRegistry(), nil
}

func (f *fakeSource) Snapshot(context.Context) (protocol.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeSource) Subscribe(ctx context.Context, fn func(protocol.Snapshot)) error {
	fn(f.snap)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) Events(ctx context.Context, _ int64, _ func(events.Event)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) StartController(_ context.Context, label string) error {
	f.record("start " + label)
	return nil
}

func (f *fakeSource) StopController(context.Context) error {
	f.record("stop")
	return nil
}

func (f *fakeSource) UpdateVariable(_ context.Context, label, name, value string) error {
	f.record("set " + label + " " + name + " " + value)
	return nil
}

func (f *fakeSource) UpdateSetpoint(_ context.Context, values []float64) error {
	f.record("setpoints " + formatFloats(values))
	return nil
}

func testRegistry() api.RegistryResponse {
	active := "PID 1"
	return api.RegistryResponse{
		RunID:     "0b6c1a7e-53c4-4f3e-9a7b-1f0e2d3c4b5a",
		PeriodMS:  250,
		State:     "running",
		Sensors:   []channel.Channel{{Name: "T1", Unit: "°C", Color: "#ff0000"}},
		Actuators: []channel.Channel{{Name: "Q1", Unit: "%", Color: "#00ff00"}},
		Catalog: []protocol.StrategyInfo{{
			Label: "PID 1",
			ConfigurableVars: []protocol.VarInfo{
				{Name: "setpoints", Type: "float_seq", Value: []any{40.0}},
				{Name: "Kp", Type: "float", Value: 1.25},
			},
		}},
		Active: &active,
		Stats:  scheduler.Stats{Ticks: 120, Missed: 2},
	}
}

func testSnapshot(seq uint64, temp float64) protocol.Snapshot {
	active := "PID 1"
	return protocol.Snapshot{
		RunID:          "run",
		Seq:            seq,
		Sensors:        []float64{temp},
		Actuators:      []float64{55},
		Setpoints:      []float64{40},
		ActiveLabel:    &active,
		Catalog:        testRegistry().Catalog,
		LastSampleTime: time.Now(),
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// step applies msg and returns the updated model.
func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func readyModel(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := New(context.Background(), src)
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = step(t, m, registryMsg(testRegistry()))
	m, _ = step(t, m, snapshotMsg(testSnapshot(1, 25)))
	return m
}

func TestViewBeforeSize(t *testing.T) {
	m := New(context.Background(), &fakeSource{})
	assert.Equal(t, "Connecting to plantctl...", m.View())
}

func TestViewShowsLoopState(t *testing.T) {
	m := readyModel(t, &fakeSource{})

	view := m.View()
	for _, want := range []string{"PLANTCTL WATCH", "RUNNING", "0b6c1a7e", "250ms", "ticks 120", "T1", "25.00", "Q1", "55.00", "PID 1", "Kp=1.25", "Waiting for events"} {
		assert.Contains(t, view, want)
	}
	assert.NotContains(t, view, "setpoints=", "setpoints are shown per channel, not as a tunable")
}

func TestSnapshotsBuildHistory(t *testing.T) {
	m := readyModel(t, &fakeSource{})
	for i := 2; i <= historyLen+5; i++ {
		m, _ = step(t, m, snapshotMsg(testSnapshot(uint64(i), float64(i))))
	}
	require.Len(t, m.history, 1)
	assert.Len(t, m.history[0], historyLen)
	assert.Equal(t, float64(historyLen+5), m.history[0][historyLen-1])
	assert.Equal(t, uint64(historyLen+5), m.snap.Seq)
}

func TestKeysSendCommands(t *testing.T) {
	src := &fakeSource{}
	m := readyModel(t, src)

	_, cmd := step(t, m, key("enter"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, commandMsg{action: "start PID 1"}, msg)

	_, cmd = step(t, m, key("x"))
	require.NotNil(t, cmd)
	m, _ = step(t, m, cmd())

	assert.Equal(t, []string{"start PID 1", "stop"}, src.Calls())
	assert.Contains(t, m.View(), "queued stop")
}

func TestEditSetpoints(t *testing.T) {
	src := &fakeSource{}
	m := readyModel(t, src)

	m, _ = step(t, m, key("p"))
	require.Equal(t, editSetpoints, m.editing)
	assert.Equal(t, "40", m.input.Value(), "prefilled with the current setpoints")
	assert.Contains(t, m.View(), "setpoints> ")

	m.input.SetValue("41, 42.5")
	m, cmd := step(t, m, key("enter"))
	assert.Equal(t, editNone, m.editing)
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"setpoints 41, 42.5"}, src.Calls())
}

func TestEditSetpointsRejectsBadInput(t *testing.T) {
	m := readyModel(t, &fakeSource{})

	m, _ = step(t, m, key("p"))
	m.input.SetValue("warm")
	m, cmd := step(t, m, key("enter"))
	assert.Nil(t, cmd)
	assert.NotEmpty(t, m.lastError)

	m, _ = step(t, m, key("p"))
	m.input.SetValue("")
	m, cmd = step(t, m, key("enter"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.lastError, "at least one setpoint")
}

func TestEditTunable(t *testing.T) {
	src := &fakeSource{}
	m := readyModel(t, src)

	m, _ = step(t, m, key("t"))
	require.Equal(t, editTunable, m.editing)
	m.input.SetValue("Kp 2.5")
	_, cmd := step(t, m, key("enter"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"set PID 1 Kp 2.5"}, src.Calls())

	m, _ = step(t, m, key("t"))
	m.input.SetValue("Kp")
	m, cmd = step(t, m, key("enter"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.lastError, "<name> <value>")
}

func TestEscCancelsEdit(t *testing.T) {
	src := &fakeSource{}
	m := readyModel(t, src)

	m, _ = step(t, m, key("p"))
	m, cmd := step(t, m, key("esc"))
	assert.Equal(t, editNone, m.editing)
	assert.Nil(t, cmd)
	assert.Empty(t, src.Calls())
}

func TestQuit(t *testing.T) {
	m := readyModel(t, &fakeSource{})
	_, cmd := step(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestBusyStreamFallsBackToPolling(t *testing.T) {
	src := &fakeSource{snap: testSnapshot(9, 30)}
	m := readyModel(t, src)

	m, cmd := step(t, m, streamEndedMsg{stream: streamSnapshots, err: client.ErrConsumerBusy})
	assert.True(t, m.link.Polling)
	require.NotNil(t, cmd)

	polled := cmd()
	require.IsType(t, polledMsg{}, polled)
	m, cmd = step(t, m, polled)
	assert.Equal(t, uint64(9), m.snap.Seq)
	assert.NotNil(t, cmd, "polling continues")
	assert.Contains(t, m.View(), "polling")
}

func TestStreamDropSchedulesReconnect(t *testing.T) {
	m := readyModel(t, &fakeSource{})

	m, cmd := step(t, m, streamEndedMsg{stream: streamEvents, err: errors.New("EOF")})
	assert.False(t, m.link.Connected)
	assert.Contains(t, m.lastError, "events stream disconnected")
	assert.NotNil(t, cmd)

	m, cmd = step(t, m, registryMsg(testRegistry()))
	assert.True(t, m.link.Connected)
	assert.Empty(t, m.lastError)
	assert.Nil(t, cmd)
}

func TestStreamEndAfterCancelIsQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, &fakeSource{})
	cancel()

	m, cmd := step(t, m, streamEndedMsg{stream: streamSnapshots, err: context.Canceled})
	assert.Nil(t, cmd)
	assert.Empty(t, m.lastError)
}

func TestEventsAreLoggedNewestFirst(t *testing.T) {
	m := readyModel(t, &fakeSource{})

	for i := int64(1); i <= maxEventLog+3; i++ {
		data, _ := json.Marshal(map[string]any{"tick": i, "behind_ms": 12})
		m, _ = step(t, m, eventMsg(events.Event{ID: i, Type: events.LoopLate, At: time.Now(), Data: data}))
	}
	assert.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+3), m.eventLog[0].ID)
	assert.Equal(t, int64(maxEventLog+3), m.lastEventID)
	assert.Contains(t, m.View(), events.LoopLate)
}

func TestReceiveCommandsStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, receiveSnapshot(ctx, make(chan protocol.Snapshot))())
	assert.Nil(t, receiveEvent(ctx, make(chan events.Event))())
}

func TestSubscribeCommandDeliversSnapshots(t *testing.T) {
	src := &fakeSource{snap: testSnapshot(3, 21)}
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan protocol.Snapshot, 1)

	done := make(chan tea.Msg, 1)
	go func() { done <- subscribeToSnapshots(ctx, src, ch)() }()

	got := receiveSnapshot(ctx, ch)()
	assert.Equal(t, snapshotMsg(src.snap), got)
	cancel()
	assert.Equal(t, streamEndedMsg{stream: streamSnapshots, err: context.Canceled}, <-done)
}

func TestExtractEventDesc(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "strategy", data: `{"label":"PID 1"}`, want: "PID 1"},
		{name: "tunable", data: `{"label":"PID 1","name":"Kp","value":2.5}`, want: "PID 1 name=Kp value=2.5"},
		{name: "late", data: `{"tick":7,"behind_ms":12}`, want: "tick=7 +12ms"},
		{name: "rejected", data: `{"command":"start","label":"x","error":"unknown"}`, want: "x start error=unknown"},
		{name: "loop state", data: `{"state":"running","run_id":"r"}`, want: "running"},
		{name: "unknown payload", data: `{"other":1}`, want: `{"other":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractEventDesc(events.Event{Data: json.RawMessage(tt.data)}))
		})
	}

	long := `{"x":"` + strings.Repeat("a", 80) + `"}`
	assert.True(t, strings.HasSuffix(extractEventDesc(events.Event{Data: json.RawMessage(long)}), "..."))
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", sparkline(nil, 10))
	assert.Equal(t, "▄▄▄", sparkline([]float64{5, 5, 5}, 10), "flat series sits mid-scale")
	assert.Equal(t, "▁█", sparkline([]float64{0, 1}, 10))
	assert.Equal(t, "▁▄█", sparkline([]float64{9, 0, 5, 10}, 3), "keeps the newest values")
}

func TestBar(t *testing.T) {
	assert.Equal(t, "░░░░", bar(0, 4))
	assert.Equal(t, "██░░", bar(0.5, 4))
	assert.Equal(t, "████", bar(2, 4))
	assert.Equal(t, "░░░░", bar(-1, 4))
	assert.Equal(t, "", bar(0.5, 0))
}

func TestSpinnerDecay(t *testing.T) {
	s := NewSpinner()
	s.Decay()
	assert.Equal(t, 0, s.dots)

	s.OnEvent()
	assert.Equal(t, spinnerDots, s.dots)
	s.lastEvent = time.Now().Add(-5 * time.Second)
	s.Decay()
	assert.Equal(t, 3, s.dots)
	s.lastEvent = time.Now().Add(-time.Minute)
	s.Decay()
	assert.Equal(t, 0, s.dots)
}

func TestTickerStale(t *testing.T) {
	tk := NewTicker()
	assert.True(t, tk.Stale(time.Second))
	first := tk.Current()
	tk.Tick()
	assert.False(t, tk.Stale(time.Second))
	assert.NotEqual(t, first, tk.Current())
}

func TestFormatVars(t *testing.T) {
	vars := []protocol.VarInfo{
		{Name: "setpoints", Value: []any{40.0}},
		{Name: "Kp", Value: 1.23456},
		{Name: "enabled", Value: true},
	}
	assert.Equal(t, "Kp=1.235 enabled=true", formatVars(vars))
}

func TestLoopStateLabel(t *testing.T) {
	theme := NewDefaultTheme()
	for _, state := range []string{"idle", "connecting", "running", "stopping"} {
		assert.Contains(t, theme.LoopState(state), strings.ToUpper(state))
	}
}
