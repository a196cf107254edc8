package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/client"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/strategy"
)

const (
	reconnectDelay  = 3 * time.Second
	registryRefresh = 5 // seconds
	eventRows       = 8
)

type editMode int

const (
	editNone editMode = iota
	editSetpoints
	editTunable
)

// Model is the main BubbleTea model for the monitor.
type Model struct {
	ctx context.Context
	src Source

	width  int
	height int

	// State
	registry    api.RegistryResponse
	snap        protocol.Snapshot
	history     [][]float64
	eventLog    []events.Event
	lastEventID int64
	seconds     int

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme      Theme
	strategies table.Model
	input      textinput.Model
	editing    editMode

	// Communication
	snapshots chan protocol.Snapshot
	hubEvents chan events.Event

	link      LinkState
	status    string
	lastError string
}

// New creates a monitor reading from src. Streams stop when ctx ends.
func New(ctx context.Context, src Source) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: " ", Width: 1},
			{Title: "Strategy", Width: 16},
			{Title: "Tunables", Width: 48},
		}),
		table.WithFocused(true),
		table.WithHeight(5),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	in := textinput.New()
	in.CharLimit = 128

	return Model{
		ctx:        ctx,
		src:        src,
		eventLog:   make([]events.Event, 0, maxEventLog),
		ticker:     NewTicker(),
		spinner:    NewSpinner(),
		theme:      NewDefaultTheme(),
		strategies: t,
		input:      in,
		snapshots:  make(chan protocol.Snapshot, 16),
		hubEvents:  make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToSnapshots(m.ctx, m.src, m.snapshots),
		receiveSnapshot(m.ctx, m.snapshots),
		subscribeToEvents(m.ctx, m.src, 0, m.hubEvents),
		receiveEvent(m.ctx, m.hubEvents),
		fetchRegistry(m.ctx, m.src),
		tickEvery(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing != editNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.strategies.SetWidth(max(20, m.width-8))
		m.input.Width = max(10, m.width-24)

	case tickMsg:
		m.spinner.Decay()
		m.seconds++
		if m.seconds%registryRefresh == 0 {
			return m, tea.Batch(tickEvery(), fetchRegistry(m.ctx, m.src))
		}
		return m, tickEvery()

	case snapshotMsg:
		m.applySnapshot(protocol.Snapshot(msg))
		return m, receiveSnapshot(m.ctx, m.snapshots)

	case polledMsg:
		if s := protocol.Snapshot(msg); s.Seq != m.snap.Seq {
			m.applySnapshot(s)
		}
		return m, pollSnapshot(m.ctx, m.src, m.pollInterval())

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.lastEventID = max(m.lastEventID, e.ID)
		m.spinner.OnEvent()
		switch e.Type {
		case events.LoopState, events.StrategyStarted, events.StrategyStopped:
			return m, tea.Batch(receiveEvent(m.ctx, m.hubEvents), fetchRegistry(m.ctx, m.src))
		}
		return m, receiveEvent(m.ctx, m.hubEvents)

	case registryMsg:
		m.registry = api.RegistryResponse(msg)
		m.link.Connected = true
		m.lastError = ""
		m.refreshStrategies()

	case streamEndedMsg:
		return m.handleStreamEnded(msg)

	case reconnectMsg:
		if msg.stream == streamSnapshots {
			return m, subscribeToSnapshots(m.ctx, m.src, m.snapshots)
		}
		return m, subscribeToEvents(m.ctx, m.src, m.lastEventID, m.hubEvents)

	case commandMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = "queued " + msg.action
		}

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "enter":
		label := m.selectedLabel()
		if label == "" {
			return m, nil
		}
		return m, runCommand(m.ctx, "start "+label, func(ctx context.Context) error {
			return m.src.StartController(ctx, label)
		})
	case "x":
		return m, runCommand(m.ctx, "stop", m.src.StopController)
	case "p":
		m.editing = editSetpoints
		m.input.Prompt = "setpoints> "
		m.input.Placeholder = "40, 45"
		m.input.SetValue(formatFloats(m.snap.Setpoints))
		return m, m.input.Focus()
	case "t":
		if m.selectedLabel() == "" {
			return m, nil
		}
		m.editing = editTunable
		m.input.Prompt = m.selectedLabel() + "> "
		m.input.Placeholder = "Kp 2.5"
		m.input.SetValue("")
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.strategies, cmd = m.strategies.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = editNone
		m.input.Blur()
		return m, nil
	case "enter":
		mode, value := m.editing, strings.TrimSpace(m.input.Value())
		m.editing = editNone
		m.input.Blur()
		cmd, err := m.submit(mode, value)
		if err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit turns an edited line into a command.
func (m Model) submit(mode editMode, value string) (tea.Cmd, error) {
	switch mode {
	case editSetpoints:
		v, err := strategy.ParseValue(strategy.KindFloatSeq, value)
		if err != nil {
			return nil, err
		}
		sp := v.FloatSeq()
		if len(sp) == 0 {
			return nil, errors.New("at least one setpoint is required")
		}
		return runCommand(m.ctx, "setpoints "+formatFloats(sp), func(ctx context.Context) error {
			return m.src.UpdateSetpoint(ctx, sp)
		}), nil
	case editTunable:
		label := m.selectedLabel()
		name, val, ok := strings.Cut(value, " ")
		val = strings.TrimSpace(val)
		if !ok || name == "" || val == "" {
			return nil, errors.New("expected <name> <value>")
		}
		return runCommand(m.ctx, fmt.Sprintf("set %s %s", name, val), func(ctx context.Context) error {
			return m.src.UpdateVariable(ctx, label, name, val)
		}), nil
	default:
		return nil, nil
	}
}

func (m Model) handleStreamEnded(msg streamEndedMsg) (tea.Model, tea.Cmd) {
	if m.ctx.Err() != nil || errors.Is(msg.err, context.Canceled) {
		return m, nil
	}
	if msg.stream == streamSnapshots && errors.Is(msg.err, client.ErrConsumerBusy) {
		m.link.Polling = true
		return m, pollSnapshot(m.ctx, m.src, 0)
	}

	m.link.Connected = false
	m.lastError = msg.stream + " stream disconnected, reconnecting..."
	return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return reconnectMsg{stream: msg.stream}
	})
}

func (m *Model) applySnapshot(s protocol.Snapshot) {
	m.snap = s
	m.history = pushHistory(m.history, s.Sensors)
	m.ticker.Tick()
	m.link.Connected = true
	m.refreshStrategies()
}

// pollInterval paces GET /snapshot at the loop period, at least 100ms.
func (m Model) pollInterval() time.Duration {
	return max(100*time.Millisecond, time.Duration(m.registry.PeriodMS)*time.Millisecond)
}

func (m *Model) refreshStrategies() {
	catalog := m.snap.Catalog
	if len(catalog) == 0 {
		catalog = m.registry.Catalog
	}
	active := m.snap.Active()
	if active == "" && m.snap.Seq == 0 && m.registry.Active != nil {
		active = *m.registry.Active
	}

	rows := make([]table.Row, 0, len(catalog))
	for _, info := range catalog {
		mark := ""
		if info.Label == active {
			mark = "●"
		}
		rows = append(rows, table.Row{mark, info.Label, formatVars(info.ConfigurableVars)})
	}
	m.strategies.SetRows(rows)
}

func (m Model) selectedLabel() string {
	row := m.strategies.SelectedRow()
	if len(row) < 2 {
		return ""
	}
	return row[1]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to plantctl..."
	}

	header := renderHeader(m.registry, m.snap, m.link, m.ticker, m.spinner, m.theme, m.width)
	chans := renderChannels(m.registry.Sensors, m.registry.Actuators, m.snap, m.history, m.theme, m.width)
	strategies := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("STRATEGIES"),
		m.strategies.View(),
	))
	eventStream := renderEventStream(m.eventLog, m.theme, m.width, eventRows)

	parts := []string{header, chans, strategies, eventStream}
	if m.editing != editNone {
		parts = append(parts, " "+m.input.View())
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Fault.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	} else if m.status != "" {
		parts = append(parts, m.theme.Dim.Render(" "+m.status))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [enter] Start • [x] Stop • [p] Setpoints • [t] Tunable")
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the monitor on the terminal and blocks until the user quits.
func Run(ctx context.Context, src Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err := tea.NewProgram(New(ctx, src)).Run()
	return err
}
