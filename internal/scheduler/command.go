package scheduler

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/strategy"
)

// CommandKind selects the mutation a Command performs.
type CommandKind int

const (
	CmdStartController CommandKind = iota
	CmdStopController
	CmdUpdateVariable
	CmdUpdateSetpoint
)

func (k CommandKind) String() string {
	switch k {
	case CmdStartController:
		return "start_controller"
	case CmdStopController:
		return "stop_controller"
	case CmdUpdateVariable:
		return "update_variable"
	case CmdUpdateSetpoint:
		return "update_setpoint"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a state change applied by the sampling goroutine at the top of
// a tick. Commands apply at most once, in submission order.
type Command struct {
	Kind      CommandKind
	Label     string
	Var       string
	Value     string
	Setpoints []float64
}

func StartController(label string) Command {
	return Command{Kind: CmdStartController, Label: label}
}

func StopController() Command {
	return Command{Kind: CmdStopController}
}

func UpdateVariable(label, name, value string) Command {
	return Command{Kind: CmdUpdateVariable, Label: label, Var: name, Value: value}
}

func UpdateSetpoint(values []float64) Command {
	return Command{Kind: CmdUpdateSetpoint, Setpoints: append([]float64{}, values...)}
}

// Submit queues cmd for the next tick. It never blocks on the loop.
func (l *Loop) Submit(cmd Command) {
	l.inbox.Push(cmd)
}

// Pending returns the number of commands not yet applied.
func (l *Loop) Pending() int { return l.inbox.Len() }

// maxDeferTicks bounds how long a command may wait on a busy instance
// before it is rejected, so a hung computation cannot stall the inbox.
const maxDeferTicks = 10

// drainInbox applies queued commands in order. A command that hits a busy
// instance stays at the head and is retried next tick.
func (l *Loop) drainInbox() {
	for {
		cmd, ok := l.inbox.Peek()
		if !ok {
			return
		}
		err := l.apply(cmd)
		if errors.Is(err, strategy.ErrBusy) {
			l.deferred++
			if l.deferred <= maxDeferTicks {
				l.logger.Debug("command deferred, strategy busy", "command", cmd.Kind.String(), "label", cmd.Label)
				return
			}
		}
		l.deferred = 0
		l.inbox.Pop()
		if err != nil {
			l.logger.Warn("command rejected", "command", cmd.Kind.String(), "label", cmd.Label, "error", err)
			l.events.Publish(events.CommandRejected, map[string]any{
				"command": cmd.Kind.String(),
				"label":   cmd.Label,
				"error":   err.Error(),
			})
			continue
		}
		l.markDirty()
	}
}

func (l *Loop) apply(cmd Command) error {
	switch cmd.Kind {
	case CmdStartController:
		return l.startController(cmd.Label)
	case CmdStopController:
		l.stopController()
		return nil
	case CmdUpdateVariable:
		return l.updateVariable(cmd.Label, cmd.Var, cmd.Value)
	case CmdUpdateSetpoint:
		return l.updateSetpoint(cmd.Setpoints)
	default:
		return fmt.Errorf("unsupported command kind %d", int(cmd.Kind))
	}
}

func (l *Loop) startController(label string) error {
	inst, ok := l.catalog.Get(label)
	if !ok {
		return fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, label)
	}

	// The instance's setpoints become the loop's, and the merged list is
	// written back so both agree.
	sp := mergeSetpoints(l.setpoints, inst.Setpoints())
	if err := inst.TrySetSetpoints(sp); err != nil {
		return err
	}

	prev := l.catalog.Active()
	if _, err := l.catalog.Activate(label); err != nil {
		return err
	}
	l.setpoints = sp

	l.mu.Lock()
	l.view.active = label
	l.view.setpoints = append(l.view.setpoints[:0], sp...)
	l.mu.Unlock()

	attrs := []any{"label", label}
	if prev != nil && prev.Label() != label {
		attrs = append(attrs, "replaced", prev.Label())
	}
	l.logger.Info("strategy started", attrs...)
	l.events.Publish(events.StrategyStarted, map[string]any{"label": label})
	return nil
}

func (l *Loop) stopController() {
	prev := l.catalog.Deactivate()

	l.mu.Lock()
	l.view.active = ""
	l.mu.Unlock()

	if prev != nil {
		l.logger.Info("strategy stopped", "label", prev.Label())
		l.events.Publish(events.StrategyStopped, map[string]any{"label": prev.Label()})
	}
}

func (l *Loop) updateVariable(label, name, value string) error {
	inst, ok := l.catalog.Get(label)
	if !ok {
		return fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, label)
	}
	if err := inst.TrySetTunable(name, value); err != nil {
		return err
	}

	if name == strategy.SetpointsTunable && l.catalog.IsActive(label) {
		l.setpoints = mergeSetpoints(l.setpoints, inst.Setpoints())
		l.publishSetpoints()
	}

	v, _ := inst.Tunable(name)
	l.logger.Info("tunable updated", "label", label, "name", name, "value", v.String())
	l.events.Publish(events.TunableUpdated, map[string]any{"label": label, "name": name, "value": v.Any()})
	return nil
}

func (l *Loop) updateSetpoint(values []float64) error {
	if i := firstNonFinite(values); i >= 0 {
		return fmt.Errorf("setpoint %d: %w", i, strategy.ErrNotFinite)
	}
	sp := mergeSetpoints(l.setpoints, values)
	if inst := l.catalog.Active(); inst != nil {
		if err := inst.TrySetSetpoints(sp); err != nil {
			return err
		}
	}
	l.setpoints = sp
	l.publishSetpoints()

	l.logger.Info("setpoints updated", "setpoints", sp)
	l.events.Publish(events.SetpointsUpdated, map[string]any{"setpoints": sp})
	return nil
}

func (l *Loop) publishSetpoints() {
	l.mu.Lock()
	l.view.setpoints = append(l.view.setpoints[:0], l.setpoints...)
	l.mu.Unlock()
}

// mergeSetpoints overwrites the leading min(len(cur), len(values)) entries.
func mergeSetpoints(cur, values []float64) []float64 {
	out := append([]float64{}, cur...)
	copy(out, values)
	return out
}
