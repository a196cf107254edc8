package mirror

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/scheduler"
)

// ErrUnknownCommand is returned by Dispatch for an unregistered type.
var ErrUnknownCommand = errors.New("unknown command type")

// LoopControl is the loop's command inbox. Handlers never mutate loop
// state directly.
type LoopControl interface {
	Submit(cmd scheduler.Command)
}

// Handler validates one command envelope and submits it to the loop.
type Handler func(ctl LoopControl, env protocol.Envelope) error

// Handlers maps command types to handlers.
type Handlers struct {
	byType map[string]Handler
}

// NewHandlers returns an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{byType: make(map[string]Handler)}
}

// DefaultHandlers handles the four loop commands.
func DefaultHandlers() *Handlers {
	h := NewHandlers()
	h.Register(protocol.TypeStartController, handleStart)
	h.Register(protocol.TypeStopController, handleStop)
	h.Register(protocol.TypeUpdateVariable, handleUpdateVariable)
	h.Register(protocol.TypeUpdateSetpoint, handleUpdateSetpoint)
	return h
}

// Register installs or replaces the handler for typ.
func (h *Handlers) Register(typ string, fn Handler) {
	h.byType[typ] = fn
}

// Types returns registered command types, sorted.
func (h *Handlers) Types() []string {
	out := make([]string, 0, len(h.byType))
	for typ := range h.byType {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for env.Type.
func (h *Handlers) Dispatch(ctl LoopControl, env protocol.Envelope) error {
	fn, ok := h.byType[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	return fn(ctl, env)
}

func handleStart(ctl LoopControl, env protocol.Envelope) error {
	p, err := protocol.DecodePayload[protocol.StartController](env)
	if err != nil {
		return err
	}
	if p.ControlName == "" {
		return fmt.Errorf("%s: control_name is required", env.Type)
	}
	ctl.Submit(scheduler.StartController(p.ControlName))
	return nil
}

func handleStop(ctl LoopControl, env protocol.Envelope) error {
	if _, err := protocol.DecodePayload[protocol.StopController](env); err != nil {
		return err
	}
	ctl.Submit(scheduler.StopController())
	return nil
}

func handleUpdateVariable(ctl LoopControl, env protocol.Envelope) error {
	p, err := protocol.DecodePayload[protocol.UpdateVariable](env)
	if err != nil {
		return err
	}
	if p.ControlName == "" || p.VarName == "" {
		return fmt.Errorf("%s: control_name and var_name are required", env.Type)
	}
	ctl.Submit(scheduler.UpdateVariable(p.ControlName, p.VarName, string(p.NewValue)))
	return nil
}

func handleUpdateSetpoint(ctl LoopControl, env protocol.Envelope) error {
	p, err := protocol.DecodePayload[protocol.UpdateSetpoint](env)
	if err != nil {
		return err
	}
	if len(p.Value) == 0 {
		return fmt.Errorf("%s: value must hold at least one setpoint", env.Type)
	}
	ctl.Submit(scheduler.UpdateSetpoint(p.Value))
	return nil
}
