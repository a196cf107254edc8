package strategy

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/plantctl/internal/config"
)

// KindPID is the only config-declared strategy kind.
const KindPID = "pid"

// Build registers one instance per declared strategy, in declaration order.
func Build(cfgs []config.StrategyConfig, logger *slog.Logger) (*Catalog, error) {
	catalog := NewCatalog()
	for _, sc := range cfgs {
		inst, err := buildOne(sc)
		if err != nil {
			return nil, err
		}
		if err := catalog.Register(inst); err != nil {
			return nil, err
		}
		logger.Debug("strategy registered", "label", sc.Label, "kind", sc.Kind, "tunables", len(inst.Tunables()))
	}
	return catalog, nil
}

func buildOne(sc config.StrategyConfig) (*Instance, error) {
	switch sc.Kind {
	case KindPID:
		bounds := Bidirectional
		if sc.Unidirectional {
			bounds = Unidirectional
		}
		pid := NewZieglerNichols(sc.L, sc.T, bounds)
		if sc.Td > 0 {
			pid.WithDerivative(sc.Td)
		}
		return NewInstance(sc.Label, pid, sc.Setpoints)
	default:
		return nil, fmt.Errorf("strategy %q: unknown kind %q", sc.Label, sc.Kind)
	}
}
