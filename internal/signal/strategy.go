// Package signal generates daily trade signals: trend-break exits for open
// positions, rotation pairs, and ranked entries up to capacity. Each run
// produces an execution signal set and a shadow signal set for A/B
// comparison; only the execution set is ever placed.
package signal

import (
	"fmt"

	"github.com/jspahr/gapdrift/internal/weekly"
)

// Strategy names a trailing-stop configuration.
type Strategy struct {
	Name   string
	Mode   weekly.TrailingMode
	Period int
}

// ExecutionStrategy drives real order placement: 10-week EMA trailing stop.
var ExecutionStrategy = Strategy{
	Name:   "ema_p10",
	Mode:   weekly.ModeWeeklyEMA,
	Period: 10,
}

// ShadowStrategy is paper-only: 4-week-low trailing stop, recorded in the
// shadow book and never placed.
var ShadowStrategy = Strategy{
	Name:   "nwl_p4",
	Mode:   weekly.ModeWeeklyNWeekLow,
	Period: 4,
}

// StrategyByName resolves a strategy name from a signal file.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case ExecutionStrategy.Name:
		return ExecutionStrategy, nil
	case ShadowStrategy.Name:
		return ShadowStrategy, nil
	}
	return Strategy{}, fmt.Errorf("unknown strategy %q", name)
}
