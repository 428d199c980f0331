// Package sim implements the backtest engines: the per-candidate trade
// replay and the day-by-day portfolio scheduler.
package sim

import (
	"fmt"

	"github.com/jspahr/gapdrift/internal/weekly"
)

// StopMode selects how the fixed stop loss executes.
type StopMode string

// Stop modes.
const (
	StopIntraday      StopMode = "intraday"
	StopClose         StopMode = "close"
	StopSkipEntryDay  StopMode = "skip_entry_day"
	StopCloseNextOpen StopMode = "close_next_open"
)

// Valid reports whether m is a known stop mode.
func (m StopMode) Valid() bool {
	switch m {
	case StopIntraday, StopClose, StopSkipEntryDay, StopCloseNextOpen:
		return true
	}
	return false
}

// EntryMode selects which bar a candidate enters on.
type EntryMode string

// Entry modes.
const (
	EntryNextDayOpen EntryMode = "next_day_open"
	EntryReportOpen  EntryMode = "report_open"
)

// Valid reports whether m is a known entry mode.
func (m EntryMode) Valid() bool {
	return m == EntryNextDayOpen || m == EntryReportOpen
}

// Config holds every parameter the simulators honor. The zero value is not
// usable; construct through the simulators, which validate.
type Config struct {
	PositionSize    float64
	StopLossPct     float64
	SlippagePct     float64
	MaxHoldingDays  int // 0 disables the holding limit
	StopMode        StopMode
	EntryMode       EntryMode
	MaxPositions    int
	UseTrailingStop bool
	TrailingMode    weekly.TrailingMode
	TrailingPeriod  int
	TransitionWeeks int
	EnableRotation  bool
	DailyEntryLimit int    // 0 means unlimited
	DataEndDate     string // optional truncation, YYYY-MM-DD
}

// Validate rejects out-of-range values and inconsistent combinations.
func (c *Config) Validate() error {
	if c.PositionSize <= 0 {
		return fmt.Errorf("position_size must be > 0")
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 100 {
		return fmt.Errorf("stop_loss_pct must be in (0, 100)")
	}
	if c.SlippagePct < 0 || c.SlippagePct >= 100 {
		return fmt.Errorf("slippage_pct must be in [0, 100)")
	}
	if c.MaxHoldingDays < 0 {
		return fmt.Errorf("max_holding_days must be >= 0")
	}
	if !c.StopMode.Valid() {
		return fmt.Errorf("unknown stop_mode %q", c.StopMode)
	}
	if !c.EntryMode.Valid() {
		return fmt.Errorf("unknown entry_mode %q", c.EntryMode)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be > 0")
	}
	if c.UseTrailingStop {
		if !c.TrailingMode.Valid() {
			return fmt.Errorf("unknown trailing mode %q", c.TrailingMode)
		}
		if c.TrailingPeriod <= 0 {
			return fmt.Errorf("trailing period must be > 0")
		}
		if c.TransitionWeeks < 0 {
			return fmt.Errorf("transition_weeks must be >= 0")
		}
	}
	if c.MaxHoldingDays == 0 && !c.UseTrailingStop {
		return fmt.Errorf("max holding and trailing stop cannot both be disabled")
	}
	if c.DailyEntryLimit < 0 {
		return fmt.Errorf("daily_entry_limit must be >= 0")
	}
	return nil
}

// slippageFactor is the multiplier applied to involuntary exit prices.
func (c *Config) slippageFactor() float64 {
	return 1 - c.SlippagePct/100
}

// stopPrice derives the protective stop from an entry price.
func (c *Config) stopPrice(entryPrice float64) float64 {
	return entryPrice * (1 - c.StopLossPct/100)
}

// ManifestMap flattens the config into the run-manifest representation.
// The recognized reproducibility keys come first-class; the rest ride along.
func (c *Config) ManifestMap() map[string]any {
	return map[string]any{
		"position_size":             c.PositionSize,
		"stop_loss":                 c.StopLossPct,
		"slippage":                  c.SlippagePct,
		"max_holding":               c.MaxHoldingDays,
		"stop_mode":                 string(c.StopMode),
		"entry_mode":                string(c.EntryMode),
		"max_positions":             c.MaxPositions,
		"trailing_transition_weeks": c.TransitionWeeks,
		"use_trailing_stop":         c.UseTrailingStop,
		"trailing_mode":             string(c.TrailingMode),
		"trailing_period":           c.TrailingPeriod,
		"enable_rotation":           c.EnableRotation,
		"daily_entry_limit":         c.DailyEntryLimit,
		"data_end_date":             c.DataEndDate,
	}
}
