// Package config loads and validates the pipeline's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/sim"
	"github.com/jspahr/gapdrift/internal/weekly"
)

// Defaults applied when the corresponding key is omitted.
const (
	defaultPositionSize = 10000.0
	defaultStopLossPct  = 10.0
	defaultMaxPositions = 3
	defaultStopMode     = sim.StopCloseNextOpen
	defaultEntryMode    = sim.EntryNextDayOpen
	defaultMinGrade     = models.GradeD
	defaultStatePath    = "gapdrift.db"
	defaultSignalsDir   = "signals"
)

// Config is the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Brokerage   BrokerageConfig   `yaml:"brokerage"`
	Trading     TradingConfig     `yaml:"trading"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Data        DataConfig        `yaml:"data"`
	State       StateConfig       `yaml:"state"`
	Signals     SignalsConfig     `yaml:"signals"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the runtime environment.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerageConfig defines brokerage API settings. Credentials are usually
// given as ${VAR} references and expanded from the environment at load time.
type BrokerageConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"` // empty means the paper endpoint
	// AllowLive must be set to run against a non-paper endpoint.
	AllowLive bool `yaml:"allow_live"`
}

// TradingConfig carries the strategy parameters. The first eight keys are
// pinned for reproducibility: live runs must match them against the backtest
// manifest they were tuned from.
type TradingConfig struct {
	PositionSize            float64       `yaml:"position_size"`
	StopLossPct             float64       `yaml:"stop_loss"`
	SlippagePct             float64       `yaml:"slippage"`
	MaxHoldingDays          int           `yaml:"max_holding"`
	StopMode                sim.StopMode  `yaml:"stop_mode"`
	EntryMode               sim.EntryMode `yaml:"entry_mode"`
	MaxPositions            int           `yaml:"max_positions"`
	TrailingTransitionWeeks int           `yaml:"trailing_transition_weeks"`
	MinGrade                models.Grade  `yaml:"min_grade"`

	Trailing        TrailingConfig `yaml:"trailing"`
	EnableRotation  bool           `yaml:"rotation"`
	DailyEntryLimit int            `yaml:"daily_entry_limit"`
}

// TrailingConfig selects the trailing-stop indicator for backtests. Live
// signal strategies carry their own mode and period.
type TrailingConfig struct {
	Mode   weekly.TrailingMode `yaml:"mode"`
	Period int                 `yaml:"period"`
}

// ExecutorConfig defines order placement settings. Durations are strings in
// time.ParseDuration form; empty values fall back to the executor defaults.
type ExecutorConfig struct {
	EntryTimeInForce    string  `yaml:"entry_time_in_force"` // day | opg
	EntryCutoffMinutes  int     `yaml:"entry_cutoff_minutes"`
	MinBuyingPower      float64 `yaml:"min_buying_power"`
	MaxDailyTradeOrders int     `yaml:"max_daily_trade_orders"`
	MaxDailyStopOrders  int     `yaml:"max_daily_stop_orders"`
	PollInterval        string  `yaml:"poll_interval"`
	PollTimeout         string  `yaml:"poll_timeout"`
}

// DataConfig defines the daily-price data source.
type DataConfig struct {
	BaseURL   string `yaml:"base_url"`
	CachePath string `yaml:"cache_path"`
}

// StateConfig locates the SQLite state database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// SignalsConfig locates the signal file directory.
type SignalsConfig struct {
	Dir string `yaml:"dir"`
}

// DashboardConfig defines the dashboard HTTP server.
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, expands, and validates the configuration file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Environment.Mode == "live" && !c.Brokerage.AllowLive {
		return fmt.Errorf("environment.mode 'live' requires brokerage.allow_live: true")
	}
	if c.Brokerage.APIKey == "" {
		return fmt.Errorf("brokerage.api_key is required")
	}
	if c.Brokerage.APISecret == "" {
		return fmt.Errorf("brokerage.api_secret is required")
	}

	if c.Trading.PositionSize <= 0 {
		return fmt.Errorf("trading.position_size must be > 0")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 100 {
		return fmt.Errorf("trading.stop_loss must be in (0, 100)")
	}
	if c.Trading.SlippagePct < 0 || c.Trading.SlippagePct >= 100 {
		return fmt.Errorf("trading.slippage must be in [0, 100)")
	}
	if c.Trading.MaxHoldingDays < 0 {
		return fmt.Errorf("trading.max_holding must be >= 0")
	}
	if !c.Trading.StopMode.Valid() {
		return fmt.Errorf("trading.stop_mode %q is not recognized", c.Trading.StopMode)
	}
	if !c.Trading.EntryMode.Valid() {
		return fmt.Errorf("trading.entry_mode %q is not recognized", c.Trading.EntryMode)
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be > 0")
	}
	if c.Trading.TrailingTransitionWeeks < 0 {
		return fmt.Errorf("trading.trailing_transition_weeks must be >= 0")
	}
	if !c.Trading.MinGrade.Valid() {
		return fmt.Errorf("trading.min_grade %q is not recognized", c.Trading.MinGrade)
	}
	if !c.Trading.Trailing.Mode.Valid() {
		return fmt.Errorf("trading.trailing.mode %q is not recognized", c.Trading.Trailing.Mode)
	}
	if c.Trading.Trailing.Period <= 0 {
		return fmt.Errorf("trading.trailing.period must be > 0")
	}
	if c.Trading.DailyEntryLimit < 0 {
		return fmt.Errorf("trading.daily_entry_limit must be >= 0")
	}

	tif := c.Executor.EntryTimeInForce
	if tif != "" && tif != "day" && tif != "opg" {
		return fmt.Errorf("executor.entry_time_in_force must be 'day' or 'opg'")
	}
	if c.Executor.EntryCutoffMinutes < 0 {
		return fmt.Errorf("executor.entry_cutoff_minutes must be >= 0")
	}
	if c.Executor.MinBuyingPower < 0 {
		return fmt.Errorf("executor.min_buying_power must be >= 0")
	}
	for key, value := range map[string]string{
		"executor.poll_interval": c.Executor.PollInterval,
		"executor.poll_timeout":  c.Executor.PollTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}
	return nil
}

// normalize fills defaults for omitted keys.
func (c *Config) normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Trading.PositionSize == 0 {
		c.Trading.PositionSize = defaultPositionSize
	}
	if c.Trading.StopLossPct == 0 {
		c.Trading.StopLossPct = defaultStopLossPct
	}
	if c.Trading.StopMode == "" {
		c.Trading.StopMode = defaultStopMode
	}
	if c.Trading.EntryMode == "" {
		c.Trading.EntryMode = defaultEntryMode
	}
	if c.Trading.MaxPositions == 0 {
		c.Trading.MaxPositions = defaultMaxPositions
	}
	if c.Trading.MinGrade == "" {
		c.Trading.MinGrade = defaultMinGrade
	}
	if c.Trading.Trailing.Mode == "" {
		// Match the execution strategy: 10-week EMA.
		c.Trading.Trailing.Mode = weekly.ModeWeeklyEMA
		if c.Trading.Trailing.Period == 0 {
			c.Trading.Trailing.Period = 10
		}
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
	}
	if c.Signals.Dir == "" {
		c.Signals.Dir = defaultSignalsDir
	}
}

// SimConfig translates the trading section into simulator parameters.
// DataEndDate is a per-run concern and stays a caller flag.
func (c *Config) SimConfig() sim.Config {
	t := c.Trading
	return sim.Config{
		PositionSize:    t.PositionSize,
		StopLossPct:     t.StopLossPct,
		SlippagePct:     t.SlippagePct,
		MaxHoldingDays:  t.MaxHoldingDays,
		StopMode:        t.StopMode,
		EntryMode:       t.EntryMode,
		MaxPositions:    t.MaxPositions,
		UseTrailingStop: true,
		TrailingMode:    t.Trailing.Mode,
		TrailingPeriod:  t.Trailing.Period,
		TransitionWeeks: t.TrailingTransitionWeeks,
		EnableRotation:  t.EnableRotation,
		DailyEntryLimit: t.DailyEntryLimit,
	}
}

// IsPaperTrading reports whether the brokerage runs against paper money.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// PollIntervalDuration returns the parsed poll interval, or zero when unset
// so the executor applies its own default.
func (e *ExecutorConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(e.PollInterval)
	if err != nil {
		return 0
	}
	return d
}

// PollTimeoutDuration returns the parsed poll timeout, or zero when unset.
func (e *ExecutorConfig) PollTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(e.PollTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ManifestKeys are the configuration fields pinned for reproducibility. A
// live run must match the backtest manifest it was tuned from on every one.
var ManifestKeys = []string{
	"position_size",
	"stop_loss",
	"slippage",
	"max_holding",
	"stop_mode",
	"entry_mode",
	"max_positions",
	"trailing_transition_weeks",
}

// ManifestMap flattens the pinned trading keys into the manifest form.
func (c *Config) ManifestMap() map[string]any {
	return map[string]any{
		"position_size":             c.Trading.PositionSize,
		"stop_loss":                 c.Trading.StopLossPct,
		"slippage":                  c.Trading.SlippagePct,
		"max_holding":               c.Trading.MaxHoldingDays,
		"stop_mode":                 string(c.Trading.StopMode),
		"entry_mode":                string(c.Trading.EntryMode),
		"max_positions":             c.Trading.MaxPositions,
		"trailing_transition_weeks": c.Trading.TrailingTransitionWeeks,
	}
}

// VerifyAgainstManifest compares the pinned keys against a backtest run
// manifest. Any mismatch means the live configuration has drifted from the
// parameters the backtest selected, and startup must abort.
func (c *Config) VerifyAgainstManifest(m sim.Manifest) error {
	mine := c.ManifestMap()
	var mismatches []string
	for _, key := range ManifestKeys {
		want, ok := m.Config[key]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s missing from manifest", key))
			continue
		}
		if !manifestValueEqual(mine[key], want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: config %v, manifest %v", key, mine[key], want))
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("config does not match run manifest: %s", strings.Join(mismatches, "; "))
	}
	return nil
}

// manifestValueEqual compares a config value with its JSON round-tripped
// counterpart, where every number comes back as float64.
func manifestValueEqual(mine, manifest any) bool {
	mf, mok := toFloat(mine)
	wf, wok := toFloat(manifest)
	if mok && wok {
		return mf == wf
	}
	return fmt.Sprintf("%v", mine) == fmt.Sprintf("%v", manifest)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
