package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/sim"
	"github.com/jspahr/gapdrift/internal/weekly"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func baseConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Brokerage:   BrokerageConfig{APIKey: "key", APISecret: "secret"},
		Trading: TradingConfig{
			PositionSize:            10000,
			StopLossPct:             10,
			SlippagePct:             0.5,
			StopMode:                sim.StopCloseNextOpen,
			EntryMode:               sim.EntryNextDayOpen,
			MaxPositions:            3,
			TrailingTransitionWeeks: 2,
			MinGrade:                models.GradeC,
		},
		Executor: ExecutorConfig{EntryTimeInForce: "day", PollInterval: "5s", PollTimeout: "60s"},
		State:    StateConfig{Path: "test.db"},
		Signals:  SignalsConfig{Dir: "signals"},
	}
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("GAP_TEST_KEY", "key-abc")
	t.Setenv("GAP_TEST_SECRET", "secret-xyz")
	path := writeConfig(t, `
environment:
  mode: paper
  log_level: info

brokerage:
  api_key: ${GAP_TEST_KEY}
  api_secret: ${GAP_TEST_SECRET}

trading:
  position_size: 12500
  stop_loss: 8
  slippage: 0.5
  stop_mode: close_next_open
  entry_mode: next_day_open
  max_positions: 4
  trailing_transition_weeks: 2
  min_grade: C

executor:
  entry_time_in_force: opg
  poll_interval: 5s
  poll_timeout: 300s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Brokerage.APIKey != "key-abc" || cfg.Brokerage.APISecret != "secret-xyz" {
		t.Errorf("env expansion failed: %+v", cfg.Brokerage)
	}
	if cfg.Trading.PositionSize != 12500 || cfg.Trading.MaxPositions != 4 {
		t.Errorf("unexpected trading config: %+v", cfg.Trading)
	}
	if cfg.Executor.EntryTimeInForce != "opg" {
		t.Errorf("entry_time_in_force = %q", cfg.Executor.EntryTimeInForce)
	}
	if cfg.State.Path != "gapdrift.db" {
		t.Errorf("state.path default = %q", cfg.State.Path)
	}
	if cfg.Signals.Dir != "signals" {
		t.Errorf("signals.dir default = %q", cfg.Signals.Dir)
	}
}

func TestLoadExampleFile(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "example-key")
	t.Setenv("ALPACA_API_SECRET", "example-secret")

	cfg, err := Load(filepath.Join("..", "..", "config.yaml.example"))
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if !cfg.IsPaperTrading() {
		t.Error("example config should default to paper trading")
	}
	if cfg.Trading.StopMode != sim.StopCloseNextOpen {
		t.Errorf("example stop_mode = %q", cfg.Trading.StopMode)
	}
	if cfg.Executor.PollIntervalDuration() != 5*time.Second {
		t.Errorf("example poll_interval = %q", cfg.Executor.PollInterval)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: paper

brokerage:
  api_key: key
  api_secret: secret

trading:
  stop_losss: 8
`)
	if _, err := Load(path); err == nil {
		t.Error("expected unknown key to be rejected")
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Error("expected error when loading nonexistent config file, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Run("base config is valid", func(t *testing.T) {
		cfg := baseConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config, got: %v", err)
		}
	})

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }, "environment.mode"},
		{"live without opt-in", func(c *Config) { c.Environment.Mode = "live" }, "allow_live"},
		{"missing api key", func(c *Config) { c.Brokerage.APIKey = "" }, "api_key"},
		{"missing api secret", func(c *Config) { c.Brokerage.APISecret = "" }, "api_secret"},
		{"negative position size", func(c *Config) { c.Trading.PositionSize = -1 }, "position_size"},
		{"stop loss too large", func(c *Config) { c.Trading.StopLossPct = 100 }, "stop_loss"},
		{"negative slippage", func(c *Config) { c.Trading.SlippagePct = -0.1 }, "slippage"},
		{"negative max holding", func(c *Config) { c.Trading.MaxHoldingDays = -1 }, "max_holding"},
		{"bad stop mode", func(c *Config) { c.Trading.StopMode = "limit" }, "stop_mode"},
		{"bad entry mode", func(c *Config) { c.Trading.EntryMode = "vwap" }, "entry_mode"},
		{"negative max positions", func(c *Config) { c.Trading.MaxPositions = -2 }, "max_positions"},
		{"negative transition weeks", func(c *Config) { c.Trading.TrailingTransitionWeeks = -1 }, "trailing_transition_weeks"},
		{"bad grade", func(c *Config) { c.Trading.MinGrade = "E" }, "min_grade"},
		{"bad trailing mode", func(c *Config) { c.Trading.Trailing = TrailingConfig{Mode: "daily_sma", Period: 10} }, "trailing.mode"},
		{"bad trailing period", func(c *Config) { c.Trading.Trailing = TrailingConfig{Mode: "weekly_ema", Period: -1} }, "trailing.period"},
		{"negative daily entry limit", func(c *Config) { c.Trading.DailyEntryLimit = -1 }, "daily_entry_limit"},
		{"bad tif", func(c *Config) { c.Executor.EntryTimeInForce = "ioc" }, "entry_time_in_force"},
		{"bad poll interval", func(c *Config) { c.Executor.PollInterval = "fast" }, "poll_interval"},
		{"negative buying power floor", func(c *Config) { c.Executor.MinBuyingPower = -1 }, "min_buying_power"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateAppliesTradingDefaults(t *testing.T) {
	cfg := &Config{
		Brokerage: BrokerageConfig{APIKey: "key", APISecret: "secret"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected empty sections to default, got: %v", err)
	}
	if cfg.Environment.Mode != "paper" {
		t.Errorf("mode default = %q", cfg.Environment.Mode)
	}
	if cfg.Trading.PositionSize != 10000 || cfg.Trading.StopLossPct != 10 || cfg.Trading.MaxPositions != 3 {
		t.Errorf("trading defaults = %+v", cfg.Trading)
	}
	if cfg.Trading.StopMode != sim.StopCloseNextOpen || cfg.Trading.EntryMode != sim.EntryNextDayOpen {
		t.Errorf("mode defaults = %s / %s", cfg.Trading.StopMode, cfg.Trading.EntryMode)
	}
}

func TestSimConfigMirrorsTradingSection(t *testing.T) {
	cfg := baseConfig()
	cfg.Trading.EnableRotation = true
	cfg.Trading.DailyEntryLimit = 5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	sc := cfg.SimConfig()
	if err := sc.Validate(); err != nil {
		t.Fatalf("derived sim config should validate: %v", err)
	}
	if sc.PositionSize != 10000 || sc.StopLossPct != 10 || sc.MaxPositions != 3 {
		t.Errorf("sim config = %+v", sc)
	}
	if !sc.UseTrailingStop || sc.TrailingMode != weekly.ModeWeeklyEMA || sc.TrailingPeriod != 10 {
		t.Errorf("trailing defaults not applied: %+v", sc)
	}
	if !sc.EnableRotation || sc.DailyEntryLimit != 5 {
		t.Errorf("rotation/limit not carried: %+v", sc)
	}
}

func TestPollDurationHelpers(t *testing.T) {
	e := ExecutorConfig{PollInterval: "30s"}
	if d := e.PollIntervalDuration(); d != 30*time.Second {
		t.Errorf("PollIntervalDuration = %v", d)
	}
	if d := e.PollTimeoutDuration(); d != 0 {
		t.Errorf("empty PollTimeoutDuration = %v, expected 0", d)
	}
}

func TestVerifyAgainstManifest(t *testing.T) {
	cfg := baseConfig()

	// JSON round-tripped manifests carry every number as float64.
	matching := sim.Manifest{Config: map[string]any{
		"position_size":             float64(10000),
		"stop_loss":                 float64(10),
		"slippage":                  0.5,
		"max_holding":               float64(0),
		"stop_mode":                 "close_next_open",
		"entry_mode":                "next_day_open",
		"max_positions":             float64(3),
		"trailing_transition_weeks": float64(2),
	}}

	t.Run("matching manifest passes", func(t *testing.T) {
		if err := cfg.VerifyAgainstManifest(matching); err != nil {
			t.Errorf("expected match, got: %v", err)
		}
	})

	t.Run("value drift aborts", func(t *testing.T) {
		drifted := sim.Manifest{Config: map[string]any{}}
		for k, v := range matching.Config {
			drifted.Config[k] = v
		}
		drifted.Config["position_size"] = float64(20000)

		err := cfg.VerifyAgainstManifest(drifted)
		if err == nil {
			t.Fatal("expected mismatch error")
		}
		if !strings.Contains(err.Error(), "position_size") {
			t.Errorf("error %q does not name the drifted key", err)
		}
	})

	t.Run("missing key aborts", func(t *testing.T) {
		partial := sim.Manifest{Config: map[string]any{}}
		for k, v := range matching.Config {
			partial.Config[k] = v
		}
		delete(partial.Config, "stop_mode")

		err := cfg.VerifyAgainstManifest(partial)
		if err == nil {
			t.Fatal("expected missing key error")
		}
		if !strings.Contains(err.Error(), "stop_mode") {
			t.Errorf("error %q does not name the missing key", err)
		}
	})
}
