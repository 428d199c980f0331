package sim

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/models"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testConfig() Config {
	return Config{
		PositionSize:   10000,
		StopLossPct:    10,
		SlippagePct:    0.5,
		MaxHoldingDays: 30,
		StopMode:       StopIntraday,
		EntryMode:      EntryNextDayOpen,
		MaxPositions:   10,
	}
}

func newTestStore(t *testing.T, data map[string][]marketdata.Bar) *marketdata.Store {
	t.Helper()
	return marketdata.NewStore(data, testLogger())
}

func newTradeSim(t *testing.T, cfg Config, data map[string][]marketdata.Bar) *TradeSimulator {
	t.Helper()
	sim, err := NewTradeSimulator(cfg, newTestStore(t, data), testLogger())
	require.NoError(t, err)
	return sim
}

func bar(date string, o, h, l, c float64) marketdata.Bar {
	return marketdata.Bar{Date: date, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero position size", func(c *Config) { c.PositionSize = 0 }, true},
		{"stop loss out of range", func(c *Config) { c.StopLossPct = 100 }, true},
		{"negative slippage", func(c *Config) { c.SlippagePct = -1 }, true},
		{"bad stop mode", func(c *Config) { c.StopMode = "overnight" }, true},
		{"bad entry mode", func(c *Config) { c.EntryMode = "same_day" }, true},
		{"zero max positions", func(c *Config) { c.MaxPositions = 0 }, true},
		{"no exit path at all", func(c *Config) { c.MaxHoldingDays = 0 }, true},
		{"trailing without period", func(c *Config) {
			c.UseTrailingStop = true
			c.TrailingMode = "weekly_ema"
		}, true},
		{"trailing only", func(c *Config) {
			c.MaxHoldingDays = 0
			c.UseTrailingStop = true
			c.TrailingMode = "weekly_ema"
			c.TrailingPeriod = 10
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIntradayStopWithSlippage(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-02", 100, 102, 98, 101),
			bar("2025-10-03", 101, 103, 97, 100),
			bar("2025-10-04", 96, 97, 85, 90),
		},
	}
	sim := newTradeSim(t, testConfig(), data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeA, Score: 80}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "2025-10-02", tr.EntryDate)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 100, tr.Shares)
	assert.Equal(t, "2025-10-04", tr.ExitDate)
	assert.Equal(t, 89.55, tr.ExitPrice)
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, -1045.0, tr.PnL)
	assert.Equal(t, 2, tr.DaysHeld)
}

func TestCloseNextOpenFallbackOnLastBar(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-02", 100, 102, 95, 99),
			bar("2025-10-03", 99, 100, 87, 88),
		},
	}
	cfg := testConfig()
	cfg.StopMode = StopCloseNextOpen
	sim := newTradeSim(t, cfg, data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeB}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "2025-10-03", tr.ExitDate)
	assert.Equal(t, 87.56, tr.ExitPrice)
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
}

func TestCloseNextOpenExitsAtNextOpen(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-02", 100, 102, 95, 99),
			bar("2025-10-03", 99, 100, 87, 88),
			bar("2025-10-06", 86, 88, 84, 85),
		},
	}
	cfg := testConfig()
	cfg.StopMode = StopCloseNextOpen
	sim := newTradeSim(t, cfg, data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeB}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "2025-10-06", tr.ExitDate)
	assert.Equal(t, 85.57, tr.ExitPrice) // 86 * 0.995
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
}

func TestSkipEntryDayIgnoresEntryBarBreach(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-02", 100, 102, 88, 101), // low breaches the 90 stop on entry day
			bar("2025-10-03", 101, 103, 97, 100),
			bar("2025-10-04", 100, 101, 96, 99),
		},
	}

	cfg := testConfig()
	cfg.StopMode = StopSkipEntryDay
	cfg.MaxHoldingDays = 30
	res := newTradeSim(t, cfg, data).Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeA}})
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ExitEndOfData, res.Trades[0].ExitReason)

	cfg.StopMode = StopIntraday
	res = newTradeSim(t, cfg, data).Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeA}})
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, "2025-10-02", tr.ExitDate)
}

func TestMaxHoldingExit(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-01", 100, 102, 98, 101),
			bar("2025-10-02", 101, 103, 99, 102),
			bar("2025-10-03", 102, 104, 100, 103),
			bar("2025-10-06", 103, 105, 101, 104),
			bar("2025-10-08", 104, 106, 102, 105),
		},
	}
	cfg := testConfig()
	cfg.MaxHoldingDays = 3
	sim := newTradeSim(t, cfg, data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-09-30", Grade: models.GradeA}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	// 2025-10-03 is two calendar days in; 2025-10-06 is the first bar at or
	// past the three-day limit.
	assert.Equal(t, "2025-10-06", tr.ExitDate)
	assert.Equal(t, 104.0, tr.ExitPrice)
	assert.Equal(t, models.ExitMaxHolding, tr.ExitReason)
	assert.Equal(t, 5, tr.DaysHeld)
}

func TestEndOfDataExit(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-01", 100, 102, 98, 101),
			bar("2025-10-02", 101, 103, 99, 102),
		},
	}
	sim := newTradeSim(t, testConfig(), data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-09-30", Grade: models.GradeC}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "2025-10-02", tr.ExitDate)
	assert.Equal(t, 102.0, tr.ExitPrice)
	assert.Equal(t, models.ExitEndOfData, tr.ExitReason)
}

func TestEntryModes(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-01", 100, 102, 98, 101),
			bar("2025-10-02", 105, 107, 103, 106),
		},
	}

	cfg := testConfig()
	cfg.EntryMode = EntryReportOpen
	res := newTradeSim(t, cfg, data).Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeA}})
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "2025-10-01", res.Trades[0].EntryDate)
	assert.Equal(t, 100.0, res.Trades[0].EntryPrice)

	cfg.EntryMode = EntryNextDayOpen
	res = newTradeSim(t, cfg, data).Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-10-01", Grade: models.GradeA}})
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "2025-10-02", res.Trades[0].EntryDate)
	assert.Equal(t, 105.0, res.Trades[0].EntryPrice)
}

func TestSkipReasons(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"NOBAR": {bar("2025-09-01", 10, 11, 9, 10)},
		"BADOHLC": {
			{Date: "2025-10-02", Open: 0, High: 5, Low: 1, Close: 4, Volume: 10},
		},
		"PRICEY": {bar("2025-10-02", 25000, 25500, 24500, 25100)},
	}
	sim := newTradeSim(t, testConfig(), data)
	res := sim.Run([]models.Candidate{
		{Ticker: "NOBAR", ReportDate: "2025-10-01", Grade: models.GradeA},
		{Ticker: "BADOHLC", ReportDate: "2025-10-01", Grade: models.GradeA},
		{Ticker: "PRICEY", ReportDate: "2025-10-01", Grade: models.GradeA},
		{Ticker: "MISSING", ReportDate: "2025-10-01", Grade: models.GradeA},
	})

	assert.Empty(t, res.Trades)
	require.Len(t, res.Skipped, 4)
	reasons := map[string]models.SkipReason{}
	for _, sk := range res.Skipped {
		reasons[sk.Ticker] = sk.Reason
	}
	assert.Equal(t, models.SkipNoPriceData, reasons["NOBAR"])
	assert.Equal(t, models.SkipMissingOHLC, reasons["BADOHLC"])
	assert.Equal(t, models.SkipZeroShares, reasons["PRICEY"])
	assert.Equal(t, models.SkipNoPriceData, reasons["MISSING"])
}

func TestDailyEntryLimitRanksScoredFirst(t *testing.T) {
	bars := []marketdata.Bar{
		bar("2025-10-02", 100, 102, 98, 101),
		bar("2025-10-03", 101, 103, 99, 102),
	}
	data := map[string][]marketdata.Bar{"AAA": bars, "BBB": bars, "CCC": bars}

	cfg := testConfig()
	cfg.DailyEntryLimit = 2
	sim := newTradeSim(t, cfg, data)
	res := sim.Run([]models.Candidate{
		{Ticker: "AAA", ReportDate: "2025-10-01", Grade: models.GradeB}, // unscored
		{Ticker: "BBB", ReportDate: "2025-10-01", Grade: models.GradeA, Score: 90},
		{Ticker: "CCC", ReportDate: "2025-10-01", Grade: models.GradeB, Score: 50},
	})

	require.Len(t, res.Trades, 2)
	entered := []string{res.Trades[0].Ticker, res.Trades[1].Ticker}
	assert.Equal(t, []string{"BBB", "CCC"}, entered)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "AAA", res.Skipped[0].Ticker)
	assert.Equal(t, models.SkipDailyLimit, res.Skipped[0].Reason)
}

func TestDataEndDateTruncatesReplay(t *testing.T) {
	data := map[string][]marketdata.Bar{
		"ACME": {
			bar("2025-10-01", 100, 102, 98, 101),
			bar("2025-10-02", 101, 103, 99, 102),
			bar("2025-10-03", 102, 104, 85, 90), // would stop out here
		},
	}
	cfg := testConfig()
	cfg.DataEndDate = "2025-10-02"
	sim := newTradeSim(t, cfg, data)
	res := sim.Run([]models.Candidate{{Ticker: "ACME", ReportDate: "2025-09-30", Grade: models.GradeA}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "2025-10-02", tr.ExitDate)
	assert.Equal(t, models.ExitEndOfData, tr.ExitReason)
}

func TestAdjustedPricesDriveStops(t *testing.T) {
	// A 2:1 split halves the adjusted series; the raw lows never touch the
	// raw stop but the adjusted low crosses the adjusted one.
	data := map[string][]marketdata.Bar{
		"SPLT": {
			{Date: "2025-10-02", Open: 200, High: 204, Low: 196, Close: 202, AdjClose: 101, Volume: 10},
			{Date: "2025-10-03", Open: 202, High: 204, Low: 178, Close: 180, AdjClose: 90, Volume: 10},
		},
	}
	sim := newTradeSim(t, testConfig(), data)
	res := sim.Run([]models.Candidate{{Ticker: "SPLT", ReportDate: "2025-10-01", Grade: models.GradeA}})

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	// Entry at adjusted open 100; stop 90; 10-03 adjusted low = 178*0.5 = 89.
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, 89.55, tr.ExitPrice)
}
