package weekly

import (
	"math"
	"testing"

	"github.com/jspahr/gapdrift/internal/marketdata"
)

func daily(date string, open, high, low, closePx float64) marketdata.Bar {
	return marketdata.Bar{Date: date, Open: open, High: high, Low: low, Close: closePx, Volume: 100}
}

// weeksFromCloses builds one synthetic weekly bar per close for indicator tests.
func weeksFromCloses(closes []float64, lows []float64) []Bar {
	weeks := make([]Bar, len(closes))
	for i, c := range closes {
		low := c
		if lows != nil {
			low = lows[i]
		}
		weeks[i] = Bar{Close: c, Low: low, Year: 2025, Week: i + 1}
	}
	return weeks
}

func TestAggregateGroupsByISOWeek(t *testing.T) {
	bars := []marketdata.Bar{
		daily("2025-09-29", 100, 105, 99, 104), // Monday
		daily("2025-09-30", 104, 106, 103, 105),
		daily("2025-10-03", 105, 110, 104, 108), // Friday, same ISO week
		daily("2025-10-06", 109, 112, 108, 111), // next Monday
	}

	weeks := Aggregate(bars)
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weekly bars, got %d", len(weeks))
	}

	w := weeks[0]
	if w.WeekStart != "2025-09-29" || w.WeekEnding != "2025-10-03" {
		t.Errorf("week span = %s..%s, expected 2025-09-29..2025-10-03", w.WeekStart, w.WeekEnding)
	}
	if w.Open != 100 || w.High != 110 || w.Low != 99 || w.Close != 108 {
		t.Errorf("weekly OHLC = %v/%v/%v/%v, expected 100/110/99/108", w.Open, w.High, w.Low, w.Close)
	}
	if w.Volume != 300 {
		t.Errorf("weekly volume = %d, expected 300", w.Volume)
	}

	if weeks[1].WeekStart != "2025-10-06" || weeks[1].WeekEnding != "2025-10-06" {
		t.Errorf("partial week span = %s..%s", weeks[1].WeekStart, weeks[1].WeekEnding)
	}
}

func TestAggregateUsesAdjustedPrices(t *testing.T) {
	b := daily("2025-09-29", 100, 110, 90, 100)
	b.AdjClose = 50 // 2:1 split factor

	weeks := Aggregate([]marketdata.Bar{b})
	if len(weeks) != 1 {
		t.Fatalf("expected 1 week, got %d", len(weeks))
	}
	w := weeks[0]
	if w.Open != 50 || w.High != 55 || w.Low != 45 || w.Close != 50 {
		t.Errorf("adjusted weekly OHLC = %v/%v/%v/%v, expected 50/55/45/50", w.Open, w.High, w.Low, w.Close)
	}
}

func TestAggregateCrossesYearBoundary(t *testing.T) {
	// 2025-12-29 (Monday) already belongs to ISO week 2026-W01.
	bars := []marketdata.Bar{
		daily("2025-12-26", 100, 101, 99, 100), // Friday, 2025-W52
		daily("2025-12-29", 100, 102, 99, 101),
		daily("2025-12-31", 101, 103, 100, 102),
		daily("2026-01-02", 102, 104, 101, 103),
	}

	weeks := Aggregate(bars)
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weeks across the year boundary, got %d", len(weeks))
	}
	if weeks[1].WeekStart != "2025-12-29" || weeks[1].WeekEnding != "2026-01-02" {
		t.Errorf("year-straddling week = %s..%s", weeks[1].WeekStart, weeks[1].WeekEnding)
	}
}

func TestEMAWarmupAndSeed(t *testing.T) {
	weeks := weeksFromCloses([]float64{10, 12, 14, 16, 13}, nil)
	values := EMA(weeks, 3)

	if !Absent(values[0]) || !Absent(values[1]) {
		t.Error("first period-1 values must be absent")
	}
	if values[2] != 12 {
		t.Errorf("seed = %v, expected simple mean 12", values[2])
	}
	// k = 2/(3+1) = 0.5
	if values[3] != 14 {
		t.Errorf("ema[3] = %v, expected 14", values[3])
	}
	if values[4] != 13.5 {
		t.Errorf("ema[4] = %v, expected 13.5", values[4])
	}
}

func TestEMARoundsToSixDigits(t *testing.T) {
	weeks := weeksFromCloses([]float64{10, 11, 13, 14.123456789}, nil)
	values := EMA(weeks, 3)

	for i, v := range values {
		if Absent(v) {
			continue
		}
		rounded := math.Round(v*1e6) / 1e6
		if v != rounded {
			t.Errorf("ema[%d] = %v carries more than 6 fractional digits", i, v)
		}
	}
}

func TestEMAInsufficientHistory(t *testing.T) {
	weeks := weeksFromCloses([]float64{10, 12}, nil)
	for i, v := range EMA(weeks, 3) {
		if !Absent(v) {
			t.Errorf("ema[%d] = %v, expected absent during warmup", i, v)
		}
	}
}

func TestEMARepeatable(t *testing.T) {
	weeks := weeksFromCloses([]float64{10.1, 12.7, 14.3, 16.9, 13.313, 15.551, 17.2}, nil)
	a := EMA(weeks, 3)
	b := EMA(weeks, 3)
	for i := range a {
		if Absent(a[i]) != Absent(b[i]) {
			t.Fatalf("absence differs at %d", i)
		}
		if !Absent(a[i]) && a[i] != b[i] {
			t.Fatalf("ema[%d] differs across runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestNWeekLowExcludesCurrentWeek(t *testing.T) {
	weeks := weeksFromCloses(
		[]float64{10, 12, 14, 16, 13},
		[]float64{9, 11, 13, 15, 12},
	)
	values := NWeekLow(weeks, 2)

	if !Absent(values[0]) || !Absent(values[1]) {
		t.Error("first period values must be absent")
	}
	if values[2] != 9 {
		t.Errorf("nwl[2] = %v, expected 9", values[2])
	}
	if values[3] != 11 {
		t.Errorf("nwl[3] = %v, expected 11", values[3])
	}
	// The current week's low (12) must not shrink the window.
	if values[4] != 13 {
		t.Errorf("nwl[4] = %v, expected 13 (current week excluded)", values[4])
	}
}

func TestTrendBroken(t *testing.T) {
	weeks := []Bar{
		{WeekStart: "2025-09-29", WeekEnding: "2025-10-03", Close: 100, Year: 2025, Week: 40},
		{WeekStart: "2025-10-06", WeekEnding: "2025-10-10", Close: 90, Year: 2025, Week: 41},
	}
	values := []float64{math.NaN(), 95}

	if !TrendBroken(weeks, values, "2025-10-10") {
		t.Error("close 90 below indicator 95 should break the trend")
	}
	if TrendBroken(weeks, values, "2025-10-03") {
		t.Error("absent indicator must not break the trend")
	}
	if TrendBroken(weeks, values, "2025-09-28") {
		t.Error("no week ending on or before as-of date")
	}

	values[1] = 90
	if TrendBroken(weeks, values, "2025-10-10") {
		t.Error("close equal to indicator is not a break")
	}
}

func TestCompletedWeeks(t *testing.T) {
	weeks := []Bar{
		{WeekStart: "2025-09-29", WeekEnding: "2025-10-03"},
		{WeekStart: "2025-10-06", WeekEnding: "2025-10-10"},
		{WeekStart: "2025-10-13", WeekEnding: "2025-10-17"},
	}

	// Monday entry: the entry week itself never counts.
	if got := CompletedWeeks(weeks, "2025-09-29", "2025-10-17"); got != 2 {
		t.Errorf("CompletedWeeks = %d, expected 2", got)
	}
	// As-of mid-week: the unfinished week does not count.
	if got := CompletedWeeks(weeks, "2025-09-29", "2025-10-15"); got != 1 {
		t.Errorf("CompletedWeeks mid-week = %d, expected 1", got)
	}
	if got := CompletedWeeks(weeks, "2025-10-17", "2025-10-17"); got != 0 {
		t.Errorf("CompletedWeeks with late entry = %d, expected 0", got)
	}
}

func TestIsWeekEndByDate(t *testing.T) {
	bars := []marketdata.Bar{
		daily("2025-10-06", 1, 2, 0.5, 1.5), // Monday
		daily("2025-10-07", 1, 2, 0.5, 1.5), // Tuesday, then a gap to next Monday
		daily("2025-10-13", 1, 2, 0.5, 1.5),
		daily("2025-10-17", 1, 2, 0.5, 1.5), // Friday
	}

	if IsWeekEndByDate(bars, "2025-10-06") {
		t.Error("Monday with a Tuesday bar is not a week end")
	}
	if !IsWeekEndByDate(bars, "2025-10-07") {
		t.Error("last bar before a new ISO week is a week end, even mid-week")
	}
	if !IsWeekEndByDate(bars, "2025-10-17") {
		t.Error("final bar of the window counts as a week end")
	}
	if IsWeekEndByDate(bars, "2025-10-08") {
		t.Error("dates not in the sequence are never week ends")
	}
}
