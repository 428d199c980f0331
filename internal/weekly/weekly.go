// Package weekly implements the shared rule kernel: weekly-bar aggregation,
// the EMA and N-week-low trend indicators, and trend-break detection. The
// backtest simulators and the live trailing-stop evaluator both run on these
// functions, which is what keeps their exit decisions identical.
package weekly

import (
	"fmt"
	"math"
	"time"

	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/util"
)

// TrailingMode selects which weekly indicator guards a position.
type TrailingMode string

// Trailing stop modes.
const (
	ModeWeeklyEMA      TrailingMode = "weekly_ema"
	ModeWeeklyNWeekLow TrailingMode = "weekly_nweek_low"
)

// Valid reports whether m is a known trailing mode.
func (m TrailingMode) Valid() bool {
	return m == ModeWeeklyEMA || m == ModeWeeklyNWeekLow
}

// Bar is one ISO week of adjusted prices aggregated from daily bars.
type Bar struct {
	WeekStart  string
	WeekEnding string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Year       int
	Week       int
}

// Absent marks indicator slots inside the warmup window. Consumers must treat
// absent values as "do not exit".
func Absent(v float64) bool {
	return math.IsNaN(v)
}

func isoWeekOf(date string) (int, int, bool) {
	t, err := time.Parse(util.DateLayout, date)
	if err != nil {
		return 0, 0, false
	}
	y, w := t.ISOWeek()
	return y, w, true
}

// Aggregate groups consecutive daily bars into weekly bars by ISO (year,
// week), preserving insertion order. Prices are adjusted; volume is summed.
// Partial weeks are legal.
func Aggregate(bars []marketdata.Bar) []Bar {
	weeks := make([]Bar, 0, len(bars)/4+1)
	var cur *Bar

	for i := range bars {
		d := &bars[i]
		year, week, ok := isoWeekOf(d.Date)
		if !ok {
			continue
		}

		if cur == nil || cur.Year != year || cur.Week != week {
			weeks = append(weeks, Bar{
				WeekStart:  d.Date,
				WeekEnding: d.Date,
				Open:       d.AdjustedOpen(),
				High:       d.AdjustedHigh(),
				Low:        d.AdjustedLow(),
				Close:      d.AdjustedClose(),
				Volume:     d.Volume,
				Year:       year,
				Week:       week,
			})
			cur = &weeks[len(weeks)-1]
			continue
		}

		cur.WeekEnding = d.Date
		cur.Close = d.AdjustedClose()
		cur.Volume += d.Volume
		if h := d.AdjustedHigh(); h > cur.High {
			cur.High = h
		}
		if l := d.AdjustedLow(); l < cur.Low {
			cur.Low = l
		}
	}
	return weeks
}

// EMA returns one value per weekly bar. The first period-1 slots are absent;
// the slot at period-1 seeds with the simple mean of the first period closes,
// and later slots apply the standard smoothing with k = 2/(period+1). Values
// round to 6 fractional digits so repeated runs are byte-identical.
func EMA(weeks []Bar, period int) []float64 {
	values := make([]float64, len(weeks))
	for i := range values {
		values[i] = math.NaN()
	}
	if period <= 0 || len(weeks) < period {
		return values
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += weeks[i].Close
	}
	prev := util.RoundTo(sum/float64(period), 6)
	values[period-1] = prev

	k := 2.0 / (float64(period) + 1)
	for i := period; i < len(weeks); i++ {
		prev = util.RoundTo(weeks[i].Close*k+prev*(1-k), 6)
		values[i] = prev
	}
	return values
}

// NWeekLow returns one value per weekly bar: the minimum low of the prior
// period weeks, deliberately excluding the current week so that a close below
// the window is a meaningful break. Slots before a full window are absent.
func NWeekLow(weeks []Bar, period int) []float64 {
	values := make([]float64, len(weeks))
	for i := range values {
		values[i] = math.NaN()
	}
	if period <= 0 {
		return values
	}

	for i := period; i < len(weeks); i++ {
		low := weeks[i-period].Low
		for j := i - period + 1; j < i; j++ {
			if weeks[j].Low < low {
				low = weeks[j].Low
			}
		}
		values[i] = low
	}
	return values
}

// IndicatorSeries computes the configured indicator for a weekly series.
func IndicatorSeries(weeks []Bar, mode TrailingMode, period int) ([]float64, error) {
	switch mode {
	case ModeWeeklyEMA:
		return EMA(weeks, period), nil
	case ModeWeeklyNWeekLow:
		return NWeekLow(weeks, period), nil
	default:
		return nil, fmt.Errorf("unknown trailing mode %q", mode)
	}
}

// TrendBroken finds the last weekly bar ending on or before asOf and reports
// whether its close sits below the matching indicator value. Absent values
// never signal a break.
func TrendBroken(weeks []Bar, values []float64, asOf string) bool {
	i := lastWeekIndex(weeks, asOf)
	if i < 0 || i >= len(values) || Absent(values[i]) {
		return false
	}
	return weeks[i].Close < values[i]
}

// CompletedWeeks counts weekly bars that started strictly after the entry
// date and ended on or before asOf. The entry week never counts, even for a
// Monday entry.
func CompletedWeeks(weeks []Bar, entryDate, asOf string) int {
	n := 0
	for i := range weeks {
		if weeks[i].WeekStart > entryDate && weeks[i].WeekEnding <= asOf {
			n++
		}
	}
	return n
}

// IsWeekEndByDate reports whether date is the last trading day of its ISO
// week within the daily sequence. A date with no later bar counts as a week
// end; callers scope the bar window so this stays harmless.
func IsWeekEndByDate(bars []marketdata.Bar, date string) bool {
	for i := range bars {
		if bars[i].Date != date {
			continue
		}
		if i == len(bars)-1 {
			return true
		}
		y1, w1, ok1 := isoWeekOf(date)
		y2, w2, ok2 := isoWeekOf(bars[i+1].Date)
		if !ok1 || !ok2 {
			return false
		}
		return y1 != y2 || w1 != w2
	}
	return false
}

func lastWeekIndex(weeks []Bar, asOf string) int {
	for i := len(weeks) - 1; i >= 0; i-- {
		if weeks[i].WeekEnding <= asOf {
			return i
		}
	}
	return -1
}
