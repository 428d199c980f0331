package weekly

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/util"
)

// defaultLookbackDays is the calendar window fetched before the as-of date.
// It comfortably covers the longest warmup (10-week EMA) plus holidays.
const defaultLookbackDays = 400

// Evaluation is the outcome of a trailing-stop check for one position.
// ShouldExit is true only when all three gates pass: the as-of date ends the
// ticker's week, the transition window has elapsed, and the trend is broken.
type Evaluation struct {
	Ticker         string
	IsWeekEnd      bool
	CompletedWeeks int
	TransitionMet  bool
	TrendBroken    bool
	ShouldExit     bool
	Indicator      float64
	LastClose      float64
	WeekEnding     string
}

// Evaluator decides whether an open position's trend is broken as of a date.
// It fails soft: any missing-data path yields ShouldExit=false.
type Evaluator struct {
	fetcher      marketdata.Fetcher
	lookbackDays int
	logger       *log.Logger
}

// NewEvaluator creates an evaluator with the default 400-day lookback.
func NewEvaluator(fetcher marketdata.Fetcher, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Evaluator{
		fetcher:      fetcher,
		lookbackDays: defaultLookbackDays,
		logger:       logger,
	}
}

// WithLookbackDays overrides the fetch window length.
func (e *Evaluator) WithLookbackDays(days int) *Evaluator {
	if days > 0 {
		e.lookbackDays = days
	}
	return e
}

// Evaluate fetches the ticker's recent bars, aggregates to weekly, computes
// the configured indicator, and applies the three exit gates. The fetch
// window ends exactly at asOf so the last-bar week-end rule cannot look past
// the evaluation date.
func (e *Evaluator) Evaluate(ctx context.Context, ticker, entryDate, asOf string,
	mode TrailingMode, period, transitionWeeks int) (Evaluation, error) {
	eval := Evaluation{Ticker: ticker, Indicator: math.NaN()}

	from := util.AddDays(asOf, -e.lookbackDays)
	bars, err := e.fetcher.FetchPrices(ctx, ticker, from, asOf)
	if err != nil {
		return eval, fmt.Errorf("evaluating %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		e.logger.Printf("No bars for %s in [%s, %s], skipping trailing check", ticker, from, asOf)
		return eval, nil
	}

	weeks := Aggregate(bars)
	if len(weeks) == 0 {
		e.logger.Printf("No weekly bars for %s, skipping trailing check", ticker)
		return eval, nil
	}

	values, err := IndicatorSeries(weeks, mode, period)
	if err != nil {
		return eval, err
	}

	i := lastWeekIndex(weeks, asOf)
	if i < 0 {
		e.logger.Printf("No completed week for %s on or before %s", ticker, asOf)
		return eval, nil
	}

	eval.IsWeekEnd = IsWeekEndByDate(bars, asOf)
	eval.CompletedWeeks = CompletedWeeks(weeks, entryDate, asOf)
	eval.TransitionMet = eval.CompletedWeeks >= transitionWeeks
	eval.TrendBroken = TrendBroken(weeks, values, asOf)
	eval.ShouldExit = eval.IsWeekEnd && eval.TransitionMet && eval.TrendBroken
	eval.Indicator = values[i]
	eval.LastClose = weeks[i].Close
	eval.WeekEnding = weeks[i].WeekEnding

	return eval, nil
}
