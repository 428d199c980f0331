package sim

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/jspahr/gapdrift/internal/marketdata"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/util"
	"github.com/jspahr/gapdrift/internal/weekly"
)

// TradeSimulator replays every candidate independently against its own price
// history. There is no shared capital, no capacity limit, and no interaction
// between trades; each candidate either produces one TradeResult or one
// SkippedTrade.
type TradeSimulator struct {
	cfg    Config
	store  *marketdata.Store
	logger *log.Logger
}

// NewTradeSimulator validates cfg and wires the simulator to a price store.
func NewTradeSimulator(cfg Config, store *marketdata.Store, logger *log.Logger) (*TradeSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("price store is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[SIM] ", log.LstdFlags)
	}
	return &TradeSimulator{cfg: cfg, store: store, logger: logger}, nil
}

// entryIndex locates the bar a candidate enters on, or -1 when the history
// never reaches the entry date.
func entryIndex(bars []marketdata.Bar, reportDate string, mode EntryMode) int {
	for i, b := range bars {
		switch mode {
		case EntryReportOpen:
			if b.Date >= reportDate {
				return i
			}
		default:
			if b.Date > reportDate {
				return i
			}
		}
	}
	return -1
}

// Run replays all candidates and returns the accumulated result. Candidates
// sharing an entry date are ranked score-descending with unscored last; when
// the daily entry limit is set, overflow candidates are skipped.
func (s *TradeSimulator) Run(candidates []models.Candidate) *Result {
	res := &Result{Config: s.cfg}

	type plan struct {
		cand     models.Candidate
		entryIdx int
	}
	byDate := make(map[string][]plan)
	var dates []string

	for _, c := range candidates {
		bars := s.store.Bars(c.Ticker)
		idx := -1
		if len(bars) > 0 {
			idx = entryIndex(bars, c.ReportDate, s.cfg.EntryMode)
		}
		if idx < 0 {
			res.addSkip(models.SkippedTrade{
				Ticker: c.Ticker,
				Reason: models.SkipNoPriceData,
				Score:  c.Score,
				Date:   c.ReportDate,
			})
			continue
		}
		day := bars[idx].Date
		if s.cfg.DataEndDate != "" && day > s.cfg.DataEndDate {
			res.addSkip(models.SkippedTrade{
				Ticker: c.Ticker,
				Reason: models.SkipNoPriceData,
				Score:  c.Score,
				Date:   c.ReportDate,
			})
			continue
		}
		if _, seen := byDate[day]; !seen {
			dates = append(dates, day)
		}
		byDate[day] = append(byDate[day], plan{cand: c, entryIdx: idx})
	}
	sort.Strings(dates)

	for _, day := range dates {
		plans := byDate[day]
		sort.SliceStable(plans, func(i, j int) bool {
			a, b := plans[i].cand, plans[j].cand
			if a.HasScore() != b.HasScore() {
				return a.HasScore()
			}
			return a.Score > b.Score
		})
		for n, p := range plans {
			if s.cfg.DailyEntryLimit > 0 && n >= s.cfg.DailyEntryLimit {
				res.addSkip(models.SkippedTrade{
					Ticker: p.cand.Ticker,
					Reason: models.SkipDailyLimit,
					Score:  p.cand.Score,
					Date:   day,
				})
				continue
			}
			s.simulate(res, p.cand, p.entryIdx)
		}
	}
	s.logger.Printf("independent replay done: %d trades, %d skipped", len(res.Trades), len(res.Skipped))
	return res
}

// simulate walks one candidate from its entry bar to whichever exit fires
// first. Exit priority inside a day is stop loss, then trailing break, then
// the holding limit.
func (s *TradeSimulator) simulate(res *Result, c models.Candidate, entryIdx int) {
	bars := s.store.Bars(c.Ticker)
	entry := bars[entryIdx]
	entryPrice := entry.AdjustedOpen()
	if !entry.HasOHLC() || entryPrice <= 0 {
		res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipMissingOHLC, Score: c.Score, Date: entry.Date})
		return
	}
	shares := util.Shares(s.cfg.PositionSize, entryPrice)
	if shares == 0 {
		res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipZeroShares, Score: c.Score, Date: entry.Date})
		return
	}
	stop := s.cfg.stopPrice(entryPrice)
	slip := s.cfg.slippageFactor()

	var weeks []weekly.Bar
	var trail []float64
	if s.cfg.UseTrailingStop {
		weeks = weekly.Aggregate(bars)
		trail, _ = weekly.IndicatorSeries(weeks, s.cfg.TrailingMode, s.cfg.TrailingPeriod)
	}

	exit := func(date string, price float64, reason models.ExitReason) {
		res.addTrade(buildTrade(c, entry.Date, entryPrice, shares, date, price, reason))
	}
	// nextOpenExit settles at the following bar's open, falling back to the
	// trigger day's close when the trigger bar is the last one available.
	nextOpenExit := func(i int, reason models.ExitReason) {
		if i+1 < len(bars) && (s.cfg.DataEndDate == "" || bars[i+1].Date <= s.cfg.DataEndDate) {
			next := bars[i+1]
			exit(next.Date, next.AdjustedOpen()*slip, reason)
			return
		}
		exit(bars[i].Date, bars[i].AdjustedClose()*slip, reason)
	}

	for i := entryIdx; i < len(bars); i++ {
		bar := bars[i]
		if s.cfg.DataEndDate != "" && bar.Date > s.cfg.DataEndDate {
			prev := bars[i-1]
			exit(prev.Date, prev.AdjustedClose(), models.ExitEndOfData)
			return
		}
		held := util.DaysBetween(entry.Date, bar.Date)

		switch s.cfg.StopMode {
		case StopIntraday, StopSkipEntryDay:
			if s.cfg.StopMode == StopSkipEntryDay && held == 0 {
				break
			}
			if bar.AdjustedLow() <= stop && bar.Low > 0 {
				exit(bar.Date, stop*slip, models.ExitStopLoss)
				return
			}
		case StopClose:
			if ac := bar.AdjustedClose(); ac > 0 && ac <= stop {
				exit(bar.Date, ac*slip, models.ExitStopLoss)
				return
			}
		case StopCloseNextOpen:
			if ac := bar.AdjustedClose(); ac > 0 && ac <= stop {
				nextOpenExit(i, models.ExitStopLoss)
				return
			}
		}

		if s.cfg.UseTrailingStop && weekly.IsWeekEndByDate(bars, bar.Date) {
			done := weekly.CompletedWeeks(weeks, entry.Date, bar.Date)
			if done >= s.cfg.TransitionWeeks && weekly.TrendBroken(weeks, trail, bar.Date) {
				nextOpenExit(i, models.ExitTrendBreak)
				return
			}
		}

		if s.cfg.MaxHoldingDays > 0 && held >= s.cfg.MaxHoldingDays && bar.Close > 0 {
			exit(bar.Date, bar.AdjustedClose(), models.ExitMaxHolding)
			return
		}
	}

	last := bars[len(bars)-1]
	exit(last.Date, last.AdjustedClose(), models.ExitEndOfData)
}

// buildTrade assembles the closed-trade record shared by both simulators.
func buildTrade(c models.Candidate, entryDate string, entryPrice float64, shares int, exitDate string, exitPrice float64, reason models.ExitReason) models.TradeResult {
	invested := float64(shares) * entryPrice
	pnl := float64(shares) * (exitPrice - entryPrice)
	var retPct float64
	if invested > 0 {
		retPct = pnl / invested * 100
	}
	return models.TradeResult{
		Ticker:      c.Ticker,
		Grade:       c.Grade,
		Score:       c.Score,
		ReportDate:  c.ReportDate,
		EntryDate:   entryDate,
		EntryPrice:  util.RoundPrice(entryPrice),
		ExitDate:    exitDate,
		ExitPrice:   util.RoundPrice(exitPrice),
		Shares:      shares,
		Invested:    util.RoundPrice(invested),
		PnL:         util.RoundPrice(pnl),
		ReturnPct:   util.RoundTo(retPct, 4),
		DaysHeld:    util.DaysBetween(entryDate, exitDate),
		ExitReason:  reason,
		GapSize:     c.GapSize,
		CompanyName: c.CompanyName,
	}
}
