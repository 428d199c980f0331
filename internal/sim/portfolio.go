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

// openPosition is the scheduler's book entry for one held ticker.
type openPosition struct {
	cand        models.Candidate
	entryDate   string
	entryPrice  float64
	shares      int
	stop        float64
	pendingExit models.ExitReason // empty when no exit is queued
}

// PortfolioSimulator runs the day-by-day scheduler over the union of trading
// dates in the price store. Unlike the per-candidate replay, positions share
// a capacity limit, tickers are unique, and exits free slots for same-day
// entries. Every day runs five phases in fixed order: pending exits, new
// entries, stop losses, trailing stops, holding-limit exits.
type PortfolioSimulator struct {
	cfg    Config
	store  *marketdata.Store
	logger *log.Logger
}

// NewPortfolioSimulator validates cfg and wires the scheduler to a price store.
func NewPortfolioSimulator(cfg Config, store *marketdata.Store, logger *log.Logger) (*PortfolioSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("price store is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[SIM] ", log.LstdFlags)
	}
	return &PortfolioSimulator{cfg: cfg, store: store, logger: logger}, nil
}

// Run executes the full schedule and returns the accumulated result. Repeated
// runs over identical inputs produce identical output ordering: positions are
// always visited in ticker order and same-day candidates in score order.
func (s *PortfolioSimulator) Run(candidates []models.Candidate) *Result {
	res := &Result{Config: s.cfg}

	dates := s.store.TradingDates()
	if s.cfg.DataEndDate != "" {
		n := sort.SearchStrings(dates, s.cfg.DataEndDate)
		if n < len(dates) && dates[n] == s.cfg.DataEndDate {
			n++
		}
		dates = dates[:n]
	}
	if len(dates) == 0 {
		return res
	}
	schedule := s.buildSchedule(res, candidates, dates[len(dates)-1])

	positions := make(map[string]*openPosition)
	slip := s.cfg.slippageFactor()

	for _, day := range dates {
		rotated := false

		// Phase 1: pending exits fill at today's open. A missing bar
		// cancels the queued exit and the position rides on.
		for _, t := range sortedTickers(positions) {
			pos := positions[t]
			if pos.pendingExit == "" {
				continue
			}
			bar, ok := s.store.Bar(t, day)
			if !ok {
				pos.pendingExit = ""
				continue
			}
			res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, day, bar.AdjustedOpen()*slip, pos.pendingExit))
			delete(positions, t)
		}

		// Phase 2: entries, best score first.
		for _, c := range rankCandidates(schedule[day]) {
			if _, held := positions[c.Ticker]; held {
				res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipDuplicateTicker, Score: c.Score, Date: day})
				continue
			}
			bar, ok := s.store.Bar(c.Ticker, day)
			if !ok {
				res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipNoPriceData, Score: c.Score, Date: day})
				continue
			}
			entryPrice := bar.AdjustedOpen()
			if entryPrice <= 0 {
				res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipMissingOHLC, Score: c.Score, Date: day})
				continue
			}
			shares := util.Shares(s.cfg.PositionSize, entryPrice)
			if shares == 0 {
				res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipZeroShares, Score: c.Score, Date: day})
				continue
			}
			if len(positions) >= s.cfg.MaxPositions {
				if !s.cfg.EnableRotation || rotated || !s.rotateOut(res, positions, day, c, slip) {
					res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipCapacityFull, Score: c.Score, Date: day})
					continue
				}
				rotated = true
			}
			positions[c.Ticker] = &openPosition{
				cand:       c,
				entryDate:  day,
				entryPrice: entryPrice,
				shares:     shares,
				stop:       s.cfg.stopPrice(entryPrice),
			}
		}

		// Phase 3: fixed stop loss.
		for _, t := range sortedTickers(positions) {
			pos := positions[t]
			bar, ok := s.store.Bar(t, day)
			if !ok {
				continue
			}
			held := util.DaysBetween(pos.entryDate, day)
			switch s.cfg.StopMode {
			case StopIntraday, StopSkipEntryDay:
				if s.cfg.StopMode == StopSkipEntryDay && held == 0 {
					continue
				}
				if bar.AdjustedLow() <= pos.stop && bar.Low > 0 {
					res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, day, pos.stop*slip, models.ExitStopLoss))
					delete(positions, t)
				}
			case StopClose:
				if ac := bar.AdjustedClose(); ac > 0 && ac <= pos.stop {
					res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, day, ac*slip, models.ExitStopLoss))
					delete(positions, t)
				}
			case StopCloseNextOpen:
				if ac := bar.AdjustedClose(); ac > 0 && ac <= pos.stop {
					pos.pendingExit = models.ExitStopLoss
				}
			}
		}

		// Phase 4: trailing stop, evaluated only at the ticker's week end.
		if s.cfg.UseTrailingStop {
			for _, t := range sortedTickers(positions) {
				pos := positions[t]
				if pos.pendingExit != "" {
					continue
				}
				if !weekly.IsWeekEndByDate(s.store.Bars(t), day) {
					continue
				}
				weeks := weekly.Aggregate(s.store.BarsUpTo(t, day))
				// Mode is validated at construction, the error cannot fire.
				trail, _ := weekly.IndicatorSeries(weeks, s.cfg.TrailingMode, s.cfg.TrailingPeriod)
				done := weekly.CompletedWeeks(weeks, pos.entryDate, day)
				if done >= s.cfg.TransitionWeeks && weekly.TrendBroken(weeks, trail, day) {
					pos.pendingExit = models.ExitTrendBreak
				}
			}
		}

		// Phase 5: holding limit, settled at the close.
		if s.cfg.MaxHoldingDays > 0 {
			for _, t := range sortedTickers(positions) {
				pos := positions[t]
				if pos.pendingExit != "" {
					continue
				}
				if util.DaysBetween(pos.entryDate, day) < s.cfg.MaxHoldingDays {
					continue
				}
				bar, ok := s.store.Bar(t, day)
				if !ok || bar.Close <= 0 {
					continue
				}
				res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, day, bar.AdjustedClose(), models.ExitMaxHolding))
				delete(positions, t)
			}
		}
	}

	s.closeRemaining(res, positions, dates[len(dates)-1], slip)
	s.logger.Printf("portfolio run done: %d days, %d trades, %d skipped", len(dates), len(res.Trades), len(res.Skipped))
	return res
}

// buildSchedule maps each candidate to its entry date. Candidates whose
// tickers never reach an entry bar inside the data window are skipped up
// front with no_price_data.
func (s *PortfolioSimulator) buildSchedule(res *Result, candidates []models.Candidate, lastDate string) map[string][]models.Candidate {
	schedule := make(map[string][]models.Candidate)
	for _, c := range candidates {
		bars := s.store.Bars(c.Ticker)
		idx := -1
		if len(bars) > 0 {
			idx = entryIndex(bars, c.ReportDate, s.cfg.EntryMode)
		}
		if idx < 0 || bars[idx].Date > lastDate {
			res.addSkip(models.SkippedTrade{Ticker: c.Ticker, Reason: models.SkipNoPriceData, Score: c.Score, Date: c.ReportDate})
			continue
		}
		schedule[bars[idx].Date] = append(schedule[bars[idx].Date], c)
	}
	return schedule
}

// rotateOut frees a slot for cand by closing the weakest open position.
// Returns false when no position qualifies: the weakest must have a bar
// today, strictly negative unrealized P&L against yesterday's close, and a
// score strictly below the incoming candidate's.
func (s *PortfolioSimulator) rotateOut(res *Result, positions map[string]*openPosition, day string, cand models.Candidate, slip float64) bool {
	weakTicker := ""
	weakUnrealized := 0.0
	for _, t := range sortedTickers(positions) {
		pos := positions[t]
		if _, ok := s.store.Bar(t, day); !ok {
			continue
		}
		prev, ok := s.store.PrevClose(t, day)
		if !ok {
			continue
		}
		unrealized := (prev - pos.entryPrice) * float64(pos.shares)
		if unrealized < weakUnrealized {
			weakUnrealized = unrealized
			weakTicker = t
		}
	}
	if weakTicker == "" || weakUnrealized >= 0 {
		return false
	}
	weak := positions[weakTicker]
	if cand.Score <= weak.cand.Score {
		return false
	}
	bar, _ := s.store.Bar(weakTicker, day)
	res.addTrade(buildTrade(weak.cand, weak.entryDate, weak.entryPrice, weak.shares, day, bar.AdjustedOpen()*slip, models.ExitRotatedOut))
	delete(positions, weakTicker)
	s.logger.Printf("rotation: %s (score %.1f, unrealized %.2f) out for %s (score %.1f) on %s",
		weakTicker, weak.cand.Score, weakUnrealized, cand.Ticker, cand.Score, day)
	return true
}

// closeRemaining settles every position still open after the final date.
// Queued exits fill at the final close with their queued reason; the rest
// close as end_of_data at their ticker's last available close.
func (s *PortfolioSimulator) closeRemaining(res *Result, positions map[string]*openPosition, lastDate string, slip float64) {
	for _, t := range sortedTickers(positions) {
		pos := positions[t]
		if pos.pendingExit != "" {
			if bar, ok := s.store.Bar(t, lastDate); ok {
				res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, lastDate, bar.AdjustedClose()*slip, pos.pendingExit))
				continue
			}
		}
		bars := s.store.BarsUpTo(t, lastDate)
		last := bars[len(bars)-1]
		res.addTrade(buildTrade(pos.cand, pos.entryDate, pos.entryPrice, pos.shares, last.Date, last.AdjustedClose(), models.ExitEndOfData))
	}
}

// rankCandidates orders a day's entries score-descending with unscored last,
// preserving input order on ties.
func rankCandidates(cands []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasScore() != b.HasScore() {
			return a.HasScore()
		}
		return a.Score > b.Score
	})
	return out
}

func sortedTickers(positions map[string]*openPosition) []string {
	out := make([]string, 0, len(positions))
	for t := range positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
