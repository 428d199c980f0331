package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jspahr/gapdrift/internal/broker"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/state"
	"github.com/jspahr/gapdrift/internal/util"
	"github.com/jspahr/gapdrift/internal/weekly"
)

// ErrReconciliationMismatch is returned when the store's open positions and
// the brokerage's live positions disagree and the force flag is off.
var ErrReconciliationMismatch = errors.New("position reconciliation mismatch")

// Config holds the knobs for one signal generation run.
type Config struct {
	TradeDate       string
	PositionSize    float64
	StopLossPct     float64
	MaxPositions    int
	MinGrade        models.Grade
	TransitionWeeks int
	OutputDir       string
	Force           bool
	DryRun          bool
}

// Validate checks ranges and fills defaults.
func (c *Config) Validate() error {
	if !util.ValidDate(c.TradeDate) {
		return fmt.Errorf("invalid trade date %q", c.TradeDate)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("position size must be positive, got %.2f", c.PositionSize)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 100 {
		return fmt.Errorf("stop loss pct must be in (0, 100), got %.2f", c.StopLossPct)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive, got %d", c.MaxPositions)
	}
	if c.MinGrade == "" {
		c.MinGrade = models.GradeD
	}
	if !c.MinGrade.Valid() {
		return fmt.Errorf("unknown minimum grade %q", c.MinGrade)
	}
	if c.TransitionWeeks < 0 {
		return fmt.Errorf("transition weeks must be non-negative, got %d", c.TransitionWeeks)
	}
	if c.OutputDir == "" {
		c.OutputDir = "signals"
	}
	return nil
}

// Generator produces the daily execution and shadow signal sets.
type Generator struct {
	cfg       Config
	store     *state.Store
	evaluator *weekly.Evaluator
	broker    broker.Client
	logger    *log.Logger
}

// NewGenerator creates a generator. The brokerage client is attached
// separately via WithBroker because dry runs work without one.
func NewGenerator(cfg Config, store *state.Store, evaluator *weekly.Evaluator, logger *log.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal config: %w", err)
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if evaluator == nil {
		return nil, errors.New("trailing evaluator is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[SIGNAL] ", log.LstdFlags)
	}
	return &Generator{cfg: cfg, store: store, evaluator: evaluator, logger: logger}, nil
}

// WithBroker attaches the brokerage client used for position reconciliation
// and rotation marks. Without it reconciliation is skipped and execution-set
// rotation falls back to weekly-close marks.
func (g *Generator) WithBroker(client broker.Client) *Generator {
	g.broker = client
	return g
}

// RunResult reports the two signal files a run produced.
type RunResult struct {
	RunID         string
	Execution     *File
	Shadow        *File
	ExecutionPath string
	ShadowPath    string
}

// positionView is the strategy-independent shape of one open position.
type positionView struct {
	id          int64
	ticker      string
	entryDate   string
	entryPrice  float64
	qty         int
	score       float64
	stopOrderID string
	unrealized  float64
	hasUnreal   bool
	lastClose   float64
}

// exitDetail carries what the signal file omits but the shadow book needs.
type exitDetail struct {
	viewID     int64
	ticker     string
	qty        int
	entryPrice float64
	exitPrice  float64
	reason     models.ExitReason
}

// entryDetail mirrors exitDetail for new positions.
type entryDetail struct {
	ticker string
	price  float64
	qty    int
	score  float64
}

type strategyRun struct {
	file    *File
	exits   []exitDetail
	entries []entryDetail
}

// Run generates both strategy sets for the configured trade date, writes
// their signal files, and applies shadow book effects unless dry-run.
func (g *Generator) Run(ctx context.Context, candidates []models.Candidate) (*RunResult, error) {
	if err := g.store.CheckKillSwitch(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	if err := g.store.StartRun(runID, g.cfg.TradeDate, "signals"); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}

	res, errCount, err := g.run(ctx, runID, candidates)
	status := state.RunStatusCompleted
	exits, entries := 0, 0
	if res != nil && res.Execution != nil {
		exits = res.Execution.Summary.TotalExits
		entries = res.Execution.Summary.TotalEntries
	}
	if err != nil {
		status = state.RunStatusFailed
	}
	if cerr := g.store.CompleteRun(runID, status, exits, entries, errCount); cerr != nil {
		g.logger.Printf("WARNING: failed to record run completion: %v", cerr)
	}
	return res, err
}

func (g *Generator) run(ctx context.Context, runID string, candidates []models.Candidate) (*RunResult, int, error) {
	ranked, gradeSkips := g.screenCandidates(candidates)
	g.logger.Printf("Generating signals for %s: %d candidates after grade screen, %d below %s",
		g.cfg.TradeDate, len(ranked), len(gradeSkips), g.cfg.MinGrade)

	positions, err := g.store.OpenPositions()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list open positions: %w", err)
	}
	execViews := viewsFromPositions(positions)

	if g.broker != nil {
		marks, err := g.reconcile(ctx, positions)
		if err != nil {
			return nil, 0, err
		}
		for i := range execViews {
			if pl, ok := marks[execViews[i].ticker]; ok {
				execViews[i].unrealized = pl
				execViews[i].hasUnreal = true
			}
		}
	} else {
		g.logger.Printf("No brokerage client attached, skipping position reconciliation")
	}

	shadowPositions, err := g.store.OpenShadowPositions(ShadowStrategy.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list shadow positions: %w", err)
	}
	shadowViews := viewsFromShadow(shadowPositions)

	generatedAt := time.Now().UTC().Format(time.RFC3339)
	execRun, execErrs := g.generate(ctx, ExecutionStrategy, execViews, ranked, gradeSkips, runID, generatedAt)
	shadowRun, shadowErrs := g.generate(ctx, ShadowStrategy, shadowViews, ranked, gradeSkips, runID, generatedAt)
	errCount := execErrs + shadowErrs

	execPath := FilePath(g.cfg.OutputDir, ExecutionStrategy.Name, g.cfg.TradeDate)
	if err := execRun.file.WriteFile(execPath); err != nil {
		return nil, errCount, err
	}
	shadowPath := FilePath(g.cfg.OutputDir, ShadowStrategy.Name, g.cfg.TradeDate)
	if err := shadowRun.file.WriteFile(shadowPath); err != nil {
		return nil, errCount, err
	}
	g.logger.Printf("Signals written: %s (%d exits, %d entries), %s (%d exits, %d entries)",
		execPath, execRun.file.Summary.TotalExits, execRun.file.Summary.TotalEntries,
		shadowPath, shadowRun.file.Summary.TotalExits, shadowRun.file.Summary.TotalEntries)

	if g.cfg.DryRun {
		g.logger.Printf("Dry run, shadow book left untouched")
	} else {
		if err := g.applyShadowBook(shadowRun); err != nil {
			return nil, errCount, err
		}
		g.appendSignalBlob(execRun.file)
		g.appendSignalBlob(shadowRun.file)
	}

	return &RunResult{
		RunID:         runID,
		Execution:     execRun.file,
		Shadow:        shadowRun.file,
		ExecutionPath: execPath,
		ShadowPath:    shadowPath,
	}, errCount, nil
}

// screenCandidates drops candidates below the minimum grade and ranks the
// rest: scored ahead of unscored, then score descending. Sorting is stable
// so equal scores keep their input order.
func (g *Generator) screenCandidates(candidates []models.Candidate) ([]models.Candidate, []Skip) {
	kept := make([]models.Candidate, 0, len(candidates))
	var skips []Skip
	for _, c := range candidates {
		if !c.Grade.AtLeast(g.cfg.MinGrade) {
			skips = append(skips, Skip{Ticker: c.Ticker, Reason: models.SkipBelowMinGrade, Score: c.Score})
			continue
		}
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].HasScore() != kept[j].HasScore() {
			return kept[i].HasScore()
		}
		return kept[i].Score > kept[j].Score
	})
	return kept, skips
}

// reconcile compares the store's open positions against the brokerage by
// ticker set and per-ticker share count. It returns the brokerage's
// unrealized P&L marks keyed by ticker.
func (g *Generator) reconcile(ctx context.Context, positions []state.Position) (map[string]float64, error) {
	live, err := g.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list brokerage positions: %w", err)
	}

	liveQty := make(map[string]int, len(live))
	marks := make(map[string]float64, len(live))
	for i := range live {
		liveQty[live[i].Symbol] = live[i].Shares()
		marks[live[i].Symbol] = float64(live[i].UnrealizedPL)
	}

	var problems []string
	seen := make(map[string]bool, len(positions))
	for i := range positions {
		p := &positions[i]
		seen[p.Ticker] = true
		qty, ok := liveQty[p.Ticker]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s open in store but missing at brokerage", p.Ticker))
			continue
		}
		if qty != p.Quantity() {
			problems = append(problems, fmt.Sprintf("%s share count mismatch: store %d, brokerage %d",
				p.Ticker, p.Quantity(), qty))
		}
	}
	for ticker := range liveQty {
		if !seen[ticker] {
			problems = append(problems, fmt.Sprintf("%s held at brokerage but not open in store", ticker))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		msg := strings.Join(problems, "; ")
		if !g.cfg.Force {
			return nil, fmt.Errorf("%w: %s", ErrReconciliationMismatch, msg)
		}
		g.logger.Printf("WARNING: continuing despite reconciliation mismatch: %s", msg)
	}
	return marks, nil
}

// generate runs the exit/rotation/entry pipeline for one strategy.
func (g *Generator) generate(ctx context.Context, strat Strategy, views []positionView,
	ranked []models.Candidate, gradeSkips []Skip, runID, generatedAt string) (*strategyRun, int) {
	file := &File{
		TradeDate:   g.cfg.TradeDate,
		Strategy:    strat.Name,
		RunID:       runID,
		GeneratedAt: generatedAt,
		Exits:       []Exit{},
		Entries:     []Entry{},
		Skipped:     append([]Skip{}, gradeSkips...),
	}
	run := &strategyRun{file: file}
	errCount := 0

	held := make(map[string]bool, len(views))
	for i := range views {
		held[views[i].ticker] = true
	}
	exiting := make(map[string]bool)

	// Trend-break exits. The evaluation also yields the last weekly close,
	// which doubles as the mark for positions without a brokerage quote.
	for i := range views {
		v := &views[i]
		eval, err := g.evaluator.Evaluate(ctx, v.ticker, v.entryDate, g.cfg.TradeDate,
			strat.Mode, strat.Period, g.cfg.TransitionWeeks)
		if err != nil {
			g.logger.Printf("WARNING: trailing check failed for %s: %v", v.ticker, err)
			errCount++
			continue
		}
		if eval.LastClose > 0 {
			v.lastClose = eval.LastClose
			if !v.hasUnreal {
				v.unrealized = (eval.LastClose - v.entryPrice) * float64(v.qty)
				v.hasUnreal = true
			}
		}
		if !eval.ShouldExit {
			continue
		}
		g.logger.Printf("[%s] %s trend break: close %.2f below %.2f after %d weeks",
			strat.Name, v.ticker, eval.LastClose, eval.Indicator, eval.CompletedWeeks)
		exiting[v.ticker] = true
		appendExit(run, v, models.ExitTrendBreak)
	}

	// Rotation: at most one pair per day, only when every slot is still
	// occupied after exits.
	entered := make(map[string]bool)
	if len(views)-len(file.Exits) >= g.cfg.MaxPositions {
		g.rotate(strat, run, views, held, exiting, entered, ranked)
	}

	// Fill remaining capacity with the best candidates not already held.
	capacity := g.cfg.MaxPositions - (len(views) - len(file.Exits)) - len(file.Entries)
	seen := make(map[string]bool)
	for i := range ranked {
		c := &ranked[i]
		if entered[c.Ticker] {
			seen[c.Ticker] = true
			continue
		}
		if seen[c.Ticker] {
			file.Skipped = append(file.Skipped, Skip{Ticker: c.Ticker, Reason: models.SkipDuplicateTicker, Score: c.Score})
			continue
		}
		seen[c.Ticker] = true
		if held[c.Ticker] {
			file.Skipped = append(file.Skipped, Skip{Ticker: c.Ticker, Reason: models.SkipAlreadyHeld, Score: c.Score})
			continue
		}
		if c.EntryPrice <= 0 {
			file.Skipped = append(file.Skipped, Skip{Ticker: c.Ticker, Reason: models.SkipNoPriceData, Score: c.Score})
			continue
		}
		qty := util.Shares(g.cfg.PositionSize, c.EntryPrice)
		if qty == 0 {
			file.Skipped = append(file.Skipped, Skip{Ticker: c.Ticker, Reason: models.SkipZeroShares, Score: c.Score})
			continue
		}
		if capacity <= 0 {
			file.Skipped = append(file.Skipped, Skip{Ticker: c.Ticker, Reason: models.SkipCapacityFull, Score: c.Score})
			continue
		}
		g.appendEntry(run, c, qty)
		capacity--
	}

	file.Summary = Summary{
		TotalExits:          len(file.Exits),
		TotalEntries:        len(file.Entries),
		TotalSkipped:        len(file.Skipped),
		OpenPositionsBefore: len(views),
		OpenPositionsAfter:  len(views) - len(file.Exits) + len(file.Entries),
	}
	return run, errCount
}

// rotate swaps the worst losing open position for the strongest incoming
// candidate when the incoming score is strictly higher. Requires a strictly
// negative mark so winners are never rotated out.
func (g *Generator) rotate(strat Strategy, run *strategyRun, views []positionView,
	held, exiting, entered map[string]bool, ranked []models.Candidate) {
	var weak *positionView
	weakUnrealized := 0.0
	for i := range views {
		v := &views[i]
		if exiting[v.ticker] || !v.hasUnreal {
			continue
		}
		if v.unrealized < weakUnrealized {
			weak = v
			weakUnrealized = v.unrealized
		}
	}
	if weak == nil {
		return
	}

	// Top candidate is the best-ranked one that could actually enter.
	var top *models.Candidate
	var topQty int
	seen := make(map[string]bool)
	for i := range ranked {
		c := &ranked[i]
		if seen[c.Ticker] || held[c.Ticker] || c.EntryPrice <= 0 {
			seen[c.Ticker] = true
			continue
		}
		seen[c.Ticker] = true
		if qty := util.Shares(g.cfg.PositionSize, c.EntryPrice); qty > 0 {
			top = c
			topQty = qty
			break
		}
	}
	if top == nil || top.Score <= weak.score {
		return
	}

	g.logger.Printf("[%s] Rotation: %s out (unrealized %.2f) for %s (score %.1f > %.1f)",
		strat.Name, weak.ticker, weak.unrealized, top.Ticker, top.Score, weak.score)
	exiting[weak.ticker] = true
	appendExit(run, weak, models.ExitRotatedOut)
	entered[top.Ticker] = true
	g.appendEntry(run, top, topQty)
}

func appendExit(run *strategyRun, v *positionView, reason models.ExitReason) {
	id := v.id
	run.file.Exits = append(run.file.Exits, Exit{
		Ticker:      v.ticker,
		PositionID:  &id,
		Reason:      reason,
		Qty:         v.qty,
		EntryPrice:  v.entryPrice,
		StopOrderID: v.stopOrderID,
	})
	run.exits = append(run.exits, exitDetail{
		viewID:     v.id,
		ticker:     v.ticker,
		qty:        v.qty,
		entryPrice: v.entryPrice,
		exitPrice:  v.lastClose,
		reason:     reason,
	})
}

func (g *Generator) appendEntry(run *strategyRun, c *models.Candidate, qty int) {
	run.file.Entries = append(run.file.Entries, Entry{
		Ticker:      c.Ticker,
		Side:        string(models.SideBuy),
		Qty:         qty,
		Score:       c.Score,
		Grade:       c.Grade,
		ReportDate:  c.ReportDate,
		CompanyName: c.CompanyName,
		StopPrice:   util.RoundPrice(c.EntryPrice * (1 - g.cfg.StopLossPct/100)),
	})
	run.entries = append(run.entries, entryDetail{
		ticker: c.Ticker,
		price:  c.EntryPrice,
		qty:    qty,
		score:  c.Score,
	})
}

// applyShadowBook records the shadow strategy's paper fills: exits close at
// the last weekly close as the theoretical exit, entries open at the
// candidate price.
func (g *Generator) applyShadowBook(run *strategyRun) error {
	for _, d := range run.exits {
		exitPrice := d.exitPrice
		if exitPrice <= 0 {
			g.logger.Printf("WARNING: no weekly close for shadow exit %s, using entry price", d.ticker)
			exitPrice = d.entryPrice
		}
		pnl := util.RoundTo((exitPrice-d.entryPrice)*float64(d.qty), 2)
		if err := g.store.CloseShadowPosition(d.viewID, g.cfg.TradeDate, exitPrice, pnl, string(d.reason)); err != nil {
			return fmt.Errorf("failed to close shadow position %s: %w", d.ticker, err)
		}
	}
	for _, e := range run.entries {
		sp := state.ShadowPosition{
			Strategy:   ShadowStrategy.Name,
			Ticker:     e.ticker,
			EntryDate:  g.cfg.TradeDate,
			EntryPrice: e.price,
			Shares:     e.qty,
			Score:      e.score,
		}
		if _, err := g.store.InsertShadowPosition(sp); err != nil {
			return fmt.Errorf("failed to open shadow position %s: %w", e.ticker, err)
		}
	}
	return nil
}

// appendSignalBlob archives the raw signal payload for later A/B analysis.
func (g *Generator) appendSignalBlob(f *File) {
	payload, err := json.Marshal(f)
	if err != nil {
		g.logger.Printf("WARNING: failed to encode signal blob for %s: %v", f.Strategy, err)
		return
	}
	if err := g.store.AppendShadowSignal(g.cfg.TradeDate, f.Strategy, payload); err != nil {
		g.logger.Printf("WARNING: failed to archive signal blob for %s: %v", f.Strategy, err)
	}
}

func viewsFromPositions(positions []state.Position) []positionView {
	views := make([]positionView, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		views = append(views, positionView{
			id:          p.ID,
			ticker:      p.Ticker,
			entryDate:   p.EntryDate,
			entryPrice:  p.EntryPrice,
			qty:         p.Quantity(),
			score:       p.Score,
			stopOrderID: p.StopOrderID,
		})
	}
	return views
}

func viewsFromShadow(positions []state.ShadowPosition) []positionView {
	views := make([]positionView, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		views = append(views, positionView{
			id:         p.ID,
			ticker:     p.Ticker,
			entryDate:  p.EntryDate,
			entryPrice: p.EntryPrice,
			qty:        p.Shares,
			score:      p.Score,
		})
	}
	return views
}
