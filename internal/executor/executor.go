// Package executor turns a signal file into brokerage orders. It runs the
// live half of the pipeline: cancel protective stops and sell exits, recount
// open positions against the brokerage, place entry buys into the free
// slots, then confirm fills and attach fresh stops. Every order carries a
// deterministic client order id, so an interrupted run can be executed again
// without doubling up.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jspahr/gapdrift/internal/broker"
	"github.com/jspahr/gapdrift/internal/metrics"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/signal"
	"github.com/jspahr/gapdrift/internal/state"
	"github.com/jspahr/gapdrift/internal/util"
)

const (
	// TIFDay submits entries as regular day orders during market hours.
	TIFDay = "day"
	// TIFOPG submits entries into the next opening auction.
	TIFOPG = "opg"
)

// Phase selects which slice of the execution pipeline runs.
type Phase string

const (
	// PhaseAll places exits and entries and polls both to completion.
	PhaseAll Phase = "all"
	// PhasePlace places orders without waiting for entry fills.
	PhasePlace Phase = "place"
	// PhasePoll confirms working entry fills and attaches stops.
	PhasePoll Phase = "poll"
)

var (
	// ErrWrongStrategy guards against executing a shadow strategy's
	// signal file. Only the execution strategy ever reaches the brokerage.
	ErrWrongStrategy = errors.New("signal file is not from the execution strategy")

	// ErrOPGAllPhase rejects the all-in-one phase for opening-auction
	// entries, which cannot fill until the next session opens.
	ErrOPGAllPhase = errors.New("opg entries cannot use the all phase; place now and poll after the open")
)

// Opening-auction orders submitted after 09:28 ET miss the auction, and
// anything placed before 19:00 ET would still target today's session.
const (
	opgBlackoutStart = 9*60 + 28
	opgBlackoutEnd   = 19 * 60
)

const (
	defaultEntryCutoffMinutes  = 30
	defaultMaxDailyTradeOrders = 20
	defaultMaxDailyStopOrders  = 10
	defaultPollInterval        = 5 * time.Second
	defaultDayPollTimeout      = 60 * time.Second
	defaultOPGPollTimeout      = 300 * time.Second
)

// Config controls order placement and fill polling.
type Config struct {
	// MaxPositions caps concurrently open positions.
	MaxPositions int

	// EntryTimeInForce is TIFDay or TIFOPG. Exits always go out as plain
	// day orders regardless.
	EntryTimeInForce string

	// EntryCutoffMinutes blocks day entries this long after the 09:30 ET
	// open, so a late run does not chase an already-moved price.
	EntryCutoffMinutes int

	// MinBuyingPower blocks all entries when the account falls below it.
	// Zero disables the check.
	MinBuyingPower float64

	// MaxDailyTradeOrders caps entry plus exit orders per trade date.
	MaxDailyTradeOrders int

	// MaxDailyStopOrders caps protective stop orders per trade date.
	MaxDailyStopOrders int

	// PollInterval is the delay between fill checks.
	PollInterval time.Duration

	// PollTimeout bounds each polling loop. Defaults to 60s for day
	// orders and 300s for opening-auction orders.
	PollTimeout time.Duration
}

// Validate applies defaults and rejects nonsense values.
func (c *Config) Validate() error {
	if c.EntryTimeInForce == "" {
		c.EntryTimeInForce = TIFDay
	}
	if c.EntryTimeInForce != TIFDay && c.EntryTimeInForce != TIFOPG {
		return fmt.Errorf("entry time in force must be %q or %q, got %q", TIFDay, TIFOPG, c.EntryTimeInForce)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive, got %d", c.MaxPositions)
	}
	if c.EntryCutoffMinutes < 0 {
		return fmt.Errorf("entry cutoff minutes cannot be negative, got %d", c.EntryCutoffMinutes)
	}
	if c.EntryCutoffMinutes == 0 {
		c.EntryCutoffMinutes = defaultEntryCutoffMinutes
	}
	if c.MinBuyingPower < 0 {
		return fmt.Errorf("min buying power cannot be negative, got %.2f", c.MinBuyingPower)
	}
	if c.MaxDailyTradeOrders <= 0 {
		c.MaxDailyTradeOrders = defaultMaxDailyTradeOrders
	}
	if c.MaxDailyStopOrders <= 0 {
		c.MaxDailyStopOrders = defaultMaxDailyStopOrders
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		if c.EntryTimeInForce == TIFOPG {
			c.PollTimeout = defaultOPGPollTimeout
		} else {
			c.PollTimeout = defaultDayPollTimeout
		}
	}
	return nil
}

// Executor places and confirms orders for one trade date. All work is
// sequential; the brokerage and the store see one call at a time.
type Executor struct {
	cfg    Config
	store  *state.Store
	broker broker.Client
	logger *log.Logger
	now    func() time.Time
	loc    *time.Location
	runID  string // current run, stamped onto every order row
}

// New builds an Executor. The store and brokerage client are required.
func New(cfg Config, store *state.Store, client broker.Client, logger *log.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if client == nil {
		return nil, errors.New("brokerage client is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[EXEC] ", log.LstdFlags)
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load New York timezone: %w", err)
	}
	return &Executor{
		cfg:    cfg,
		store:  store,
		broker: client,
		logger: logger,
		now:    time.Now,
		loc:    loc,
	}, nil
}

// WithNow overrides the wall clock used by the entry time guards.
func (e *Executor) WithNow(now func() time.Time) *Executor {
	if now != nil {
		e.now = now
	}
	return e
}

// RunReport summarizes one executor run.
type RunReport struct {
	TradeDate       string   `json:"trade_date"`
	Strategy        string   `json:"strategy"`
	Phase           Phase    `json:"phase"`
	ExitsExecuted   int      `json:"exits_executed"`
	EntriesExecuted int      `json:"entries_executed"`
	StopsPlaced     int      `json:"stops_placed"`
	Skipped         int      `json:"skipped"`
	Errors          int      `json:"errors"`
	Unprotected     []string `json:"unprotected,omitempty"`
	PendingOrders   []string `json:"pending_orders,omitempty"`
}

// exitWork tracks one exit sell from placement to position close.
type exitWork struct {
	clientID   string
	ticker     string
	qty        int
	entryPrice float64
	positionID int64
	reason     models.ExitReason
}

// entryWork tracks one entry buy from placement to stop attachment.
type entryWork struct {
	clientID  string
	ticker    string
	qty       int
	stopPrice float64
	grade     models.Grade
	score     float64
}

// ExecuteSignals runs the place phases for a signal file: exits first, then
// a position recount, then entries. With PhaseAll it also polls entry fills
// and attaches protective stops; PhasePlace leaves fills to a later poll run.
func (e *Executor) ExecuteSignals(ctx context.Context, sf *signal.File, phase Phase) (*RunReport, error) {
	if sf == nil {
		return nil, errors.New("signal file is nil")
	}
	if sf.Strategy != signal.ExecutionStrategy.Name {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongStrategy, sf.Strategy, signal.ExecutionStrategy.Name)
	}
	switch phase {
	case PhaseAll:
		if e.cfg.EntryTimeInForce == TIFOPG {
			return nil, ErrOPGAllPhase
		}
	case PhasePlace:
	default:
		return nil, fmt.Errorf("invalid execution phase %q", phase)
	}
	if err := e.store.CheckKillSwitch(); err != nil {
		return nil, err
	}

	report := &RunReport{TradeDate: sf.TradeDate, Strategy: sf.Strategy, Phase: phase}
	runID := uuid.New().String()
	if err := e.store.StartRun(runID, sf.TradeDate, "execute"); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	e.runID = runID
	e.logger.Printf("Execution run %s: %s phase %s, %d exits, %d entries, tif %s",
		runID, sf.TradeDate, phase, len(sf.Exits), len(sf.Entries), e.cfg.EntryTimeInForce)

	runErr := e.run(ctx, sf, phase, report)
	status := state.RunStatusCompleted
	if runErr != nil {
		status = state.RunStatusFailed
	}
	if err := e.store.CompleteRun(runID, status, report.ExitsExecuted, report.EntriesExecuted, report.Errors); err != nil {
		e.logger.Printf("WARNING: failed to record run completion: %v", err)
	}
	metrics.RunsCompleted.WithLabelValues("execute", status).Inc()
	sort.Strings(report.PendingOrders)
	sort.Strings(report.Unprotected)
	e.logger.Printf("Execution run %s %s: %d exits, %d entries, %d stops, %d skipped, %d errors",
		runID, status, report.ExitsExecuted, report.EntriesExecuted, report.StopsPlaced,
		report.Skipped, report.Errors)
	return report, runErr
}

func (e *Executor) run(ctx context.Context, sf *signal.File, phase Phase, report *RunReport) error {
	// Opening-auction orders rest on the book until the next open, so in
	// opg place mode polling the sells now would just burn the timeout.
	skipPoll := phase == PhasePlace && e.cfg.EntryTimeInForce == TIFOPG

	pendingExits := e.executeExits(ctx, sf, report)
	if skipPoll {
		for id := range pendingExits {
			report.PendingOrders = append(report.PendingOrders, id)
		}
	} else {
		e.pollSells(ctx, pendingExits, sf.TradeDate, report)
	}

	slots, err := e.countSlots(ctx, skipPoll, report.ExitsExecuted)
	if err != nil {
		report.Errors++
		return err
	}

	pendingEntries := e.executeEntries(ctx, sf, slots, report)
	if phase == PhaseAll {
		// Entries were counted at placement; the fill count from the
		// poll loop would double them, so it is dropped here.
		e.pollBuys(ctx, pendingEntries, sf.TradeDate, report)
	} else {
		for id := range pendingEntries {
			report.PendingOrders = append(report.PendingOrders, id)
		}
	}
	return nil
}

// executeExits cancels each exit's protective stop and places a market sell.
// Returns the sells that still need fill confirmation, keyed by client id.
func (e *Executor) executeExits(ctx context.Context, sf *signal.File, report *RunReport) map[string]*exitWork {
	pending := make(map[string]*exitWork)
	for i := range sf.Exits {
		ex := &sf.Exits[i]
		clientID := models.ClientOrderID(sf.TradeDate, ex.Ticker, models.KindExitSell)
		w := &exitWork{
			clientID:   clientID,
			ticker:     ex.Ticker,
			qty:        ex.Qty,
			entryPrice: ex.EntryPrice,
			reason:     ex.Reason,
		}
		if ex.PositionID != nil {
			w.positionID = *ex.PositionID
		} else if pos, ok, err := e.store.OpenPositionByTicker(ex.Ticker); err == nil && ok {
			w.positionID = pos.ID
		}

		row := state.Order{
			ClientOrderID: clientID,
			Ticker:        ex.Ticker,
			Side:          string(models.SideSell),
			Intent:        string(models.IntentExit),
			Qty:           ex.Qty,
			TradeDate:     sf.TradeDate,
			RunID:         e.runID,
		}
		if prior, found := e.existingOrder(ctx, clientID, row); found {
			if prior.Terminal() {
				e.logger.Printf("Exit %s already %s, skipping", clientID, prior.Status)
				if prior.Status == models.OrderStatusFilled {
					e.settleExitFill(w, prior.AvgFillPrice, prior.FilledQty, sf.TradeDate, report)
				}
				continue
			}
			e.logger.Printf("Exit %s already working (%s), will poll", clientID, prior.Status)
			report.ExitsExecuted++
			pending[clientID] = w
			continue
		}

		if ex.StopOrderID != "" && !e.cancelStop(ctx, w, ex.StopOrderID, sf.TradeDate, report) {
			continue
		}

		// The order row is written before the brokerage sees the order,
		// so a crash between the two is found by client-id lookup.
		if _, err := e.store.InsertOrder(row); err != nil {
			e.logger.Printf("WARNING: failed to record exit order %s: %v", clientID, err)
			report.Errors++
			continue
		}
		placed, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:        ex.Ticker,
			Qty:           ex.Qty,
			Side:          string(models.SideSell),
			Type:          "market",
			TimeInForce:   TIFDay,
			ClientOrderID: clientID,
		})
		if err != nil {
			e.logger.Printf("WARNING: exit sell failed for %s: %v", ex.Ticker, err)
			e.markRejected(clientID, err.Error())
			metrics.OrderErrors.Inc()
			report.Errors++
			continue
		}
		metrics.OrdersSubmitted.WithLabelValues(string(models.IntentExit)).Inc()
		e.updateOrderFromBroker(clientID, placed)
		e.logger.Printf("Placed exit %s: sell %d %s at market (%s)", clientID, ex.Qty, ex.Ticker, placed.Status)
		report.ExitsExecuted++
		pending[clientID] = w
	}
	return pending
}

// cancelStop lifts the protective stop ahead of a market sell. Returns false
// when the exit must not proceed: either the stop already filled (the
// position settles at the stop's fill) or the cancel failed in a way that
// risks selling the same shares twice.
func (e *Executor) cancelStop(ctx context.Context, w *exitWork, stopOrderID, tradeDate string, report *RunReport) bool {
	err := e.broker.CancelOrder(ctx, stopOrderID)
	if err == nil {
		e.logger.Printf("Canceled stop %s for %s", stopOrderID, w.ticker)
		return true
	}
	if errors.Is(err, broker.ErrOrderNotFound) {
		e.logger.Printf("Stop %s for %s is gone at the brokerage, selling anyway", stopOrderID, w.ticker)
		return true
	}

	stop, gerr := e.broker.GetOrder(ctx, stopOrderID)
	if gerr == nil && stop.Filled() {
		e.logger.Printf("Stop %s for %s already filled, settling at the stop fill", stopOrderID, w.ticker)
		w.reason = models.ExitStopLoss
		e.settleExitFill(w, float64(stop.FilledAvgPrice), int(float64(stop.FilledQty)), tradeDate, report)
		return false
	}

	e.logger.Printf("WARNING: cannot cancel stop %s for %s, skipping exit: %v", stopOrderID, w.ticker, err)
	report.Errors++
	return false
}

// settleExitFill closes the position behind a filled sell. Safe to call for
// positions that were already closed by an earlier run.
func (e *Executor) settleExitFill(w *exitWork, price float64, qty int, tradeDate string, report *RunReport) {
	if w.positionID == 0 {
		e.logger.Printf("WARNING: exit fill for %s has no matching position", w.ticker)
		report.Errors++
		return
	}
	pos, ok, err := e.store.OpenPositionByTicker(w.ticker)
	if err != nil {
		e.logger.Printf("WARNING: position lookup failed for %s: %v", w.ticker, err)
		report.Errors++
		return
	}
	if !ok || pos.ID != w.positionID {
		return
	}
	if qty <= 0 {
		qty = w.qty
	}
	pnl := util.RoundTo((price-w.entryPrice)*float64(qty), 2)
	if err := e.store.ClosePosition(w.positionID, tradeDate, price, pnl, string(w.reason)); err != nil {
		e.logger.Printf("WARNING: failed to close position %d for %s: %v", w.positionID, w.ticker, err)
		report.Errors++
		return
	}
	e.logger.Printf("Closed %s: %d shares at %.2f (pnl %+.2f, %s)", w.ticker, qty, price, pnl, w.reason)
}

// countSlots recounts open positions after the exits settle and converts
// the count into free entry slots. The brokerage's position list is
// authoritative; in opg place mode nothing has filled yet, so the store's
// count minus the sells just placed stands in.
func (e *Executor) countSlots(ctx context.Context, skipPoll bool, exitsExecuted int) (int, error) {
	var open int
	if skipPoll {
		n, err := e.store.CountOpenPositions()
		if err != nil {
			return 0, err
		}
		open = n - exitsExecuted
	} else {
		positions, err := e.broker.GetPositions(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to recount brokerage positions: %w", err)
		}
		open = len(positions)
	}
	if open < 0 {
		open = 0
	}
	slots := e.cfg.MaxPositions - open
	if slots < 0 {
		slots = 0
	}
	e.logger.Printf("Position recount: %d open, %d of %d slots free", open, slots, e.cfg.MaxPositions)
	return slots, nil
}

// executeEntries places entry buys into the free slots. Day entries go out
// as bracket orders carrying their stop; if the brokerage refuses the
// bracket, a plain buy goes out under the same client id and the stop is
// attached after the fill. Returns the buys still awaiting fills.
func (e *Executor) executeEntries(ctx context.Context, sf *signal.File, slots int, report *RunReport) map[string]*entryWork {
	pending := make(map[string]*entryWork)
	if len(sf.Entries) == 0 {
		return pending
	}

	if reason := e.entryBlock(ctx); reason != "" {
		e.logger.Printf("Entries blocked: %s (%d skipped)", reason, len(sf.Entries))
		report.Skipped += len(sf.Entries)
		return pending
	}

	tradeCount, err := e.store.CountOrdersByIntent(sf.TradeDate, string(models.IntentEntry), string(models.IntentExit))
	if err != nil {
		e.logger.Printf("WARNING: failed to count today's orders: %v", err)
		report.Errors++
		report.Skipped += len(sf.Entries)
		return pending
	}

	for i := range sf.Entries {
		en := &sf.Entries[i]
		clientID := models.ClientOrderID(sf.TradeDate, en.Ticker, models.KindEntryBuy)
		w := &entryWork{
			clientID:  clientID,
			ticker:    en.Ticker,
			qty:       en.Qty,
			stopPrice: en.StopPrice,
			grade:     en.Grade,
			score:     en.Score,
		}
		sp := en.StopPrice
		row := state.Order{
			ClientOrderID:    clientID,
			Ticker:           en.Ticker,
			Side:             string(models.SideBuy),
			Intent:           string(models.IntentEntry),
			Qty:              en.Qty,
			TradeDate:        sf.TradeDate,
			PlannedStopPrice: &sp,
			RunID:            e.runID,
		}

		if prior, found := e.existingOrder(ctx, clientID, row); found {
			if prior.Terminal() {
				e.logger.Printf("Entry %s already %s, skipping", clientID, prior.Status)
				continue
			}
			e.logger.Printf("Entry %s already working (%s), will poll", clientID, prior.Status)
			report.EntriesExecuted++
			slots--
			pending[clientID] = w
			continue
		}

		if slots <= 0 {
			e.logger.Printf("No position slot for %s, skipping", en.Ticker)
			report.Skipped++
			continue
		}
		if tradeCount >= e.cfg.MaxDailyTradeOrders {
			e.logger.Printf("Daily trade order cap (%d) reached, skipping %s", e.cfg.MaxDailyTradeOrders, en.Ticker)
			report.Skipped++
			continue
		}

		if _, err := e.store.InsertOrder(row); err != nil {
			e.logger.Printf("WARNING: failed to record entry order %s: %v", clientID, err)
			report.Errors++
			continue
		}
		tradeCount++

		var placed *broker.Order
		var perr error
		if e.cfg.EntryTimeInForce == TIFOPG {
			placed, perr = e.placeBuy(ctx, w, TIFOPG, "", nil)
		} else {
			placed, perr = e.placeBuy(ctx, w, TIFDay, "bracket", &broker.StopLossSpec{StopPrice: en.StopPrice})
			if perr != nil {
				e.logger.Printf("Bracket rejected for %s (%v), falling back to a plain buy", en.Ticker, perr)
				placed, perr = e.placeBuy(ctx, w, TIFDay, "", nil)
			}
		}
		if perr != nil {
			e.logger.Printf("WARNING: entry buy failed for %s: %v", en.Ticker, perr)
			e.markRejected(clientID, perr.Error())
			report.Errors++
			continue
		}
		e.updateOrderFromBroker(clientID, placed)
		e.logger.Printf("Placed entry %s: buy %d %s at market (%s, %s)",
			clientID, en.Qty, en.Ticker, e.cfg.EntryTimeInForce, placed.Status)
		report.EntriesExecuted++
		slots--
		pending[clientID] = w
	}
	return pending
}

// entryBlock returns a reason to skip every entry this run, or "" to
// proceed. Day entries are cut off a configurable stretch after the open;
// opg entries are refused during the blackout when the auction is already
// closed for today and tomorrow's book is not yet open.
func (e *Executor) entryBlock(ctx context.Context) string {
	now := e.now().In(e.loc)
	if e.cfg.EntryTimeInForce == TIFOPG {
		mins := now.Hour()*60 + now.Minute()
		if mins >= opgBlackoutStart && mins < opgBlackoutEnd {
			return fmt.Sprintf("%s ET is inside the opg blackout (09:28-19:00)", now.Format("15:04"))
		}
	} else {
		clock, err := e.broker.GetClock(ctx)
		if err != nil {
			return fmt.Sprintf("market clock unavailable: %v", err)
		}
		if clock.IsOpen {
			open := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, e.loc)
			if late := now.Sub(open); late > time.Duration(e.cfg.EntryCutoffMinutes)*time.Minute {
				return fmt.Sprintf("%.0f minutes past the open exceeds the %d minute entry cutoff",
					late.Minutes(), e.cfg.EntryCutoffMinutes)
			}
		}
	}

	if e.cfg.MinBuyingPower > 0 {
		account, err := e.broker.GetAccount(ctx)
		if err != nil {
			return fmt.Sprintf("account unavailable: %v", err)
		}
		if bp := float64(account.BuyingPower); bp < e.cfg.MinBuyingPower {
			return fmt.Sprintf("buying power %.2f below the %.2f floor", bp, e.cfg.MinBuyingPower)
		}
	}
	return ""
}

func (e *Executor) placeBuy(ctx context.Context, w *entryWork, tif, orderClass string, stopLoss *broker.StopLossSpec) (*broker.Order, error) {
	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        w.ticker,
		Qty:           w.qty,
		Side:          string(models.SideBuy),
		Type:          "market",
		TimeInForce:   tif,
		ClientOrderID: w.clientID,
		OrderClass:    orderClass,
		StopLoss:      stopLoss,
	})
	if err != nil {
		metrics.OrderErrors.Inc()
		return nil, err
	}
	metrics.OrdersSubmitted.WithLabelValues(string(models.IntentEntry)).Inc()
	return order, nil
}

// existingOrder is the idempotency ladder for one client order id: the
// store first, then the brokerage. A brokerage-only hit means an earlier
// run crashed between placing and recording, so it is copied into the
// store before returning.
func (e *Executor) existingOrder(ctx context.Context, clientID string, row state.Order) (state.Order, bool) {
	if o, ok, err := e.store.OrderByClientID(clientID); err == nil && ok {
		return o, true
	} else if err != nil {
		e.logger.Printf("WARNING: order lookup failed for %s: %v", clientID, err)
	}

	order, err := e.broker.GetOrderByClientID(ctx, clientID)
	if err != nil {
		if !errors.Is(err, broker.ErrOrderNotFound) {
			e.logger.Printf("WARNING: brokerage lookup failed for %s: %v", clientID, err)
		}
		return state.Order{}, false
	}
	row.BrokerOrderID = order.ID
	row.Status = order.Status
	row.FilledQty = int(float64(order.FilledQty))
	row.AvgFillPrice = float64(order.FilledAvgPrice)
	if _, ierr := e.store.InsertOrder(row); ierr != nil {
		e.logger.Printf("WARNING: failed to record recovered order %s: %v", clientID, ierr)
	} else {
		e.logger.Printf("Recovered %s from the brokerage (%s)", clientID, order.Status)
	}
	return row, true
}

func (e *Executor) updateOrderFromBroker(clientID string, order *broker.Order) {
	if order.ID != "" {
		if err := e.store.SetBrokerOrderID(clientID, order.ID); err != nil {
			e.logger.Printf("WARNING: failed to record broker id for %s: %v", clientID, err)
		}
	}
	if err := e.store.UpdateOrderStatus(clientID, order.Status, int(float64(order.FilledQty)), float64(order.FilledAvgPrice)); err != nil {
		e.logger.Printf("WARNING: failed to update order %s: %v", clientID, err)
	}
}

func (e *Executor) markRejected(clientID, reason string) {
	if err := e.store.MarkOrderRejected(clientID, reason); err != nil {
		e.logger.Printf("WARNING: failed to mark %s rejected: %v", clientID, err)
	}
}
