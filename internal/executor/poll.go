package executor

import (
	"context"
	"fmt"
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

// ExecutePollPhase confirms fills for the day's still-working entry buys and
// attaches protective stops. It is the second half of an opg run, executed
// after the next open, and also recovers day runs that timed out before
// their fills landed. Only the state store is consulted for what to poll, so
// the phase needs no signal file.
func (e *Executor) ExecutePollPhase(ctx context.Context, tradeDate string) (*RunReport, error) {
	if !util.ValidDate(tradeDate) {
		return nil, fmt.Errorf("invalid trade date %q", tradeDate)
	}
	if err := e.store.CheckKillSwitch(); err != nil {
		return nil, err
	}

	report := &RunReport{TradeDate: tradeDate, Strategy: signal.ExecutionStrategy.Name, Phase: PhasePoll}
	runID := uuid.New().String()
	if err := e.store.StartRun(runID, tradeDate, "poll"); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	e.runID = runID

	runErr := e.pollPhase(ctx, tradeDate, report)
	status := state.RunStatusCompleted
	if runErr != nil {
		status = state.RunStatusFailed
		report.Errors++
	}
	if err := e.store.CompleteRun(runID, status, report.ExitsExecuted, report.EntriesExecuted, report.Errors); err != nil {
		e.logger.Printf("WARNING: failed to record run completion: %v", err)
	}
	metrics.RunsCompleted.WithLabelValues("poll", status).Inc()
	sort.Strings(report.PendingOrders)
	sort.Strings(report.Unprotected)
	e.logger.Printf("Poll run %s %s: %d fills, %d stops placed, %d errors",
		runID, status, report.EntriesExecuted, report.StopsPlaced, report.Errors)
	return report, runErr
}

func (e *Executor) pollPhase(ctx context.Context, tradeDate string, report *RunReport) error {
	rows, err := e.store.NonTerminalOrders(tradeDate, string(models.IntentEntry), string(models.SideBuy))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		e.logger.Printf("No working entry orders for %s", tradeDate)
		return nil
	}
	e.logger.Printf("Polling %d working entries for %s", len(rows), tradeDate)

	pending := make(map[string]*entryWork, len(rows))
	for i := range rows {
		row := &rows[i]
		w := &entryWork{clientID: row.ClientOrderID, ticker: row.Ticker, qty: row.Qty}
		if row.PlannedStopPrice != nil {
			w.stopPrice = *row.PlannedStopPrice
		}
		pending[row.ClientOrderID] = w
	}
	report.EntriesExecuted += e.pollBuys(ctx, pending, tradeDate, report)
	return nil
}

// waitLoop drives a polling pass until tick reports nothing left, the
// timeout lapses, or the context ends. The first pass runs immediately so a
// fast fill costs no wait at all.
func (e *Executor) waitLoop(ctx context.Context, tick func(context.Context) int) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	defer cancel()

	if tick(ctx) == 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tick(ctx) == 0 {
				return
			}
		}
	}
}

// pollSells watches working exit sells and closes their positions as the
// fills land. Sells that go terminal without filling leave the position
// open and are flagged as errors.
func (e *Executor) pollSells(ctx context.Context, pending map[string]*exitWork, tradeDate string, report *RunReport) {
	if len(pending) == 0 {
		return
	}
	e.logger.Printf("Polling %d exit orders (timeout %s)", len(pending), e.cfg.PollTimeout)
	e.waitLoop(ctx, func(ctx context.Context) int {
		for clientID, w := range pending {
			order, err := e.broker.GetOrderByClientID(ctx, clientID)
			if err != nil {
				e.logger.Printf("WARNING: fill check failed for %s: %v", clientID, err)
				continue
			}
			e.updateOrderFromBroker(clientID, order)
			if order.Filled() {
				e.settleExitFill(w, float64(order.FilledAvgPrice), int(float64(order.FilledQty)), tradeDate, report)
				delete(pending, clientID)
				continue
			}
			if order.Terminal() {
				e.logger.Printf("WARNING: exit %s ended %s without filling", clientID, order.Status)
				report.Errors++
				delete(pending, clientID)
			}
		}
		return len(pending)
	})
	for clientID := range pending {
		e.logger.Printf("Exit %s still working at poll timeout", clientID)
		report.PendingOrders = append(report.PendingOrders, clientID)
	}
}

// pollBuys watches working entry buys until fill, terminal failure, or
// timeout. Each fill gets its position recorded and a protective stop
// attached. Returns the number of fills observed.
func (e *Executor) pollBuys(ctx context.Context, pending map[string]*entryWork, tradeDate string, report *RunReport) int {
	if len(pending) == 0 {
		return 0
	}
	e.logger.Printf("Polling %d entry orders (timeout %s)", len(pending), e.cfg.PollTimeout)
	filled := 0
	e.waitLoop(ctx, func(ctx context.Context) int {
		for clientID, w := range pending {
			order, err := e.broker.GetOrderByClientID(ctx, clientID)
			if err != nil {
				e.logger.Printf("WARNING: fill check failed for %s: %v", clientID, err)
				continue
			}
			e.updateOrderFromBroker(clientID, order)
			if order.Filled() {
				e.recordFilledEntry(ctx, w, order, tradeDate, report)
				filled++
				delete(pending, clientID)
				continue
			}
			if order.Terminal() {
				e.logger.Printf("WARNING: entry %s ended %s without filling", clientID, order.Status)
				report.Errors++
				delete(pending, clientID)
			}
		}
		return len(pending)
	})
	for clientID := range pending {
		e.logger.Printf("Entry %s still working at poll timeout", clientID)
		report.PendingOrders = append(report.PendingOrders, clientID)
	}
	return filled
}

// recordFilledEntry persists the position behind a filled buy and makes sure
// a protective stop exists: a bracket's own leg when the brokerage attached
// one, an already-working stop from an earlier run, or a fresh GTC stop
// placed here. A position that cannot get a stop trips the kill switch.
func (e *Executor) recordFilledEntry(ctx context.Context, w *entryWork, order *broker.Order, tradeDate string, report *RunReport) {
	fillPrice := float64(order.FilledAvgPrice)
	filledQty := int(float64(order.FilledQty))
	if filledQty == 0 {
		filledQty = w.qty
	}

	// A crash after an earlier fill may have recorded the position already.
	existing, ok, err := e.store.OpenPositionByTicker(w.ticker)
	if err != nil {
		e.logger.Printf("WARNING: position lookup failed for %s: %v", w.ticker, err)
		report.Errors++
		return
	}
	posID := existing.ID
	if ok {
		e.logger.Printf("Position for %s already open (%d), reusing", w.ticker, posID)
	} else {
		posID, err = e.store.InsertPosition(state.Position{
			Ticker:       w.ticker,
			EntryDate:    tradeDate,
			EntryPrice:   fillPrice,
			Shares:       w.qty,
			ActualShares: filledQty,
			StopPrice:    w.stopPrice,
			Grade:        string(w.grade),
			Score:        w.score,
		})
		if err != nil {
			e.logger.Printf("WARNING: failed to record position for %s: %v", w.ticker, err)
			report.Errors++
			return
		}
		e.logger.Printf("Entered %s: %d shares at %.2f (position %d)", w.ticker, filledQty, fillPrice, posID)
	}

	if leg := order.StopLeg(); leg != nil {
		e.recordStopLeg(posID, w.ticker, leg, filledQty, tradeDate, w.stopPrice, report)
		return
	}

	if w.stopPrice <= 0 {
		e.logger.Printf("CRITICAL: no planned stop price for %s, position %d is unprotected", w.ticker, posID)
		report.Unprotected = append(report.Unprotected, w.ticker)
		report.Errors++
		return
	}

	if stop, ok, serr := e.store.NonTerminalStopForTicker(tradeDate, w.ticker); serr != nil {
		e.logger.Printf("WARNING: stop lookup failed for %s: %v", w.ticker, serr)
	} else if ok {
		e.logger.Printf("Stop for %s already working (%s)", w.ticker, stop.ClientOrderID)
		if stop.BrokerOrderID != "" {
			if uerr := e.store.UpdateStopOrder(posID, stop.BrokerOrderID); uerr != nil {
				e.logger.Printf("WARNING: %v", uerr)
			}
		}
		return
	}

	kind := models.KindStopSell
	if prior, perr := e.store.StopOrdersForTicker(tradeDate, w.ticker); perr == nil && len(prior) > 0 {
		// Every earlier stop went terminal without protecting the
		// position; the retry needs its own client id.
		kind = models.KindStopSellRetry
		e.logger.Printf("Prior stop for %s ended %s, placing a retry", w.ticker, prior[0].Status)
	}
	e.placeProtectiveStop(ctx, posID, w.ticker, filledQty, w.stopPrice, tradeDate, kind, report)
}

// recordStopLeg links a bracket order's own stop leg to the position.
func (e *Executor) recordStopLeg(posID int64, ticker string, leg *broker.Order, qty int, tradeDate string, plannedStop float64, report *RunReport) {
	stopPrice := float64(leg.StopPrice)
	if stopPrice <= 0 {
		stopPrice = plannedStop
	}
	clientID := models.ClientOrderID(tradeDate, ticker, models.KindStopSell)
	sp := stopPrice
	row := state.Order{
		ClientOrderID:    clientID,
		BrokerOrderID:    leg.ID,
		Ticker:           ticker,
		Side:             string(models.SideSell),
		Intent:           string(models.IntentStop),
		Qty:              qty,
		Status:           leg.Status,
		TradeDate:        tradeDate,
		PlannedStopPrice: &sp,
		RunID:            e.runID,
	}
	if _, err := e.store.InsertOrder(row); err != nil {
		// The leg was recorded by an earlier pass; refresh its status.
		if uerr := e.store.UpdateOrderStatus(clientID, leg.Status, int(float64(leg.FilledQty)), float64(leg.FilledAvgPrice)); uerr != nil {
			e.logger.Printf("WARNING: failed to record bracket stop for %s: %v", ticker, err)
		}
	}
	if err := e.store.UpdateStopOrder(posID, leg.ID); err != nil {
		e.logger.Printf("WARNING: failed to link stop %s to position %d: %v", leg.ID, posID, err)
	}
	report.StopsPlaced++
	e.logger.Printf("Bracket stop for %s riding at %.2f (%s)", ticker, stopPrice, leg.ID)
}

// placeProtectiveStop puts a GTC stop under a filled position. Failure here
// leaves real shares with no downside protection, so it engages the kill
// switch rather than carrying on.
func (e *Executor) placeProtectiveStop(ctx context.Context, posID int64, ticker string, qty int, stopPrice float64, tradeDate string, kind models.OrderKind, report *RunReport) {
	stopCount, err := e.store.CountOrdersByIntent(tradeDate, string(models.IntentStop))
	if err != nil {
		e.logger.Printf("WARNING: failed to count today's stops: %v", err)
	} else if stopCount >= e.cfg.MaxDailyStopOrders {
		e.failStop(ticker, fmt.Errorf("daily stop order cap (%d) reached", e.cfg.MaxDailyStopOrders), report)
		return
	}

	clientID := models.ClientOrderID(tradeDate, ticker, kind)
	sp := stopPrice
	row := state.Order{
		ClientOrderID:    clientID,
		Ticker:           ticker,
		Side:             string(models.SideSell),
		Intent:           string(models.IntentStop),
		Qty:              qty,
		TradeDate:        tradeDate,
		PlannedStopPrice: &sp,
		RunID:            e.runID,
	}
	if _, err := e.store.InsertOrder(row); err != nil {
		e.failStop(ticker, fmt.Errorf("failed to record stop order %s: %w", clientID, err), report)
		return
	}

	placed, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        ticker,
		Qty:           qty,
		Side:          string(models.SideSell),
		Type:          "stop",
		TimeInForce:   "gtc",
		StopPrice:     &sp,
		ClientOrderID: clientID,
	})
	if err != nil {
		e.markRejected(clientID, err.Error())
		e.failStop(ticker, err, report)
		return
	}
	metrics.OrdersSubmitted.WithLabelValues(string(models.IntentStop)).Inc()
	e.updateOrderFromBroker(clientID, placed)
	if err := e.store.UpdateStopOrder(posID, placed.ID); err != nil {
		e.logger.Printf("WARNING: failed to link stop %s to position %d: %v", placed.ID, posID, err)
	}
	report.StopsPlaced++
	e.logger.Printf("Placed stop %s: %d %s at %.2f gtc (%s)", clientID, qty, ticker, stopPrice, placed.Status)
}

// failStop handles an unprotectable position: log loudly, halt all further
// trading, and surface the ticker in the report.
func (e *Executor) failStop(ticker string, err error, report *RunReport) {
	e.logger.Printf("CRITICAL: stop placement failed for %s, engaging kill switch: %v", ticker, err)
	if kerr := e.store.EngageKillSwitch(fmt.Sprintf("stop placement failed for %s: %v", ticker, err)); kerr != nil {
		e.logger.Printf("WARNING: failed to engage kill switch: %v", kerr)
	}
	metrics.OrderErrors.Inc()
	metrics.KillSwitchEngaged.Set(1)
	report.Unprotected = append(report.Unprotected, ticker)
	report.Errors++
}
