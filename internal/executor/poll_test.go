package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspahr/gapdrift/internal/broker"
	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/state"
)

// seedWorkingEntry inserts a placed-but-unfilled entry buy, the state an opg
// run leaves behind overnight.
func seedWorkingEntry(t *testing.T, s *state.Store, ticker string, qty int, stop float64) string {
	t.Helper()
	clientID := models.ClientOrderID(testDate, ticker, models.KindEntryBuy)
	row := state.Order{
		ClientOrderID: clientID, BrokerOrderID: "bro-" + clientID, Ticker: ticker,
		Side: "buy", Intent: "entry", Qty: qty,
		Status: models.OrderStatusAccepted, TradeDate: testDate,
	}
	if stop > 0 {
		row.PlannedStopPrice = &stop
	}
	_, err := s.InsertOrder(row)
	require.NoError(t, err)
	return clientID
}

func TestPollPhaseRejectsBadDate(t *testing.T) {
	e := newTestExecutor(t, testExecConfig(), newTestStore(t), newFakeBroker())
	_, err := e.ExecutePollPhase(context.Background(), "10/02/2025")
	assert.Error(t, err)
}

func TestPollPhaseKillSwitchBlocks(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EngageKillSwitch("manual halt"))
	e := newTestExecutor(t, testExecConfig(), s, newFakeBroker())

	_, err := e.ExecutePollPhase(context.Background(), testDate)
	assert.ErrorIs(t, err, state.ErrKillSwitchActive)
}

func TestPollPhaseNoWorkingOrders(t *testing.T) {
	s := newTestStore(t)
	e := newTestExecutor(t, testExecConfig(), s, newFakeBroker())

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntriesExecuted)
	assert.Equal(t, PhasePoll, report.Phase)

	runs, err := s.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "poll", runs[0].Kind)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestPollPhaseAttachesStopAfterFill(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusFilled, FilledQty: 50, FilledAvgPrice: 100.10,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, 1, report.EntriesExecuted)
	assert.Equal(t, 1, report.StopsPlaced)
	assert.Equal(t, 0, report.Errors)

	pos, ok, err := s.OpenPositionByTicker("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.10, pos.EntryPrice)
	assert.Equal(t, 50, pos.ActualShares)
	assert.Equal(t, 90.25, pos.StopPrice)

	require.Len(t, fb.placed, 1)
	req := fb.placed[0]
	assert.Equal(t, models.ClientOrderID(testDate, "AAPL", models.KindStopSell), req.ClientOrderID)
	assert.Equal(t, "stop", req.Type)
	assert.Equal(t, "gtc", req.TimeInForce)
	require.NotNil(t, req.StopPrice)
	assert.Equal(t, 90.25, *req.StopPrice)
	assert.Equal(t, "bro-"+req.ClientOrderID, pos.StopOrderID)

	// The entry row reflects the fill.
	row, ok, err := s.OrderByClientID(clientID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusFilled, row.Status)
	assert.Equal(t, 50, row.FilledQty)
}

func TestPollPhaseRePlacesCanceledStop(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	// A first stop attempt exists but was canceled at the brokerage.
	sp := 90.25
	_, err := s.InsertOrder(state.Order{
		ClientOrderID: models.ClientOrderID(testDate, "AAPL", models.KindStopSell),
		BrokerOrderID: "stop-old", Ticker: "AAPL", Side: "sell", Intent: "stop",
		Qty: 50, Status: models.OrderStatusCanceled, TradeDate: testDate,
		PlannedStopPrice: &sp,
	})
	require.NoError(t, err)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusFilled, FilledQty: 50, FilledAvgPrice: 100.10,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	require.Len(t, fb.placed, 1)
	retryID := models.ClientOrderID(testDate, "AAPL", models.KindStopSellRetry)
	assert.Equal(t, retryID, fb.placed[0].ClientOrderID, "retry must not reuse the dead stop's id")
	assert.Equal(t, 1, report.StopsPlaced)

	pos, ok, err := s.OpenPositionByTicker("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bro-"+retryID, pos.StopOrderID)
}

func TestPollPhaseSkipsWorkingStop(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	sp := 90.25
	_, err := s.InsertOrder(state.Order{
		ClientOrderID: models.ClientOrderID(testDate, "AAPL", models.KindStopSell),
		BrokerOrderID: "stop-9", Ticker: "AAPL", Side: "sell", Intent: "stop",
		Qty: 50, Status: models.OrderStatusAccepted, TradeDate: testDate,
		PlannedStopPrice: &sp,
	})
	require.NoError(t, err)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusFilled, FilledQty: 50, FilledAvgPrice: 100.10,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Empty(t, fb.placed, "an already-working stop must not be duplicated")
	assert.Equal(t, 0, report.StopsPlaced)

	pos, ok, err := s.OpenPositionByTicker("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stop-9", pos.StopOrderID, "position links to the surviving stop")
}

func TestPollPhaseNoPlannedStopIsUnprotected(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 0)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusFilled, FilledQty: 50, FilledAvgPrice: 100.10,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, report.Unprotected)
	assert.Empty(t, fb.placed)

	// The position is still recorded; the halt is a data problem, not a
	// brokerage refusal, so the kill switch stays released.
	_, ok, err := s.OpenPositionByTicker("AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, s.CheckKillSwitch())
}

func TestPollPhaseStopCapTripsKillSwitch(t *testing.T) {
	cfg := testExecConfig()
	cfg.MaxDailyStopOrders = 1
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	// The day's stop budget is already spent on another ticker.
	sp := 45.0
	_, err := s.InsertOrder(state.Order{
		ClientOrderID: models.ClientOrderID(testDate, "MSFT", models.KindStopSell),
		Ticker:        "MSFT", Side: "sell", Intent: "stop", Qty: 20,
		Status: models.OrderStatusAccepted, TradeDate: testDate, PlannedStopPrice: &sp,
	})
	require.NoError(t, err)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusFilled, FilledQty: 50, FilledAvgPrice: 100.10,
	}
	e := newTestExecutor(t, cfg, s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Empty(t, fb.placed)
	assert.Equal(t, []string{"AAPL"}, report.Unprotected)
	assert.ErrorIs(t, s.CheckKillSwitch(), state.ErrKillSwitchActive)
}

func TestPollPhaseTimeoutLeavesPending(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusAccepted,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, 0, report.EntriesExecuted)
	assert.Equal(t, []string{clientID}, report.PendingOrders)
	_, ok, err := s.OpenPositionByTicker("AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollPhaseTerminalWithoutFillIsError(t *testing.T) {
	s := newTestStore(t)
	clientID := seedWorkingEntry(t, s, "AAPL", 50, 90.25)

	fb := newFakeBroker()
	fb.orders[clientID] = &broker.Order{
		ID: "bro-" + clientID, ClientOrderID: clientID, Symbol: "AAPL",
		Status: models.OrderStatusExpired,
	}
	e := newTestExecutor(t, testExecConfig(), s, fb)

	report, err := e.ExecutePollPhase(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, 0, report.EntriesExecuted)
	assert.Equal(t, 1, report.Errors)
	assert.Empty(t, report.PendingOrders)

	row, ok, err := s.OrderByClientID(clientID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusExpired, row.Status)
}
