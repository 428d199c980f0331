package state

import (
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspahr/gapdrift/internal/models"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	_, err = s.InsertPosition(Position{Ticker: "ACME", EntryDate: "2025-10-02", EntryPrice: 100, Shares: 50})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	open, err := s.OpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ACME", open[0].Ticker)
}

func TestPositionLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertPosition(Position{
		Ticker: "ACME", EntryDate: "2025-10-02", EntryPrice: 100,
		Shares: 50, StopPrice: 90, Grade: "A", Score: 85,
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateActualShares(id, 48))
	require.NoError(t, s.UpdateStopOrder(id, "2025-10-02_ACME_stop_sell"))

	p, found, err := s.OpenPositionByTicker("ACME")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 48, p.ActualShares)
	assert.Equal(t, 48, p.Quantity())
	assert.Equal(t, "2025-10-02_ACME_stop_sell", p.StopOrderID)

	n, err := s.CountOpenPositions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.ClosePosition(id, "2025-10-10", 95, -240, "trend_break"))

	_, found, err = s.OpenPositionByTicker("ACME")
	require.NoError(t, err)
	assert.False(t, found)

	// Closing twice must fail rather than silently rewrite the exit.
	err = s.ClosePosition(id, "2025-10-11", 96, -192, "stop_loss")
	assert.Error(t, err)
}

func TestPositionQuantityFallsBackToIntended(t *testing.T) {
	p := Position{Shares: 50}
	assert.Equal(t, 50, p.Quantity())
	p.ActualShares = 47
	assert.Equal(t, 47, p.Quantity())
}

func TestOrderInsertAndDuplicate(t *testing.T) {
	s := openTestStore(t)

	stop := 90.25
	_, err := s.InsertOrder(Order{
		ClientOrderID:    "2025-10-02_ACME_entry_buy",
		Ticker:           "ACME",
		Side:             "buy",
		Intent:           "entry",
		Qty:              50,
		TradeDate:        "2025-10-02",
		PlannedStopPrice: &stop,
	})
	require.NoError(t, err)

	_, err = s.InsertOrder(Order{
		ClientOrderID: "2025-10-02_ACME_entry_buy",
		Ticker:        "ACME",
		Side:          "buy",
		Intent:        "entry",
		Qty:           50,
		TradeDate:     "2025-10-02",
	})
	assert.Error(t, err, "duplicate client order id must be rejected")

	o, found, err := s.OrderByClientID("2025-10-02_ACME_entry_buy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	require.NotNil(t, o.PlannedStopPrice)
	assert.Equal(t, 90.25, *o.PlannedStopPrice)

	_, found, err = s.OrderByClientID("2025-10-02_ACME_stop_sell")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOrderStatusUpdateAndFills(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertOrder(Order{
		ClientOrderID: "2025-10-02_ACME_exit_sell",
		Ticker:        "ACME", Side: "sell", Intent: "exit", Qty: 50,
		TradeDate: "2025-10-02",
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrderStatus("2025-10-02_ACME_exit_sell", models.OrderStatusPartiallyFilled, 20, 101.5))
	o, _, err := s.OrderByClientID("2025-10-02_ACME_exit_sell")
	require.NoError(t, err)
	assert.Equal(t, 20, o.FilledQty)
	assert.False(t, o.Terminal())

	require.NoError(t, s.UpdateOrderStatus("2025-10-02_ACME_exit_sell", models.OrderStatusFilled, 50, 101.75))
	o, _, err = s.OrderByClientID("2025-10-02_ACME_exit_sell")
	require.NoError(t, err)
	assert.Equal(t, 50, o.FilledQty)
	assert.Equal(t, 101.75, o.AvgFillPrice)
	assert.True(t, o.Terminal())

	assert.Error(t, s.UpdateOrderStatus("missing", models.OrderStatusFilled, 0, 0))
}

func TestNonTerminalOrderQueries(t *testing.T) {
	s := openTestStore(t)
	day := "2025-10-02"

	seed := []Order{
		{ClientOrderID: day + "_AAA_entry_buy", Ticker: "AAA", Side: "buy", Intent: "entry", Qty: 10, TradeDate: day},
		{ClientOrderID: day + "_BBB_entry_buy", Ticker: "BBB", Side: "buy", Intent: "entry", Qty: 10, TradeDate: day},
		{ClientOrderID: day + "_CCC_exit_sell", Ticker: "CCC", Side: "sell", Intent: "exit", Qty: 10, TradeDate: day},
		{ClientOrderID: day + "_AAA_stop_sell", Ticker: "AAA", Side: "sell", Intent: "stop", Qty: 10, TradeDate: day},
	}
	for _, o := range seed {
		_, err := s.InsertOrder(o)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateOrderStatus(day+"_BBB_entry_buy", models.OrderStatusFilled, 10, 55))

	working, err := s.NonTerminalOrders(day, "", "")
	require.NoError(t, err)
	assert.Len(t, working, 3)

	entries, err := s.NonTerminalOrders(day, "entry", "buy")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAA", entries[0].Ticker)

	n, err := s.CountOrdersByIntent(day, "entry", "exit")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountOrdersByIntent(day, "stop")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stop, found, err := s.NonTerminalStopForTicker(day, "AAA")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, day+"_AAA_stop_sell", stop.ClientOrderID)

	require.NoError(t, s.UpdateOrderStatus(day+"_AAA_stop_sell", models.OrderStatusCanceled, 0, 0))
	_, found, err = s.NonTerminalStopForTicker(day, "AAA")
	require.NoError(t, err)
	assert.False(t, found)

	all, err := s.StopOrdersForTicker(day, "AAA")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.StartRun("run-1", "2025-10-02", "execute"))
	r, found, err := s.RunByID("run-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, RunStatusRunning, r.Status)

	require.NoError(t, s.CompleteRun("run-1", RunStatusCompleted, 2, 3, 0))
	r, _, err = s.RunByID("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, r.Status)
	assert.Equal(t, 2, r.Exits)
	assert.Equal(t, 3, r.Entries)
	assert.NotEmpty(t, r.EndedAt)

	require.NoError(t, s.StartRun("run-2", "2025-10-03", "signals"))
	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID) // newest first

	assert.Error(t, s.CompleteRun("missing", RunStatusFailed, 0, 0, 1))
}

func TestShadowBook(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertShadowPosition(ShadowPosition{
		Strategy: "nwl_p4", Ticker: "ACME", EntryDate: "2025-10-02",
		EntryPrice: 100, Shares: 50, Score: 85,
	})
	require.NoError(t, err)
	_, err = s.InsertShadowPosition(ShadowPosition{
		Strategy: "nwl_p4", Ticker: "ZETA", EntryDate: "2025-10-02",
		EntryPrice: 40, Shares: 125, Score: 70,
	})
	require.NoError(t, err)

	open, err := s.OpenShadowPositions("nwl_p4")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ACME", open[0].Ticker)

	other, err := s.OpenShadowPositions("ema_p10")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.CloseShadowPosition(id, "2025-10-17", 92, -400, "trend_break"))
	open, err = s.OpenShadowPositions("nwl_p4")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ZETA", open[0].Ticker)

	closed, err := s.ClosedShadowPositions("nwl_p4", 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, -400.0, closed[0].PnL)

	require.NoError(t, s.AppendShadowSignal("2025-10-02", "nwl_p4", []byte(`{"exits":[]}`)))
}

func TestKillSwitch(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CheckKillSwitch())

	require.NoError(t, s.EngageKillSwitch("stop placement failed for ACME"))
	st, err := s.KillSwitch()
	require.NoError(t, err)
	assert.True(t, st.Engaged)
	assert.Equal(t, "stop placement failed for ACME", st.Reason)
	assert.NotEmpty(t, st.EngagedAt)

	// External tooling reads system_config directly; the flag must be a
	// plain boolean string.
	raw, err := s.GetConfig("kill_switch")
	require.NoError(t, err)
	assert.Equal(t, "true", raw)

	err = s.CheckKillSwitch()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKillSwitchActive)

	require.NoError(t, s.ReleaseKillSwitch())
	require.NoError(t, s.CheckKillSwitch())

	raw, err = s.GetConfig("kill_switch")
	require.NoError(t, err)
	assert.Equal(t, "false", raw)
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)

	v, err := s.GetConfig("nothing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetConfig("last_signal_date", "2025-10-02"))
	require.NoError(t, s.SetConfig("last_signal_date", "2025-10-03"))
	v, err = s.GetConfig("last_signal_date")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-03", v)
}

// A store created before the OPG flow has no planned_stop_price column;
// opening it must add the column without touching existing rows.
func TestMigrationAddsPlannedStopColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE schema_version (version INTEGER PRIMARY KEY);
		CREATE TABLE orders (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL UNIQUE,
			broker_order_id TEXT NOT NULL DEFAULT '',
			ticker          TEXT NOT NULL,
			side            TEXT NOT NULL,
			intent          TEXT NOT NULL,
			qty             INTEGER NOT NULL,
			filled_qty      INTEGER NOT NULL DEFAULT 0,
			avg_fill_price  REAL NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'pending',
			trade_date      TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		INSERT INTO orders (client_order_id, ticker, side, intent, qty, trade_date, created_at, updated_at)
		VALUES ('2025-09-30_OLD_entry_buy', 'OLD', 'buy', 'entry', 10, '2025-09-30', 't', 't');
		INSERT INTO schema_version (version) VALUES (1);
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	o, found, err := s.OrderByClientID("2025-09-30_OLD_entry_buy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, o.PlannedStopPrice)

	stop := 9.5
	_, err = s.InsertOrder(Order{
		ClientOrderID: "2025-10-01_NEW_entry_buy", Ticker: "NEW", Side: "buy",
		Intent: "entry", Qty: 10, TradeDate: "2025-10-01", PlannedStopPrice: &stop,
	})
	require.NoError(t, err)

	o, _, err = s.OrderByClientID("2025-10-01_NEW_entry_buy")
	require.NoError(t, err)
	require.NotNil(t, o.PlannedStopPrice)
	assert.Equal(t, 9.5, *o.PlannedStopPrice)
}

func TestOrderRejectReasonAndRunID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertOrder(Order{
		ClientOrderID: "2025-10-02_ACME_entry_buy", Ticker: "ACME", Side: "buy",
		Intent: "entry", Qty: 10, TradeDate: "2025-10-02", RunID: "run-abc",
	})
	require.NoError(t, err)

	o, found, err := s.OrderByClientID("2025-10-02_ACME_entry_buy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "run-abc", o.RunID)
	assert.Empty(t, o.RejectReason)

	require.NoError(t, s.MarkOrderRejected("2025-10-02_ACME_entry_buy", "insufficient buying power"))

	o, _, err = s.OrderByClientID("2025-10-02_ACME_entry_buy")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, o.Status)
	assert.True(t, o.Terminal())
	assert.Equal(t, "insufficient buying power", o.RejectReason)
	assert.Equal(t, "run-abc", o.RunID)

	err = s.MarkOrderRejected("2025-10-02_NOPE_entry_buy", "whatever")
	require.Error(t, err)
}

// A v2 store predates the order audit columns; opening it must add
// reject_reason and run_id without touching existing rows.
func TestMigrationAddsOrderAuditColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE schema_version (version INTEGER PRIMARY KEY);
		CREATE TABLE orders (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id    TEXT NOT NULL UNIQUE,
			broker_order_id    TEXT NOT NULL DEFAULT '',
			ticker             TEXT NOT NULL,
			side               TEXT NOT NULL,
			intent             TEXT NOT NULL,
			qty                INTEGER NOT NULL,
			filled_qty         INTEGER NOT NULL DEFAULT 0,
			avg_fill_price     REAL NOT NULL DEFAULT 0,
			status             TEXT NOT NULL DEFAULT 'pending',
			trade_date         TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,
			planned_stop_price REAL
		);
		INSERT INTO orders (client_order_id, ticker, side, intent, qty, trade_date, created_at, updated_at)
		VALUES ('2025-09-30_OLD_entry_buy', 'OLD', 'buy', 'entry', 10, '2025-09-30', 't', 't');
		INSERT INTO schema_version (version) VALUES (2);
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	o, found, err := s.OrderByClientID("2025-09-30_OLD_entry_buy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, o.RejectReason)
	assert.Empty(t, o.RunID)

	require.NoError(t, s.MarkOrderRejected("2025-09-30_OLD_entry_buy", "stale order"))
	o, _, err = s.OrderByClientID("2025-09-30_OLD_entry_buy")
	require.NoError(t, err)
	assert.Equal(t, "stale order", o.RejectReason)
}
