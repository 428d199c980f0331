package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jspahr/gapdrift/internal/models"
)

// Order is one brokerage order as persisted. The client order id is the
// dedupe key for the whole live pipeline: inserts are unique on it, and the
// executor's idempotency ladder looks orders up by it before placing.
type Order struct {
	ID               int64
	ClientOrderID    string
	BrokerOrderID    string
	Ticker           string
	Side             string
	Intent           string
	Qty              int
	FilledQty        int
	AvgFillPrice     float64
	Status           models.OrderStatus
	TradeDate        string
	PlannedStopPrice *float64
	RejectReason     string
	RunID            string
	CreatedAt        string
	UpdatedAt        string
}

// Terminal reports whether the order has reached a final status.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

const orderColumns = `id, client_order_id, broker_order_id, ticker, side, intent,
	qty, filled_qty, avg_fill_price, status, trade_date, planned_stop_price,
	reject_reason, run_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var (
		o       Order
		status  string
		planned sql.NullFloat64
		reject  sql.NullString
		runID   sql.NullString
	)
	err := row.Scan(&o.ID, &o.ClientOrderID, &o.BrokerOrderID, &o.Ticker, &o.Side,
		&o.Intent, &o.Qty, &o.FilledQty, &o.AvgFillPrice, &status, &o.TradeDate,
		&planned, &reject, &runID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.Status = models.OrderStatus(status)
	if planned.Valid {
		v := planned.Float64
		o.PlannedStopPrice = &v
	}
	o.RejectReason = reject.String
	o.RunID = runID.String
	return o, nil
}

// InsertOrder records a new order. Client order ids are unique; a duplicate
// insert is an error so callers are forced through the idempotency lookup.
func (s *Store) InsertOrder(o Order) (int64, error) {
	var planned any
	if o.PlannedStopPrice != nil {
		planned = *o.PlannedStopPrice
	}
	status := o.Status
	if status == "" {
		status = models.OrderStatusPending
	}
	now := nowUTC()
	res, err := s.db.Exec(`INSERT INTO orders
		(client_order_id, broker_order_id, ticker, side, intent, qty,
		 filled_qty, avg_fill_price, status, trade_date, planned_stop_price,
		 reject_reason, run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientOrderID, o.BrokerOrderID, o.Ticker, o.Side, o.Intent, o.Qty,
		o.FilledQty, o.AvgFillPrice, string(status), o.TradeDate, planned,
		o.RejectReason, o.RunID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order %s: %w", o.ClientOrderID, err)
	}
	return res.LastInsertId()
}

// UpdateOrderStatus applies a status transition with fill bookkeeping.
func (s *Store) UpdateOrderStatus(clientOrderID string, status models.OrderStatus, filledQty int, avgFillPrice float64) error {
	res, err := s.db.Exec(`UPDATE orders
		SET status = ?, filled_qty = ?, avg_fill_price = ?, updated_at = ?
		WHERE client_order_id = ?`,
		string(status), filledQty, avgFillPrice, nowUTC(), clientOrderID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", clientOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s not found", clientOrderID)
	}
	return nil
}

// MarkOrderRejected moves an order to the terminal rejected status and keeps
// the brokerage's reason for the audit trail.
func (s *Store) MarkOrderRejected(clientOrderID, reason string) error {
	res, err := s.db.Exec(`UPDATE orders
		SET status = ?, reject_reason = ?, updated_at = ?
		WHERE client_order_id = ?`,
		string(models.OrderStatusRejected), reason, nowUTC(), clientOrderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %s rejected: %w", clientOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s not found", clientOrderID)
	}
	return nil
}

// SetBrokerOrderID backfills the brokerage's id once the order is accepted.
func (s *Store) SetBrokerOrderID(clientOrderID, brokerOrderID string) error {
	_, err := s.db.Exec(`UPDATE orders SET broker_order_id = ?, updated_at = ? WHERE client_order_id = ?`,
		brokerOrderID, nowUTC(), clientOrderID)
	if err != nil {
		return fmt.Errorf("failed to set broker id for order %s: %w", clientOrderID, err)
	}
	return nil
}

// OrderByClientID fetches an order by its client id.
func (s *Store) OrderByClientID(clientOrderID string) (Order, bool, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("failed to fetch order %s: %w", clientOrderID, err)
	}
	return o, true, nil
}

// CountOrdersByIntent counts the day's orders across the given intents.
// Used for the daily order caps.
func (s *Store) CountOrdersByIntent(tradeDate string, intents ...string) (int, error) {
	if len(intents) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(intents)), ",")
	args := make([]any, 0, len(intents)+1)
	args = append(args, tradeDate)
	for _, in := range intents {
		args = append(args, in)
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE trade_date = ? AND intent IN (`+placeholders+`)`, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders for %s: %w", tradeDate, err)
	}
	return n, nil
}

// NonTerminalOrders lists the day's still-working orders, optionally
// filtered by intent and side ("" matches any).
func (s *Store) NonTerminalOrders(tradeDate, intent, side string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE trade_date = ? AND status NOT IN (`
	args := []any{tradeDate}
	for i, st := range models.TerminalOrderStatuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(st))
	}
	query += ")"
	if intent != "" {
		query += " AND intent = ?"
		args = append(args, intent)
	}
	if side != "" {
		query += " AND side = ?"
		args = append(args, side)
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list working orders for %s: %w", tradeDate, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentOrders lists the newest orders across all trade dates, most recent
// first. Used by the dashboard.
func (s *Store) RecentOrders(limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// NonTerminalStopForTicker finds a live protective stop for a ticker, used
// by the poll phase to keep stop placement idempotent.
func (s *Store) NonTerminalStopForTicker(tradeDate, ticker string) (Order, bool, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE trade_date = ? AND ticker = ? AND intent = 'stop' AND status NOT IN (`
	args := []any{tradeDate, ticker}
	for i, st := range models.TerminalOrderStatuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(st))
	}
	query += ") LIMIT 1"

	row := s.db.QueryRow(query, args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("failed to fetch stop for %s: %w", ticker, err)
	}
	return o, true, nil
}

// StopOrdersForTicker lists all of the day's stop orders for a ticker,
// newest first, regardless of status.
func (s *Store) StopOrdersForTicker(tradeDate, ticker string) ([]Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders
		WHERE trade_date = ? AND ticker = ? AND intent = 'stop' ORDER BY id DESC`,
		tradeDate, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to list stops for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
