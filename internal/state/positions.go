package state

import (
	"database/sql"
	"errors"
	"fmt"
)

// Position is a live holding as persisted. Shares is the intended quantity
// from the signal; ActualShares is the broker-confirmed fill quantity and is
// what exits and reconciliation use once set.
type Position struct {
	ID           int64
	Ticker       string
	EntryDate    string
	EntryPrice   float64
	Shares       int
	ActualShares int
	StopPrice    float64
	StopOrderID  string
	Grade        string
	Score        float64
	Status       string
	ExitDate     string
	ExitPrice    float64
	ExitReason   string
	PnL          float64
	CreatedAt    string
}

// Quantity returns the share count exits should use.
func (p *Position) Quantity() int {
	if p.ActualShares > 0 {
		return p.ActualShares
	}
	return p.Shares
}

const positionColumns = `id, ticker, entry_date, entry_price, shares, actual_shares,
	stop_price, stop_order_id, grade, score, status, exit_date, exit_price,
	exit_reason, pnl, created_at`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	err := row.Scan(&p.ID, &p.Ticker, &p.EntryDate, &p.EntryPrice, &p.Shares,
		&p.ActualShares, &p.StopPrice, &p.StopOrderID, &p.Grade, &p.Score,
		&p.Status, &p.ExitDate, &p.ExitPrice, &p.ExitReason, &p.PnL, &p.CreatedAt)
	return p, err
}

// InsertPosition records a new open position and returns its id.
func (s *Store) InsertPosition(p Position) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO positions
		(ticker, entry_date, entry_price, shares, actual_shares, stop_price,
		 stop_order_id, grade, score, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?)`,
		p.Ticker, p.EntryDate, p.EntryPrice, p.Shares, p.ActualShares,
		p.StopPrice, p.StopOrderID, p.Grade, p.Score, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert position %s: %w", p.Ticker, err)
	}
	return res.LastInsertId()
}

// ClosePosition marks a position closed with its realized exit.
func (s *Store) ClosePosition(id int64, exitDate string, exitPrice, pnl float64, reason string) error {
	res, err := s.db.Exec(`UPDATE positions
		SET status = 'closed', exit_date = ?, exit_price = ?, pnl = ?, exit_reason = ?
		WHERE id = ? AND status = 'open'`,
		exitDate, exitPrice, pnl, reason, id)
	if err != nil {
		return fmt.Errorf("failed to close position %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %d is not open", id)
	}
	return nil
}

// UpdateActualShares records the broker-confirmed fill quantity.
func (s *Store) UpdateActualShares(id int64, shares int) error {
	_, err := s.db.Exec(`UPDATE positions SET actual_shares = ? WHERE id = ?`, shares, id)
	if err != nil {
		return fmt.Errorf("failed to update actual shares for position %d: %w", id, err)
	}
	return nil
}

// UpdateStopOrder records (or replaces) the protective stop order id.
func (s *Store) UpdateStopOrder(id int64, stopOrderID string) error {
	_, err := s.db.Exec(`UPDATE positions SET stop_order_id = ? WHERE id = ?`, stopOrderID, id)
	if err != nil {
		return fmt.Errorf("failed to update stop order for position %d: %w", id, err)
	}
	return nil
}

// OpenPositions lists open positions ordered by ticker.
func (s *Store) OpenPositions() ([]Position, error) {
	rows, err := s.db.Query(`SELECT `+positionColumns+` FROM positions
		WHERE status = 'open' ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PositionByID fetches a position regardless of status.
func (s *Store) PositionByID(id int64) (Position, bool, error) {
	row := s.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to fetch position %d: %w", id, err)
	}
	return p, true, nil
}

// ClosedPositions lists closed positions, most recent exit first.
func (s *Store) ClosedPositions(limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+positionColumns+` FROM positions
		WHERE status = 'closed' ORDER BY exit_date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenPositionByTicker fetches the open position for a ticker, if any.
func (s *Store) OpenPositionByTicker(ticker string) (Position, bool, error) {
	row := s.db.QueryRow(`SELECT `+positionColumns+` FROM positions
		WHERE status = 'open' AND ticker = ?`, ticker)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to fetch open position %s: %w", ticker, err)
	}
	return p, true, nil
}

// ClosedStats aggregates the full closed-trade history: count, winners,
// and total realized P&L.
func (s *Store) ClosedStats() (total, winners int, pnl float64, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(pnl), 0)
		FROM positions WHERE status = 'closed'`).Scan(&total, &winners, &pnl)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to aggregate closed positions: %w", err)
	}
	return total, winners, pnl, nil
}

// CountOpenPositions returns the number of open positions.
func (s *Store) CountOpenPositions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE status = 'open'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return n, nil
}
