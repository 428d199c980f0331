package state

import "fmt"

// ShadowPosition is a paper holding in the A/B shadow book. Shadow
// strategies are never sent to the brokerage; their entries and theoretical
// exits live only here.
type ShadowPosition struct {
	ID         int64
	Strategy   string
	Ticker     string
	EntryDate  string
	EntryPrice float64
	Shares     int
	Score      float64
	Status     string
	ExitDate   string
	ExitPrice  float64
	ExitReason string
	PnL        float64
}

// InsertShadowPosition opens a shadow position.
func (s *Store) InsertShadowPosition(p ShadowPosition) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO shadow_positions
		(strategy, ticker, entry_date, entry_price, shares, score, status)
		VALUES (?, ?, ?, ?, ?, ?, 'open')`,
		p.Strategy, p.Ticker, p.EntryDate, p.EntryPrice, p.Shares, p.Score)
	if err != nil {
		return 0, fmt.Errorf("failed to insert shadow position %s: %w", p.Ticker, err)
	}
	return res.LastInsertId()
}

// CloseShadowPosition closes a shadow position at its theoretical exit.
func (s *Store) CloseShadowPosition(id int64, exitDate string, exitPrice, pnl float64, reason string) error {
	res, err := s.db.Exec(`UPDATE shadow_positions
		SET status = 'closed', exit_date = ?, exit_price = ?, pnl = ?, exit_reason = ?
		WHERE id = ? AND status = 'open'`,
		exitDate, exitPrice, pnl, reason, id)
	if err != nil {
		return fmt.Errorf("failed to close shadow position %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shadow position %d is not open", id)
	}
	return nil
}

// OpenShadowPositions lists a strategy's open shadow book, ordered by ticker.
func (s *Store) OpenShadowPositions(strategy string) ([]ShadowPosition, error) {
	rows, err := s.db.Query(`SELECT id, strategy, ticker, entry_date, entry_price,
		shares, score, status, exit_date, exit_price, exit_reason, pnl
		FROM shadow_positions WHERE strategy = ? AND status = 'open' ORDER BY ticker`,
		strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to list shadow positions for %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []ShadowPosition
	for rows.Next() {
		var p ShadowPosition
		if err := rows.Scan(&p.ID, &p.Strategy, &p.Ticker, &p.EntryDate, &p.EntryPrice,
			&p.Shares, &p.Score, &p.Status, &p.ExitDate, &p.ExitPrice, &p.ExitReason, &p.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan shadow position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClosedShadowPositions lists a strategy's closed shadow trades, newest
// exits first. Feeds the dashboard's A/B comparison.
func (s *Store) ClosedShadowPositions(strategy string, limit int) ([]ShadowPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, strategy, ticker, entry_date, entry_price,
		shares, score, status, exit_date, exit_price, exit_reason, pnl
		FROM shadow_positions WHERE strategy = ? AND status = 'closed'
		ORDER BY exit_date DESC, id DESC LIMIT ?`,
		strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed shadow positions for %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []ShadowPosition
	for rows.Next() {
		var p ShadowPosition
		if err := rows.Scan(&p.ID, &p.Strategy, &p.Ticker, &p.EntryDate, &p.EntryPrice,
			&p.Shares, &p.Score, &p.Status, &p.ExitDate, &p.ExitPrice, &p.ExitReason, &p.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan shadow position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendShadowSignal stores a raw signal-file payload for audit. Append-only.
func (s *Store) AppendShadowSignal(tradeDate, strategy string, payload []byte) error {
	_, err := s.db.Exec(`INSERT INTO shadow_signals (trade_date, strategy, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		tradeDate, strategy, string(payload), nowUTC())
	if err != nil {
		return fmt.Errorf("failed to append shadow signal for %s: %w", tradeDate, err)
	}
	return nil
}
