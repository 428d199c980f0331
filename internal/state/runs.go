package state

import (
	"database/sql"
	"errors"
	"fmt"
)

// TradeRun is one invocation of the signal generator or executor.
type TradeRun struct {
	ID        int64
	RunID     string
	TradeDate string
	Kind      string
	Status    string
	Exits     int
	Entries   int
	Errors    int
	StartedAt string
	EndedAt   string
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// StartRun records a run in status running.
func (s *Store) StartRun(runID, tradeDate, kind string) error {
	_, err := s.db.Exec(`INSERT INTO trade_runs (run_id, trade_date, kind, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, tradeDate, kind, RunStatusRunning, nowUTC())
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun finalizes a run with its counters.
func (s *Store) CompleteRun(runID, status string, exits, entries, errCount int) error {
	res, err := s.db.Exec(`UPDATE trade_runs
		SET status = ?, exits = ?, entries = ?, errors = ?, ended_at = ?
		WHERE run_id = ?`,
		status, exits, entries, errCount, nowUTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RunByID fetches a run record.
func (s *Store) RunByID(runID string) (TradeRun, bool, error) {
	row := s.db.QueryRow(`SELECT id, run_id, trade_date, kind, status, exits, entries,
		errors, started_at, ended_at FROM trade_runs WHERE run_id = ?`, runID)
	var r TradeRun
	err := row.Scan(&r.ID, &r.RunID, &r.TradeDate, &r.Kind, &r.Status, &r.Exits,
		&r.Entries, &r.Errors, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRun{}, false, nil
	}
	if err != nil {
		return TradeRun{}, false, fmt.Errorf("failed to fetch run %s: %w", runID, err)
	}
	return r, true, nil
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(limit int) ([]TradeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, run_id, trade_date, kind, status, exits, entries,
		errors, started_at, ended_at FROM trade_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []TradeRun
	for rows.Next() {
		var r TradeRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.TradeDate, &r.Kind, &r.Status, &r.Exits,
			&r.Entries, &r.Errors, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
