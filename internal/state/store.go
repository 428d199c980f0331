// Package state is the durable store backing live trading: positions,
// orders, runs, the shadow book, and the kill switch, all in one SQLite
// file. Every mutation is a single statement on a single connection, which
// is the whole concurrency story; the process is the only writer.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// ErrKillSwitchActive is returned by CheckKillSwitch while trading is halted.
// Commands translate it to their kill-switch exit code.
var ErrKillSwitchActive = errors.New("kill switch is active")

const (
	killSwitchKey       = "kill_switch"
	killSwitchReasonKey = "kill_switch_reason"
	killSwitchAtKey     = "kill_switch_at"
)

// Store wraps the SQLite connection.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (or creates) the store at path and applies pending migrations.
// The connection pool is pinned to one connection to keep the single-writer
// discipline honest.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[STATE] ", log.LstdFlags)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS positions (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker        TEXT NOT NULL,
				entry_date    TEXT NOT NULL,
				entry_price   REAL NOT NULL,
				shares        INTEGER NOT NULL,
				actual_shares INTEGER NOT NULL DEFAULT 0,
				stop_price    REAL NOT NULL DEFAULT 0,
				stop_order_id TEXT NOT NULL DEFAULT '',
				grade         TEXT NOT NULL DEFAULT '',
				score         REAL NOT NULL DEFAULT 0,
				status        TEXT NOT NULL DEFAULT 'open',
				exit_date     TEXT NOT NULL DEFAULT '',
				exit_price    REAL NOT NULL DEFAULT 0,
				exit_reason   TEXT NOT NULL DEFAULT '',
				pnl           REAL NOT NULL DEFAULT 0,
				created_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
			CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker);

			CREATE TABLE IF NOT EXISTS orders (
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
			CREATE INDEX IF NOT EXISTS idx_orders_date_intent ON orders(trade_date, intent);
			CREATE INDEX IF NOT EXISTS idx_orders_ticker ON orders(ticker);

			CREATE TABLE IF NOT EXISTS trade_runs (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id     TEXT NOT NULL UNIQUE,
				trade_date TEXT NOT NULL,
				kind       TEXT NOT NULL,
				status     TEXT NOT NULL DEFAULT 'running',
				exits      INTEGER NOT NULL DEFAULT 0,
				entries    INTEGER NOT NULL DEFAULT 0,
				errors     INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				ended_at   TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS shadow_positions (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				strategy    TEXT NOT NULL,
				ticker      TEXT NOT NULL,
				entry_date  TEXT NOT NULL,
				entry_price REAL NOT NULL,
				shares      INTEGER NOT NULL,
				score       REAL NOT NULL DEFAULT 0,
				status      TEXT NOT NULL DEFAULT 'open',
				exit_date   TEXT NOT NULL DEFAULT '',
				exit_price  REAL NOT NULL DEFAULT 0,
				exit_reason TEXT NOT NULL DEFAULT '',
				pnl         REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_shadow_strategy_status ON shadow_positions(strategy, status);

			CREATE TABLE IF NOT EXISTS shadow_signals (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				trade_date TEXT NOT NULL,
				strategy   TEXT NOT NULL,
				payload    TEXT NOT NULL,
				created_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS system_config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Printf("applied migration v1")
	}

	if version < 2 {
		// Legacy stores predate the OPG flow and lack the planned stop
		// column. Detect and alter; SQLite has no ADD COLUMN IF NOT EXISTS.
		has, err := s.hasColumn("orders", "planned_stop_price")
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		if !has {
			if _, err := s.db.Exec(`ALTER TABLE orders ADD COLUMN planned_stop_price REAL`); err != nil {
				return fmt.Errorf("migration v2: %w", err)
			}
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (2)`); err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		s.logger.Printf("applied migration v2 (planned stop price)")
	}

	if version < 3 {
		// Orders gained an audit trail: the brokerage's rejection reason
		// and the run that placed them. Same detect-and-alter dance as v2.
		for _, col := range []string{"reject_reason", "run_id"} {
			has, err := s.hasColumn("orders", col)
			if err != nil {
				return fmt.Errorf("migration v3: %w", err)
			}
			if !has {
				if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE orders ADD COLUMN %s TEXT`, col)); err != nil {
					return fmt.Errorf("migration v3: %w", err)
				}
			}
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (3)`); err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		s.logger.Printf("applied migration v3 (order reject reason and run id)")
	}

	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SetConfig writes a key into system_config, replacing any prior value.
func (s *Store) SetConfig(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO system_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// GetConfig reads a key from system_config; missing keys return "".
func (s *Store) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// KillSwitchState describes the trading halt flag.
type KillSwitchState struct {
	Engaged   bool
	Reason    string
	EngagedAt string
}

// KillSwitch reads the current halt state.
func (s *Store) KillSwitch() (KillSwitchState, error) {
	var st KillSwitchState
	v, err := s.GetConfig(killSwitchKey)
	if err != nil {
		return st, err
	}
	st.Engaged = v == "true"
	if !st.Engaged {
		return st, nil
	}
	st.Reason, _ = s.GetConfig(killSwitchReasonKey)
	st.EngagedAt, _ = s.GetConfig(killSwitchAtKey)
	return st, nil
}

// EngageKillSwitch halts all trading until an operator releases it.
func (s *Store) EngageKillSwitch(reason string) error {
	if err := s.SetConfig(killSwitchKey, "true"); err != nil {
		return err
	}
	if err := s.SetConfig(killSwitchReasonKey, reason); err != nil {
		return err
	}
	if err := s.SetConfig(killSwitchAtKey, nowUTC()); err != nil {
		return err
	}
	s.logger.Printf("CRITICAL: kill switch engaged: %s", reason)
	return nil
}

// ReleaseKillSwitch clears the halt flag.
func (s *Store) ReleaseKillSwitch() error {
	if err := s.SetConfig(killSwitchKey, "false"); err != nil {
		return err
	}
	s.logger.Printf("kill switch released")
	return nil
}

// CheckKillSwitch returns ErrKillSwitchActive when trading is halted.
func (s *Store) CheckKillSwitch() error {
	st, err := s.KillSwitch()
	if err != nil {
		return err
	}
	if st.Engaged {
		return fmt.Errorf("%w (reason: %s, since %s)", ErrKillSwitchActive, st.Reason, st.EngagedAt)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
