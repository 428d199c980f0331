package signal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jspahr/gapdrift/internal/models"
)

// Exit is one position the executor should close.
type Exit struct {
	Ticker      string            `json:"ticker"`
	PositionID  *int64            `json:"position_id,omitempty"`
	Reason      models.ExitReason `json:"reason"`
	Qty         int               `json:"qty"`
	EntryPrice  float64           `json:"entry_price"`
	StopOrderID string            `json:"stop_order_id,omitempty"`
}

// Entry is one candidate the executor should buy.
type Entry struct {
	Ticker      string       `json:"ticker"`
	Side        string       `json:"side"`
	Qty         int          `json:"qty"`
	Score       float64      `json:"score,omitempty"`
	Grade       models.Grade `json:"grade"`
	ReportDate  string       `json:"report_date"`
	CompanyName string       `json:"company_name,omitempty"`
	StopPrice   float64      `json:"stop_price"`
}

// Skip records a candidate rejected during generation.
type Skip struct {
	Ticker string            `json:"ticker"`
	Reason models.SkipReason `json:"reason"`
	Score  float64           `json:"score,omitempty"`
}

// Summary carries the before/after position counts for the run.
type Summary struct {
	TotalExits          int `json:"total_exits"`
	TotalEntries        int `json:"total_entries"`
	TotalSkipped        int `json:"total_skipped"`
	OpenPositionsBefore int `json:"open_positions_before"`
	OpenPositionsAfter  int `json:"open_positions_after"`
}

// File is one strategy's signal set for one trade date. It is the contract
// between the signal generator and the order executor.
type File struct {
	TradeDate   string  `json:"trade_date"`
	Strategy    string  `json:"strategy"`
	RunID       string  `json:"run_id"`
	GeneratedAt string  `json:"generated_at"`
	Exits       []Exit  `json:"exits"`
	Entries     []Entry `json:"entries"`
	Skipped     []Skip  `json:"skipped"`
	Summary     Summary `json:"summary"`
}

// FilePath is the conventional location for a strategy's signal file.
func FilePath(dir, strategyName, tradeDate string) string {
	return filepath.Join(dir, fmt.Sprintf("signals_%s_%s.json", strategyName, tradeDate))
}

// WriteFile writes the signal file atomically: marshal to a temp file in the
// target directory, then rename over the destination.
func (f *File) WriteFile(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode signal file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create signal dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".signals-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp signal file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close signal file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move signal file into place: %w", err)
	}
	return nil
}

// LoadFile reads a signal file written by WriteFile.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signal file %s: %w", path, err)
	}
	return &f, nil
}
