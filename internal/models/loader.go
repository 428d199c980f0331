package models

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jspahr/gapdrift/internal/util"
)

// LoadCandidates reads a candidate list from a JSON file. Both a bare array
// and a {"candidates": [...]} wrapper are accepted. Entries must carry a
// ticker, a valid report date, and a known grade; a score or entry price,
// when present, must pass the acceptance screens.
func LoadCandidates(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-provided candidates path
	if err != nil {
		return nil, fmt.Errorf("reading candidates: %w", err)
	}

	var cands []Candidate
	if err := json.Unmarshal(data, &cands); err != nil {
		var wrapper struct {
			Candidates []Candidate `json:"candidates"`
		}
		if werr := json.Unmarshal(data, &wrapper); werr != nil {
			return nil, fmt.Errorf("parsing candidates %s: %w", path, err)
		}
		cands = wrapper.Candidates
	}

	for i := range cands {
		c := &cands[i]
		if c.Ticker == "" {
			return nil, fmt.Errorf("candidate %d has no ticker", i)
		}
		if !util.ValidDate(c.ReportDate) {
			return nil, fmt.Errorf("candidate %s has invalid report date %q", c.Ticker, c.ReportDate)
		}
		if !c.Grade.Valid() {
			return nil, fmt.Errorf("candidate %s has unknown grade %q", c.Ticker, c.Grade)
		}
		if c.Score != 0 && !ScoreAcceptable(c.Score) {
			return nil, fmt.Errorf("candidate %s has out-of-range score %v", c.Ticker, c.Score)
		}
		if c.EntryPrice != 0 && !PriceAcceptable(c.EntryPrice, 0, 0) {
			return nil, fmt.Errorf("candidate %s has invalid entry price %v", c.Ticker, c.EntryPrice)
		}
	}
	return cands, nil
}
