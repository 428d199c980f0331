// Package models provides the shared data structures for candidates, trades,
// and order bookkeeping.
package models

import "fmt"

// Grade classifies an earnings report candidate, A strongest through D weakest.
type Grade string

// Candidate grades in descending quality order.
const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

var gradeRank = map[Grade]int{GradeA: 0, GradeB: 1, GradeC: 2, GradeD: 3}

// Valid reports whether g is one of the four known grades.
func (g Grade) Valid() bool {
	_, ok := gradeRank[g]
	return ok
}

// AtLeast reports whether g is equal to or stronger than minimum.
// Unknown grades never pass.
func (g Grade) AtLeast(minimum Grade) bool {
	gr, ok1 := gradeRank[g]
	mr, ok2 := gradeRank[minimum]
	if !ok1 || !ok2 {
		return false
	}
	return gr <= mr
}

// ParseGrade validates a raw grade string.
func ParseGrade(s string) (Grade, error) {
	g := Grade(s)
	if !g.Valid() {
		return "", fmt.Errorf("unknown grade %q", s)
	}
	return g, nil
}

// GradeSource records where a candidate's grade was extracted from.
type GradeSource string

// Grade provenance values.
const (
	GradeSourceHTML     GradeSource = "html"
	GradeSourceInferred GradeSource = "inferred"
	GradeSourceJSON     GradeSource = "json"
)

// Candidate is one ranked earnings-gap trade candidate for a report date.
// Score uses 0 as the absent sentinel; real scores are always above 5.
type Candidate struct {
	Ticker      string      `json:"ticker"`
	ReportDate  string      `json:"report_date"`
	Grade       Grade       `json:"grade"`
	GradeSource GradeSource `json:"grade_source,omitempty"`
	Score       float64     `json:"score,omitempty"`
	EntryPrice  float64     `json:"entry_price,omitempty"`
	GapSize     float64     `json:"gap_size,omitempty"`
	CompanyName string      `json:"company_name,omitempty"`
}

// HasScore reports whether the candidate carries a numeric score.
func (c *Candidate) HasScore() bool {
	return c.Score > 0
}

// ScoreAcceptable reports whether a score passes the screen. The interval is
// (5, 100]: a score of exactly 5 is rejected, 100 is accepted.
func ScoreAcceptable(score float64) bool {
	return score > 5 && score <= 100
}

// PriceAcceptable reports whether an entry price passes the (min, max] screen.
// A price of exactly max passes; exactly min does not. A non-positive max
// disables the upper bound.
func PriceAcceptable(price, minPrice, maxPrice float64) bool {
	if price <= minPrice {
		return false
	}
	if maxPrice > 0 && price > maxPrice {
		return false
	}
	return true
}
