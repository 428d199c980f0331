package models

import "testing"

func TestGradeAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		grade    Grade
		minimum  Grade
		expected bool
	}{
		{"A meets C", GradeA, GradeC, true},
		{"C meets C", GradeC, GradeC, true},
		{"D fails C", GradeD, GradeC, false},
		{"B meets D", GradeB, GradeD, true},
		{"unknown grade fails", Grade("F"), GradeD, false},
		{"unknown minimum fails", GradeA, Grade(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.grade.AtLeast(tt.minimum); got != tt.expected {
				t.Errorf("%s.AtLeast(%s) = %v, expected %v", tt.grade, tt.minimum, got, tt.expected)
			}
		})
	}
}

func TestParseGrade(t *testing.T) {
	if _, err := ParseGrade("B"); err != nil {
		t.Errorf("ParseGrade(B) unexpected error: %v", err)
	}
	if _, err := ParseGrade("E"); err == nil {
		t.Error("ParseGrade(E) expected error, got nil")
	}
}

func TestScoreAcceptable(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected bool
	}{
		{"lower bound excluded", 5, false},
		{"just above lower bound", 5.01, true},
		{"upper bound included", 100, true},
		{"above upper bound", 100.5, false},
		{"zero sentinel", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreAcceptable(tt.score); got != tt.expected {
				t.Errorf("ScoreAcceptable(%v) = %v, expected %v", tt.score, got, tt.expected)
			}
		})
	}
}

func TestPriceAcceptable(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		min, max float64
		expected bool
	}{
		{"min excluded", 5, 5, 500, false},
		{"max included", 500, 5, 500, true},
		{"inside range", 42, 5, 500, true},
		{"above max", 500.01, 5, 500, false},
		{"no cap when max unset", 10000, 5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriceAcceptable(tt.price, tt.min, tt.max); got != tt.expected {
				t.Errorf("PriceAcceptable(%v, %v, %v) = %v, expected %v",
					tt.price, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestHasScore(t *testing.T) {
	scored := Candidate{Ticker: "NVDA", Score: 87.5}
	unscored := Candidate{Ticker: "WDAY"}
	if !scored.HasScore() {
		t.Error("scored candidate should report HasScore")
	}
	if unscored.HasScore() {
		t.Error("unscored candidate should not report HasScore")
	}
}
