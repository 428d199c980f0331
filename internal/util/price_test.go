package util

import (
	"math"
	"testing"
)

func TestRoundTo(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		digits   int
		expected float64
	}{
		{
			name:     "two digits basic",
			x:        89.5512,
			digits:   2,
			expected: 89.55,
		},
		{
			name:     "tie rounds away from zero",
			x:        1.235,
			digits:   2,
			expected: 1.24,
		},
		{
			name:     "six digit indicator precision",
			x:        102.12345649,
			digits:   6,
			expected: 102.123456,
		},
		{
			name:     "six digit rounds up",
			x:        102.1234565,
			digits:   6,
			expected: 102.123457,
		},
		{
			name:     "negative value",
			x:        -1.2345,
			digits:   2,
			expected: -1.23,
		},
		{
			name:     "zero digits",
			x:        2.6,
			digits:   0,
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundTo(tt.x, tt.digits)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundTo(%v, %d) = %v, expected %v", tt.x, tt.digits, result, tt.expected)
			}
		})
	}
}

func TestRoundToNegativeDigits(t *testing.T) {
	input := 1.2345
	if result := RoundTo(input, -1); result != input {
		t.Errorf("RoundTo(%v, -1) = %v, expected input unchanged", input, result)
	}
}

func TestRoundPrice(t *testing.T) {
	if got := RoundPrice(88.0 * 0.995); math.Abs(got-87.56) > 1e-10 {
		t.Errorf("RoundPrice(88*0.995) = %v, expected 87.56", got)
	}
}

func TestShares(t *testing.T) {
	tests := []struct {
		name     string
		budget   float64
		price    float64
		expected int
	}{
		{"exact division", 1000, 100, 10},
		{"floors fraction", 1000, 333.33, 3},
		{"budget below price", 50, 100, 0},
		{"zero price", 1000, 0, 0},
		{"negative price", 1000, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Shares(tt.budget, tt.price); got != tt.expected {
				t.Errorf("Shares(%v, %v) = %d, expected %d", tt.budget, tt.price, got, tt.expected)
			}
		})
	}
}
