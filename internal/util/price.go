// Package util provides common utility functions for price and date calculations.
package util

import "math"

// RoundTo rounds x to the given number of fractional digits.
// Indicator math relies on this for run-to-run determinism.
func RoundTo(x float64, digits int) float64 {
	if digits < 0 {
		return x
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(x*pow) / pow
}

// RoundPrice rounds x to cents.
func RoundPrice(x float64) float64 {
	return RoundTo(x, 2)
}

// Shares returns the whole number of shares a budget buys at price.
// Returns 0 when price is not positive.
func Shares(budget, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(budget / price))
}
