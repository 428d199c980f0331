// Package marketdata provides the date-indexed price store and the HTTP
// fetcher for daily bars.
package marketdata

import (
	"fmt"

	"github.com/jspahr/gapdrift/internal/util"
)

// Bar is one trading day of OHLCV data for a ticker. AdjClose is optional;
// when absent or non-positive, raw close stands in and the adjustment factor
// collapses to 1.
type Bar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close,omitempty"`
	Volume   int64   `json:"volume"`
}

// Validate checks the bar's date format and the high/low ordering.
func (b *Bar) Validate() error {
	if !util.ValidDate(b.Date) {
		return fmt.Errorf("bar has invalid date %q", b.Date)
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s: high %.4f below low %.4f", b.Date, b.High, b.Low)
	}
	return nil
}

// HasOHLC reports whether all four raw price fields are positive.
func (b *Bar) HasOHLC() bool {
	return b.Open > 0 && b.High > 0 && b.Low > 0 && b.Close > 0
}

// AdjFactor returns adj_close/close, or 1 when either value is unusable.
func (b *Bar) AdjFactor() float64 {
	if b.AdjClose <= 0 || b.Close <= 0 {
		return 1
	}
	return b.AdjClose / b.Close
}

// AdjustedOpen returns the split/dividend adjusted open.
func (b *Bar) AdjustedOpen() float64 { return b.Open * b.AdjFactor() }

// AdjustedHigh returns the split/dividend adjusted high.
func (b *Bar) AdjustedHigh() float64 { return b.High * b.AdjFactor() }

// AdjustedLow returns the split/dividend adjusted low.
func (b *Bar) AdjustedLow() float64 { return b.Low * b.AdjFactor() }

// AdjustedClose returns adj_close when present, otherwise raw close.
func (b *Bar) AdjustedClose() float64 {
	if b.AdjClose > 0 {
		return b.AdjClose
	}
	return b.Close
}
