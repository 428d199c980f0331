// Package mock provides deterministic market data fakes for tests and the
// smoke harness: an in-memory Fetcher and synthetic daily-bar generators.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jspahr/gapdrift/internal/marketdata"
)

// FakeFetcher serves bars from an in-memory map, windowed by the requested
// date range. Per-ticker errors can be injected for failure paths.
type FakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]marketdata.Bar
	errs  map[string]error
	calls int
}

// Ensure FakeFetcher implements the fetcher capability set at compile time.
var _ marketdata.Fetcher = (*FakeFetcher)(nil)

// NewFakeFetcher creates a fetcher over the given per-ticker bars.
func NewFakeFetcher(data map[string][]marketdata.Bar) *FakeFetcher {
	return &FakeFetcher{
		data: data,
		errs: make(map[string]error),
	}
}

// FailTicker makes subsequent fetches for ticker return err.
func (f *FakeFetcher) FailTicker(ticker string, err error) {
	f.mu.Lock()
	f.errs[ticker] = err
	f.mu.Unlock()
}

// Calls returns how many fetches have been served.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FetchPrices returns the stored bars for ticker within [from, to].
func (f *FakeFetcher) FetchPrices(_ context.Context, ticker, from, to string) ([]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	bars, ok := f.data[ticker]
	if !ok {
		return nil, fmt.Errorf("no data for ticker %s", ticker)
	}

	window := make([]marketdata.Bar, 0, len(bars))
	for _, b := range bars {
		if (from == "" || b.Date >= from) && (to == "" || b.Date <= to) {
			window = append(window, b)
		}
	}
	return window, nil
}

// BulkFetch fetches each ticker in turn, omitting failures.
func (f *FakeFetcher) BulkFetch(ctx context.Context, tickers []string, from, to string) (map[string][]marketdata.Bar, error) {
	results := make(map[string][]marketdata.Bar, len(tickers))
	for _, ticker := range tickers {
		bars, err := f.FetchPrices(ctx, ticker, from, to)
		if err != nil {
			continue
		}
		results[ticker] = bars
	}
	return results, nil
}

// GenerateBars produces a deterministic weekday-only daily series starting at
// startDate. Each bar drifts by dailyDrift from the previous close, with a
// fixed intraday range around it.
func GenerateBars(startDate string, days int, startPrice, dailyDrift float64) []marketdata.Bar {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil
	}

	bars := make([]marketdata.Bar, 0, days)
	price := startPrice
	day := start
	for len(bars) < days {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open := price
			closePx := price + dailyDrift
			high := maxFloat(open, closePx) * 1.01
			low := minFloat(open, closePx) * 0.99
			bars = append(bars, marketdata.Bar{
				Date:   day.Format("2006-01-02"),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePx,
				Volume: 1_000_000,
			})
			price = closePx
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

// GenerateBarsWithDrop produces an uptrending series that gaps down to
// dropPrice on the bar at dropIndex and stays flat afterwards. Used to build
// trend-break fixtures.
func GenerateBarsWithDrop(startDate string, days int, startPrice, dailyDrift float64, dropIndex int, dropPrice float64) []marketdata.Bar {
	bars := GenerateBars(startDate, days, startPrice, dailyDrift)
	for i := dropIndex; i < len(bars); i++ {
		bars[i].Open = dropPrice
		bars[i].High = dropPrice * 1.01
		bars[i].Low = dropPrice * 0.99
		bars[i].Close = dropPrice
	}
	return bars
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
