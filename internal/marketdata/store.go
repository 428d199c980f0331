package marketdata

import (
	"log"
	"os"
	"sort"
)

// Store holds per-ticker daily bars ordered by date, with O(1) date lookup
// and the union of all trading dates across tickers. It is immutable after
// construction and safe for concurrent reads.
type Store struct {
	bars    map[string][]Bar
	index   map[string]map[string]int
	dates   []string
	tickers []string
}

// NewStore builds a Store from raw per-ticker bars. Bars are sorted by date;
// bars with high < low or a malformed date are dropped with a log note.
func NewStore(data map[string][]Bar, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	s := &Store{
		bars:  make(map[string][]Bar, len(data)),
		index: make(map[string]map[string]int, len(data)),
	}

	dateSet := make(map[string]struct{})
	for ticker, bars := range data {
		kept := make([]Bar, 0, len(bars))
		for i := range bars {
			if err := bars[i].Validate(); err != nil {
				logger.Printf("Dropping bar for %s: %v", ticker, err)
				continue
			}
			kept = append(kept, bars[i])
		}
		if len(kept) == 0 {
			continue
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].Date < kept[j].Date })

		idx := make(map[string]int, len(kept))
		for i := range kept {
			idx[kept[i].Date] = i
			dateSet[kept[i].Date] = struct{}{}
		}
		s.bars[ticker] = kept
		s.index[ticker] = idx
		s.tickers = append(s.tickers, ticker)
	}

	sort.Strings(s.tickers)
	s.dates = make([]string, 0, len(dateSet))
	for d := range dateSet {
		s.dates = append(s.dates, d)
	}
	sort.Strings(s.dates)

	return s
}

// Bar returns the bar for ticker on date, if there is one.
func (s *Store) Bar(ticker, date string) (Bar, bool) {
	idx, ok := s.index[ticker]
	if !ok {
		return Bar{}, false
	}
	i, ok := idx[date]
	if !ok {
		return Bar{}, false
	}
	return s.bars[ticker][i], true
}

// Bars returns the full ordered bar sequence for ticker.
func (s *Store) Bars(ticker string) []Bar {
	return s.bars[ticker]
}

// BarsUpTo returns the prefix of bars on or before date.
func (s *Store) BarsUpTo(ticker, date string) []Bar {
	bars := s.bars[ticker]
	n := sort.Search(len(bars), func(i int) bool { return bars[i].Date > date })
	return bars[:n]
}

// PrevClose returns the nearest adjusted close strictly before date.
func (s *Store) PrevClose(ticker, date string) (float64, bool) {
	bars := s.bars[ticker]
	n := sort.Search(len(bars), func(i int) bool { return bars[i].Date >= date })
	if n == 0 {
		return 0, false
	}
	return bars[n-1].AdjustedClose(), true
}

// TradingDates returns the ascending union of all dates across tickers.
func (s *Store) TradingDates() []string {
	return s.dates
}

// Tickers returns the sorted ticker universe.
func (s *Store) Tickers() []string {
	return s.tickers
}

// HasTicker reports whether the store holds any bars for ticker.
func (s *Store) HasTicker(ticker string) bool {
	_, ok := s.bars[ticker]
	return ok
}
