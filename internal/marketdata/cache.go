package marketdata

import (
	"context"
	"sync"
)

// CachedFetcher memoizes FetchPrices results keyed by (ticker, from, to).
// Prefetch warms the cache for a ticker set in one bulk round trip so that
// the per-position evaluation loop never waits on the network twice.
type CachedFetcher struct {
	underlying Fetcher

	mu    sync.RWMutex
	cache map[cacheKey][]Bar
}

type cacheKey struct {
	ticker, from, to string
}

// Ensure CachedFetcher implements Fetcher at compile time.
var _ Fetcher = (*CachedFetcher)(nil)

// NewCachedFetcher wraps a Fetcher with memoization.
func NewCachedFetcher(underlying Fetcher) *CachedFetcher {
	return &CachedFetcher{
		underlying: underlying,
		cache:      make(map[cacheKey][]Bar),
	}
}

// Prefetch bulk-loads the given tickers into the cache. Tickers the upstream
// could not serve are left uncached and will be fetched on demand.
func (c *CachedFetcher) Prefetch(ctx context.Context, tickers []string, from, to string) error {
	if len(tickers) == 0 {
		return nil
	}
	results, err := c.underlying.BulkFetch(ctx, tickers, from, to)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for ticker, bars := range results {
		c.cache[cacheKey{ticker, from, to}] = bars
	}
	c.mu.Unlock()
	return nil
}

// FetchPrices serves from the cache when possible, otherwise delegates.
func (c *CachedFetcher) FetchPrices(ctx context.Context, ticker, from, to string) ([]Bar, error) {
	key := cacheKey{ticker, from, to}
	c.mu.RLock()
	bars, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return bars, nil
	}

	bars, err := c.underlying.FetchPrices(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = bars
	c.mu.Unlock()
	return bars, nil
}

// BulkFetch delegates to the underlying fetcher and caches the results.
func (c *CachedFetcher) BulkFetch(ctx context.Context, tickers []string, from, to string) (map[string][]Bar, error) {
	results, err := c.underlying.BulkFetch(ctx, tickers, from, to)
	if err != nil {
		return results, err
	}
	c.mu.Lock()
	for ticker, bars := range results {
		c.cache[cacheKey{ticker, from, to}] = bars
	}
	c.mu.Unlock()
	return results, nil
}
