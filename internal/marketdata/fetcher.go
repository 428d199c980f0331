package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jspahr/gapdrift/internal/retry"
)

// Rate limit pacing between requests. The baseline interval applies until the
// upstream returns a 429, after which the degraded interval holds until the
// next successful response.
const (
	baselineInterval = 100 * time.Millisecond
	degradedInterval = 300 * time.Millisecond

	defaultFetchTimeout = 30 * time.Second
	bulkFetchWorkers    = 4
)

// APIError is an HTTP failure from the price service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("price API error %d: %s", e.Status, e.Body)
}

// Fetcher retrieves daily bars for tickers over a date range. Implementations
// must be safe for concurrent use.
type Fetcher interface {
	FetchPrices(ctx context.Context, ticker, from, to string) ([]Bar, error)
	BulkFetch(ctx context.Context, tickers []string, from, to string) (map[string][]Bar, error)
}

// HTTPFetcher fetches bars from the price service REST endpoint.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
	retry   retry.Config

	mu          sync.Mutex
	minInterval time.Duration
	nextAllowed time.Time
}

// Ensure HTTPFetcher implements Fetcher at compile time.
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher against baseURL with the default request
// timeout and retry policy.
func NewHTTPFetcher(baseURL string, logger *log.Logger) *HTTPFetcher {
	return NewHTTPFetcherWithTimeout(baseURL, defaultFetchTimeout, logger)
}

// NewHTTPFetcherWithTimeout creates a fetcher with a custom request timeout.
func NewHTTPFetcherWithTimeout(baseURL string, timeout time.Duration, logger *log.Logger) *HTTPFetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		retry:       retry.DefaultConfig,
		minInterval: baselineInterval,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (f *HTTPFetcher) WithHTTPClient(c *http.Client) *HTTPFetcher {
	if c != nil {
		f.client = c
	}
	return f
}

// WithRetryConfig overrides the retry policy.
func (f *HTTPFetcher) WithRetryConfig(cfg retry.Config) *HTTPFetcher {
	f.retry = cfg
	return f
}

// pace reserves the next request slot, sleeping as needed to keep at most one
// request per interval across all goroutines.
func (f *HTTPFetcher) pace(ctx context.Context) error {
	f.mu.Lock()
	now := time.Now()
	slot := f.nextAllowed
	if slot.Before(now) {
		slot = now
	}
	f.nextAllowed = slot.Add(f.minInterval)
	f.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *HTTPFetcher) degradeRate() {
	f.mu.Lock()
	if f.minInterval != degradedInterval {
		f.logger.Printf("Rate limited by price service, slowing to one request per %v", degradedInterval)
	}
	f.minInterval = degradedInterval
	f.mu.Unlock()
}

func (f *HTTPFetcher) restoreRate() {
	f.mu.Lock()
	f.minInterval = baselineInterval
	f.mu.Unlock()
}

type barsResponse struct {
	Ticker string `json:"ticker"`
	Bars   []Bar  `json:"bars"`
}

// FetchPrices retrieves the daily bars for one ticker in [from, to],
// retrying transient failures with exponential backoff.
func (f *HTTPFetcher) FetchPrices(ctx context.Context, ticker, from, to string) ([]Bar, error) {
	var bars []Bar
	err := retry.Do(ctx, f.logger, f.retry, "fetch "+ticker, func() error {
		if err := f.pace(ctx); err != nil {
			return err
		}
		got, err := f.fetchOnce(ctx, ticker, from, to)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
				f.degradeRate()
			}
			return err
		}
		f.restoreRate()
		bars = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, ticker, from, to string) ([]Bar, error) {
	endpoint := fmt.Sprintf("%s/v1/daily/%s?%s", f.baseURL, url.PathEscape(ticker),
		url.Values{"from": {from}, "to": {to}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if readErr != nil {
			return nil, &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding bars for %s: %w", ticker, err)
	}

	kept := parsed.Bars[:0]
	for i := range parsed.Bars {
		if err := parsed.Bars[i].Validate(); err != nil {
			f.logger.Printf("Dropping bar for %s: %v", ticker, err)
			continue
		}
		kept = append(kept, parsed.Bars[i])
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Date < kept[j].Date })
	return kept, nil
}

// BulkFetch retrieves bars for several tickers concurrently. Tickers that
// fail are omitted from the result; the combined error reports them.
func (f *HTTPFetcher) BulkFetch(ctx context.Context, tickers []string, from, to string) (map[string][]Bar, error) {
	var mu sync.Mutex
	results := make(map[string][]Bar, len(tickers))
	failures := make([]error, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkFetchWorkers)

	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			bars, err := f.FetchPrices(gctx, ticker, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", ticker, err))
				return nil
			}
			results[ticker] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if len(failures) > 0 && len(results) == 0 {
		return results, fmt.Errorf("bulk fetch failed for all %d tickers: %w", len(tickers), errors.Join(failures...))
	}
	for _, err := range failures {
		f.logger.Printf("Bulk fetch: %v", err)
	}
	return results, nil
}
