package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PaperBaseURL is the default paper-trading endpoint.
const PaperBaseURL = "https://paper-api.alpaca.markets"

// ErrLiveEndpoint is returned when a non-paper base URL is configured
// without the explicit live-trading opt-in.
var ErrLiveEndpoint = errors.New("live brokerage endpoint requires explicit opt-in")

// AlpacaClient talks to the Alpaca trading API.
type AlpacaClient struct {
	client    *http.Client
	apiKey    string
	apiSecret string
	baseURL   string
	timeout   time.Duration
}

var _ Client = (*AlpacaClient)(nil)

// NewAlpacaClient creates a client against the paper-trading endpoint.
func NewAlpacaClient(apiKey, apiSecret string) *AlpacaClient {
	c, _ := NewAlpacaClientWithBaseURL(apiKey, apiSecret, PaperBaseURL, false)
	return c
}

// NewAlpacaClientWithBaseURL creates a client against a custom base URL.
// A URL that is not a paper or loopback endpoint is refused unless
// allowLive is set, so a misconfigured executor cannot trade real money.
func NewAlpacaClientWithBaseURL(apiKey, apiSecret, baseURL string, allowLive bool) (*AlpacaClient, error) {
	if baseURL == "" {
		baseURL = PaperBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if !allowLive && !isPaperEndpoint(baseURL) {
		return nil, fmt.Errorf("%w: %s", ErrLiveEndpoint, baseURL)
	}

	defaultTimeout := 30 * time.Second
	return &AlpacaClient{
		client:    &http.Client{Timeout: defaultTimeout},
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		timeout:   defaultTimeout,
	}, nil
}

// isPaperEndpoint reports whether baseURL cannot reach a live account:
// Alpaca paper hosts or loopback addresses used by tests.
func isPaperEndpoint(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.Contains(host, "paper") {
		return true
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (a *AlpacaClient) WithHTTPClient(c *http.Client) *AlpacaClient {
	if c != nil {
		a.client = c
	}
	return a
}

// WithTimeout sets the HTTP client timeout duration.
func (a *AlpacaClient) WithTimeout(timeout time.Duration) *AlpacaClient {
	if timeout > 0 {
		a.timeout = timeout
		a.client.Timeout = timeout
	}
	return a
}

// GetAccount returns the account snapshot.
func (a *AlpacaClient) GetAccount(ctx context.Context) (*Account, error) {
	var account Account
	if err := a.makeRequestCtx(ctx, http.MethodGet, "/v2/account", nil, &account); err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &account, nil
}

// GetClock returns the market clock.
func (a *AlpacaClient) GetClock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := a.makeRequestCtx(ctx, http.MethodGet, "/v2/clock", nil, &clock); err != nil {
		return nil, fmt.Errorf("failed to fetch market clock: %w", err)
	}
	return &clock, nil
}

// GetPositions returns all open brokerage positions.
func (a *AlpacaClient) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := a.makeRequestCtx(ctx, http.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return positions, nil
}

// PlaceOrder submits an order and returns the brokerage's record of it.
func (a *AlpacaClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Symbol == "" {
		return nil, errors.New("order symbol is required")
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("order quantity must be positive, got %d", req.Qty)
	}
	var order Order
	if err := a.makeRequestCtx(ctx, http.MethodPost, "/v2/orders", req, &order); err != nil {
		return nil, fmt.Errorf("failed to place %s %s order for %s: %w", req.Side, req.Type, req.Symbol, err)
	}
	return &order, nil
}

// GetOrder fetches an order by brokerage order id.
func (a *AlpacaClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	endpoint := "/v2/orders/" + url.PathEscape(orderID)
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &order); err != nil {
		return nil, mapNotFound(err, orderID)
	}
	return &order, nil
}

// GetOrderByClientID fetches an order by the caller-assigned client order id.
// Returns ErrOrderNotFound when the brokerage has never seen the id.
func (a *AlpacaClient) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	var order Order
	endpoint := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &order); err != nil {
		return nil, mapNotFound(err, clientOrderID)
	}
	return &order, nil
}

// CancelOrder requests cancellation. Cancelling an order that already
// reached a terminal state surfaces the brokerage error unchanged so the
// caller can inspect the final status.
func (a *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := "/v2/orders/" + url.PathEscape(orderID)
	if err := a.makeRequestCtx(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return mapNotFound(err, orderID)
	}
	return nil
}

// mapNotFound converts a 404 APIError into ErrOrderNotFound.
func mapNotFound(err error, id string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return err
}

// makeRequestCtx makes an HTTP request with context support for
// timeout/cancellation. body, when non-nil, is marshaled as JSON.
func (a *AlpacaClient) makeRequestCtx(ctx context.Context, method, endpoint string,
	body interface{}, response interface{}) error {
	var req *http.Request
	var err error

	fullURL := a.baseURL + endpoint
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("failed to encode request body: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(string(payload)))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("APCA-API-KEY-ID", a.apiKey)
	req.Header.Add("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "gapdrift/1.0 (+alpaca)")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			// Log error but don't fail the operation
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		errBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(errBody), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(errBody))}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
