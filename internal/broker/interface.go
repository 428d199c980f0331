// Package broker provides the brokerage API client used for live paper
// trading: account and clock queries, position listing, and order
// placement, polling, and cancellation.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jspahr/gapdrift/internal/models"
)

// ErrOrderNotFound is returned when the brokerage has no order for the
// requested id or client order id.
var ErrOrderNotFound = errors.New("order not found")

// APIError represents a brokerage API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Client is the brokerage surface the signal generator and executor consume.
type Client interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetClock(ctx context.Context) (*Clock, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// apiFloat decodes a JSON number that the brokerage may send as a bare
// number, a quoted string, or null.
type apiFloat float64

func (f *apiFloat) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", string(data), err)
	}
	*f = apiFloat(v)
	return nil
}

func (f apiFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}

// Account is the brokerage account snapshot.
type Account struct {
	ID            string   `json:"id"`
	AccountNumber string   `json:"account_number"`
	Status        string   `json:"status"`
	Currency      string   `json:"currency"`
	Cash          apiFloat `json:"cash"`
	BuyingPower   apiFloat `json:"buying_power"`
	Equity        apiFloat `json:"equity"`
}

// Clock is the brokerage market clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Position is one live brokerage holding.
type Position struct {
	Symbol        string   `json:"symbol"`
	Qty           apiFloat `json:"qty"`
	AvgEntryPrice apiFloat `json:"avg_entry_price"`
	MarketValue   apiFloat `json:"market_value"`
	CostBasis     apiFloat `json:"cost_basis"`
	UnrealizedPL  apiFloat `json:"unrealized_pl"`
	CurrentPrice  apiFloat `json:"current_price"`
}

// Shares returns the position quantity as a whole share count.
func (p *Position) Shares() int {
	return int(float64(p.Qty))
}

// StopLossSpec is the protective leg of a bracket order.
type StopLossSpec struct {
	StopPrice float64 `json:"stop_price"`
}

// OrderRequest is the order submission payload. Zero-valued optional fields
// are omitted from the JSON body.
type OrderRequest struct {
	Symbol        string        `json:"symbol"`
	Qty           int           `json:"qty,string"`
	Side          string        `json:"side"`
	Type          string        `json:"type"`
	TimeInForce   string        `json:"time_in_force"`
	StopPrice     *float64      `json:"stop_price,omitempty"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
	OrderClass    string        `json:"order_class,omitempty"`
	StopLoss      *StopLossSpec `json:"stop_loss,omitempty"`
}

// Order is the brokerage's view of an order. Legs is populated for bracket
// orders so the protective stop rides along with the parent.
type Order struct {
	ID             string             `json:"id"`
	ClientOrderID  string             `json:"client_order_id"`
	Symbol         string             `json:"symbol"`
	Side           string             `json:"side"`
	Type           string             `json:"type"`
	TimeInForce    string             `json:"time_in_force"`
	Qty            apiFloat           `json:"qty"`
	FilledQty      apiFloat           `json:"filled_qty"`
	FilledAvgPrice apiFloat           `json:"filled_avg_price"`
	StopPrice      apiFloat           `json:"stop_price"`
	Status         models.OrderStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	Legs           []Order            `json:"legs"`
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

// Filled reports a complete fill.
func (o *Order) Filled() bool {
	return o.Status == models.OrderStatusFilled
}

// StopLeg returns the stop leg of a bracket order, or nil.
func (o *Order) StopLeg() *Order {
	for i := range o.Legs {
		if o.Legs[i].Type == "stop" {
			return &o.Legs[i]
		}
	}
	return nil
}

// CircuitBreakerClient wraps a Client with circuit breaker protection so a
// flapping brokerage fails fast instead of being hammered by every phase.
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

var _ Client = (*CircuitBreakerClient)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // max requests when half-open
	Interval     time.Duration // reset counts interval
	Timeout      time.Duration // open circuit duration
	MinRequests  uint32        // min requests before tripping
	FailureRatio float64       // failure ratio threshold
}

// NewCircuitBreakerClient wraps client with sensible defaults.
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	return NewCircuitBreakerClientWithSettings(client, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerClientWithSettings wraps client with custom settings.
func NewCircuitBreakerClientWithSettings(client Client, settings CircuitBreakerSettings) *CircuitBreakerClient {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerageCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker funnels a typed call through the circuit breaker.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func (c *CircuitBreakerClient) GetAccount(ctx context.Context) (*Account, error) {
	return execBreaker(c.breaker, func() (*Account, error) { return c.client.GetAccount(ctx) })
}

func (c *CircuitBreakerClient) GetClock(ctx context.Context) (*Clock, error) {
	return execBreaker(c.breaker, func() (*Clock, error) { return c.client.GetClock(ctx) })
}

func (c *CircuitBreakerClient) GetPositions(ctx context.Context) ([]Position, error) {
	return execBreaker(c.breaker, func() ([]Position, error) { return c.client.GetPositions(ctx) })
}

func (c *CircuitBreakerClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return execBreaker(c.breaker, func() (*Order, error) { return c.client.PlaceOrder(ctx, req) })
}

func (c *CircuitBreakerClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return execBreaker(c.breaker, func() (*Order, error) { return c.client.GetOrder(ctx, orderID) })
}

func (c *CircuitBreakerClient) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	return execBreaker(c.breaker, func() (*Order, error) { return c.client.GetOrderByClientID(ctx, clientOrderID) })
}

func (c *CircuitBreakerClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.client.CancelOrder(ctx, orderID)
	})
	return err
}
