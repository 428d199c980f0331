package models

import "fmt"

// OrderStatus is the brokerage lifecycle status of an order.
type OrderStatus string

// Order lifecycle statuses. Anything not in the terminal set is still
// eligible for polling.
const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusDoneForDay      OrderStatus = "done_for_day"
	OrderStatusSuspended       OrderStatus = "suspended"
)

// TerminalOrderStatuses is the closed set of statuses after which an order
// can never fill.
var TerminalOrderStatuses = []OrderStatus{
	OrderStatusFilled,
	OrderStatusCanceled,
	OrderStatusExpired,
	OrderStatusRejected,
	OrderStatusDoneForDay,
	OrderStatusSuspended,
}

// Terminal reports whether s is a final order status.
func (s OrderStatus) Terminal() bool {
	for _, t := range TerminalOrderStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// OrderSide is the direction of an order.
type OrderSide string

// Order sides.
const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderIntent classifies what an order is for.
type OrderIntent string

// Order intents.
const (
	IntentEntry OrderIntent = "entry"
	IntentExit  OrderIntent = "exit"
	IntentStop  OrderIntent = "stop"
)

// OrderKind is the suffix of a client order id.
type OrderKind string

// Client order id kinds.
const (
	KindEntryBuy      OrderKind = "entry_buy"
	KindExitSell      OrderKind = "exit_sell"
	KindStopSell      OrderKind = "stop_sell"
	KindStopSellRetry OrderKind = "stop_sell_retry"
)

// ClientOrderID builds the deterministic client order id for a trade date,
// ticker, and kind. The id doubles as the idempotency key for placement.
func ClientOrderID(tradeDate, ticker string, kind OrderKind) string {
	return fmt.Sprintf("%s_%s_%s", tradeDate, ticker, kind)
}
