package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind indicates market or limit execution.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus tracks the order lifecycle. Filled, cancelled, and failed are
// terminal; a terminal order is never mutated again.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// TradeRecord is one order submission attempt as persisted in the ledger
// store. RequestedPrice is zero for market orders.
type TradeRecord struct {
	ID                string      `json:"id"`
	Symbol            string      `json:"symbol"`
	Side              OrderSide   `json:"side"`
	Kind              OrderKind   `json:"kind"`
	RequestedQuantity int64       `json:"requested_quantity"`
	RequestedPrice    int64       `json:"requested_price"`
	FilledQuantity    int64       `json:"filled_quantity"`
	AverageFillPrice  int64       `json:"average_fill_price"`
	Commission        int64       `json:"commission"`
	RealizedPnL       int64       `json:"realized_pnl"` // non-zero only for sells
	Status            OrderStatus `json:"status"`
	BrokerOrderID     string      `json:"broker_order_id"`
	Simulated         bool        `json:"simulated"`
	SubmittedAt       time.Time   `json:"submitted_at"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
}

// OrderResult is what every execute/cancel call returns to the caller. It
// carries enough context to reconstruct what was attempted; expected failures
// set Success=false and Reason instead of returning an error.
type OrderResult struct {
	Success           bool        `json:"success"`
	OrderID           string      `json:"order_id,omitempty"`
	BrokerOrderID     string      `json:"broker_order_id,omitempty"`
	Symbol            string      `json:"symbol"`
	Side              OrderSide   `json:"side"`
	Status            OrderStatus `json:"status"`
	RequestedQuantity int64       `json:"requested_quantity"`
	RequestedPrice    int64       `json:"requested_price,omitempty"`
	FilledQuantity    int64       `json:"filled_quantity"`
	AverageFillPrice  int64       `json:"average_fill_price"`
	Reason            string      `json:"reason,omitempty"`
	Simulated         bool        `json:"simulated,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// OrderStatusInfo is the normalized answer to a status query.
type OrderStatusInfo struct {
	OrderID           string      `json:"order_id"`
	BrokerOrderID     string      `json:"broker_order_id"`
	Status            OrderStatus `json:"status"`
	FilledQuantity    int64       `json:"filled_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	AveragePrice      int64       `json:"average_price"`
}
