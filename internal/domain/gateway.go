package domain

import (
	"context"
	"time"
)

// Quote is one observed price for a symbol.
type Quote struct {
	Symbol    string
	Price     int64
	Timestamp time.Time
}

// PlaceOrderRequest is a broker order submission. Price is ignored for
// market orders.
type PlaceOrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity int64
	Price    int64
	Kind     OrderKind
}

// PlaceOrderResult is the broker's answer to a submission. A rejected order
// has Success=false and Error set; transport failures surface as Go errors
// instead.
type PlaceOrderResult struct {
	Success        bool
	BrokerOrderID  string
	FilledQuantity int64
	AveragePrice   int64
	Error          string
}

// BrokerOrderStatus is the broker's view of an order's progress.
type BrokerOrderStatus struct {
	Status            OrderStatus
	FilledQuantity    int64
	RemainingQuantity int64
	AveragePrice      int64
}

// AccountBalance is the cash available for new buys.
type AccountBalance struct {
	AvailableCash int64
}

// MarketGateway is the broker-facing collaborator. Implementations own
// authentication, connection pooling, rate limiting, and per-call timeouts;
// callers treat every method as a suspension point.
type MarketGateway interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (BrokerOrderStatus, error)
	GetAccountBalance(ctx context.Context) (AccountBalance, error)
	GetHoldings(ctx context.Context) (map[string]int64, error)
}
