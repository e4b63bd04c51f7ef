package domain

import "time"

// RecommendedAction is the upstream layer's verdict on a symbol.
type RecommendedAction string

const (
	ActionBuy  RecommendedAction = "buy"
	ActionSell RecommendedAction = "sell"
	ActionHold RecommendedAction = "hold"
)

// TradeSignal is the single call surface accepted from the upstream
// signal/scoring layer. Price is zero when the upstream leaves execution at
// market.
type TradeSignal struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Symbol    string            `json:"symbol"`
	Action    RecommendedAction `json:"action"`
	Quantity  int64             `json:"quantity"`
	Price     int64             `json:"price,omitempty"`
	Kind      OrderKind         `json:"kind"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
