package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is the current holding of one symbol, tracked by quantity and
// weighted-average cost. All monetary amounts are integer won.
type Position struct {
	Symbol            string         `json:"symbol"`
	Quantity          int64          `json:"quantity"`
	AvgPrice          int64          `json:"avg_price"` // floor-rounded won per share
	TotalCost         int64          `json:"total_cost"`
	CurrentPrice      int64          `json:"current_price"`
	MarketValue       int64          `json:"market_value"`
	UnrealizedPnL     int64          `json:"unrealized_pnl"`
	UnrealizedPnLRate float64        `json:"unrealized_pnl_rate"` // percent, 2dp
	RealizedPnL       int64          `json:"realized_pnl"`        // cumulative across partial sells of this lot
	Status            PositionStatus `json:"status"`
	FirstOpenAt       time.Time      `json:"first_open_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsOpen reports whether the position still holds shares.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen && p.Quantity > 0
}

// Reprice recomputes the derived market fields from a new observed price.
// Prices that are zero or negative are ignored.
func (p *Position) Reprice(price int64, at time.Time) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price
	p.UnrealizedPnL = p.MarketValue - p.TotalCost
	if p.TotalCost > 0 {
		p.UnrealizedPnLRate = PnLRate(p.UnrealizedPnL, p.TotalCost)
	} else {
		p.UnrealizedPnLRate = 0
	}
	p.UpdatedAt = at
}
