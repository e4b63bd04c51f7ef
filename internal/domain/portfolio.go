package domain

import "time"

// PortfolioSnapshot is a derived, on-demand view of the whole book. It is
// recomputed from the ledger and never persisted.
type PortfolioSnapshot struct {
	TotalPositions        int                `json:"total_positions"`
	TotalValue            int64              `json:"total_value"`
	TotalCost             int64              `json:"total_cost"`
	TotalPnL              int64              `json:"total_pnl"`
	TotalPnLRate          float64            `json:"total_pnl_rate"` // percent, 2dp
	PositionWeights       map[string]float64 `json:"position_weights"`
	LargestPositionWeight float64            `json:"largest_position_weight"`
	ConcentrationRisk     RiskLevel          `json:"concentration_risk"`
	DailyRealizedPnL      int64              `json:"daily_realized_pnl"`
	DailyUnrealizedPnL    int64              `json:"daily_unrealized_pnl"`
	RiskLevel             RiskLevel          `json:"risk_level"`
	ComputedAt            time.Time          `json:"computed_at"`
}

// PositionPerformance breaks one symbol's P&L into realized and unrealized
// parts over a trade-history window.
type PositionPerformance struct {
	Symbol        string  `json:"symbol"`
	MarketValue   int64   `json:"market_value"`
	CostBasis     int64   `json:"cost_basis"`
	RealizedPnL   int64   `json:"realized_pnl"`
	UnrealizedPnL int64   `json:"unrealized_pnl"`
	TotalPnL      int64   `json:"total_pnl"`
	TotalPnLRate  float64 `json:"total_pnl_rate"`
	TradeCount    int     `json:"trade_count"`
	HoldingDays   int     `json:"holding_days"`
}

// RebalanceAction says which way a position deviates from its target weight.
type RebalanceAction string

const (
	RebalanceReduce   RebalanceAction = "reduce"
	RebalanceIncrease RebalanceAction = "increase"
)

// RebalanceSuggestion flags one position whose weight deviates from the
// equal-weight target by more than the configured threshold.
type RebalanceSuggestion struct {
	Symbol        string          `json:"symbol"`
	CurrentWeight float64         `json:"current_weight"`
	TargetWeight  float64         `json:"target_weight"`
	Deviation     float64         `json:"deviation"`
	Action        RebalanceAction `json:"action"`
}

// RebalanceAdvice is the outcome of a rebalance check against the
// equal-weight baseline.
type RebalanceAdvice struct {
	Needed       bool                  `json:"needed"`
	MaxDeviation float64               `json:"max_deviation"`
	Threshold    float64               `json:"threshold"` // percentage points
	TargetWeight float64               `json:"target_weight"`
	Suggestions  []RebalanceSuggestion `json:"suggestions"`
}
