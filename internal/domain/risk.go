package domain

import "time"

// RiskLevel is the coarse risk rating used for positions, the daily P&L, and
// the portfolio as a whole.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PositionRisk is the per-position component of a risk assessment.
type PositionRisk struct {
	Symbol            string    `json:"symbol"`
	Level             RiskLevel `json:"level"`
	Score             int       `json:"score"`
	UnrealizedPnL     int64     `json:"unrealized_pnl"`
	UnrealizedPnLRate float64   `json:"unrealized_pnl_rate"`
	MarketValue       int64     `json:"market_value"`
	HasStopRule       bool      `json:"has_stop_rule"`
}

// RiskAssessment is the combined portfolio/daily/per-position risk picture.
type RiskAssessment struct {
	OverallLevel    RiskLevel               `json:"overall_level"`
	PortfolioValue  int64                   `json:"portfolio_value"`
	TotalPnL        int64                   `json:"total_pnl"`
	DailyPnL        int64                   `json:"daily_pnl"`
	DailyRisk       RiskLevel               `json:"daily_risk"`
	PositionRisks   map[string]PositionRisk `json:"position_risks"`
	Recommendations []string                `json:"recommendations"`
	Timestamp       time.Time               `json:"timestamp"`
}

// EmergencyActionType names what kind of breach was detected.
type EmergencyActionType string

const (
	EmergencyDailyLossLimit    EmergencyActionType = "daily_loss_limit"
	EmergencyPositionLossLimit EmergencyActionType = "position_loss_limit"
)

// EmergencyResponse is the corrective measure an emergency action demands.
type EmergencyResponse string

const (
	ResponseHaltTrading        EmergencyResponse = "halt_trading"
	ResponseForceClosePosition EmergencyResponse = "force_close_position"
	ResponseReducePositions    EmergencyResponse = "reduce_positions"
)

// EmergencyAction is one detected breach plus its demanded response. Symbol
// is empty for portfolio-wide actions.
type EmergencyAction struct {
	Type     EmergencyActionType `json:"type"`
	Response EmergencyResponse   `json:"response"`
	Symbol   string              `json:"symbol,omitempty"`
	Message  string              `json:"message"`
}

// EmergencyCheck is the outcome of one emergency-condition sweep.
type EmergencyCheck struct {
	Detected  bool              `json:"detected"`
	Actions   []EmergencyAction `json:"actions"`
	DailyPnL  int64             `json:"daily_pnl"`
	Timestamp time.Time         `json:"timestamp"`
}
