package domain

import "time"

// StopKind is how a stop rule derives its trigger.
type StopKind string

const (
	StopKindFixed      StopKind = "fixed"
	StopKindPercentage StopKind = "percentage"
	StopKindTrailing   StopKind = "trailing"
)

// StopRuleState is the rule lifecycle: inactive -> active -> triggered or
// cancelled. Rules are deactivated, never deleted.
type StopRuleState string

const (
	StopRuleInactive  StopRuleState = "inactive"
	StopRuleActive    StopRuleState = "active"
	StopRuleTriggered StopRuleState = "triggered"
	StopRuleCancelled StopRuleState = "cancelled"
)

// StopRule is one protective rule covering (part of) a symbol's open
// position. TakeProfitPrice is zero when the rule carries no take-profit leg.
// For trailing rules TrailDistance is the fixed won gap the trigger keeps
// below the highest observed price; the trigger only ever rises.
type StopRule struct {
	Symbol            string        `json:"symbol"`
	Kind              StopKind      `json:"kind"`
	TriggerPrice      int64         `json:"trigger_price"`
	TakeProfitPrice   int64         `json:"take_profit_price,omitempty"`
	TrailDistance     int64         `json:"trail_distance,omitempty"`
	LastObservedPrice int64         `json:"last_observed_price"`
	QuantityCovered   int64         `json:"quantity_covered"`
	State             StopRuleState `json:"state"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Active reports whether the rule should still be evaluated.
func (r StopRule) Active() bool {
	return r.State == StopRuleActive
}
