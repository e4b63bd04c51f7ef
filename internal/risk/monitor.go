// Package risk watches open positions for stop and take-profit triggers,
// scores the portfolio, and fires emergency actions when loss limits are
// breached. It never mutates positions directly; every corrective action goes
// through the order executor.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
	"github.com/alanyoungcy/stocktradebot/internal/ledger"
)

// OrderExecutor is the slice of the executor the monitor needs: selling to
// unwind positions and the emergency halt.
type OrderExecutor interface {
	ExecuteSell(ctx context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error)
	Halt()
	Halted() bool
}

// Config holds the monitor's loss limits and sweep cadence.
type Config struct {
	// CheckInterval is the sweep cadence for stop rules and emergencies.
	CheckInterval time.Duration
	// MaxDailyLoss is the daily realized+unrealized loss, in won, beyond
	// which trading is halted.
	MaxDailyLoss int64
	// MaxPositionLoss is the per-position unrealized loss, in won, beyond
	// which the position is force-closed.
	MaxPositionLoss int64
	// DefaultStopPct and DefaultTakePct drive SetupAutomaticStop, in percent
	// below/above the average entry price.
	DefaultStopPct float64
	DefaultTakePct float64
}

// Monitor is the risk monitor. It reads prices from the cache first and falls
// back to the gateway, so a healthy feed keeps sweeps off the broker API.
type Monitor struct {
	ledger  *ledger.Ledger
	exec    OrderExecutor
	rules   *RuleBook
	prices  domain.PriceCache // optional
	gateway domain.MarketGateway
	bus     domain.SignalBus // optional
	cfg     Config
	logger  *slog.Logger

	enabled atomic.Bool

	// episodeMu guards the emergency dedup set: one action per breach
	// episode, cleared when the breach is no longer observed.
	episodeMu sync.Mutex
	episodes  map[string]bool
}

// New creates a Monitor. prices and bus may be nil.
func New(
	ldg *ledger.Ledger,
	exec OrderExecutor,
	rules *RuleBook,
	prices domain.PriceCache,
	gateway domain.MarketGateway,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.DefaultStopPct <= 0 {
		cfg.DefaultStopPct = 5.0
	}
	if cfg.DefaultTakePct <= 0 {
		cfg.DefaultTakePct = 10.0
	}
	m := &Monitor{
		ledger:   ldg,
		exec:     exec,
		rules:    rules,
		prices:   prices,
		gateway:  gateway,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "risk_monitor")),
		episodes: make(map[string]bool),
	}
	m.enabled.Store(true)
	return m
}

// Enabled reports whether sweeps act on what they find.
func (m *Monitor) Enabled() bool { return m.enabled.Load() }

// Enable turns sweep actions back on.
func (m *Monitor) Enable() {
	m.enabled.Store(true)
	m.logger.Info("risk: monitoring enabled")
}

// Disable stops sweeps from acting. Assessment endpoints keep working.
func (m *Monitor) Disable() {
	m.enabled.Store(false)
	m.logger.Warn("risk: monitoring disabled")
}

// ResetEmergencyState clears the breach-episode dedup set. Called when the
// operator resumes trading so a recurring breach acts again.
func (m *Monitor) ResetEmergencyState() {
	m.episodeMu.Lock()
	m.episodes = make(map[string]bool)
	m.episodeMu.Unlock()
}

// Run is the monitor loop: one sweep per tick until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "risk: monitor started",
		slog.Duration("interval", m.cfg.CheckInterval),
	)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "risk: monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one monitoring pass. Errors are logged and the loop keeps going.
func (m *Monitor) sweep(ctx context.Context) {
	if !m.enabled.Load() {
		return
	}
	if err := m.MonitorStopRules(ctx); err != nil {
		m.logger.ErrorContext(ctx, "risk: stop rule sweep failed", slog.String("error", err.Error()))
	}
	check, err := m.CheckEmergencyConditions(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "risk: emergency check failed", slog.String("error", err.Error()))
		return
	}
	if check.Detected {
		m.ExecuteEmergencyActions(ctx, check)
	}
}

// ---------------------------------------------------------------------------
// stop rules
// ---------------------------------------------------------------------------

// SetupStopRule installs a protective rule for a symbol with an open
// position. A fixed or percentage rule needs triggerPrice; a trailing rule
// needs trailDistance and seeds its trigger from the current price.
func (m *Monitor) SetupStopRule(ctx context.Context, symbol string, kind domain.StopKind, triggerPrice, takeProfitPrice, trailDistance int64) (domain.StopRule, error) {
	pos, err := m.ledger.GetPosition(ctx, symbol)
	if err != nil {
		return domain.StopRule{}, err
	}
	if !pos.IsOpen() {
		return domain.StopRule{}, domain.ErrInsufficientHoldings
	}

	now := time.Now().UTC()
	rule := domain.StopRule{
		Symbol:          symbol,
		Kind:            kind,
		TriggerPrice:    triggerPrice,
		TakeProfitPrice: takeProfitPrice,
		QuantityCovered: pos.Quantity,
		State:           domain.StopRuleActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch kind {
	case domain.StopKindFixed, domain.StopKindPercentage:
		if triggerPrice <= 0 {
			return domain.StopRule{}, domain.ErrInvalidPrice
		}
	case domain.StopKindTrailing:
		if trailDistance <= 0 {
			return domain.StopRule{}, domain.ErrInvalidPrice
		}
		price, pErr := m.currentPrice(ctx, symbol)
		if pErr != nil {
			return domain.StopRule{}, pErr
		}
		rule.TrailDistance = trailDistance
		rule.TriggerPrice = price - trailDistance
		rule.LastObservedPrice = price
	default:
		return domain.StopRule{}, fmt.Errorf("risk: unknown stop kind %q", kind)
	}

	m.rules.Put(ctx, rule)
	m.logger.InfoContext(ctx, "risk: stop rule installed",
		slog.String("symbol", symbol),
		slog.String("kind", string(kind)),
		slog.Int64("trigger", rule.TriggerPrice),
		slog.Int64("take_profit", rule.TakeProfitPrice),
	)
	return rule, nil
}

// SetupAutomaticStop installs a percentage rule derived from the position's
// average entry price: stop at avg*(1-stopPct/100), take at
// avg*(1+takePct/100). Zero percentages use the configured defaults.
func (m *Monitor) SetupAutomaticStop(ctx context.Context, symbol string, stopPct, takePct float64) (domain.StopRule, error) {
	if stopPct <= 0 {
		stopPct = m.cfg.DefaultStopPct
	}
	if takePct <= 0 {
		takePct = m.cfg.DefaultTakePct
	}

	pos, err := m.ledger.GetPosition(ctx, symbol)
	if err != nil {
		return domain.StopRule{}, err
	}
	if !pos.IsOpen() {
		return domain.StopRule{}, domain.ErrInsufficientHoldings
	}

	stop := int64(float64(pos.AvgPrice) * (1 - stopPct/100))
	take := int64(float64(pos.AvgPrice) * (1 + takePct/100))
	return m.SetupStopRule(ctx, symbol, domain.StopKindPercentage, stop, take, 0)
}

// CancelStopRule deactivates the symbol's rule without selling anything.
func (m *Monitor) CancelStopRule(ctx context.Context, symbol string) {
	m.rules.Deactivate(ctx, symbol, domain.StopRuleCancelled)
}

// MonitorStopRules runs one pass over the active rules. For each rule the
// current price is compared against the trigger and take-profit levels; a hit
// unwinds the covered quantity via a market sell, and the rule is marked
// triggered only after the sell succeeds.
func (m *Monitor) MonitorStopRules(ctx context.Context) error {
	active := m.rules.ActiveRules()
	if len(active) == 0 {
		return nil
	}

	for symbol, rule := range active {
		pos, err := m.ledger.GetPosition(ctx, symbol)
		if err != nil || !pos.IsOpen() {
			// Position gone: the rule has nothing left to protect.
			m.rules.Deactivate(ctx, symbol, domain.StopRuleCancelled)
			continue
		}

		price, err := m.currentPrice(ctx, symbol)
		if err != nil {
			m.logger.WarnContext(ctx, "risk: price unavailable, rule skipped",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		if rule.Kind == domain.StopKindTrailing {
			rule = m.ratchetTrailing(ctx, rule, price)
		}

		switch {
		case price <= rule.TriggerPrice:
			m.fireRule(ctx, rule, pos, price, "stop_loss")
		case rule.TakeProfitPrice > 0 && price >= rule.TakeProfitPrice:
			m.fireRule(ctx, rule, pos, price, "take_profit")
		}
	}
	return nil
}

// ratchetTrailing raises a trailing rule's trigger when a new high is
// observed. The trigger never moves down.
func (m *Monitor) ratchetTrailing(ctx context.Context, rule domain.StopRule, price int64) domain.StopRule {
	if price <= rule.LastObservedPrice {
		return rule
	}
	rule.LastObservedPrice = price
	if next := price - rule.TrailDistance; next > rule.TriggerPrice {
		m.logger.InfoContext(ctx, "risk: trailing stop raised",
			slog.String("symbol", rule.Symbol),
			slog.Int64("trigger", next),
			slog.Int64("price", price),
		)
		rule.TriggerPrice = next
	}
	rule.UpdatedAt = time.Now().UTC()
	m.rules.Put(ctx, rule)
	return rule
}

// fireRule unwinds the covered quantity at market. The rule transitions to
// triggered only when the sell is accepted; otherwise it stays active and the
// next sweep retries.
func (m *Monitor) fireRule(ctx context.Context, rule domain.StopRule, pos domain.Position, price int64, cause string) {
	quantity := rule.QuantityCovered
	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}

	m.logger.WarnContext(ctx, "risk: stop rule fired",
		slog.String("symbol", rule.Symbol),
		slog.String("cause", cause),
		slog.Int64("price", price),
		slog.Int64("trigger", rule.TriggerPrice),
		slog.Int64("quantity", quantity),
	)

	res, err := m.exec.ExecuteSell(ctx, rule.Symbol, quantity, 0, domain.OrderKindMarket)
	if err != nil {
		m.logger.ErrorContext(ctx, "risk: stop sell failed",
			slog.String("symbol", rule.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Success {
		m.logger.WarnContext(ctx, "risk: stop sell rejected, rule stays active",
			slog.String("symbol", rule.Symbol),
			slog.String("reason", res.Reason),
		)
		return
	}

	m.rules.Deactivate(ctx, rule.Symbol, domain.StopRuleTriggered)
	m.publish(ctx, map[string]any{
		"event":    "stop_rule_triggered",
		"symbol":   rule.Symbol,
		"cause":    cause,
		"price":    price,
		"quantity": res.FilledQuantity,
	})
}

// ---------------------------------------------------------------------------
// assessment
// ---------------------------------------------------------------------------

// AssessPortfolioRisk scores every open position and the day's P&L and folds
// them into an overall level with plain-language recommendations.
func (m *Monitor) AssessPortfolioRisk(ctx context.Context) (domain.RiskAssessment, error) {
	positions, err := m.ledger.GetAllPositions(ctx, false)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	now := time.Now().UTC()
	assessment := domain.RiskAssessment{
		OverallLevel:  domain.RiskLow,
		PositionRisks: make(map[string]domain.PositionRisk, len(positions)),
		Timestamp:     now,
	}

	for symbol, pos := range positions {
		assessment.PortfolioValue += pos.MarketValue
		assessment.TotalPnL += pos.UnrealizedPnL

		pr := m.scorePosition(pos)
		if _, ok := m.rules.Get(symbol); ok {
			pr.HasStopRule = true
		}
		assessment.PositionRisks[symbol] = pr
		assessment.OverallLevel = maxLevel(assessment.OverallLevel, pr.Level)

		if pr.Level == domain.RiskHigh || pr.Level == domain.RiskCritical {
			assessment.Recommendations = append(assessment.Recommendations,
				fmt.Sprintf("%s: consider reducing exposure (unrealized %.2f%%)", symbol, pos.UnrealizedPnLRate))
		}
		if !pr.HasStopRule {
			assessment.Recommendations = append(assessment.Recommendations,
				symbol+": no stop rule installed")
		}
	}

	daily, err := m.dailyPnL(ctx, positions, now)
	if err != nil {
		m.logger.WarnContext(ctx, "risk: daily pnl unavailable", slog.String("error", err.Error()))
	}
	assessment.DailyPnL = daily
	assessment.DailyRisk = m.dailyRiskLevel(daily)
	assessment.OverallLevel = maxLevel(assessment.OverallLevel, assessment.DailyRisk)

	return assessment, nil
}

// scorePosition applies the additive per-position scoring: deep unrealized
// percentage losses and absolute losses near the per-position limit each add
// points, and the total maps to a level.
func (m *Monitor) scorePosition(pos domain.Position) domain.PositionRisk {
	score := 0
	switch {
	case pos.UnrealizedPnLRate < -10:
		score += 30
	case pos.UnrealizedPnLRate < -5:
		score += 15
	}
	if m.cfg.MaxPositionLoss > 0 {
		limit := float64(m.cfg.MaxPositionLoss)
		switch {
		case float64(pos.UnrealizedPnL) < -0.8*limit:
			score += 25
		case float64(pos.UnrealizedPnL) < -0.5*limit:
			score += 10
		}
	}

	level := domain.RiskLow
	switch {
	case score >= 50:
		level = domain.RiskCritical
	case score >= 30:
		level = domain.RiskHigh
	case score >= 15:
		level = domain.RiskMedium
	}

	return domain.PositionRisk{
		Symbol:            pos.Symbol,
		Level:             level,
		Score:             score,
		UnrealizedPnL:     pos.UnrealizedPnL,
		UnrealizedPnLRate: pos.UnrealizedPnLRate,
		MarketValue:       pos.MarketValue,
	}
}

// dailyRiskLevel rates today's P&L against the daily loss limit.
func (m *Monitor) dailyRiskLevel(daily int64) domain.RiskLevel {
	if m.cfg.MaxDailyLoss <= 0 {
		return domain.RiskLow
	}
	limit := float64(m.cfg.MaxDailyLoss)
	switch {
	case float64(daily) < -limit:
		return domain.RiskCritical
	case float64(daily) < -0.8*limit:
		return domain.RiskHigh
	case float64(daily) < -0.5*limit:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// dailyPnL is today's realized P&L plus the open positions' unrealized P&L.
func (m *Monitor) dailyPnL(ctx context.Context, positions map[string]domain.Position, now time.Time) (int64, error) {
	realized, err := m.ledger.DailyRealizedPnL(ctx, now)
	if err != nil {
		return 0, err
	}
	total := realized
	for _, pos := range positions {
		total += pos.UnrealizedPnL
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// emergencies
// ---------------------------------------------------------------------------

// CheckEmergencyConditions detects loss-limit breaches without acting on
// them. A daily loss beyond the limit demands a trading halt plus a 50%
// reduction of every position; a per-position loss beyond its limit demands a
// force close of that position.
func (m *Monitor) CheckEmergencyConditions(ctx context.Context) (domain.EmergencyCheck, error) {
	positions, err := m.ledger.GetAllPositions(ctx, false)
	if err != nil {
		return domain.EmergencyCheck{}, err
	}

	now := time.Now().UTC()
	check := domain.EmergencyCheck{Timestamp: now}

	daily, err := m.dailyPnL(ctx, positions, now)
	if err != nil {
		m.logger.WarnContext(ctx, "risk: daily pnl unavailable", slog.String("error", err.Error()))
	}
	check.DailyPnL = daily

	if m.cfg.MaxDailyLoss > 0 && daily < -m.cfg.MaxDailyLoss {
		check.Actions = append(check.Actions,
			domain.EmergencyAction{
				Type:     domain.EmergencyDailyLossLimit,
				Response: domain.ResponseHaltTrading,
				Message:  fmt.Sprintf("daily loss %d exceeds limit %d", daily, m.cfg.MaxDailyLoss),
			},
			domain.EmergencyAction{
				Type:     domain.EmergencyDailyLossLimit,
				Response: domain.ResponseReducePositions,
				Message:  "reduce all positions by half",
			},
		)
	}

	if m.cfg.MaxPositionLoss > 0 {
		for symbol, pos := range positions {
			if pos.UnrealizedPnL < -m.cfg.MaxPositionLoss {
				check.Actions = append(check.Actions, domain.EmergencyAction{
					Type:     domain.EmergencyPositionLossLimit,
					Response: domain.ResponseForceClosePosition,
					Symbol:   symbol,
					Message:  fmt.Sprintf("%s loss %d exceeds limit %d", symbol, pos.UnrealizedPnL, m.cfg.MaxPositionLoss),
				})
			}
		}
	}

	check.Detected = len(check.Actions) > 0
	m.expireEpisodes(check.Actions)
	return check, nil
}

// ExecuteEmergencyActions carries out the detected actions. Each breach
// episode acts once: repeat detections are skipped until the episode is
// cleared by the breach resolving or by ResetEmergencyState.
func (m *Monitor) ExecuteEmergencyActions(ctx context.Context, check domain.EmergencyCheck) {
	for _, action := range check.Actions {
		if !m.claimEpisode(action) {
			continue
		}
		m.logger.ErrorContext(ctx, "risk: emergency action",
			slog.String("type", string(action.Type)),
			slog.String("response", string(action.Response)),
			slog.String("symbol", action.Symbol),
			slog.String("message", action.Message),
		)
		m.publish(ctx, map[string]any{
			"event":    "emergency_action",
			"type":     string(action.Type),
			"response": string(action.Response),
			"symbol":   action.Symbol,
			"message":  action.Message,
		})

		switch action.Response {
		case domain.ResponseHaltTrading:
			m.exec.Halt()
		case domain.ResponseForceClosePosition:
			m.forceClose(ctx, action.Symbol)
		case domain.ResponseReducePositions:
			m.reduceAll(ctx)
		}
	}
}

// forceClose sells the full open quantity of one symbol at market.
func (m *Monitor) forceClose(ctx context.Context, symbol string) {
	pos, err := m.ledger.GetPosition(ctx, symbol)
	if err != nil || !pos.IsOpen() {
		return
	}
	res, err := m.exec.ExecuteSell(ctx, symbol, pos.Quantity, 0, domain.OrderKindMarket)
	if err != nil {
		m.logger.ErrorContext(ctx, "risk: force close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Success {
		m.logger.WarnContext(ctx, "risk: force close rejected",
			slog.String("symbol", symbol),
			slog.String("reason", res.Reason),
		)
		return
	}
	m.rules.Deactivate(ctx, symbol, domain.StopRuleCancelled)
}

// reduceAll sells half of every open position, rounding down. Single-share
// positions are left alone.
func (m *Monitor) reduceAll(ctx context.Context) {
	positions, err := m.ledger.GetAllPositions(ctx, false)
	if err != nil {
		m.logger.ErrorContext(ctx, "risk: reduce sweep failed", slog.String("error", err.Error()))
		return
	}
	for symbol, pos := range positions {
		half := pos.Quantity / 2
		if half <= 0 {
			continue
		}
		if _, err := m.exec.ExecuteSell(ctx, symbol, half, 0, domain.OrderKindMarket); err != nil {
			m.logger.ErrorContext(ctx, "risk: reduce sell failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// claimEpisode marks a breach episode as acted on, returning false when it
// already was.
func (m *Monitor) claimEpisode(action domain.EmergencyAction) bool {
	key := string(action.Type) + "|" + string(action.Response) + "|" + action.Symbol
	m.episodeMu.Lock()
	defer m.episodeMu.Unlock()
	if m.episodes[key] {
		return false
	}
	m.episodes[key] = true
	return true
}

// expireEpisodes drops dedup entries whose breach is no longer detected, so a
// fresh breach of the same kind acts again.
func (m *Monitor) expireEpisodes(current []domain.EmergencyAction) {
	live := make(map[string]bool, len(current))
	for _, a := range current {
		live[string(a.Type)+"|"+string(a.Response)+"|"+a.Symbol] = true
	}
	m.episodeMu.Lock()
	for key := range m.episodes {
		if !live[key] {
			delete(m.episodes, key)
		}
	}
	m.episodeMu.Unlock()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// currentPrice reads the cache first and falls back to a gateway quote.
func (m *Monitor) currentPrice(ctx context.Context, symbol string) (int64, error) {
	if m.prices != nil {
		if price, _, err := m.prices.GetPrice(ctx, symbol); err == nil && price > 0 {
			return price, nil
		}
	}
	quote, err := m.gateway.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("risk: quote %q: %w", symbol, err)
	}
	return quote.Price, nil
}

func (m *Monitor) publish(ctx context.Context, payload map[string]any) {
	if m.bus == nil {
		return
	}
	evt, _ := json.Marshal(payload)
	if err := m.bus.Publish(ctx, "risk", evt); err != nil {
		m.logger.WarnContext(ctx, "risk: publish event failed", slog.String("error", err.Error()))
	}
}

var levelRank = map[domain.RiskLevel]int{
	domain.RiskLow:      0,
	domain.RiskMedium:   1,
	domain.RiskHigh:     2,
	domain.RiskCritical: 3,
}

func maxLevel(a, b domain.RiskLevel) domain.RiskLevel {
	if levelRank[a] >= levelRank[b] {
		return a
	}
	return b
}
