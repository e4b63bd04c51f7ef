package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// CalculatePortfolioMetrics recomputes the derived portfolio snapshot from
// the current position set. It is never the source of truth.
func (l *Ledger) CalculatePortfolioMetrics(ctx context.Context) (domain.PortfolioSnapshot, error) {
	positions, err := l.GetAllPositions(ctx, false)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}

	snap := domain.PortfolioSnapshot{
		TotalPositions:  len(positions),
		PositionWeights: make(map[string]float64, len(positions)),
		ComputedAt:      time.Now().UTC(),
	}

	var dailyUnrealized int64
	for _, pos := range positions {
		snap.TotalValue += pos.MarketValue
		snap.TotalCost += pos.TotalCost
		dailyUnrealized += pos.UnrealizedPnL
	}
	snap.TotalPnL = snap.TotalValue - snap.TotalCost
	snap.TotalPnLRate = domain.PnLRate(snap.TotalPnL, snap.TotalCost)
	snap.DailyUnrealizedPnL = dailyUnrealized

	for symbol, pos := range positions {
		w := domain.Weight(pos.MarketValue, snap.TotalValue)
		snap.PositionWeights[symbol] = w
		if w > snap.LargestPositionWeight {
			snap.LargestPositionWeight = w
		}
	}
	snap.ConcentrationRisk = concentrationRisk(snap.LargestPositionWeight)

	realized, err := l.DailyRealizedPnL(ctx, snap.ComputedAt)
	if err != nil {
		// Daily accounting is advisory; keep the snapshot usable.
		l.logger.WarnContext(ctx, "ledger: daily realized pnl unavailable",
			slog.String("error", err.Error()),
		)
	}
	snap.DailyRealizedPnL = realized
	snap.RiskLevel = snapshotRiskLevel(snap.TotalPnLRate, snap.ConcentrationRisk)

	return snap, nil
}

// DailyRealizedPnL sums the realized P&L of every trade recorded on the
// given UTC date.
func (l *Ledger) DailyRealizedPnL(ctx context.Context, date time.Time) (int64, error) {
	trades, err := l.trades.ListByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("ledger: list daily trades: %w", err)
	}
	var total int64
	for _, t := range trades {
		total += t.RealizedPnL
	}
	return total, nil
}

// CheckRebalancing compares every open position's weight against the
// equal-weight target and flags deviations above the configured threshold.
func (l *Ledger) CheckRebalancing(ctx context.Context) (domain.RebalanceAdvice, error) {
	snap, err := l.CalculatePortfolioMetrics(ctx)
	if err != nil {
		return domain.RebalanceAdvice{}, err
	}

	advice := domain.RebalanceAdvice{Threshold: l.cfg.RebalanceThreshold}
	if snap.TotalPositions == 0 {
		return advice, nil
	}
	advice.TargetWeight = 100.0 / float64(snap.TotalPositions)

	for symbol, weight := range snap.PositionWeights {
		deviation := weight - advice.TargetWeight
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > advice.MaxDeviation {
			advice.MaxDeviation = deviation
		}
		if deviation <= l.cfg.RebalanceThreshold {
			continue
		}
		action := domain.RebalanceIncrease
		if weight > advice.TargetWeight {
			action = domain.RebalanceReduce
		}
		advice.Suggestions = append(advice.Suggestions, domain.RebalanceSuggestion{
			Symbol:        symbol,
			CurrentWeight: weight,
			TargetWeight:  advice.TargetWeight,
			Deviation:     deviation,
			Action:        action,
		})
	}
	advice.Needed = len(advice.Suggestions) > 0
	return advice, nil
}

// PositionPerformance breaks one symbol's P&L into realized and unrealized
// parts over a trailing trade-history window.
func (l *Ledger) PositionPerformance(ctx context.Context, symbol string, window time.Duration) (domain.PositionPerformance, error) {
	pos, err := l.GetPosition(ctx, symbol)
	if err != nil {
		return domain.PositionPerformance{}, err
	}

	end := time.Now().UTC()
	start := end.Add(-window)
	trades, err := l.trades.ListBySymbol(ctx, symbol, start, end)
	if err != nil {
		return domain.PositionPerformance{}, fmt.Errorf("ledger: trade history %q: %w", symbol, err)
	}

	perf := domain.PositionPerformance{
		Symbol:        symbol,
		MarketValue:   pos.MarketValue,
		CostBasis:     pos.TotalCost,
		UnrealizedPnL: pos.UnrealizedPnL,
		TradeCount:    len(trades),
		HoldingDays:   int(end.Sub(pos.FirstOpenAt).Hours() / 24),
	}
	for _, t := range trades {
		perf.RealizedPnL += t.RealizedPnL
	}
	perf.TotalPnL = perf.RealizedPnL + perf.UnrealizedPnL
	if pos.TotalCost > 0 {
		perf.TotalPnLRate = domain.PnLRate(perf.TotalPnL, pos.TotalCost)
	}
	return perf, nil
}

// concentrationRisk maps the largest position weight to a risk level:
// above 30% is high, above 20% medium, else low.
func concentrationRisk(largestWeight float64) domain.RiskLevel {
	switch {
	case largestWeight > 30:
		return domain.RiskHigh
	case largestWeight > 20:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// snapshotRiskLevel folds the total P&L rate into the concentration level.
func snapshotRiskLevel(pnlRate float64, concentration domain.RiskLevel) domain.RiskLevel {
	level := concentration
	switch {
	case pnlRate < -15:
		level = domain.RiskCritical
	case pnlRate < -10:
		level = maxRisk(level, domain.RiskHigh)
	case pnlRate < -5:
		level = maxRisk(level, domain.RiskMedium)
	}
	return level
}

var riskRank = map[domain.RiskLevel]int{
	domain.RiskLow:      0,
	domain.RiskMedium:   1,
	domain.RiskHigh:     2,
	domain.RiskCritical: 3,
}

func maxRisk(a, b domain.RiskLevel) domain.RiskLevel {
	if riskRank[a] >= riskRank[b] {
		return a
	}
	return b
}
