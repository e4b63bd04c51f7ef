package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// HandleSignal is the call surface exposed to the upstream signal layer. It
// maps the recommendation onto the buy/sell pipelines; a hold recommendation
// is a successful no-op.
func (e *Executor) HandleSignal(ctx context.Context, sig domain.TradeSignal) (domain.OrderResult, error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Action)),
	)

	kind := sig.Kind
	if kind == "" {
		kind = domain.OrderKindMarket
		if sig.Price > 0 {
			kind = domain.OrderKindLimit
		}
	}

	switch sig.Action {
	case domain.ActionBuy:
		log.InfoContext(ctx, "executor: buy signal received", slog.Int64("quantity", sig.Quantity))
		return e.ExecuteBuy(ctx, sig.Symbol, sig.Quantity, sig.Price, kind)
	case domain.ActionSell:
		log.InfoContext(ctx, "executor: sell signal received", slog.Int64("quantity", sig.Quantity))
		return e.ExecuteSell(ctx, sig.Symbol, sig.Quantity, sig.Price, kind)
	case domain.ActionHold:
		return domain.OrderResult{
			Success:   true,
			Symbol:    sig.Symbol,
			Reason:    "hold recommendation, no order submitted",
			Timestamp: time.Now().UTC(),
		}, nil
	default:
		return domain.OrderResult{
			Success:   false,
			Symbol:    sig.Symbol,
			Status:    domain.OrderStatusFailed,
			Reason:    "unknown recommended action: " + string(sig.Action),
			Timestamp: time.Now().UTC(),
		}, nil
	}
}
