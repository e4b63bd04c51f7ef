// Package executor validates and submits broker orders, interprets the
// results, and applies the side effects to the position ledger and the trade
// store. It fails closed: when information is incomplete the order is
// rejected, never submitted twice.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
	"github.com/alanyoungcy/stocktradebot/internal/ledger"
)

// Config holds the executor's risk ceilings and execution parameters.
type Config struct {
	// MaxSingleOrder is the notional ceiling for one order, in won.
	MaxSingleOrder int64
	// MaxPositionValue is the ceiling for one symbol's total position value.
	MaxPositionValue int64
	// CommissionBps is the brokerage commission in basis points of notional.
	CommissionBps int64
	// GatewayTimeout bounds every gateway call made on the order path.
	GatewayTimeout time.Duration
	// Live selects real submission; when false every accepted order takes
	// the simulation path.
	Live bool
}

// Executor is the order executor. The halted flag is the emergency stop: it
// rejects new buys and is cleared only by an explicit Resume. The live flag
// selects real submission versus the simulation path.
type Executor struct {
	gateway domain.MarketGateway
	ledger  *ledger.Ledger
	trades  domain.TradeStore
	bus     domain.SignalBus // optional
	cfg     Config
	logger  *slog.Logger

	live   atomic.Bool
	halted atomic.Bool
}

// New creates an Executor with all required dependencies. bus may be nil.
func New(
	gateway domain.MarketGateway,
	ldg *ledger.Ledger,
	trades domain.TradeStore,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	e := &Executor{
		gateway: gateway,
		ledger:  ldg,
		trades:  trades,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "executor")),
	}
	e.live.Store(cfg.Live)
	return e
}

// TradingLive reports whether orders are submitted to the broker.
func (e *Executor) TradingLive() bool { return e.live.Load() }

// EnableTrading switches to real submission.
func (e *Executor) EnableTrading() {
	e.live.Store(true)
	e.logger.Info("executor: live trading enabled")
}

// DisableTrading switches to the simulation path.
func (e *Executor) DisableTrading() {
	e.live.Store(false)
	e.logger.Info("executor: live trading disabled, orders will be simulated")
}

// Halted reports whether the emergency stop is active.
func (e *Executor) Halted() bool { return e.halted.Load() }

// Halt activates the emergency stop. New buys are rejected until Resume;
// sells stay allowed so positions can still be de-risked.
func (e *Executor) Halt() {
	if e.halted.CompareAndSwap(false, true) {
		e.logger.Warn("executor: trading halted")
	}
}

// Resume clears the emergency stop. Operator action only; nothing in the
// system calls this automatically.
func (e *Executor) Resume() {
	if e.halted.CompareAndSwap(true, false) {
		e.logger.Info("executor: trading resumed")
	}
}

// ExecuteBuy runs the buy pipeline: validate, resolve price, check the order
// and position ceilings and available cash, then submit (or simulate) and
// apply side effects. Expected failures come back as an unsuccessful
// OrderResult with a nil error.
func (e *Executor) ExecuteBuy(ctx context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error) {
	res := e.newResult(symbol, domain.OrderSideBuy, quantity, price)

	if reason := validateParams(symbol, quantity, price); reason != "" {
		return e.reject(ctx, res, reason), nil
	}
	if e.halted.Load() {
		return e.reject(ctx, res, domain.ErrTradingHalted.Error()), nil
	}

	execPrice, reason, err := e.resolvePrice(ctx, symbol, price)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if reason != "" {
		return e.reject(ctx, res, reason), nil
	}

	notional := execPrice * quantity
	commission := notional * e.cfg.CommissionBps / 10_000

	if notional > e.cfg.MaxSingleOrder {
		return e.reject(ctx, res, fmt.Sprintf("order notional %d exceeds single-order limit %d", notional, e.cfg.MaxSingleOrder)), nil
	}

	balance, err := e.gatewayBalance(ctx)
	if err != nil {
		return e.reject(ctx, res, "balance check failed: "+err.Error()), nil
	}
	if balance.AvailableCash < notional+commission {
		return e.reject(ctx, res, fmt.Sprintf("insufficient cash: need %d, available %d", notional+commission, balance.AvailableCash)), nil
	}

	currentValue := int64(0)
	if pos, posErr := e.ledger.GetPosition(ctx, symbol); posErr == nil && pos.IsOpen() {
		currentValue = pos.MarketValue
	} else if posErr != nil && !errors.Is(posErr, domain.ErrNotFound) {
		return domain.OrderResult{}, posErr
	}
	if currentValue+notional > e.cfg.MaxPositionValue {
		return e.reject(ctx, res, fmt.Sprintf("position value %d would exceed limit %d", currentValue+notional, e.cfg.MaxPositionValue)), nil
	}

	if !e.live.Load() {
		return e.simulate(ctx, res, execPrice, commission, kind)
	}
	return e.submit(ctx, res, execPrice, commission, kind)
}

// ExecuteSell runs the sell pipeline. Held quantity is checked against the
// ledger before anything reaches the gateway. Sells are allowed while
// halted.
func (e *Executor) ExecuteSell(ctx context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error) {
	res := e.newResult(symbol, domain.OrderSideSell, quantity, price)

	if reason := validateParams(symbol, quantity, price); reason != "" {
		return e.reject(ctx, res, reason), nil
	}

	pos, err := e.ledger.GetPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return e.reject(ctx, res, "no open position for "+symbol), nil
		}
		return domain.OrderResult{}, err
	}
	if !pos.IsOpen() || pos.Quantity < quantity {
		return e.reject(ctx, res, fmt.Sprintf("insufficient holdings: need %d, held %d", quantity, pos.Quantity)), nil
	}

	execPrice, reason, err := e.resolvePrice(ctx, symbol, price)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if reason != "" {
		return e.reject(ctx, res, reason), nil
	}

	notional := execPrice * quantity
	commission := notional * e.cfg.CommissionBps / 10_000
	if notional > e.cfg.MaxSingleOrder {
		return e.reject(ctx, res, fmt.Sprintf("order notional %d exceeds single-order limit %d", notional, e.cfg.MaxSingleOrder)), nil
	}

	if !e.live.Load() {
		return e.simulate(ctx, res, execPrice, commission, kind)
	}
	return e.submit(ctx, res, execPrice, commission, kind)
}

// CancelOrder cancels a pending order. Cancelling an already-terminal order
// is a successful no-op.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (domain.OrderResult, error) {
	trade, err := e.trades.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderResult{
				Success:   false,
				OrderID:   orderID,
				Status:    domain.OrderStatusFailed,
				Reason:    "order not found",
				Timestamp: time.Now().UTC(),
			}, nil
		}
		return domain.OrderResult{}, fmt.Errorf("executor: get order %q: %w", orderID, err)
	}

	result := domain.OrderResult{
		Success:           true,
		OrderID:           trade.ID,
		BrokerOrderID:     trade.BrokerOrderID,
		Symbol:            trade.Symbol,
		Side:              trade.Side,
		RequestedQuantity: trade.RequestedQuantity,
		Timestamp:         time.Now().UTC(),
	}

	if trade.Status.IsTerminal() {
		result.Status = trade.Status
		return result, nil
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	if err := e.gateway.CancelOrder(gctx, trade.BrokerOrderID); err != nil {
		result.Success = false
		result.Status = trade.Status
		result.Reason = "cancel failed: " + err.Error()
		return result, nil
	}

	now := time.Now().UTC()
	if err := e.trades.UpdateStatus(ctx, trade.ID, domain.OrderStatusCancelled, now); err != nil {
		e.logger.WarnContext(ctx, "executor: cancel status persist failed",
			slog.String("order_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
	result.Status = domain.OrderStatusCancelled
	e.publish(ctx, "orders", map[string]any{
		"event":    "order_cancelled",
		"order_id": trade.ID,
		"symbol":   trade.Symbol,
	})
	return result, nil
}

// GetOrderStatus queries the broker for an order's progress, normalized to
// the internal status enum. Simulated orders answer from the local record.
func (e *Executor) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatusInfo, error) {
	trade, err := e.trades.GetByID(ctx, orderID)
	if err != nil {
		return domain.OrderStatusInfo{}, fmt.Errorf("executor: get order %q: %w", orderID, err)
	}

	info := domain.OrderStatusInfo{
		OrderID:       trade.ID,
		BrokerOrderID: trade.BrokerOrderID,
	}

	if trade.Simulated {
		info.Status = trade.Status
		info.FilledQuantity = trade.FilledQuantity
		info.RemainingQuantity = trade.RequestedQuantity - trade.FilledQuantity
		info.AveragePrice = trade.AverageFillPrice
		return info, nil
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	status, err := e.gateway.GetOrderStatus(gctx, trade.BrokerOrderID)
	if err != nil {
		return domain.OrderStatusInfo{}, fmt.Errorf("executor: order status %q: %w", orderID, err)
	}
	info.Status = status.Status
	info.FilledQuantity = status.FilledQuantity
	info.RemainingQuantity = status.RemainingQuantity
	info.AveragePrice = status.AveragePrice
	return info, nil
}

// ---------------------------------------------------------------------------
// pipeline internals
// ---------------------------------------------------------------------------

func (e *Executor) newResult(symbol string, side domain.OrderSide, quantity, price int64) domain.OrderResult {
	return domain.OrderResult{
		Symbol:            symbol,
		Side:              side,
		RequestedQuantity: quantity,
		RequestedPrice:    price,
		Timestamp:         time.Now().UTC(),
	}
}

// validateParams covers the local checks that must never reach the gateway.
// Price zero means market; a negative price is an explicit bad value.
func validateParams(symbol string, quantity, price int64) string {
	if symbol == "" {
		return "symbol required"
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity.Error()
	}
	if price < 0 {
		return domain.ErrInvalidPrice.Error()
	}
	return ""
}

// resolvePrice returns the execution price for validation and simulation:
// the requested limit price when given, otherwise the gateway's current
// quote. A gateway failure is an expected rejection, not an internal error.
func (e *Executor) resolvePrice(ctx context.Context, symbol string, price int64) (int64, string, error) {
	if price > 0 {
		return price, "", nil
	}
	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	quote, err := e.gateway.GetPrice(gctx, symbol)
	if err != nil {
		return 0, "price unavailable for " + symbol + ": " + err.Error(), nil
	}
	if quote.Price <= 0 {
		return 0, "price unavailable for " + symbol, nil
	}
	return quote.Price, "", nil
}

func (e *Executor) gatewayBalance(ctx context.Context) (domain.AccountBalance, error) {
	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	return e.gateway.GetAccountBalance(gctx)
}

// reject finalizes a local validation failure.
func (e *Executor) reject(ctx context.Context, res domain.OrderResult, reason string) domain.OrderResult {
	res.Success = false
	res.Status = domain.OrderStatusFailed
	res.Reason = reason
	e.logger.WarnContext(ctx, "executor: order rejected",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.Int64("quantity", res.RequestedQuantity),
		slog.String("reason", reason),
	)
	return res
}

// simulate synthesizes a full fill at the resolved price without contacting
// the broker, still updating the ledger and trade store.
func (e *Executor) simulate(ctx context.Context, res domain.OrderResult, execPrice, commission int64, kind domain.OrderKind) (domain.OrderResult, error) {
	res.OrderID = uuid.New().String()
	res.BrokerOrderID = "SIM-" + res.OrderID[:8]
	res.Simulated = true
	res.FilledQuantity = res.RequestedQuantity
	res.AverageFillPrice = execPrice
	res.Status = domain.OrderStatusFilled
	res.Success = true

	e.logger.InfoContext(ctx, "executor: simulated order",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.Int64("quantity", res.FilledQuantity),
		slog.Int64("price", execPrice),
	)

	e.applyFill(ctx, &res, commission, kind)
	return res, nil
}

// submit places the order with the broker and maps the outcome. Timeouts and
// broker rejections become failed results; there is no local retry.
func (e *Executor) submit(ctx context.Context, res domain.OrderResult, execPrice, commission int64, kind domain.OrderKind) (domain.OrderResult, error) {
	res.OrderID = uuid.New().String()

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()

	price := res.RequestedPrice
	placed, err := e.gateway.PlaceOrder(gctx, domain.PlaceOrderRequest{
		Symbol:   res.Symbol,
		Side:     res.Side,
		Quantity: res.RequestedQuantity,
		Price:    price,
		Kind:     kind,
	})
	if err != nil {
		// The ledger is untouched: no response, no mutation.
		return e.reject(ctx, res, "gateway: "+err.Error()), nil
	}
	if !placed.Success {
		reason := placed.Error
		if reason == "" {
			reason = "broker rejected order"
		}
		return e.reject(ctx, res, "gateway: "+reason), nil
	}

	res.BrokerOrderID = placed.BrokerOrderID
	res.FilledQuantity = placed.FilledQuantity
	if res.FilledQuantity <= 0 {
		res.FilledQuantity = res.RequestedQuantity
	}
	res.AverageFillPrice = placed.AveragePrice
	if res.AverageFillPrice <= 0 {
		res.AverageFillPrice = execPrice
	}
	if res.FilledQuantity == res.RequestedQuantity {
		res.Status = domain.OrderStatusFilled
	} else {
		res.Status = domain.OrderStatusPartial
	}
	res.Success = true

	e.logger.InfoContext(ctx, "executor: order placed",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.String("broker_order_id", res.BrokerOrderID),
		slog.Int64("filled", res.FilledQuantity),
		slog.Int64("avg_price", res.AverageFillPrice),
	)

	e.applyFill(ctx, &res, commission, kind)
	return res, nil
}

// applyFill mutates the ledger and persists the trade record for a
// successful (or partial) fill. Store failures are logged, not fatal: the
// in-memory ledger remains authoritative.
func (e *Executor) applyFill(ctx context.Context, res *domain.OrderResult, commission int64, kind domain.OrderKind) {
	var realized int64
	if res.Side == domain.OrderSideSell {
		if prev, err := e.ledger.GetPosition(ctx, res.Symbol); err == nil {
			proceeds := res.AverageFillPrice*res.FilledQuantity - commission
			realized = proceeds - prev.AvgPrice*res.FilledQuantity
		}
	}

	if _, err := e.ledger.UpdatePosition(ctx, res.Symbol, res.Side, res.FilledQuantity, res.AverageFillPrice, commission); err != nil {
		e.logger.ErrorContext(ctx, "executor: ledger update failed after fill",
			slog.String("order_id", res.OrderID),
			slog.String("symbol", res.Symbol),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now().UTC()
	record := domain.TradeRecord{
		ID:                res.OrderID,
		Symbol:            res.Symbol,
		Side:              res.Side,
		Kind:              kind,
		RequestedQuantity: res.RequestedQuantity,
		RequestedPrice:    res.RequestedPrice,
		FilledQuantity:    res.FilledQuantity,
		AverageFillPrice:  res.AverageFillPrice,
		Commission:        commission,
		RealizedPnL:       realized,
		Status:            res.Status,
		BrokerOrderID:     res.BrokerOrderID,
		Simulated:         res.Simulated,
		SubmittedAt:       res.Timestamp,
	}
	if res.Status.IsTerminal() {
		record.ResolvedAt = &now
	}
	if err := e.trades.Save(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "executor: trade persist failed, will rely on reconciliation",
			slog.String("order_id", res.OrderID),
			slog.String("error", err.Error()),
		)
	}

	e.publish(ctx, "orders", map[string]any{
		"event":     "order_filled",
		"order_id":  res.OrderID,
		"symbol":    res.Symbol,
		"side":      string(res.Side),
		"quantity":  res.FilledQuantity,
		"price":     res.AverageFillPrice,
		"simulated": res.Simulated,
	})
}

func (e *Executor) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt, _ := json.Marshal(payload)
	if err := e.bus.Publish(ctx, channel, evt); err != nil {
		e.logger.WarnContext(ctx, "executor: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
