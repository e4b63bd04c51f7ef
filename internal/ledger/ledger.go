// Package ledger owns the authoritative in-memory view of all positions. It
// is the only writer of position state: the executor and the risk monitor
// read it or request mutations through UpdatePosition.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// Config holds the tunable parameters of the ledger.
type Config struct {
	// CacheTTL is how long a refreshed position snapshot stays valid.
	CacheTTL time.Duration
	// RebalanceThreshold is the deviation from the equal-weight target, in
	// percentage points, above which a position is flagged.
	RebalanceThreshold float64
}

// Ledger is the position ledger. Reads go through a read-through cache that
// is reloaded from the store and repriced via the gateway at most once per
// CacheTTL; mutations for the same symbol are serialized by a per-symbol
// mutex.
type Ledger struct {
	store   domain.PositionStore
	trades  domain.TradeStore
	gateway domain.MarketGateway
	bus     domain.SignalBus // optional
	cfg     Config
	logger  *slog.Logger

	mu          sync.RWMutex
	cache       map[string]domain.Position
	lastRefresh time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a Ledger with all required dependencies. bus may be nil when
// event publishing is not wired.
func New(
	store domain.PositionStore,
	trades domain.TradeStore,
	gateway domain.MarketGateway,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Ledger {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RebalanceThreshold <= 0 {
		cfg.RebalanceThreshold = 5.0
	}
	return &Ledger{
		store:   store,
		trades:  trades,
		gateway: gateway,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
		cache:   make(map[string]domain.Position),
		locks:   make(map[string]*sync.Mutex),
	}
}

// symbolLock returns the mutex that serializes mutations for one symbol.
func (l *Ledger) symbolLock(symbol string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

// GetAllPositions returns a snapshot of all open positions keyed by symbol.
// The cached snapshot is reused until CacheTTL elapses unless forceRefresh
// is set, in which case the store is reloaded and every position is repriced
// through the gateway.
func (l *Ledger) GetAllPositions(ctx context.Context, forceRefresh bool) (map[string]domain.Position, error) {
	l.mu.RLock()
	if !forceRefresh && !l.lastRefresh.IsZero() && time.Since(l.lastRefresh) < l.cfg.CacheTTL {
		snapshot := copyPositions(l.cache)
		l.mu.RUnlock()
		return snapshot, nil
	}
	l.mu.RUnlock()

	return l.refresh(ctx)
}

// GetPosition returns the current position for one symbol. It prefers the
// cached entry and falls back to the store; domain.ErrNotFound is returned
// when the symbol has never been held.
func (l *Ledger) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	l.mu.RLock()
	pos, ok := l.cache[symbol]
	l.mu.RUnlock()
	if ok {
		return pos, nil
	}

	pos, err := l.store.Get(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("ledger: get position %q: %w", symbol, err)
	}
	return pos, nil
}

// refresh reloads open positions from the store, reprices each through the
// gateway, and swaps the cache.
func (l *Ledger) refresh(ctx context.Context) (map[string]domain.Position, error) {
	open, err := l.store.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open positions: %w", err)
	}

	now := time.Now().UTC()
	fresh := make(map[string]domain.Position, len(open))
	for _, pos := range open {
		quote, qErr := l.gateway.GetPrice(ctx, pos.Symbol)
		if qErr != nil {
			// Keep the last known price rather than dropping the position.
			l.logger.WarnContext(ctx, "ledger: reprice failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", qErr.Error()),
			)
		} else {
			pos.Reprice(quote.Price, now)
		}
		fresh[pos.Symbol] = pos
	}

	l.reconcileHoldings(ctx, fresh)

	l.mu.Lock()
	l.cache = fresh
	l.lastRefresh = now
	snapshot := copyPositions(l.cache)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: positions refreshed", slog.Int("count", len(fresh)))
	return snapshot, nil
}

// reconcileHoldings compares a refreshed book against the broker's holdings
// and logs any drift. The ledger stays authoritative; drift means fills
// happened outside this process.
func (l *Ledger) reconcileHoldings(ctx context.Context, fresh map[string]domain.Position) {
	holdings, err := l.gateway.GetHoldings(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "ledger: holdings fetch failed", slog.String("error", err.Error()))
		return
	}
	for symbol, qty := range holdings {
		pos, ok := fresh[symbol]
		switch {
		case !ok:
			l.logger.WarnContext(ctx, "ledger: broker holds untracked symbol",
				slog.String("symbol", symbol),
				slog.Int64("broker_quantity", qty),
			)
		case pos.Quantity != qty:
			l.logger.WarnContext(ctx, "ledger: quantity drift against broker",
				slog.String("symbol", symbol),
				slog.Int64("ledger_quantity", pos.Quantity),
				slog.Int64("broker_quantity", qty),
			)
		}
	}
	for symbol, pos := range fresh {
		if _, ok := holdings[symbol]; !ok {
			l.logger.WarnContext(ctx, "ledger: position missing from broker holdings",
				slog.String("symbol", symbol),
				slog.Int64("ledger_quantity", pos.Quantity),
			)
		}
	}
}

// UpdatePosition is the sole mutation entry point. It applies one fill to the
// symbol's position, persists the result, and updates the cache entry in
// place. Store write failures are logged and non-fatal; the in-memory state
// stays authoritative for the running process.
func (l *Ledger) UpdatePosition(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, commission int64) (domain.Position, error) {
	if quantity <= 0 {
		return domain.Position{}, domain.ErrInvalidQuantity
	}
	if price <= 0 {
		return domain.Position{}, domain.ErrInvalidPrice
	}

	lock := l.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	current, err := l.GetPosition(ctx, symbol)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, err
	}

	now := time.Now().UTC()
	var updated domain.Position
	switch side {
	case domain.OrderSideBuy:
		updated = applyBuy(current, exists, symbol, quantity, price, commission, now)
	case domain.OrderSideSell:
		if !exists || !current.IsOpen() || current.Quantity < quantity {
			return domain.Position{}, domain.ErrInsufficientHoldings
		}
		updated = applySell(current, quantity, price, commission, now)
	default:
		return domain.Position{}, fmt.Errorf("ledger: unknown side %q", side)
	}

	if storeErr := l.store.Upsert(ctx, updated); storeErr != nil {
		l.logger.ErrorContext(ctx, "ledger: position persist failed, in-memory state remains authoritative",
			slog.String("symbol", symbol),
			slog.String("error", storeErr.Error()),
		)
	}

	l.mu.Lock()
	if updated.IsOpen() {
		l.cache[symbol] = updated
	} else {
		l.cache[symbol] = updated // kept until next refresh drops closed lots
	}
	l.mu.Unlock()

	l.publishUpdate(ctx, updated, side, quantity, price)
	return updated, nil
}

// applyBuy folds one buy fill into the position. A missing or closed
// position starts a fresh lot with avg_price equal to the fill price.
func applyBuy(current domain.Position, exists bool, symbol string, quantity, price, commission int64, now time.Time) domain.Position {
	if !exists || current.Status == domain.PositionStatusClosed {
		pos := domain.Position{
			Symbol:      symbol,
			Quantity:    quantity,
			AvgPrice:    price,
			TotalCost:   price*quantity + commission,
			Status:      domain.PositionStatusOpen,
			FirstOpenAt: now,
		}
		pos.Reprice(price, now)
		return pos
	}

	pos := current
	pos.Quantity = current.Quantity + quantity
	pos.TotalCost = current.TotalCost + price*quantity + commission
	pos.AvgPrice = pos.TotalCost / pos.Quantity // floor
	pos.Status = domain.PositionStatusOpen
	pos.Reprice(price, now)
	return pos
}

// applySell folds one sell fill into the position. Average price is invariant
// across partial sells, which makes the cost basis FIFO-equivalent.
func applySell(current domain.Position, quantity, price, commission int64, now time.Time) domain.Position {
	proceeds := price*quantity - commission
	costBasis := current.AvgPrice * quantity

	pos := current
	pos.Quantity = current.Quantity - quantity
	pos.TotalCost = current.AvgPrice * pos.Quantity
	pos.RealizedPnL = current.RealizedPnL + (proceeds - costBasis)
	if pos.Quantity == 0 {
		pos.Status = domain.PositionStatusClosed
		pos.MarketValue = 0
		pos.UnrealizedPnL = 0
		pos.UnrealizedPnLRate = 0
		pos.CurrentPrice = price
		pos.UpdatedAt = now
	} else {
		pos.Reprice(price, now)
	}
	return pos
}

func (l *Ledger) publishUpdate(ctx context.Context, pos domain.Position, side domain.OrderSide, quantity, price int64) {
	if l.bus == nil {
		return
	}
	event := "position_updated"
	if pos.Status == domain.PositionStatusClosed {
		event = "position_closed"
	}
	evt, _ := json.Marshal(map[string]any{
		"event":        event,
		"symbol":       pos.Symbol,
		"side":         string(side),
		"quantity":     quantity,
		"price":        price,
		"avg_price":    pos.AvgPrice,
		"realized_pnl": pos.RealizedPnL,
	})
	if err := l.bus.Publish(ctx, "positions", evt); err != nil {
		l.logger.WarnContext(ctx, "ledger: publish event failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func copyPositions(src map[string]domain.Position) map[string]domain.Position {
	out := make(map[string]domain.Position, len(src))
	for k, v := range src {
		if v.IsOpen() {
			out[k] = v
		}
	}
	return out
}
