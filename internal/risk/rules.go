package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// RuleBook holds the active protective rules, at most one per symbol. The
// in-memory map is authoritative; the store is written through so a restart
// can restore the book. Rules are deactivated, never deleted.
type RuleBook struct {
	store  domain.StopRuleStore // optional
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[string]*domain.StopRule
}

// NewRuleBook creates an empty rule book. store may be nil.
func NewRuleBook(store domain.StopRuleStore, logger *slog.Logger) *RuleBook {
	return &RuleBook{
		store:  store,
		logger: logger.With(slog.String("component", "rulebook")),
		rules:  make(map[string]*domain.StopRule),
	}
}

// Load restores active rules from the store, replacing the in-memory book.
func (b *RuleBook) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	rules, err := b.store.ListActive(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.rules = make(map[string]*domain.StopRule, len(rules))
	for i := range rules {
		r := rules[i]
		b.rules[r.Symbol] = &r
	}
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "rulebook: rules restored", slog.Int("count", len(rules)))
	return nil
}

// Put installs or replaces the rule for a symbol and writes it through.
func (b *RuleBook) Put(ctx context.Context, rule domain.StopRule) {
	b.mu.Lock()
	b.rules[rule.Symbol] = &rule
	b.mu.Unlock()
	b.persist(ctx, rule)
}

// Get returns a copy of the symbol's rule, if any.
func (b *RuleBook) Get(symbol string) (domain.StopRule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rules[symbol]
	if !ok {
		return domain.StopRule{}, false
	}
	return *r, true
}

// Deactivate moves the symbol's rule to a terminal state. It is a no-op when
// no active rule exists.
func (b *RuleBook) Deactivate(ctx context.Context, symbol string, state domain.StopRuleState) {
	b.mu.Lock()
	r, ok := b.rules[symbol]
	if !ok || !r.Active() {
		b.mu.Unlock()
		return
	}
	r.State = state
	r.UpdatedAt = time.Now().UTC()
	rule := *r
	b.mu.Unlock()

	b.persist(ctx, rule)
	b.logger.InfoContext(ctx, "rulebook: rule deactivated",
		slog.String("symbol", symbol),
		slog.String("state", string(state)),
	)
}

// ActiveRules returns copies of every active rule, keyed by symbol.
func (b *RuleBook) ActiveRules() map[string]domain.StopRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]domain.StopRule, len(b.rules))
	for sym, r := range b.rules {
		if r.Active() {
			out[sym] = *r
		}
	}
	return out
}

// persist writes one rule through to the store. Failures are logged; the
// in-memory book stays authoritative.
func (b *RuleBook) persist(ctx context.Context, rule domain.StopRule) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, rule); err != nil {
		b.logger.WarnContext(ctx, "rulebook: rule persist failed",
			slog.String("symbol", rule.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
