package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// StopRuleStore implements domain.StopRuleStore using PostgreSQL. One row per
// symbol; writing through from the rule book replaces the row.
type StopRuleStore struct {
	pool *pgxpool.Pool
}

// NewStopRuleStore creates a new StopRuleStore backed by the given connection pool.
func NewStopRuleStore(pool *pgxpool.Pool) *StopRuleStore {
	return &StopRuleStore{pool: pool}
}

// Save inserts or replaces the symbol's stop rule row.
func (s *StopRuleStore) Save(ctx context.Context, r domain.StopRule) error {
	const query = `
		INSERT INTO stop_rules (
			symbol, kind, trigger_price, take_profit_price, trail_distance,
			last_observed_price, quantity_covered, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (symbol) DO UPDATE SET
			kind                = EXCLUDED.kind,
			trigger_price       = EXCLUDED.trigger_price,
			take_profit_price   = EXCLUDED.take_profit_price,
			trail_distance      = EXCLUDED.trail_distance,
			last_observed_price = EXCLUDED.last_observed_price,
			quantity_covered    = EXCLUDED.quantity_covered,
			state               = EXCLUDED.state,
			created_at          = EXCLUDED.created_at,
			updated_at          = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		r.Symbol, string(r.Kind), r.TriggerPrice, r.TakeProfitPrice, r.TrailDistance,
		r.LastObservedPrice, r.QuantityCovered, string(r.State), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save stop rule %s: %w", r.Symbol, err)
	}
	return nil
}

// ListActive returns all rules still in the active state.
func (s *StopRuleStore) ListActive(ctx context.Context) ([]domain.StopRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, kind, trigger_price, take_profit_price, trail_distance,
		        last_observed_price, quantity_covered, state, created_at, updated_at
		 FROM stop_rules
		 WHERE state = 'active'
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active stop rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.StopRule
	for rows.Next() {
		var r domain.StopRule
		var kind, state string
		if err := rows.Scan(
			&r.Symbol, &kind, &r.TriggerPrice, &r.TakeProfitPrice, &r.TrailDistance,
			&r.LastObservedPrice, &r.QuantityCovered, &state, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan stop rule: %w", err)
		}
		r.Kind = domain.StopKind(kind)
		r.State = domain.StopRuleState(state)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Compile-time interface check.
var _ domain.StopRuleStore = (*StopRuleStore)(nil)
