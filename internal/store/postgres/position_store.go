package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row per
// symbol; the ledger's upsert replaces the whole row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `symbol, quantity, avg_price, total_cost,
	current_price, market_value, unrealized_pnl, unrealized_pnl_rate,
	realized_pnl, status, first_open_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.Symbol, &p.Quantity, &p.AvgPrice, &p.TotalCost,
		&p.CurrentPrice, &p.MarketValue, &p.UnrealizedPnL, &p.UnrealizedPnLRate,
		&p.RealizedPnL, &status, &p.FirstOpenAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get retrieves the position row for one symbol.
func (s *PositionStore) Get(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE symbol = $1`, symbol)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", symbol, err)
	}
	return p, nil
}

// Upsert inserts or replaces the symbol's position row.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			symbol, quantity, avg_price, total_cost,
			current_price, market_value, unrealized_pnl, unrealized_pnl_rate,
			realized_pnl, status, first_open_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity            = EXCLUDED.quantity,
			avg_price           = EXCLUDED.avg_price,
			total_cost          = EXCLUDED.total_cost,
			current_price       = EXCLUDED.current_price,
			market_value        = EXCLUDED.market_value,
			unrealized_pnl      = EXCLUDED.unrealized_pnl,
			unrealized_pnl_rate = EXCLUDED.unrealized_pnl_rate,
			realized_pnl        = EXCLUDED.realized_pnl,
			status              = EXCLUDED.status,
			first_open_at       = EXCLUDED.first_open_at,
			updated_at          = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.Symbol, p.Quantity, p.AvgPrice, p.TotalCost,
		p.CurrentPrice, p.MarketValue, p.UnrealizedPnL, p.UnrealizedPnLRate,
		p.RealizedPnL, string(p.Status), p.FirstOpenAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// ListOpen returns all open positions.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY first_open_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListAll returns every position row, open and closed.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 ORDER BY first_open_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
