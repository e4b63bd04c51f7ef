package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, kind, requested_quantity,
	requested_price, filled_quantity, average_fill_price, commission,
	realized_pnl, status, broker_order_id, simulated, submitted_at, resolved_at`

func scanTradeRow(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side, kind, status string

	err := row.Scan(
		&t.ID, &t.Symbol, &side, &kind, &t.RequestedQuantity,
		&t.RequestedPrice, &t.FilledQuantity, &t.AverageFillPrice, &t.Commission,
		&t.RealizedPnL, &status, &t.BrokerOrderID, &t.Simulated,
		&t.SubmittedAt, &t.ResolvedAt,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	t.Side = domain.OrderSide(side)
	t.Kind = domain.OrderKind(kind)
	t.Status = domain.OrderStatus(status)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Save inserts a new trade record.
func (s *TradeStore) Save(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, symbol, side, kind, requested_quantity,
			requested_price, filled_quantity, average_fill_price, commission,
			realized_pnl, status, broker_order_id, simulated, submitted_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Side), string(t.Kind), t.RequestedQuantity,
		t.RequestedPrice, t.FilledQuantity, t.AverageFillPrice, t.Commission,
		t.RealizedPnL, string(t.Status), t.BrokerOrderID, t.Simulated,
		t.SubmittedAt, t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateStatus moves a trade to a new status, stamping resolved_at when the
// status is terminal.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, resolvedAt time.Time) error {
	const query = `
		UPDATE trades SET
			status      = $2,
			resolved_at = CASE WHEN $3 THEN $4 ELSE resolved_at END
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), status.IsTerminal(), resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: update trade status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single trade by its ID.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	t, err := scanTradeRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TradeRecord{}, domain.ErrNotFound
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListBySymbol returns trades for one symbol within a submission-time range.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, start, end time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE symbol = $1 AND submitted_at >= $2 AND submitted_at <= $3
		 ORDER BY submitted_at DESC`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", symbol, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", symbol, err)
	}
	return trades, nil
}

// ListByDate returns all trades submitted on the given UTC date.
func (s *TradeStore) ListByDate(ctx context.Context, date time.Time) ([]domain.TradeRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE submitted_at >= $1 AND submitted_at < $2
		 ORDER BY submitted_at DESC`, day, next)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by date: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by date: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
