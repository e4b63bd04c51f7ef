package domain

import (
	"context"
	"time"
)

// PositionStore persists the per-symbol position rows backing the ledger.
// One row per symbol; Upsert replaces the whole row.
type PositionStore interface {
	Get(ctx context.Context, symbol string) (Position, error)
	Upsert(ctx context.Context, pos Position) error
	ListOpen(ctx context.Context) ([]Position, error)
	ListAll(ctx context.Context) ([]Position, error)
}

// TradeStore persists order submission attempts and fills.
type TradeStore interface {
	Save(ctx context.Context, trade TradeRecord) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus, resolvedAt time.Time) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, start, end time.Time) ([]TradeRecord, error)
	ListByDate(ctx context.Context, date time.Time) ([]TradeRecord, error)
}

// StopRuleStore persists protective rules so a restart can restore the rule
// book. The in-memory rule book stays authoritative while running.
type StopRuleStore interface {
	Save(ctx context.Context, rule StopRule) error
	ListActive(ctx context.Context) ([]StopRule, error)
}
