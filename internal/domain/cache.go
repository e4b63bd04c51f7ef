package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed prices, fed by the
// gateway's streaming feed and read by the risk monitor.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price int64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (int64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]int64, error)
}

// RateLimiter provides distributed rate limiting for broker calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub for trade, position, and risk events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
