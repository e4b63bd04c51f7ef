package kis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]int64
}

func (c *fakePriceCache) SetPrice(_ context.Context, symbol string, price int64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, symbol string) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, time.Now(), nil
}

func (c *fakePriceCache) GetPrices(_ context.Context, symbols []string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64)
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func newTestStreamer() (*PriceStreamer, *fakePriceCache) {
	cache := &fakePriceCache{prices: make(map[string]int64)}
	return &PriceStreamer{
		cache:  cache,
		logger: testLogger(),
		done:   make(chan struct{}),
	}, cache
}

func TestHandleTickWritesCache(t *testing.T) {
	s, cache := newTestStreamer()

	s.handleTick(context.Background(), "0|H0STCNT0|001|005930^093015^71500^5^100")

	price, _, err := cache.GetPrice(context.Background(), "005930")
	assert.NoError(t, err)
	assert.Equal(t, int64(71_500), price)
}

func TestHandleTickIgnoresMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"wrong tr_id", "0|H0STASP0|001|005930^093015^71500"},
		{"too few segments", "0|H0STCNT0|001"},
		{"too few fields", "0|H0STCNT0|001|005930^093015"},
		{"non numeric price", "0|H0STCNT0|001|005930^093015^abc"},
		{"zero price", "0|H0STCNT0|001|005930^093015^0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cache := newTestStreamer()
			s.handleTick(context.Background(), tt.raw)
			assert.Empty(t, cache.prices)
		})
	}
}

func TestHandleMessageRoutesTickFrames(t *testing.T) {
	s, cache := newTestStreamer()
	ctx := context.Background()

	// Data frames start with 0 or 1; JSON control frames are not ticks.
	reply := s.handleMessage(ctx, []byte("0|H0STCNT0|001|000660^093015^250000"))
	assert.Nil(t, reply)

	assert.Equal(t, map[string]int64{"000660": 250_000}, cache.prices)
}

func TestHandleMessageEchoesPingpong(t *testing.T) {
	s, cache := newTestStreamer()
	ctx := context.Background()

	ping := []byte(`{"header":{"tr_id":"PINGPONG","datetime":"20260901093015"}}`)
	assert.Equal(t, ping, s.handleMessage(ctx, ping))
	assert.Empty(t, cache.prices)

	// Other control frames (subscribe acks) get no reply.
	ack := []byte(`{"header":{"tr_id":"H0STCNT0"},"body":{"msg1":"SUBSCRIBE SUCCESS"}}`)
	assert.Nil(t, s.handleMessage(ctx, ack))
}

func TestRunWithoutSymbolsReturnsImmediately(t *testing.T) {
	s, _ := newTestStreamer()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return for an empty symbol list")
	}
}
