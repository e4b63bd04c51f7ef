package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

type fakeRuleStore struct {
	mu      sync.Mutex
	saved   []domain.StopRule
	active  []domain.StopRule
	listErr error
}

func (s *fakeRuleStore) Save(_ context.Context, rule domain.StopRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rule)
	return nil
}

func (s *fakeRuleStore) ListActive(context.Context) ([]domain.StopRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.StopRule(nil), s.active...), nil
}

func activeRule(symbol string) domain.StopRule {
	now := time.Now().UTC()
	return domain.StopRule{
		Symbol:          symbol,
		Kind:            domain.StopKindFixed,
		TriggerPrice:    48_000,
		QuantityCovered: 10,
		State:           domain.StopRuleActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestRuleBookPutAndGet(t *testing.T) {
	book := NewRuleBook(nil, testLogger())
	ctx := context.Background()

	_, ok := book.Get("005930")
	assert.False(t, ok)

	book.Put(ctx, activeRule("005930"))
	rule, ok := book.Get("005930")
	require.True(t, ok)
	assert.Equal(t, int64(48_000), rule.TriggerPrice)

	// Get hands out a copy; mutating it must not touch the book.
	rule.TriggerPrice = 1
	stored, _ := book.Get("005930")
	assert.Equal(t, int64(48_000), stored.TriggerPrice)
}

func TestRuleBookPutWritesThrough(t *testing.T) {
	store := &fakeRuleStore{}
	book := NewRuleBook(store, testLogger())

	book.Put(context.Background(), activeRule("005930"))
	require.Len(t, store.saved, 1)
	assert.Equal(t, "005930", store.saved[0].Symbol)
}

func TestRuleBookDeactivate(t *testing.T) {
	store := &fakeRuleStore{}
	book := NewRuleBook(store, testLogger())
	ctx := context.Background()

	// Deactivating an unknown symbol is a no-op.
	book.Deactivate(ctx, "005930", domain.StopRuleCancelled)
	assert.Empty(t, store.saved)

	book.Put(ctx, activeRule("005930"))
	book.Deactivate(ctx, "005930", domain.StopRuleTriggered)

	rule, ok := book.Get("005930")
	require.True(t, ok)
	assert.Equal(t, domain.StopRuleTriggered, rule.State)

	// A second deactivation of an already-terminal rule does nothing.
	saves := len(store.saved)
	book.Deactivate(ctx, "005930", domain.StopRuleCancelled)
	rule, _ = book.Get("005930")
	assert.Equal(t, domain.StopRuleTriggered, rule.State)
	assert.Len(t, store.saved, saves)
}

func TestRuleBookActiveRules(t *testing.T) {
	book := NewRuleBook(nil, testLogger())
	ctx := context.Background()

	book.Put(ctx, activeRule("005930"))
	book.Put(ctx, activeRule("000660"))
	book.Deactivate(ctx, "000660", domain.StopRuleCancelled)

	active := book.ActiveRules()
	require.Len(t, active, 1)
	_, ok := active["005930"]
	assert.True(t, ok)
}

func TestRuleBookLoad(t *testing.T) {
	store := &fakeRuleStore{active: []domain.StopRule{
		activeRule("005930"),
		activeRule("000660"),
	}}
	book := NewRuleBook(store, testLogger())
	ctx := context.Background()

	// Load replaces whatever the book held before.
	book.Put(ctx, activeRule("035720"))
	require.NoError(t, book.Load(ctx))

	assert.Len(t, book.ActiveRules(), 2)
	_, ok := book.Get("035720")
	assert.False(t, ok)
}

func TestRuleBookLoadError(t *testing.T) {
	store := &fakeRuleStore{listErr: errors.New("connection refused")}
	book := NewRuleBook(store, testLogger())

	err := book.Load(context.Background())
	assert.Error(t, err)
}
