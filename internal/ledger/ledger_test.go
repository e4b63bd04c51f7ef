package ledger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	listCalls int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Get(_ context.Context, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Symbol] = pos
	return nil
}

func (s *fakePositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListAll(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.TradeRecord
}

func (s *fakeTradeStore) Save(_ context.Context, trade domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *fakeTradeStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.trades {
		if s.trades[i].ID == id {
			s.trades[i].Status = status
		}
	}
	return nil
}

func (s *fakeTradeStore) GetByID(_ context.Context, id string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.TradeRecord{}, domain.ErrNotFound
}

func (s *fakeTradeStore) ListBySymbol(_ context.Context, symbol string, _, _ time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, t := range s.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListByDate(_ context.Context, _ time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TradeRecord(nil), s.trades...), nil
}

type fakeGateway struct {
	mu            sync.Mutex
	prices        map[string]int64
	priceCalls    int
	holdings      map[string]int64
	holdingsCalls int
}

func (g *fakeGateway) GetPrice(_ context.Context, symbol string) (domain.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priceCalls++
	price, ok := g.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return domain.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (g *fakeGateway) PlaceOrder(context.Context, domain.PlaceOrderRequest) (domain.PlaceOrderResult, error) {
	return domain.PlaceOrderResult{}, nil
}

func (g *fakeGateway) CancelOrder(context.Context, string) error { return nil }

func (g *fakeGateway) GetOrderStatus(context.Context, string) (domain.BrokerOrderStatus, error) {
	return domain.BrokerOrderStatus{}, nil
}

func (g *fakeGateway) GetAccountBalance(context.Context) (domain.AccountBalance, error) {
	return domain.AccountBalance{AvailableCash: 1_000_000_000}, nil
}

func (g *fakeGateway) GetHoldings(context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdingsCalls++
	out := make(map[string]int64, len(g.holdings))
	for symbol, qty := range g.holdings {
		out[symbol] = qty
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) (*Ledger, *fakePositionStore, *fakeTradeStore, *fakeGateway) {
	t.Helper()
	store := newFakePositionStore()
	trades := &fakeTradeStore{}
	gw := &fakeGateway{prices: make(map[string]int64)}
	ldg := New(store, trades, gw, nil, Config{
		CacheTTL:           time.Minute,
		RebalanceThreshold: 5.0,
	}, testLogger())
	return ldg, store, trades, gw
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestUpdatePositionBuyAveraging(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	pos, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 10_000, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, int64(100_100), pos.TotalCost)
	// A fresh lot pins avg_price to the fill price; commission sits in
	// total_cost only.
	assert.Equal(t, int64(10_000), pos.AvgPrice)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	pos, err = ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 20_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos.Quantity)
	assert.Equal(t, int64(300_100), pos.TotalCost)
	assert.Equal(t, int64(15_005), pos.AvgPrice)
}

func TestUpdatePositionBuyAvgPriceFloors(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 3, 10_000, 0)
	require.NoError(t, err)

	pos, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 1, 10_005, 0)
	require.NoError(t, err)
	// 40_005 / 4 rounds down.
	assert.Equal(t, int64(40_005), pos.TotalCost)
	assert.Equal(t, int64(10_001), pos.AvgPrice)
}

func TestUpdatePositionSellRealizedPnL(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 100, 50_000, 0)
	require.NoError(t, err)

	pos, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideSell, 40, 55_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(60), pos.Quantity)
	assert.Equal(t, int64(200_000), pos.RealizedPnL)
	// Average price is invariant across partial sells.
	assert.Equal(t, int64(50_000), pos.AvgPrice)
	assert.Equal(t, int64(3_000_000), pos.TotalCost)

	pos, err = ldg.UpdatePosition(ctx, "005930", domain.OrderSideSell, 60, 55_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.Quantity)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, int64(500_000), pos.RealizedPnL)
	assert.Equal(t, int64(0), pos.UnrealizedPnL)
}

func TestUpdatePositionSellCommissionReducesProceeds(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "000660", domain.OrderSideBuy, 10, 100_000, 0)
	require.NoError(t, err)

	pos, err := ldg.UpdatePosition(ctx, "000660", domain.OrderSideSell, 10, 110_000, 1_650)
	require.NoError(t, err)
	// 100_000 gross gain minus the 1_650 commission.
	assert.Equal(t, int64(98_350), pos.RealizedPnL)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

func TestUpdatePositionSellRejections(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "035720", domain.OrderSideSell, 10, 50_000, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientHoldings)

	_, err = ldg.UpdatePosition(ctx, "035720", domain.OrderSideBuy, 5, 50_000, 0)
	require.NoError(t, err)

	_, err = ldg.UpdatePosition(ctx, "035720", domain.OrderSideSell, 10, 50_000, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientHoldings)

	// The failed sell left the position untouched.
	pos, err := ldg.GetPosition(ctx, "035720")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos.Quantity)
	assert.Equal(t, int64(0), pos.RealizedPnL)
}

func TestUpdatePositionInvalidInputs(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 0, 10_000, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestBuyAfterCloseStartsFreshLot(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 50_000, 0)
	require.NoError(t, err)
	_, err = ldg.UpdatePosition(ctx, "005930", domain.OrderSideSell, 10, 60_000, 0)
	require.NoError(t, err)

	pos, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 5, 70_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos.Quantity)
	assert.Equal(t, int64(70_000), pos.AvgPrice)
	assert.Equal(t, int64(350_000), pos.TotalCost)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	// The closed lot's realized P&L stays in the trade history; the new lot
	// starts from zero.
	assert.Equal(t, int64(0), pos.RealizedPnL)
}

func TestGetAllPositionsCachesWithinTTL(t *testing.T) {
	ldg, store, _, gw := newTestLedger(t)
	ctx := context.Background()

	gw.prices["005930"] = 51_000
	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 50_000, 0)
	require.NoError(t, err)

	first, err := ldg.GetAllPositions(ctx, false)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(51_000), first["005930"].CurrentPrice)
	assert.Equal(t, int64(10_000), first["005930"].UnrealizedPnL)

	callsAfterFirst := store.listCalls
	_, err = ldg.GetAllPositions(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, store.listCalls, "second read within TTL must not hit the store")

	_, err = ldg.GetAllPositions(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst+1, store.listCalls, "forceRefresh must reload from the store")
}

func TestRefreshReconcilesAgainstBrokerHoldings(t *testing.T) {
	store := newFakePositionStore()
	gw := &fakeGateway{
		prices:   map[string]int64{"005930": 50_000},
		holdings: map[string]int64{"005930": 8, "000660": 3},
	}
	var logs bytes.Buffer
	ldg := New(store, &fakeTradeStore{}, gw, nil, Config{CacheTTL: time.Minute},
		slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 50_000, 0)
	require.NoError(t, err)

	snapshot, err := ldg.GetAllPositions(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.holdingsCalls)

	// Drift is reported but the ledger stays authoritative.
	assert.Equal(t, int64(10), snapshot["005930"].Quantity)
	out := logs.String()
	assert.Contains(t, out, "quantity drift against broker")
	assert.Contains(t, out, "broker holds untracked symbol")
}

func TestGetAllPositionsExcludesClosed(t *testing.T) {
	ldg, _, _, gw := newTestLedger(t)
	ctx := context.Background()

	gw.prices["005930"] = 50_000
	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 50_000, 0)
	require.NoError(t, err)
	_, err = ldg.UpdatePosition(ctx, "005930", domain.OrderSideSell, 10, 50_000, 0)
	require.NoError(t, err)

	positions, err := ldg.GetAllPositions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCalculatePortfolioMetrics(t *testing.T) {
	ldg, _, _, gw := newTestLedger(t)
	ctx := context.Background()

	gw.prices["005930"] = 10_000
	gw.prices["000660"] = 30_000
	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 10_000, 0)
	require.NoError(t, err)
	_, err = ldg.UpdatePosition(ctx, "000660", domain.OrderSideBuy, 10, 30_000, 0)
	require.NoError(t, err)

	snap, err := ldg.CalculatePortfolioMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalPositions)
	assert.Equal(t, int64(400_000), snap.TotalValue)
	assert.Equal(t, int64(400_000), snap.TotalCost)
	assert.Equal(t, int64(0), snap.TotalPnL)
	assert.InDelta(t, 25.0, snap.PositionWeights["005930"], 0.01)
	assert.InDelta(t, 75.0, snap.PositionWeights["000660"], 0.01)
	assert.InDelta(t, 75.0, snap.LargestPositionWeight, 0.01)
	assert.Equal(t, domain.RiskHigh, snap.ConcentrationRisk)
}

func TestCheckRebalancing(t *testing.T) {
	ldg, _, _, gw := newTestLedger(t)
	ctx := context.Background()

	gw.prices["005930"] = 10_000
	gw.prices["000660"] = 30_000
	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 10_000, 0)
	require.NoError(t, err)
	_, err = ldg.UpdatePosition(ctx, "000660", domain.OrderSideBuy, 10, 30_000, 0)
	require.NoError(t, err)

	advice, err := ldg.CheckRebalancing(ctx)
	require.NoError(t, err)

	assert.True(t, advice.Needed)
	assert.InDelta(t, 50.0, advice.TargetWeight, 0.01)
	assert.InDelta(t, 25.0, advice.MaxDeviation, 0.01)
	require.Len(t, advice.Suggestions, 2)
	for _, s := range advice.Suggestions {
		switch s.Symbol {
		case "005930":
			assert.Equal(t, domain.RebalanceIncrease, s.Action)
		case "000660":
			assert.Equal(t, domain.RebalanceReduce, s.Action)
		default:
			t.Fatalf("unexpected suggestion for %s", s.Symbol)
		}
	}
}

func TestCheckRebalancingBalancedPortfolio(t *testing.T) {
	ldg, _, _, gw := newTestLedger(t)
	ctx := context.Background()

	gw.prices["005930"] = 10_000
	gw.prices["000660"] = 10_000
	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 10, 10_000, 0)
	require.NoError(t, err)
	_, err = ldg.UpdatePosition(ctx, "000660", domain.OrderSideBuy, 10, 10_000, 0)
	require.NoError(t, err)

	advice, err := ldg.CheckRebalancing(ctx)
	require.NoError(t, err)
	assert.False(t, advice.Needed)
	assert.Empty(t, advice.Suggestions)
}

func TestDailyRealizedPnL(t *testing.T) {
	ldg, _, trades, _ := newTestLedger(t)
	ctx := context.Background()

	trades.trades = []domain.TradeRecord{
		{ID: "a", Symbol: "005930", RealizedPnL: 120_000},
		{ID: "b", Symbol: "000660", RealizedPnL: -45_000},
		{ID: "c", Symbol: "035720", RealizedPnL: 0},
	}

	total, err := ldg.DailyRealizedPnL(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(75_000), total)
}

func TestPositionPerformance(t *testing.T) {
	ldg, _, trades, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ldg.UpdatePosition(ctx, "005930", domain.OrderSideBuy, 100, 50_000, 0)
	require.NoError(t, err)

	trades.trades = []domain.TradeRecord{
		{ID: "a", Symbol: "005930", Side: domain.OrderSideSell, RealizedPnL: 200_000},
		{ID: "b", Symbol: "000660", Side: domain.OrderSideSell, RealizedPnL: 999_999},
	}

	perf, err := ldg.PositionPerformance(ctx, "005930", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "005930", perf.Symbol)
	assert.Equal(t, int64(5_000_000), perf.CostBasis)
	assert.Equal(t, int64(200_000), perf.RealizedPnL)
	assert.Equal(t, 1, perf.TradeCount)
	assert.Equal(t, int64(200_000), perf.TotalPnL)
	assert.InDelta(t, 4.0, perf.TotalPnLRate, 0.01)
}

func TestPositionPerformanceUnknownSymbol(t *testing.T) {
	ldg, _, _, _ := newTestLedger(t)

	_, err := ldg.PositionPerformance(context.Background(), "999999", time.Hour)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
