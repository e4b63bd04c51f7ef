package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// doRequest runs one handler with optional path values and returns the
// recorder.
func doRequest(method, target, body string, pathValues map[string]string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// orders
// ---------------------------------------------------------------------------

type stubExecutor struct {
	lastSide domain.OrderSide
	lastKind domain.OrderKind
	result   domain.OrderResult
	err      error
	status   domain.OrderStatusInfo
	statErr  error
}

func (s *stubExecutor) ExecuteBuy(_ context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error) {
	s.lastSide, s.lastKind = domain.OrderSideBuy, kind
	return s.result, s.err
}

func (s *stubExecutor) ExecuteSell(_ context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error) {
	s.lastSide, s.lastKind = domain.OrderSideSell, kind
	return s.result, s.err
}

func (s *stubExecutor) CancelOrder(context.Context, string) (domain.OrderResult, error) {
	return s.result, s.err
}

func (s *stubExecutor) GetOrderStatus(context.Context, string) (domain.OrderStatusInfo, error) {
	return s.status, s.statErr
}

func (s *stubExecutor) HandleSignal(_ context.Context, sig domain.TradeSignal) (domain.OrderResult, error) {
	if sig.Action == domain.ActionHold {
		return domain.OrderResult{Success: true, Reason: "hold recommendation, no order submitted"}, nil
	}
	return s.result, s.err
}

func TestPlaceOrderSuccess(t *testing.T) {
	exec := &stubExecutor{result: domain.OrderResult{Success: true, OrderID: "ord-1", Status: domain.OrderStatusFilled}}
	h := NewOrderHandler(exec, testLogger())

	rec := doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"buy","quantity":10,"price":50000}`, nil, h.PlaceOrder)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderSideBuy, exec.lastSide)
	// Price present, kind omitted: inferred as limit.
	assert.Equal(t, domain.OrderKindLimit, exec.lastKind)

	var res domain.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ord-1", res.OrderID)
}

func TestPlaceOrderInfersMarketWithoutPrice(t *testing.T) {
	exec := &stubExecutor{result: domain.OrderResult{Success: true}}
	h := NewOrderHandler(exec, testLogger())

	rec := doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"sell","quantity":10}`, nil, h.PlaceOrder)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderSideSell, exec.lastSide)
	assert.Equal(t, domain.OrderKindMarket, exec.lastKind)
}

func TestPlaceOrderRejectionMapsTo422(t *testing.T) {
	exec := &stubExecutor{result: domain.OrderResult{Success: false, Reason: "trading halted"}}
	h := NewOrderHandler(exec, testLogger())

	rec := doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"buy","quantity":10}`, nil, h.PlaceOrder)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlaceOrderBadRequests(t *testing.T) {
	h := NewOrderHandler(&stubExecutor{}, testLogger())

	rec := doRequest(http.MethodPost, "/api/orders", `{"symbol":`, nil, h.PlaceOrder)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"short","quantity":10}`, nil, h.PlaceOrder)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"buy","quantity":10,"leverage":5}`, nil, h.PlaceOrder)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestPlaceOrderInternalError(t *testing.T) {
	exec := &stubExecutor{err: errors.New("store unavailable")}
	h := NewOrderHandler(exec, testLogger())

	rec := doRequest(http.MethodPost, "/api/orders",
		`{"symbol":"005930","side":"buy","quantity":10}`, nil, h.PlaceOrder)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	exec := &stubExecutor{statErr: domain.ErrNotFound}
	h := NewOrderHandler(exec, testLogger())

	rec := doRequest(http.MethodGet, "/api/orders/missing", "", map[string]string{"id": "missing"}, h.GetOrderStatus)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSignalHold(t *testing.T) {
	h := NewOrderHandler(&stubExecutor{}, testLogger())

	rec := doRequest(http.MethodPost, "/api/signals",
		`{"symbol":"005930","action":"hold"}`, nil, h.HandleSignal)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res domain.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Empty(t, res.OrderID)
}

// ---------------------------------------------------------------------------
// risk
// ---------------------------------------------------------------------------

type stubMonitor struct {
	assessment domain.RiskAssessment
	check      domain.EmergencyCheck
	rule       domain.StopRule
	ruleErr    error
	automatic  bool
	cancelled  []string
}

func (s *stubMonitor) AssessPortfolioRisk(context.Context) (domain.RiskAssessment, error) {
	return s.assessment, nil
}

func (s *stubMonitor) CheckEmergencyConditions(context.Context) (domain.EmergencyCheck, error) {
	return s.check, nil
}

func (s *stubMonitor) SetupStopRule(_ context.Context, symbol string, kind domain.StopKind, triggerPrice, takeProfitPrice, trailDistance int64) (domain.StopRule, error) {
	s.automatic = false
	return s.rule, s.ruleErr
}

func (s *stubMonitor) SetupAutomaticStop(_ context.Context, symbol string, stopPct, takePct float64) (domain.StopRule, error) {
	s.automatic = true
	return s.rule, s.ruleErr
}

func (s *stubMonitor) CancelStopRule(_ context.Context, symbol string) {
	s.cancelled = append(s.cancelled, symbol)
}

type stubRules struct {
	rules map[string]domain.StopRule
}

func (s *stubRules) ActiveRules() map[string]domain.StopRule { return s.rules }

func (s *stubRules) Get(symbol string) (domain.StopRule, bool) {
	r, ok := s.rules[symbol]
	return r, ok
}

func TestPutStopRuleExplicit(t *testing.T) {
	monitor := &stubMonitor{rule: domain.StopRule{Symbol: "005930", State: domain.StopRuleActive}}
	h := NewRiskHandler(monitor, &stubRules{}, testLogger())

	rec := doRequest(http.MethodPut, "/api/risk/rules/005930",
		`{"kind":"fixed","trigger_price":48000}`, map[string]string{"symbol": "005930"}, h.PutStopRule)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, monitor.automatic)
}

func TestPutStopRuleAutomatic(t *testing.T) {
	monitor := &stubMonitor{rule: domain.StopRule{Symbol: "005930", State: domain.StopRuleActive}}
	h := NewRiskHandler(monitor, &stubRules{}, testLogger())

	rec := doRequest(http.MethodPut, "/api/risk/rules/005930",
		`{"automatic":true,"stop_pct":5,"take_pct":10}`, map[string]string{"symbol": "005930"}, h.PutStopRule)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, monitor.automatic)
}

func TestPutStopRuleErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no position", domain.ErrNotFound, http.StatusUnprocessableEntity},
		{"closed position", domain.ErrInsufficientHoldings, http.StatusUnprocessableEntity},
		{"bad prices", domain.ErrInvalidPrice, http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := &stubMonitor{ruleErr: tt.err}
			h := NewRiskHandler(monitor, &stubRules{}, testLogger())

			rec := doRequest(http.MethodPut, "/api/risk/rules/005930",
				`{"kind":"fixed","trigger_price":48000}`, map[string]string{"symbol": "005930"}, h.PutStopRule)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestDeleteStopRule(t *testing.T) {
	monitor := &stubMonitor{}
	rules := &stubRules{rules: map[string]domain.StopRule{
		"005930": {Symbol: "005930", State: domain.StopRuleActive},
	}}
	h := NewRiskHandler(monitor, rules, testLogger())

	rec := doRequest(http.MethodDelete, "/api/risk/rules/005930", "",
		map[string]string{"symbol": "005930"}, h.DeleteStopRule)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"005930"}, monitor.cancelled)

	rec = doRequest(http.MethodDelete, "/api/risk/rules/000660", "",
		map[string]string{"symbol": "000660"}, h.DeleteStopRule)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// trading controls
// ---------------------------------------------------------------------------

type stubControls struct {
	live   bool
	halted bool
}

func (s *stubControls) TradingLive() bool { return s.live }
func (s *stubControls) EnableTrading()    { s.live = true }
func (s *stubControls) DisableTrading()   { s.live = false }
func (s *stubControls) Halted() bool      { return s.halted }
func (s *stubControls) Halt()             { s.halted = true }
func (s *stubControls) Resume()           { s.halted = false }

type stubEmergency struct {
	resets int
}

func (s *stubEmergency) ResetEmergencyState() { s.resets++ }

func TestTradingControls(t *testing.T) {
	controls := &stubControls{}
	emergency := &stubEmergency{}
	h := NewTradingHandler(controls, emergency, testLogger())

	rec := doRequest(http.MethodPost, "/api/trading/enable", "", nil, h.Enable)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, controls.live)

	rec = doRequest(http.MethodPost, "/api/trading/halt", "", nil, h.Halt)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, controls.halted)

	var state tradingStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Live)
	assert.True(t, state.Halted)

	// Resume clears the halt and the monitor's breach-episode state.
	rec = doRequest(http.MethodPost, "/api/trading/resume", "", nil, h.Resume)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, controls.halted)
	assert.Equal(t, 1, emergency.resets)

	rec = doRequest(http.MethodPost, "/api/trading/disable", "", nil, h.Disable)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, controls.live)
}

// ---------------------------------------------------------------------------
// positions
// ---------------------------------------------------------------------------

type stubLedger struct {
	positions map[string]domain.Position
	refreshed bool
}

func (s *stubLedger) GetAllPositions(_ context.Context, forceRefresh bool) (map[string]domain.Position, error) {
	s.refreshed = forceRefresh
	return s.positions, nil
}

func (s *stubLedger) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	pos, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *stubLedger) CalculatePortfolioMetrics(context.Context) (domain.PortfolioSnapshot, error) {
	return domain.PortfolioSnapshot{TotalPositions: len(s.positions)}, nil
}

func (s *stubLedger) CheckRebalancing(context.Context) (domain.RebalanceAdvice, error) {
	return domain.RebalanceAdvice{}, nil
}

func (s *stubLedger) PositionPerformance(_ context.Context, symbol string, _ time.Duration) (domain.PositionPerformance, error) {
	if _, ok := s.positions[symbol]; !ok {
		return domain.PositionPerformance{}, domain.ErrNotFound
	}
	return domain.PositionPerformance{Symbol: symbol}, nil
}

func TestListPositions(t *testing.T) {
	ldg := &stubLedger{positions: map[string]domain.Position{
		"005930": {Symbol: "005930", Quantity: 10},
	}}
	h := NewPositionHandler(ldg, testLogger())

	rec := doRequest(http.MethodGet, "/api/positions?refresh=true", "", nil, h.ListPositions)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ldg.refreshed)

	var res listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Positions, 1)
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewPositionHandler(&stubLedger{positions: map[string]domain.Position{}}, testLogger())

	rec := doRequest(http.MethodGet, "/api/positions/005930", "",
		map[string]string{"symbol": "005930"}, h.GetPosition)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// health
// ---------------------------------------------------------------------------

type stubPinger struct{ err error }

func (s *stubPinger) Ping(context.Context) error { return s.err }

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(&stubPinger{}, &stubPinger{})
	rec := doRequest(http.MethodGet, "/api/health", "", nil, h.HealthCheck)
	assert.Equal(t, http.StatusOK, rec.Code)

	var res healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "up", res.Checks["postgres"])
}

func TestHealthCheckDegraded(t *testing.T) {
	h := NewHealthHandler(&stubPinger{}, &stubPinger{err: errors.New("connection refused")})
	rec := doRequest(http.MethodGet, "/api/health", "", nil, h.HealthCheck)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var res healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "degraded", res.Status)
}
