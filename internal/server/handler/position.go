package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// PositionLedger defines the ledger methods the position handler requires.
type PositionLedger interface {
	GetAllPositions(ctx context.Context, forceRefresh bool) (map[string]domain.Position, error)
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)
	CalculatePortfolioMetrics(ctx context.Context) (domain.PortfolioSnapshot, error)
	CheckRebalancing(ctx context.Context) (domain.RebalanceAdvice, error)
	PositionPerformance(ctx context.Context, symbol string, window time.Duration) (domain.PositionPerformance, error)
}

// PositionHandler serves position and portfolio HTTP endpoints.
type PositionHandler struct {
	ledger PositionLedger
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given ledger and logger.
func NewPositionHandler(ledger PositionLedger, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		logger: logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions map[string]domain.Position `json:"positions"`
}

// ListPositions returns all open positions keyed by symbol.
// GET /api/positions?refresh=true
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	positions, err := h.ledger.GetAllPositions(r.Context(), refresh)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = map[string]domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one symbol's position.
// GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	pos, err := h.ledger.GetPosition(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for "+symbol)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPortfolio returns the derived portfolio snapshot.
// GET /api/portfolio
func (h *PositionHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.CalculatePortfolioMetrics(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: portfolio metrics failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute portfolio metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CheckRebalancing returns equal-weight rebalance advice.
// GET /api/portfolio/rebalance
func (h *PositionHandler) CheckRebalancing(w http.ResponseWriter, r *http.Request) {
	advice, err := h.ledger.CheckRebalancing(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: rebalance check failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to check rebalancing")
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

// GetPerformance returns one symbol's P&L breakdown over a trailing window.
// GET /api/positions/{symbol}/performance?days=30
func (h *PositionHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			days = n
		}
	}

	perf, err := h.ledger.PositionPerformance(r.Context(), symbol, time.Duration(days)*24*time.Hour)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for "+symbol)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: performance failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute performance")
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
