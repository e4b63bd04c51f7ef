package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// OrderExecutor defines the executor methods the order handler requires.
type OrderExecutor interface {
	ExecuteBuy(ctx context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error)
	ExecuteSell(ctx context.Context, symbol string, quantity, price int64, kind domain.OrderKind) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (domain.OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatusInfo, error)
	HandleSignal(ctx context.Context, sig domain.TradeSignal) (domain.OrderResult, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	exec   OrderExecutor
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given executor and logger.
func NewOrderHandler(exec OrderExecutor, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		exec:   exec,
		logger: logHandler(logger, "order"),
	}
}

// placeOrderRequest is the body for order submission. Price zero or omitted
// means market.
type placeOrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Kind     string `json:"kind"`
}

// PlaceOrder submits a buy or sell order through the executor.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	kind := domain.OrderKind(req.Kind)
	if kind == "" {
		kind = domain.OrderKindMarket
		if req.Price > 0 {
			kind = domain.OrderKindLimit
		}
	}

	var (
		result domain.OrderResult
		err    error
	)
	switch domain.OrderSide(req.Side) {
	case domain.OrderSideBuy:
		result, err = h.exec.ExecuteBuy(r.Context(), req.Symbol, req.Quantity, req.Price, kind)
	case domain.OrderSideSell:
		result, err = h.exec.ExecuteSell(r.Context(), req.Symbol, req.Quantity, req.Price, kind)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: place order failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "order execution failed")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// CancelOrder cancels a pending order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := pathParam(r, "id")

	result, err := h.exec.CancelOrder(r.Context(), orderID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "order cancel failed")
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// GetOrderStatus returns an order's progress.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := pathParam(r, "id")

	info, err := h.exec.GetOrderStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: order status failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "order status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// signalRequest is the body for trade signal submission.
type signalRequest struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// HandleSignal accepts an upstream trade signal and routes it through the
// executor.
// POST /api/signals
func (h *OrderHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.exec.HandleSignal(r.Context(), domain.TradeSignal{
		ID:       req.ID,
		Source:   req.Source,
		Symbol:   req.Symbol,
		Action:   domain.RecommendedAction(req.Action),
		Quantity: req.Quantity,
		Price:    req.Price,
		Kind:     domain.OrderKind(req.Kind),
		Reason:   req.Reason,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: signal failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "signal handling failed")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
