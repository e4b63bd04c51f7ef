package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// RiskMonitor defines the monitor methods the risk handler requires.
type RiskMonitor interface {
	AssessPortfolioRisk(ctx context.Context) (domain.RiskAssessment, error)
	CheckEmergencyConditions(ctx context.Context) (domain.EmergencyCheck, error)
	SetupStopRule(ctx context.Context, symbol string, kind domain.StopKind, triggerPrice, takeProfitPrice, trailDistance int64) (domain.StopRule, error)
	SetupAutomaticStop(ctx context.Context, symbol string, stopPct, takePct float64) (domain.StopRule, error)
	CancelStopRule(ctx context.Context, symbol string)
}

// StopRules exposes the rule book to read endpoints.
type StopRules interface {
	ActiveRules() map[string]domain.StopRule
	Get(symbol string) (domain.StopRule, bool)
}

// RiskHandler serves risk assessment and stop rule HTTP endpoints.
type RiskHandler struct {
	monitor RiskMonitor
	rules   StopRules
	logger  *slog.Logger
}

// NewRiskHandler creates a RiskHandler with the given monitor and rule book.
func NewRiskHandler(monitor RiskMonitor, rules StopRules, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		monitor: monitor,
		rules:   rules,
		logger:  logHandler(logger, "risk"),
	}
}

// GetAssessment returns the portfolio risk assessment.
// GET /api/risk/assessment
func (h *RiskHandler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.monitor.AssessPortfolioRisk(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: risk assessment failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "risk assessment failed")
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// GetEmergencyCheck runs an emergency-condition sweep without acting on it.
// GET /api/risk/emergency
func (h *RiskHandler) GetEmergencyCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.monitor.CheckEmergencyConditions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: emergency check failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "emergency check failed")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// listRulesResponse wraps the active stop rules response.
type listRulesResponse struct {
	Rules map[string]domain.StopRule `json:"rules"`
}

// ListStopRules returns all active stop rules keyed by symbol.
// GET /api/risk/rules
func (h *RiskHandler) ListStopRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listRulesResponse{Rules: h.rules.ActiveRules()})
}

// stopRuleRequest is the body for stop rule installation. When automatic is
// set, the rule derives from the position's average entry price and the
// explicit prices are ignored.
type stopRuleRequest struct {
	Kind            string  `json:"kind"`
	TriggerPrice    int64   `json:"trigger_price"`
	TakeProfitPrice int64   `json:"take_profit_price"`
	TrailDistance   int64   `json:"trail_distance"`
	Automatic       bool    `json:"automatic"`
	StopPct         float64 `json:"stop_pct"`
	TakePct         float64 `json:"take_pct"`
}

// PutStopRule installs or replaces a symbol's stop rule.
// PUT /api/risk/rules/{symbol}
func (h *RiskHandler) PutStopRule(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	var req stopRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		rule domain.StopRule
		err  error
	)
	if req.Automatic {
		rule, err = h.monitor.SetupAutomaticStop(r.Context(), symbol, req.StopPct, req.TakePct)
	} else {
		rule, err = h.monitor.SetupStopRule(r.Context(), symbol, domain.StopKind(req.Kind),
			req.TriggerPrice, req.TakeProfitPrice, req.TrailDistance)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInsufficientHoldings):
			writeError(w, http.StatusUnprocessableEntity, "no open position for "+symbol)
		case errors.Is(err, domain.ErrInvalidPrice):
			writeError(w, http.StatusBadRequest, "invalid rule prices")
		default:
			h.logger.ErrorContext(r.Context(), "handler: stop rule setup failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "stop rule setup failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteStopRule cancels a symbol's stop rule without selling.
// DELETE /api/risk/rules/{symbol}
func (h *RiskHandler) DeleteStopRule(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if _, ok := h.rules.Get(symbol); !ok {
		writeError(w, http.StatusNotFound, "no stop rule for "+symbol)
		return
	}
	h.monitor.CancelStopRule(r.Context(), symbol)
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "state": "cancelled"})
}
