package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// TradingControls defines the operator switches the trading handler exposes.
type TradingControls interface {
	TradingLive() bool
	EnableTrading()
	DisableTrading()
	Halted() bool
	Halt()
	Resume()
}

// EmergencyState is the monitor-side state cleared when trading resumes.
type EmergencyState interface {
	ResetEmergencyState()
}

// TradingHandler serves the operator control endpoints: live/simulation
// switching and the emergency halt.
type TradingHandler struct {
	controls  TradingControls
	emergency EmergencyState // optional
	logger    *slog.Logger
}

// NewTradingHandler creates a TradingHandler. emergency may be nil.
func NewTradingHandler(controls TradingControls, emergency EmergencyState, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		controls:  controls,
		emergency: emergency,
		logger:    logHandler(logger, "trading"),
	}
}

type tradingStateResponse struct {
	Live      bool      `json:"live"`
	Halted    bool      `json:"halted"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *TradingHandler) state() tradingStateResponse {
	return tradingStateResponse{
		Live:      h.controls.TradingLive(),
		Halted:    h.controls.Halted(),
		Timestamp: time.Now().UTC(),
	}
}

// GetState reports the live and halted flags.
// GET /api/trading
func (h *TradingHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// Enable switches to real order submission.
// POST /api/trading/enable
func (h *TradingHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.controls.EnableTrading()
	writeJSON(w, http.StatusOK, h.state())
}

// Disable switches to the simulation path.
// POST /api/trading/disable
func (h *TradingHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.controls.DisableTrading()
	writeJSON(w, http.StatusOK, h.state())
}

// Halt activates the emergency stop.
// POST /api/trading/halt
func (h *TradingHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.controls.Halt()
	h.logger.WarnContext(r.Context(), "handler: trading halted by operator")
	writeJSON(w, http.StatusOK, h.state())
}

// Resume clears the emergency stop and resets the monitor's breach-episode
// state so a recurring breach acts again.
// POST /api/trading/resume
func (h *TradingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.controls.Resume()
	if h.emergency != nil {
		h.emergency.ResetEmergencyState()
	}
	h.logger.InfoContext(r.Context(), "handler: trading resumed by operator")
	writeJSON(w, http.StatusOK, h.state())
}
