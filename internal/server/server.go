// Package server is the headless HTTP API for querying positions and risk
// state and for operator control of the trading bot.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/server/handler"
	"github.com/alanyoungcy/stocktradebot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Orders    *handler.OrderHandler
	Risk      *handler.RiskHandler
	Trading   *handler.TradingHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the logging and auth middleware applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required below; auth middleware covers all).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position and portfolio endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{symbol}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{symbol}/performance", handlers.Positions.GetPerformance)
	mux.HandleFunc("GET /api/portfolio", handlers.Positions.GetPortfolio)
	mux.HandleFunc("GET /api/portfolio/rebalance", handlers.Positions.CheckRebalancing)

	// Order endpoints.
	mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrderStatus)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	mux.HandleFunc("POST /api/signals", handlers.Orders.HandleSignal)

	// Risk endpoints.
	mux.HandleFunc("GET /api/risk/assessment", handlers.Risk.GetAssessment)
	mux.HandleFunc("GET /api/risk/emergency", handlers.Risk.GetEmergencyCheck)
	mux.HandleFunc("GET /api/risk/rules", handlers.Risk.ListStopRules)
	mux.HandleFunc("PUT /api/risk/rules/{symbol}", handlers.Risk.PutStopRule)
	mux.HandleFunc("DELETE /api/risk/rules/{symbol}", handlers.Risk.DeleteStopRule)

	// Operator controls.
	mux.HandleFunc("GET /api/trading", handlers.Trading.GetState)
	mux.HandleFunc("POST /api/trading/enable", handlers.Trading.Enable)
	mux.HandleFunc("POST /api/trading/disable", handlers.Trading.Disable)
	mux.HandleFunc("POST /api/trading/halt", handlers.Trading.Halt)
	mux.HandleFunc("POST /api/trading/resume", handlers.Trading.Resume)

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
