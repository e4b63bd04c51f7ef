// Package app wires the trading bot's components together and runs the
// selected mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stocktradebot/internal/config"
)

// App owns the application lifecycle: wiring, mode selection, and teardown.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closers []func()
}

// New creates an App for the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires dependencies and runs the configured mode. It blocks until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}

	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("live", a.cfg.Trading.Live),
		slog.Bool("paper", a.cfg.KIS.Paper),
	)

	switch a.cfg.Mode {
	case config.ModeTrade:
		return a.runTrade(ctx, deps)
	case config.ModeMonitor:
		return a.runMonitor(ctx, deps)
	case config.ModeServer:
		return a.runServer(ctx, deps)
	case config.ModeFull:
		return a.runFull(ctx, deps)
	default:
		return fmt.Errorf("app: unknown mode %q", a.cfg.Mode)
	}
}

// Close releases all wired resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.logger.Info("app: closed")
}

// addCloser registers a teardown function to run on Close.
func (a *App) addCloser(fn func()) {
	a.closers = append(a.closers, fn)
}
