package app

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// runTrade runs the order execution surface: the HTTP API for orders and
// signals, plus the realtime price feed. Risk sweeps do not run.
func (a *App) runTrade(ctx context.Context, deps *dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return waitGroup(g)
}

// runMonitor runs risk sweeps against the live portfolio with order
// submission forced onto the simulation path, so corrective sells are
// recorded but never reach the broker.
func (a *App) runMonitor(ctx context.Context, deps *dependencies) error {
	deps.exec.DisableTrading()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.monitor.Run(ctx) })
	a.startFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return waitGroup(g)
}

// runServer runs the HTTP API only.
func (a *App) runServer(ctx context.Context, deps *dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)

	return waitGroup(g)
}

// runFull runs everything: HTTP API, price feed, and risk sweeps.
func (a *App) runFull(ctx context.Context, deps *dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.monitor.Run(ctx) })
	a.startFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return waitGroup(g)
}

// startFeed runs the websocket price streamer when the feed is enabled.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *dependencies) {
	if deps.streamer == nil {
		return
	}
	g.Go(func() error { return deps.streamer.Run(ctx) })
}

// startHTTPServer runs the API server when enabled and shuts it down
// gracefully once the group context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *dependencies) {
	if deps.server == nil {
		return
	}
	g.Go(func() error {
		return deps.server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return deps.server.Shutdown(shutdownCtx)
	})
}

// waitGroup waits for the group and treats context cancellation and server
// close as a clean shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
