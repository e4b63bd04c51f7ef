package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rediscache "github.com/alanyoungcy/stocktradebot/internal/cache/redis"
	"github.com/alanyoungcy/stocktradebot/internal/executor"
	"github.com/alanyoungcy/stocktradebot/internal/gateway/kis"
	"github.com/alanyoungcy/stocktradebot/internal/ledger"
	"github.com/alanyoungcy/stocktradebot/internal/risk"
	"github.com/alanyoungcy/stocktradebot/internal/server"
	"github.com/alanyoungcy/stocktradebot/internal/server/handler"
	"github.com/alanyoungcy/stocktradebot/internal/store/postgres"
)

// dependencies holds every wired component. Optional pieces (feed, server)
// are nil when the configuration disables them.
type dependencies struct {
	pg    *postgres.Client
	redis *rediscache.Client

	positions *postgres.PositionStore
	trades    *postgres.TradeStore
	stopRules *postgres.StopRuleStore

	prices  *rediscache.PriceCache
	limiter *rediscache.RateLimiter
	bus     *rediscache.SignalBus

	gateway *kis.Client
	ledger  *ledger.Ledger
	exec    *executor.Executor
	rules   *risk.RuleBook
	monitor *risk.Monitor

	streamer *kis.PriceStreamer
	server   *server.Server
}

// wire constructs all components in dependency order and registers their
// teardown with the App.
func (a *App) wire(ctx context.Context) (*dependencies, error) {
	deps := &dependencies{}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      a.cfg.Postgres.DSN,
		Host:     a.cfg.Postgres.Host,
		Port:     a.cfg.Postgres.Port,
		Database: a.cfg.Postgres.Database,
		User:     a.cfg.Postgres.User,
		Password: a.cfg.Postgres.Password,
		SSLMode:  a.cfg.Postgres.SSLMode,
		MaxConns: a.cfg.Postgres.PoolMaxConns,
		MinConns: a.cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.addCloser(pg.Close)
	deps.pg = pg

	if a.cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("app: run migrations: %w", err)
		}
	}

	deps.positions = postgres.NewPositionStore(pg.Pool())
	deps.trades = postgres.NewTradeStore(pg.Pool())
	deps.stopRules = postgres.NewStopRuleStore(pg.Pool())

	rc, err := rediscache.New(ctx, rediscache.ClientConfig{
		Addr:       a.cfg.Redis.Addr,
		Password:   a.cfg.Redis.Password,
		DB:         a.cfg.Redis.DB,
		PoolSize:   a.cfg.Redis.PoolSize,
		MaxRetries: a.cfg.Redis.MaxRetries,
		TLSEnabled: a.cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	a.addCloser(func() {
		if err := rc.Close(); err != nil {
			a.logger.Warn("app: close redis", slog.String("error", err.Error()))
		}
	})
	deps.redis = rc

	deps.prices = rediscache.NewPriceCache(rc)
	deps.limiter = rediscache.NewRateLimiter(rc)
	deps.bus = rediscache.NewSignalBus(rc)

	deps.gateway = kis.NewClient(kis.Config{
		BaseURL:          a.cfg.KIS.BaseURL,
		AppKey:           a.cfg.KIS.AppKey,
		AppSecret:        a.cfg.KIS.AppSecret,
		AccountNo:        a.cfg.KIS.AccountNo,
		AccountProductCd: a.cfg.KIS.AccountProductCd,
		Paper:            a.cfg.KIS.Paper,
		RateLimit:        a.cfg.KIS.RateLimit,
	}, deps.limiter, a.logger)

	deps.ledger = ledger.New(deps.positions, deps.trades, deps.gateway, deps.bus, ledger.Config{
		CacheTTL:           a.cfg.Ledger.CacheTTL.Duration,
		RebalanceThreshold: a.cfg.Ledger.RebalanceThreshold,
	}, a.logger)

	deps.exec = executor.New(deps.gateway, deps.ledger, deps.trades, deps.bus, executor.Config{
		MaxSingleOrder:   a.cfg.Trading.MaxSingleOrder,
		MaxPositionValue: a.cfg.Trading.MaxPositionValue,
		CommissionBps:    a.cfg.Trading.CommissionBps,
		GatewayTimeout:   a.cfg.Trading.GatewayTimeout.Duration,
		Live:             a.cfg.Trading.Live,
	}, a.logger)

	deps.rules = risk.NewRuleBook(deps.stopRules, a.logger)
	if err := deps.rules.Load(ctx); err != nil {
		return nil, fmt.Errorf("app: load stop rules: %w", err)
	}

	deps.monitor = risk.New(deps.ledger, deps.exec, deps.rules, deps.prices, deps.gateway, deps.bus, risk.Config{
		CheckInterval:   a.cfg.Risk.CheckInterval.Duration,
		MaxDailyLoss:    a.cfg.Risk.MaxDailyLoss,
		MaxPositionLoss: a.cfg.Risk.MaxPositionLoss,
		DefaultStopPct:  a.cfg.Risk.DefaultStopPct,
		DefaultTakePct:  a.cfg.Risk.DefaultTakePct,
	}, a.logger)

	if a.cfg.Feed.Enabled {
		deps.streamer = kis.NewPriceStreamer(a.cfg.KIS.WsURL, a.cfg.Feed.Symbols, deps.gateway, deps.prices, a.logger)
		a.addCloser(deps.streamer.Close)
	}

	if a.cfg.Server.Enabled {
		deps.server = server.NewServer(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(deps.pg, deps.redis),
			Positions: handler.NewPositionHandler(deps.ledger, a.logger),
			Orders:    handler.NewOrderHandler(deps.exec, a.logger),
			Risk:      handler.NewRiskHandler(deps.monitor, deps.rules, a.logger),
			Trading:   handler.NewTradingHandler(deps.exec, deps.monitor, a.logger),
		}, a.logger)
	}

	return deps, nil
}

// shutdownTimeout bounds graceful HTTP shutdown on context cancellation.
const shutdownTimeout = 5 * time.Second
