// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEBOT_* environment variables.
type Config struct {
	KIS      KISConfig      `toml:"kis"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Feed     FeedConfig     `toml:"feed"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KISConfig holds Korea Investment & Securities OpenAPI credentials.
type KISConfig struct {
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
	AppKey           string `toml:"app_key"`
	AppSecret        string `toml:"app_secret"`
	AccountNo        string `toml:"account_no"`
	AccountProductCd string `toml:"account_product_cd"`
	Paper            bool   `toml:"paper"`
	RateLimit        int    `toml:"rate_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// TradingConfig holds the order executor's ceilings and mode. Money values
// are integer won.
type TradingConfig struct {
	Live             bool     `toml:"live"`
	MaxSingleOrder   int64    `toml:"max_single_order"`
	MaxPositionValue int64    `toml:"max_position_value"`
	CommissionBps    int64    `toml:"commission_bps"`
	GatewayTimeout   duration `toml:"gateway_timeout"`
}

// RiskConfig holds the risk monitor's loss limits and cadence.
type RiskConfig struct {
	CheckInterval   duration `toml:"check_interval"`
	MaxDailyLoss    int64    `toml:"max_daily_loss"`
	MaxPositionLoss int64    `toml:"max_position_loss"`
	DefaultStopPct  float64  `toml:"default_stop_pct"`
	DefaultTakePct  float64  `toml:"default_take_pct"`
}

// LedgerConfig holds the position ledger's cache and rebalance parameters.
type LedgerConfig struct {
	CacheTTL           duration `toml:"cache_ttl"`
	RebalanceThreshold float64  `toml:"rebalance_threshold"`
}

// FeedConfig holds the realtime price feed parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	Symbols []string `toml:"symbols"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		KIS: KISConfig{
			BaseURL:          "https://openapivts.koreainvestment.com:29443",
			WsURL:            "ws://ops.koreainvestment.com:31000",
			AccountProductCd: "01",
			Paper:            true,
			RateLimit:        15,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Trading: TradingConfig{
			Live:             false,
			MaxSingleOrder:   5_000_000,
			MaxPositionValue: 20_000_000,
			CommissionBps:    15,
			GatewayTimeout:   duration{10 * time.Second},
		},
		Risk: RiskConfig{
			CheckInterval:   duration{30 * time.Second},
			MaxDailyLoss:    1_000_000,
			MaxPositionLoss: 500_000,
			DefaultStopPct:  5.0,
			DefaultTakePct:  10.0,
		},
		Ledger: LedgerConfig{
			CacheTTL:           duration{5 * time.Minute},
			RebalanceThreshold: 5.0,
		},
		Feed: FeedConfig{
			Enabled: false,
			Symbols: []string{},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Run modes.
const (
	// ModeTrade runs the order execution surface and the price feed.
	ModeTrade = "trade"
	// ModeMonitor runs risk sweeps with order submission forced to the
	// simulation path.
	ModeMonitor = "monitor"
	// ModeServer runs the HTTP API only.
	ModeServer = "server"
	// ModeFull runs everything.
	ModeFull = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeTrade:   true,
	ModeMonitor: true,
	ModeServer:  true,
	ModeFull:    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// KIS — credentials are required for every mode that touches the broker.
	if c.KIS.BaseURL == "" {
		errs = append(errs, "kis: base_url must not be empty")
	}
	if c.KIS.AppKey == "" {
		errs = append(errs, "kis: app_key must not be empty")
	}
	if c.KIS.AppSecret == "" {
		errs = append(errs, "kis: app_secret must not be empty")
	}
	if c.KIS.AccountNo == "" {
		errs = append(errs, "kis: account_no must not be empty")
	}
	if c.Trading.Live && c.KIS.Paper {
		errs = append(errs, "kis: paper environment cannot be combined with trading.live")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Trading
	if c.Trading.MaxSingleOrder <= 0 {
		errs = append(errs, "trading: max_single_order must be > 0")
	}
	if c.Trading.MaxPositionValue <= 0 {
		errs = append(errs, "trading: max_position_value must be > 0")
	}
	if c.Trading.MaxPositionValue < c.Trading.MaxSingleOrder {
		errs = append(errs, "trading: max_position_value must be >= max_single_order")
	}
	if c.Trading.CommissionBps < 0 {
		errs = append(errs, "trading: commission_bps must be >= 0")
	}

	// Risk
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxPositionLoss <= 0 {
		errs = append(errs, "risk: max_position_loss must be > 0")
	}
	if c.Risk.DefaultStopPct <= 0 || c.Risk.DefaultStopPct >= 100 {
		errs = append(errs, "risk: default_stop_pct must be in (0, 100)")
	}
	if c.Risk.DefaultTakePct <= 0 {
		errs = append(errs, "risk: default_take_pct must be > 0")
	}

	// Feed
	if c.Feed.Enabled {
		if c.KIS.WsURL == "" {
			errs = append(errs, "feed: kis.ws_url must not be empty when feed is enabled")
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: symbols must not be empty when feed is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
