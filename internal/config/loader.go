package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── KIS ──
	setStr(&cfg.KIS.BaseURL, "TRADEBOT_KIS_BASE_URL")
	setStr(&cfg.KIS.WsURL, "TRADEBOT_KIS_WS_URL")
	setStr(&cfg.KIS.AppKey, "TRADEBOT_KIS_APP_KEY")
	setStr(&cfg.KIS.AppSecret, "TRADEBOT_KIS_APP_SECRET")
	setStr(&cfg.KIS.AccountNo, "TRADEBOT_KIS_ACCOUNT_NO")
	setStr(&cfg.KIS.AccountProductCd, "TRADEBOT_KIS_ACCOUNT_PRODUCT_CD")
	setBool(&cfg.KIS.Paper, "TRADEBOT_KIS_PAPER")
	setInt(&cfg.KIS.RateLimit, "TRADEBOT_KIS_RATE_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEBOT_REDIS_TLS_ENABLED")

	// ── Trading ──
	setBool(&cfg.Trading.Live, "TRADEBOT_TRADING_LIVE")
	setInt64(&cfg.Trading.MaxSingleOrder, "TRADEBOT_TRADING_MAX_SINGLE_ORDER")
	setInt64(&cfg.Trading.MaxPositionValue, "TRADEBOT_TRADING_MAX_POSITION_VALUE")
	setInt64(&cfg.Trading.CommissionBps, "TRADEBOT_TRADING_COMMISSION_BPS")
	setDuration(&cfg.Trading.GatewayTimeout, "TRADEBOT_TRADING_GATEWAY_TIMEOUT")

	// ── Risk ──
	setDuration(&cfg.Risk.CheckInterval, "TRADEBOT_RISK_CHECK_INTERVAL")
	setInt64(&cfg.Risk.MaxDailyLoss, "TRADEBOT_RISK_MAX_DAILY_LOSS")
	setInt64(&cfg.Risk.MaxPositionLoss, "TRADEBOT_RISK_MAX_POSITION_LOSS")
	setFloat64(&cfg.Risk.DefaultStopPct, "TRADEBOT_RISK_DEFAULT_STOP_PCT")
	setFloat64(&cfg.Risk.DefaultTakePct, "TRADEBOT_RISK_DEFAULT_TAKE_PCT")

	// ── Ledger ──
	setDuration(&cfg.Ledger.CacheTTL, "TRADEBOT_LEDGER_CACHE_TTL")
	setFloat64(&cfg.Ledger.RebalanceThreshold, "TRADEBOT_LEDGER_REBALANCE_THRESHOLD")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "TRADEBOT_FEED_ENABLED")
	setStringSlice(&cfg.Feed.Symbols, "TRADEBOT_FEED_SYMBOLS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRADEBOT_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
