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
// built-in defaults, applies EXCHANGE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EXCHANGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Engine.
	setStr(&cfg.Engine.MakerFeeRate, "EXCHANGE_ENGINE_MAKER_FEE_RATE")
	setStr(&cfg.Engine.TakerFeeRate, "EXCHANGE_ENGINE_TAKER_FEE_RATE")
	setStr(&cfg.Engine.MinFee, "EXCHANGE_ENGINE_MIN_FEE")
	setStr(&cfg.Engine.MinOrderSize, "EXCHANGE_ENGINE_MIN_ORDER_SIZE")
	setStr(&cfg.Engine.MaxOrderSize, "EXCHANGE_ENGINE_MAX_ORDER_SIZE")
	setStr(&cfg.Engine.TickSize, "EXCHANGE_ENGINE_TICK_SIZE")
	setStr(&cfg.Engine.SelfTradePrevention, "EXCHANGE_ENGINE_SELF_TRADE_PREVENTION")
	setInt(&cfg.Engine.EventBuffer, "EXCHANGE_ENGINE_EVENT_BUFFER")

	// Postgres.
	setBool(&cfg.Postgres.Enabled, "EXCHANGE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "EXCHANGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "EXCHANGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXCHANGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXCHANGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXCHANGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXCHANGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXCHANGE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EXCHANGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EXCHANGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EXCHANGE_POSTGRES_RUN_MIGRATIONS")

	// Redis.
	setBool(&cfg.Redis.Enabled, "EXCHANGE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EXCHANGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXCHANGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXCHANGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXCHANGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EXCHANGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EXCHANGE_REDIS_TLS_ENABLED")

	// S3.
	setBool(&cfg.S3.Enabled, "EXCHANGE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EXCHANGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXCHANGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXCHANGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXCHANGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXCHANGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EXCHANGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EXCHANGE_S3_FORCE_PATH_STYLE")

	// Server.
	setInt(&cfg.Server.Port, "EXCHANGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "EXCHANGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "EXCHANGE_SERVER_API_KEY")
	setKeyMap(&cfg.Server.AccountKeys, "EXCHANGE_SERVER_ACCOUNT_KEYS")
	setInt(&cfg.Server.RateLimit, "EXCHANGE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "EXCHANGE_SERVER_RATE_LIMIT_WINDOW")

	// Maintenance.
	setDuration(&cfg.Maintenance.ExpirySweepInterval, "EXCHANGE_MAINTENANCE_EXPIRY_SWEEP_INTERVAL")
	setDuration(&cfg.Maintenance.RetentionInterval, "EXCHANGE_MAINTENANCE_RETENTION_INTERVAL")
	setDuration(&cfg.Maintenance.RetentionMaxAge, "EXCHANGE_MAINTENANCE_RETENTION_MAX_AGE")
	setDuration(&cfg.Maintenance.ArchiveInterval, "EXCHANGE_MAINTENANCE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Maintenance.ArchiveMaxAge, "EXCHANGE_MAINTENANCE_ARCHIVE_MAX_AGE")

	// Top-level.
	setStr(&cfg.LogLevel, "EXCHANGE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

// setKeyMap parses "account:key" pairs separated by commas, for example
// "alice:k1,bob:k2".
func setKeyMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		account, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || account == "" || secret == "" {
			continue
		}
		parsed[account] = secret
	}
	if len(parsed) > 0 {
		*dst = parsed
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
