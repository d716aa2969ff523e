// Package config defines the top-level configuration for the exchange
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/engine"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by EXCHANGE_* environment
// variables.
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	LogLevel    string            `toml:"log_level"`
}

// EngineConfig holds matching engine parameters. Monetary fields are decimal
// strings so values round-trip exactly.
type EngineConfig struct {
	MakerFeeRate        string `toml:"maker_fee_rate"`
	TakerFeeRate        string `toml:"taker_fee_rate"`
	MinFee              string `toml:"min_fee"`
	MinOrderSize        string `toml:"min_order_size"`
	MaxOrderSize        string `toml:"max_order_size"`
	TickSize            string `toml:"tick_size"`
	SelfTradePrevention string `toml:"self_trade_prevention"`
	EventBuffer         int    `toml:"event_buffer"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false the daemon runs with in-memory state only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API parameters. APIKey grants unscoped access;
// AccountKeys maps account IDs to account-scoped keys.
type ServerConfig struct {
	Port            int               `toml:"port"`
	CORSOrigins     []string          `toml:"cors_origins"`
	APIKey          string            `toml:"api_key"`
	AccountKeys     map[string]string `toml:"account_keys"`
	RateLimit       int               `toml:"rate_limit"`
	RateLimitWindow duration          `toml:"rate_limit_window"`
}

// MaintenanceConfig holds background chore cadences.
type MaintenanceConfig struct {
	ExpirySweepInterval duration `toml:"expiry_sweep_interval"`
	RetentionInterval   duration `toml:"retention_interval"`
	RetentionMaxAge     duration `toml:"retention_max_age"`
	ArchiveInterval     duration `toml:"archive_interval"`
	ArchiveMaxAge       duration `toml:"archive_max_age"`
}

// duration wraps time.Duration for TOML text decoding ("30s", "24h").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Defaults returns the built-in configuration: an in-memory engine with the
// platform's standard fee schedule, serving HTTP on port 8080.
func Defaults() Config {
	eng := engine.DefaultConfig()
	return Config{
		Engine: EngineConfig{
			MakerFeeRate:        eng.MakerFeeRate.String(),
			TakerFeeRate:        eng.TakerFeeRate.String(),
			MinFee:              eng.MinFee.String(),
			MinOrderSize:        eng.MinOrderSize.String(),
			MaxOrderSize:        eng.MaxOrderSize.String(),
			TickSize:            eng.TickSize.String(),
			SelfTradePrevention: string(eng.SelfTradePrevention),
			EventBuffer:         eng.EventBuffer,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "exchange",
			User:          "exchange",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       100,
			RateLimitWindow: duration{time.Second},
		},
		Maintenance: MaintenanceConfig{
			ExpirySweepInterval: duration{time.Second},
			RetentionInterval:   duration{time.Hour},
			RetentionMaxAge:     duration{30 * 24 * time.Hour},
			ArchiveInterval:     duration{24 * time.Hour},
			ArchiveMaxAge:       duration{7 * 24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// BuildEngineConfig converts the decimal-string engine section into the
// engine's typed configuration.
func (c *Config) BuildEngineConfig() (engine.Config, error) {
	out := engine.Config{
		SelfTradePrevention: engine.STPPolicy(c.Engine.SelfTradePrevention),
		EventBuffer:         c.Engine.EventBuffer,
	}
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"maker_fee_rate", c.Engine.MakerFeeRate, &out.MakerFeeRate},
		{"taker_fee_rate", c.Engine.TakerFeeRate, &out.TakerFeeRate},
		{"min_fee", c.Engine.MinFee, &out.MinFee},
		{"min_order_size", c.Engine.MinOrderSize, &out.MinOrderSize},
		{"max_order_size", c.Engine.MaxOrderSize, &out.MaxOrderSize},
		{"tick_size", c.Engine.TickSize, &out.TickSize},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return engine.Config{}, fmt.Errorf("config: engine.%s %q: %w", f.name, f.src, err)
		}
		*f.dst = d
	}
	return out, nil
}

// Validate checks the configuration for obvious mistakes. Engine parameters
// get their own validation via BuildEngineConfig.
func (c *Config) Validate() error {
	engCfg, err := c.BuildEngineConfig()
	if err != nil {
		return err
	}
	if err := engCfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("config: postgres enabled but host/database/user incomplete")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis enabled but addr is empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: s3 enabled but bucket is empty")
		}
		if !c.Postgres.Enabled {
			return fmt.Errorf("config: s3 archival requires postgres")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
