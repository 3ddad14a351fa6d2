// Package config defines the top-level configuration for the Perpl client and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPL_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Perpl    PerplConfig    `toml:"perpl"`
	Markets  MarketsConfig  `toml:"markets"`
	Trading  TradingConfig  `toml:"trading"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the wallet credentials used for session authentication.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PerplConfig holds exchange endpoints and chain parameters.
type PerplConfig struct {
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
	ChainID int64  `toml:"chain_id"`
}

// MarketsConfig selects which streams the client subscribes to at startup.
type MarketsConfig struct {
	IDs         []int64  `toml:"ids"`
	Resolutions []string `toml:"resolutions"`
	TradeBound  int      `toml:"trade_bound"`
}

// TradingConfig holds connection and order-lifecycle timing parameters.
type TradingConfig struct {
	Keepalive      duration `toml:"keepalive"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	AuthDeadline   duration `toml:"auth_deadline"`
	RequestTimeout duration `toml:"request_timeout"`
	// ExpiryBlocks stamps outbound orders with chain_head + this many blocks
	// unless the caller sets an expiry explicitly. Zero disables stamping.
	ExpiryBlocks uint64 `toml:"expiry_blocks"`
}

// PostgresConfig holds PostgreSQL connection parameters for the order and
// fill history store.
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

// RedisConfig holds Redis connection parameters for the book mirror.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Perpl: PerplConfig{
			WsURL:   "wss://stream.perpl.exchange/ws",
			RestURL: "https://api.perpl.exchange",
			ChainID: 5151,
		},
		Markets: MarketsConfig{
			Resolutions: []string{"1m", "1h"},
			TradeBound:  1000,
		},
		Trading: TradingConfig{
			Keepalive:      duration{15 * time.Second},
			InitialBackoff: duration{1 * time.Second},
			MaxBackoff:     duration{60 * time.Second},
			AuthDeadline:   duration{15 * time.Second},
			RequestTimeout: duration{10 * time.Second},
			ExpiryBlocks:   600,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpl",
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
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpl-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"auth_expired", "order_unknown", "gap_detected", "order_filled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"observe": true,
	"trade":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: observe, trade, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — only the trading modes need a key.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Perpl endpoints
	if c.Perpl.WsURL == "" {
		errs = append(errs, "perpl: ws_url must not be empty")
	}
	if needsWallet && c.Perpl.RestURL == "" {
		errs = append(errs, "perpl: rest_url must not be empty for mode "+c.Mode)
	}
	if c.Perpl.ChainID <= 0 {
		errs = append(errs, "perpl: chain_id must be positive")
	}

	// Markets
	if len(c.Markets.IDs) == 0 {
		errs = append(errs, "markets: at least one market id must be configured")
	}
	for _, id := range c.Markets.IDs {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("markets: invalid market id %d", id))
		}
	}
	if c.Markets.TradeBound < 0 {
		errs = append(errs, "markets: trade_bound must be >= 0")
	}

	// Trading timings
	if c.Trading.Keepalive.Duration <= 0 {
		errs = append(errs, "trading: keepalive must be > 0")
	}
	if c.Trading.InitialBackoff.Duration <= 0 {
		errs = append(errs, "trading: initial_backoff must be > 0")
	}
	if c.Trading.MaxBackoff.Duration < c.Trading.InitialBackoff.Duration {
		errs = append(errs, "trading: max_backoff must be >= initial_backoff")
	}
	if c.Trading.RequestTimeout.Duration <= 0 {
		errs = append(errs, "trading: request_timeout must be > 0")
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.RetentionDays < 1 {
		errs = append(errs, "s3: retention_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
