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
// built-in defaults, applies PERPL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PERPL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PERPL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PERPL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PERPL_WALLET_KEY_PASSWORD")

	// ── Perpl ──
	setStr(&cfg.Perpl.WsURL, "PERPL_WS_URL")
	setStr(&cfg.Perpl.RestURL, "PERPL_REST_URL")
	setInt64(&cfg.Perpl.ChainID, "PERPL_CHAIN_ID")

	// ── Markets ──
	setInt64Slice(&cfg.Markets.IDs, "PERPL_MARKET_IDS")
	setStringSlice(&cfg.Markets.Resolutions, "PERPL_MARKET_RESOLUTIONS")
	setInt(&cfg.Markets.TradeBound, "PERPL_MARKET_TRADE_BOUND")

	// ── Trading ──
	setDuration(&cfg.Trading.Keepalive, "PERPL_TRADING_KEEPALIVE")
	setDuration(&cfg.Trading.InitialBackoff, "PERPL_TRADING_INITIAL_BACKOFF")
	setDuration(&cfg.Trading.MaxBackoff, "PERPL_TRADING_MAX_BACKOFF")
	setDuration(&cfg.Trading.AuthDeadline, "PERPL_TRADING_AUTH_DEADLINE")
	setDuration(&cfg.Trading.RequestTimeout, "PERPL_TRADING_REQUEST_TIMEOUT")
	setUint64(&cfg.Trading.ExpiryBlocks, "PERPL_TRADING_EXPIRY_BLOCKS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPL_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "PERPL_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPL_MODE")
	setStr(&cfg.LogLevel, "PERPL_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

func setInt64Slice(dst *[]int64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		parsed := make([]int64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return
			}
			parsed = append(parsed, n)
		}
		if len(parsed) > 0 {
			*dst = parsed
		}
	}
}
