package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "observe"
	cfg.Markets.IDs = []int64{16}
	return cfg
}

func TestDefaultsObserveValid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateTradingModeRequiresWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "abc123"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Markets.IDs = []int64{-1}
	cfg.Trading.MaxBackoff.Duration = time.Millisecond
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
	require.Contains(t, err.Error(), "unknown log_level")
	require.Contains(t, err.Error(), "invalid market id")
	require.Contains(t, err.Error(), "max_backoff")
	require.Contains(t, err.Error(), "redis")
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Wallet.EncryptedKeyPath = "/tmp/key.json"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password")
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))

	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "observe"
log_level = "debug"

[perpl]
ws_url = "wss://example.test/ws"
chain_id = 42

[markets]
ids = [16, 17]
resolutions = ["1m"]

[trading]
keepalive = "30s"
request_timeout = "5s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "observe", cfg.Mode)
	require.Equal(t, "wss://example.test/ws", cfg.Perpl.WsURL)
	require.Equal(t, int64(42), cfg.Perpl.ChainID)
	require.Equal(t, []int64{16, 17}, cfg.Markets.IDs)
	require.Equal(t, 30*time.Second, cfg.Trading.Keepalive.Duration)
	require.Equal(t, 5*time.Second, cfg.Trading.RequestTimeout.Duration)
	// Untouched sections keep their defaults.
	require.Equal(t, "https://api.perpl.exchange", cfg.Perpl.RestURL)
	require.Equal(t, 1000, cfg.Markets.TradeBound)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
mode = "observe"

[markets]
ids = [16]
`)
	t.Setenv("PERPL_WS_URL", "wss://override.test/ws")
	t.Setenv("PERPL_MODE", "trade")
	t.Setenv("PERPL_MARKET_IDS", "1,2,3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wss://override.test/ws", cfg.Perpl.WsURL)
	require.Equal(t, "trade", cfg.Mode)
	require.Equal(t, []int64{1, 2, 3}, cfg.Markets.IDs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)
	require.NotEqual(t, "deadbeef", red.Wallet.PrivateKey)
	require.NotEqual(t, "pgpass", red.Postgres.Password)
	require.NotEqual(t, "redispass", red.Redis.Password)
	require.NotEqual(t, "s3secret", red.S3.SecretKey)
	require.NotEqual(t, "bot-token", red.Notify.TelegramToken)

	// The original is untouched.
	require.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
}
