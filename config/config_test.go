package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable applyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_TOKEN", "CHAT_ID", "GROUP_ID", "THREAD_ID", "POLL_INTERVAL",
		"REPORT_INTERVAL", "DEDUPE_WINDOW", "THRESHOLD_USD", "PORT", "DEDUPE_BACKEND",
		"REDIS_ADDR", "REDIS_PASSWORD", "COINGLASS_API_KEY", "BINANCE_API_KEY",
		"BINANCE_API_SECRET", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION",
		"APP_ENV",
	} {
		t.Setenv(k, "")
	}
}

// writeTempConfig writes content to a yml file in a temp dir and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalYAML = `liqwatch:
  name: "TestApp"
  version: "1.0"
telegram:
  token: "123:abc"
  chat_id: -1001
alert:
  threshold_usd: 25000
  poll_interval: 10s
source:
  okx:
    liquidation:
      enabled: true
      symbols: ["btc-usdt-swap"]
      contract_values:
        BTC-USDT-SWAP: 0.01
`

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(writeTempConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "TestApp", cfg.Liqwatch.Name)
	assert.Equal(t, int64(-1001), cfg.Telegram.ChatID)
	assert.Equal(t, 25000.0, cfg.Alert.ThresholdUSD)
	assert.Equal(t, 10*time.Second, cfg.Alert.PollInterval)
	assert.True(t, cfg.Source.Okx.Liquidation.Enabled)
	assert.Equal(t, []string{"BTC-USDT-SWAP"}, cfg.Source.Okx.Liquidation.Symbols)
	assert.Equal(t, ModeAlert, cfg.Source.Okx.Liquidation.Mode)
	assert.Equal(t, 0.01, cfg.Source.Okx.Liquidation.ContractValues["BTC-USDT-SWAP"])

	// untouched defaults survive the merge
	assert.Equal(t, 30, cfg.Source.Binance.ForceOrders.Limit)
	assert.Equal(t, DedupeMemory, cfg.Dedupe.Backend)
	assert.Equal(t, 15*time.Second, cfg.Reader.Timeout)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("GROUP_ID", "-42")
	t.Setenv("THREAD_ID", "7")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("REPORT_INTERVAL", "1d")
	t.Setenv("THRESHOLD_USD", "5000")
	t.Setenv("PORT", "9090")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.Telegram.Token)
	assert.Equal(t, int64(-42), cfg.Telegram.ChatID)
	assert.Equal(t, int64(7), cfg.Telegram.ThreadID)
	assert.Equal(t, time.Minute, cfg.Alert.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.Report.Interval)
	assert.Equal(t, 5000.0, cfg.Alert.ThresholdUSD)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestChatIDPrefersCHAT_ID(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("CHAT_ID", "100")
	t.Setenv("GROUP_ID", "200")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(100), cfg.Telegram.ChatID)
}

func TestLoadFailsFastOnMissingCredentials(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromEnv()
	require.ErrorIs(t, err, ErrMissingToken)

	t.Setenv("TELEGRAM_TOKEN", "tok")
	_, err = LoadFromEnv()
	require.ErrorIs(t, err, ErrMissingChatID)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("CHAT_ID", "not-a-number")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Telegram.Token = "tok"
		cfg.Telegram.ChatID = 1
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no sources", func(c *Config) { c.Source.Binance.ForceOrders.Enabled = false }, false},
		{"zero threshold", func(c *Config) { c.Alert.ThresholdUSD = 0 }, false},
		{"unknown dedupe backend", func(c *Config) { c.Dedupe.Backend = "sqlite" }, false},
		{"redis without addr", func(c *Config) { c.Dedupe.Backend = DedupeRedis }, false},
		{"redis with addr", func(c *Config) {
			c.Dedupe.Backend = DedupeRedis
			c.Dedupe.Redis.Addr = "localhost:6379"
		}, true},
		{"report mode without report", func(c *Config) {
			c.Source.Binance.Liquidation.Enabled = true
			c.Source.Binance.Liquidation.Mode = ModeReport
		}, false},
		{"report mode with report", func(c *Config) {
			c.Source.Binance.Liquidation.Enabled = true
			c.Source.Binance.Liquidation.Mode = ModeReport
			c.Report.Enabled = true
		}, true},
		{"bybit without symbols", func(c *Config) { c.Source.Bybit.Liquidation.Enabled = true }, false},
		{"bybit with symbols", func(c *Config) {
			c.Source.Bybit.Liquidation.Enabled = true
			c.Source.Bybit.Liquidation.Symbols = []string{"btcusdt"}
		}, true},
		{"coinglass without key", func(c *Config) { c.Source.Coinglass.Liquidation.Enabled = true }, false},
		{"force orders limit too large", func(c *Config) { c.Source.Binance.ForceOrders.Limit = 500 }, false},
		{"inverted dominance thresholds", func(c *Config) {
			c.Source.Coingecko.Dominance.Enabled = true
			c.Source.Coingecko.Dominance.CriticalBelow = 60
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			cfg.normalize()
			err := validateConfig(&cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestThresholdAndIntervalOverrides(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10_000.0, cfg.ThresholdFor(0))
	assert.Equal(t, 50_000.0, cfg.ThresholdFor(50_000))
	assert.Equal(t, 30*time.Second, cfg.IntervalFor(0))
	assert.Equal(t, time.Hour, cfg.IntervalFor(time.Hour))
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, EnvironmentProduction, AppEnvironment())

	t.Setenv("APP_ENV", "")
	assert.Equal(t, EnvironmentDevelopment, AppEnvironment())
}

func TestLoadFallsBackToEnvWhenFileMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("CHAT_ID", "1")

	cfg, fromFile, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, "tok", cfg.Telegram.Token)
}

func TestShippedConfigLoads(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("CHAT_ID", "-1001")

	cfg, err := LoadConfig("config.yml")
	require.NoError(t, err)

	assert.True(t, cfg.Source.Binance.ForceOrders.Enabled)
	assert.Equal(t, 30, cfg.Source.Binance.ForceOrders.Limit)
	assert.Equal(t, ModeReport, cfg.Source.Okx.Liquidation.Mode)
	assert.Equal(t, 0.01, cfg.Source.Okx.Liquidation.ContractValues["BTC-USDT-SWAP"])
	assert.Equal(t, 59*time.Minute, cfg.Source.Coingecko.Dominance.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Report.Interval)
	assert.Equal(t, "https://www.okx.com/api/v5/public/instruments", cfg.Source.Okx.Liquidation.InstrumentsURL)
	assert.Equal(t, Default().Server.Webhook, cfg.Server.Webhook, "shipped file matches defaults")
	assert.False(t, cfg.Server.Webhook)
}
