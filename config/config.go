package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when no -config flag is given.
const DefaultPath = "config/config.yml"

var (
	ErrMissingToken    = errors.New("telegram.token is required")
	ErrMissingChatID   = errors.New("telegram.chat_id is required")
	ErrNoSourceEnabled = errors.New("at least one source must be enabled")
)

type Config struct {
	Liqwatch LiqwatchConfig `yaml:"liqwatch"`
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Alert    AlertConfig    `yaml:"alert"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Reader   ReaderConfig   `yaml:"reader"`
	Source   SourceConfig   `yaml:"source"`
	Report   ReportConfig   `yaml:"report"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type LiqwatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type TelegramConfig struct {
	Token         string        `yaml:"token"`
	ChatID        int64         `yaml:"chat_id"`
	ThreadID      int64         `yaml:"thread_id"`
	ParseMode     string        `yaml:"parse_mode"`
	APIURL        string        `yaml:"api_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	Webhook bool   `yaml:"webhook"`
}

type AlertConfig struct {
	ThresholdUSD float64       `yaml:"threshold_usd"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DedupeConfig struct {
	Backend string        `yaml:"backend"`
	Window  time.Duration `yaml:"window"`
	Path    string        `yaml:"path"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	UserAgent string          `yaml:"user_agent"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
}

type SourceConfig struct {
	Binance   BinanceSourceConfig   `yaml:"binance"`
	Okx       OkxSourceConfig       `yaml:"okx"`
	Bybit     BybitSourceConfig     `yaml:"bybit"`
	Coinglass CoinglassSourceConfig `yaml:"coinglass"`
	Coingecko CoingeckoSourceConfig `yaml:"coingecko"`
}

type BinanceSourceConfig struct {
	ForceOrders ForceOrdersConfig `yaml:"force_orders"`
	Liquidation StreamConfig      `yaml:"liquidation"`
}

// ForceOrdersConfig configures the Binance force-orders REST poller. The
// endpoint is signed; requests without credentials receive an error body and
// yield no events.
type ForceOrdersConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Limit        int           `yaml:"limit"`
	Symbol       string        `yaml:"symbol"`
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	ThresholdUSD float64       `yaml:"threshold_usd"`
	Interval     time.Duration `yaml:"interval"`
}

// StreamConfig configures a websocket liquidation subscription. Mode selects
// whether events feed per-event alerts, the periodic report, or both.
type StreamConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Symbols      []string      `yaml:"symbols"`
	Mode         string        `yaml:"mode"`
	ThresholdUSD float64       `yaml:"threshold_usd"`
	Interval     time.Duration `yaml:"interval"`
}

type OkxSourceConfig struct {
	Liquidation OkxStreamConfig `yaml:"liquidation"`
}

// OkxStreamConfig adds contract metadata. Contract values are loaded from
// InstrumentsURL on every connect; ContractValues overrides them for linear
// instruments.
type OkxStreamConfig struct {
	StreamConfig   `yaml:",inline"`
	InstrumentsURL string             `yaml:"instruments_url"`
	ContractValues map[string]float64 `yaml:"contract_values"`
}

type BybitSourceConfig struct {
	Liquidation StreamConfig `yaml:"liquidation"`
}

type CoinglassSourceConfig struct {
	Liquidation CoinglassConfig `yaml:"liquidation"`
}

type CoinglassConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Symbol       string        `yaml:"symbol"`
	TimeType     string        `yaml:"time_type"`
	Buckets      int           `yaml:"buckets"`
	ThresholdUSD float64       `yaml:"threshold_usd"`
	Interval     time.Duration `yaml:"interval"`
}

type CoingeckoSourceConfig struct {
	Dominance DominanceConfig `yaml:"dominance"`
}

type DominanceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Asset          string        `yaml:"asset"`
	Interval       time.Duration `yaml:"interval"`
	CriticalBelow  float64       `yaml:"critical_below"`
	AlertAtOrBelow float64       `yaml:"alert_at_or_below"`
}

type ReportConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	Dashboard       string `yaml:"dashboard"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	ModeAlert  = "alert"
	ModeReport = "report"
	ModeBoth   = "both"
)

const (
	DedupeMemory = "memory"
	DedupeBuntDB = "buntdb"
	DedupeRedis  = "redis"
)

// Default returns the configuration used for values missing from the file
// and the environment. It mirrors the single-source Binance bot: poll force
// orders every 30s and alert on liquidations worth at least $10,000.
func Default() Config {
	return Config{
		Liqwatch: LiqwatchConfig{Name: "liqwatch", Version: "1.0.0"},
		Telegram: TelegramConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 1,
			Burst:         5,
		},
		Server: ServerConfig{Address: ":8080"},
		Alert: AlertConfig{
			ThresholdUSD: 10_000,
			PollInterval: 30 * time.Second,
		},
		Dedupe: DedupeConfig{
			Backend: DedupeMemory,
			Window:  24 * time.Hour,
			Path:    "data/dedupe.db",
			Redis:   RedisConfig{Prefix: "liqwatch:seen:"},
		},
		Reader: ReaderConfig{
			Timeout:   15 * time.Second,
			UserAgent: "liqwatch/1.0",
			Reconnect: ReconnectConfig{Min: time.Second, Max: 30 * time.Second, Factor: 2},
		},
		Source: SourceConfig{
			Binance: BinanceSourceConfig{
				ForceOrders: ForceOrdersConfig{
					Enabled: true,
					URL:     "https://fapi.binance.com/fapi/v1/forceOrders",
					Limit:   30,
				},
				Liquidation: StreamConfig{Mode: ModeAlert},
			},
			Okx: OkxSourceConfig{
				Liquidation: OkxStreamConfig{
					StreamConfig: StreamConfig{
						URL:  "wss://ws.okx.com:8443/ws/v5/public",
						Mode: ModeAlert,
					},
					InstrumentsURL: "https://www.okx.com/api/v5/public/instruments",
				},
			},
			Bybit: BybitSourceConfig{
				Liquidation: StreamConfig{
					URL:  "wss://stream.bybit.com/v5/public/linear",
					Mode: ModeAlert,
				},
			},
			Coinglass: CoinglassSourceConfig{
				Liquidation: CoinglassConfig{
					URL:      "https://open-api-v3.coinglass.com/api/futures/liquidation/v2/history",
					Symbol:   "BTC",
					TimeType: "h1",
					Buckets:  12,
					Interval: 5 * time.Minute,
				},
			},
			Coingecko: CoingeckoSourceConfig{
				Dominance: DominanceConfig{
					URL:            "https://api.coingecko.com/api/v3/global",
					Asset:          "btc",
					Interval:       59 * time.Minute,
					CriticalBelow:  50,
					AlertAtOrBelow: 55,
				},
			},
		},
		Report: ReportConfig{Interval: 12 * time.Hour},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "Liqwatch", Dashboard: "Liqwatch"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(&config)
}

// LoadFromEnv builds the configuration from defaults and environment
// variables only, for deployments that ship without a config file.
func LoadFromEnv() (*Config, error) {
	config := Default()
	return finish(&config)
}

func finish(config *Config) (*Config, error) {
	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	config.normalize()
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func applyEnv(cfg *Config) error {
	if v := env("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	chat := env("CHAT_ID")
	if chat == "" {
		chat = env("GROUP_ID")
	}
	if chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAT_ID %q: %w", chat, err)
		}
		cfg.Telegram.ChatID = id
	}

	if v := env("THREAD_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("THREAD_ID %q: %w", v, err)
		}
		cfg.Telegram.ThreadID = id
	}

	if v := env("POLL_INTERVAL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL %q: %w", v, err)
		}
		cfg.Alert.PollInterval = d
	}

	if v := env("REPORT_INTERVAL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("REPORT_INTERVAL %q: %w", v, err)
		}
		cfg.Report.Interval = d
	}

	if v := env("DEDUPE_WINDOW"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("DEDUPE_WINDOW %q: %w", v, err)
		}
		cfg.Dedupe.Window = d
	}

	if v := env("THRESHOLD_USD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("THRESHOLD_USD %q: %w", v, err)
		}
		cfg.Alert.ThresholdUSD = f
	}

	if v := env("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		cfg.Server.Address = ":" + v
	}

	if v := env("DEDUPE_BACKEND"); v != "" {
		cfg.Dedupe.Backend = strings.ToLower(v)
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Dedupe.Redis.Addr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		cfg.Dedupe.Redis.Password = v
	}
	if v := env("COINGLASS_API_KEY"); v != "" {
		cfg.Source.Coinglass.Liquidation.APIKey = v
	}
	if v := env("BINANCE_API_KEY"); v != "" {
		cfg.Source.Binance.ForceOrders.APIKey = v
	}
	if v := env("BINANCE_API_SECRET"); v != "" {
		cfg.Source.Binance.ForceOrders.APISecret = v
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if v := env("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = v
		}
		if v := env("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = v
		}
		if v := env("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = v
		}
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// parseDuration accepts Go durations plus day and week units ("1d12h").
func parseDuration(v string) (time.Duration, error) {
	return str2duration.ParseDuration(v)
}

func (c *Config) normalize() {
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	c.Dedupe.Backend = strings.ToLower(strings.TrimSpace(c.Dedupe.Backend))
	if c.Dedupe.Backend == "" {
		c.Dedupe.Backend = DedupeMemory
	}

	for _, s := range []*StreamConfig{
		&c.Source.Binance.Liquidation,
		&c.Source.Okx.Liquidation.StreamConfig,
		&c.Source.Bybit.Liquidation,
	} {
		s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
		if s.Mode == "" {
			s.Mode = ModeAlert
		}
		for i, sym := range s.Symbols {
			s.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}
}

// ThresholdFor returns override when set, otherwise the global threshold.
func (c *Config) ThresholdFor(override float64) float64 {
	if override > 0 {
		return override
	}
	return c.Alert.ThresholdUSD
}

// IntervalFor returns override when set, otherwise the global poll interval.
func (c *Config) IntervalFor(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.Alert.PollInterval
}

// AnySourceEnabled reports whether at least one upstream is configured.
func (c *Config) AnySourceEnabled() bool {
	s := c.Source
	return s.Binance.ForceOrders.Enabled ||
		s.Binance.Liquidation.Enabled ||
		s.Okx.Liquidation.Enabled ||
		s.Bybit.Liquidation.Enabled ||
		s.Coinglass.Liquidation.Enabled ||
		s.Coingecko.Dominance.Enabled
}

func validateConfig(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return ErrMissingToken
	}
	if cfg.Telegram.ChatID == 0 {
		return ErrMissingChatID
	}
	if !cfg.AnySourceEnabled() {
		return ErrNoSourceEnabled
	}

	if cfg.Alert.ThresholdUSD <= 0 {
		return fmt.Errorf("alert.threshold_usd must be greater than 0")
	}
	if cfg.Alert.PollInterval <= 0 {
		return fmt.Errorf("alert.poll_interval must be greater than 0")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Telegram.RatePerSecond <= 0 {
		return fmt.Errorf("telegram.rate_per_second must be greater than 0")
	}
	if cfg.Telegram.Burst <= 0 {
		return fmt.Errorf("telegram.burst must be greater than 0")
	}

	switch cfg.Dedupe.Backend {
	case DedupeMemory:
	case DedupeBuntDB:
		if strings.TrimSpace(cfg.Dedupe.Path) == "" {
			return fmt.Errorf("dedupe.path is required for the buntdb backend")
		}
	case DedupeRedis:
		if strings.TrimSpace(cfg.Dedupe.Redis.Addr) == "" {
			return fmt.Errorf("dedupe.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("dedupe.backend '%s' is invalid", cfg.Dedupe.Backend)
	}
	if cfg.Dedupe.Window <= 0 {
		return fmt.Errorf("dedupe.window must be greater than 0")
	}

	for name, s := range map[string]StreamConfig{
		"source.binance.liquidation": cfg.Source.Binance.Liquidation,
		"source.okx.liquidation":     cfg.Source.Okx.Liquidation.StreamConfig,
		"source.bybit.liquidation":   cfg.Source.Bybit.Liquidation,
	} {
		if !s.Enabled {
			continue
		}
		switch s.Mode {
		case ModeAlert, ModeBoth:
		case ModeReport:
			if !cfg.Report.Enabled {
				return fmt.Errorf("%s.mode is report but report.enabled is false", name)
			}
		default:
			return fmt.Errorf("%s.mode '%s' is invalid", name, s.Mode)
		}
	}

	if by := cfg.Source.Bybit.Liquidation; by.Enabled && len(by.Symbols) == 0 {
		return fmt.Errorf("source.bybit.liquidation.symbols must not be empty")
	}

	if cfg.Report.Enabled && cfg.Report.Interval <= 0 {
		return fmt.Errorf("report.interval must be greater than 0")
	}

	if fo := cfg.Source.Binance.ForceOrders; fo.Enabled && (fo.Limit <= 0 || fo.Limit > 100) {
		return fmt.Errorf("source.binance.force_orders.limit must be between 1 and 100")
	}

	if cg := cfg.Source.Coinglass.Liquidation; cg.Enabled {
		if cg.APIKey == "" {
			return fmt.Errorf("source.coinglass.liquidation.api_key is required when enabled")
		}
		if cg.Buckets <= 0 {
			return fmt.Errorf("source.coinglass.liquidation.buckets must be greater than 0")
		}
	}

	if d := cfg.Source.Coingecko.Dominance; d.Enabled {
		if d.Interval <= 0 {
			return fmt.Errorf("source.coingecko.dominance.interval must be greater than 0")
		}
		if d.CriticalBelow > d.AlertAtOrBelow {
			return fmt.Errorf("source.coingecko.dominance.critical_below must not exceed alert_at_or_below")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled {
		cw := cfg.Metrics.CloudWatch
		if (cw.AccessKeyID == "") != (cw.SecretAccessKey == "") {
			return fmt.Errorf("metrics.cloudwatch.access_key_id and secret_access_key must be set together")
		}
	}

	return nil
}
