package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ticker-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Universe UniverseConfig `mapstructure:"universe"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Market   MarketConfig   `mapstructure:"market"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// UniverseConfig drives the startup symbol ranking.
type UniverseConfig struct {
	RESTBaseURL    string        `mapstructure:"rest_base_url"`
	QuoteAsset     string        `mapstructure:"quote_asset"`
	Candidates     []string      `mapstructure:"candidates"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StreamConfig covers the websocket ticker subscription.
type StreamConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	Reconnect        bool          `mapstructure:"reconnect"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

// MarketConfig sizes the in-memory state store.
type MarketConfig struct {
	HistoryCapacity int `mapstructure:"history_capacity"`
}

// EngineConfig governs the evaluation cadence and automatic alerts.
type EngineConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	AutoEnable           bool          `mapstructure:"auto_enable"`
	AutoPercentThreshold float64       `mapstructure:"auto_percent_threshold"`
	NotifyTimeout        time.Duration `mapstructure:"notify_timeout"`
	AdvisoryLockKey      int64         `mapstructure:"advisory_lock_key"`
	LockTimeout          time.Duration `mapstructure:"lock_timeout"`
}

// StorageConfig locates the JSON persistence files.
type StorageConfig struct {
	Dir              string `mapstructure:"dir"`
	AlertsFile       string `mapstructure:"alerts_file"`
	HistoryFile      string `mapstructure:"history_file"`
	PriceHistoryFile string `mapstructure:"price_history_file"`
	PriceHistoryMax  int    `mapstructure:"price_history_max"`
}

// DatabaseConfig encapsulates the optional PostgreSQL trigger mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	// QueueSize bounds the background queue for remote delivery and mirroring.
	QueueSize int            `mapstructure:"queue_size"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
	AutoToo  bool          `mapstructure:"auto_too"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets chart export behaviour.
type ExportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// DefaultCandidates is the base-asset basket ranked at startup.
var DefaultCandidates = []string{
	"BTC", "ETH", "BNB", "SOL", "XRP", "DASH", "ZEC", "FDUSD",
	"USDC", "ASTER", "DOT", "ADA", "DOGE", "TRX", "SHIB", "AVAX",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKERALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickeralerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("universe.rest_base_url", "https://api.binance.com")
	v.SetDefault("universe.quote_asset", "USDT")
	v.SetDefault("universe.candidates", DefaultCandidates)
	v.SetDefault("universe.request_timeout", "10s")

	v.SetDefault("stream.base_url", "wss://stream.binance.com:9443")
	v.SetDefault("stream.handshake_timeout", "10s")
	v.SetDefault("stream.read_timeout", "60s")
	v.SetDefault("stream.ping_interval", "20s")
	v.SetDefault("stream.stop_timeout", "1s")
	v.SetDefault("stream.reconnect", true)
	v.SetDefault("stream.max_backoff", "30s")

	v.SetDefault("market.history_capacity", 200)

	v.SetDefault("engine.interval", "1s")
	v.SetDefault("engine.startup_delay", "0s")
	v.SetDefault("engine.auto_enable", true)
	v.SetDefault("engine.auto_percent_threshold", 3.0)
	v.SetDefault("engine.notify_timeout", "5s")
	v.SetDefault("engine.advisory_lock_key", int64(0))
	v.SetDefault("engine.lock_timeout", "1s")

	v.SetDefault("storage.dir", "resources")
	v.SetDefault("storage.alerts_file", "alerts.json")
	v.SetDefault("storage.history_file", "alerts_history.json")
	v.SetDefault("storage.price_history_file", "price_history.json")
	v.SetDefault("storage.price_history_max", 200)

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.queue_size", 256)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.telegram.auto_too", false)

	v.SetDefault("export.width", 1280)
	v.SetDefault("export.height", 720)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Universe.Candidates) == 0 {
		return fmt.Errorf("universe.candidates must not be empty")
	}
	if strings.TrimSpace(c.Universe.QuoteAsset) == "" {
		return fmt.Errorf("universe.quote_asset is required")
	}
	if c.Universe.RequestTimeout <= 0 {
		return fmt.Errorf("universe.request_timeout must be greater than zero")
	}
	if c.Stream.BaseURL == "" {
		return fmt.Errorf("stream.base_url is required")
	}
	if c.Stream.StopTimeout <= 0 {
		return fmt.Errorf("stream.stop_timeout must be greater than zero")
	}
	if c.Market.HistoryCapacity <= 0 {
		return fmt.Errorf("market.history_capacity must be greater than zero")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be greater than zero")
	}
	if c.Engine.AutoPercentThreshold < 0 {
		return fmt.Errorf("engine.auto_percent_threshold cannot be negative")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Storage.PriceHistoryMax <= 0 {
		return fmt.Errorf("storage.price_history_max must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// Symbols pairs every candidate base asset with the quote asset.
func (u UniverseConfig) Symbols() []string {
	out := make([]string, 0, len(u.Candidates))
	for _, base := range u.Candidates {
		out = append(out, strings.ToUpper(strings.TrimSpace(base))+strings.ToUpper(u.QuoteAsset))
	}
	return out
}
