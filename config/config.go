package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Binance BinanceConfig `mapstructure:"binance"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageSize  int           `mapstructure:"page_size"`  // records per request, exchange max 1000
	Window    time.Duration `mapstructure:"window"`     // time span of one request window
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst int           `mapstructure:"rate_burst"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
}

type WSConfig struct {
	URL               string        `mapstructure:"url"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// EngineConfig controls ingestion, backfill and retention.
type EngineConfig struct {
	Symbols              []string      `mapstructure:"symbols"`
	Timeframes           []string      `mapstructure:"timeframes"`
	RetentionDays        int           `mapstructure:"retention_days"`
	MinGap               time.Duration `mapstructure:"min_gap"`                // gap detector threshold
	LiveCatchupGap       time.Duration `mapstructure:"live_catchup_gap"`       // gaps below this are left to the live stream
	LiveCatchupThreshold time.Duration `mapstructure:"live_catchup_threshold"` // tail fetch when latest trade is older
	DedupWindow          time.Duration `mapstructure:"dedup_window"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	BackfillInterval     time.Duration `mapstructure:"backfill_interval"` // 0 runs backfill at startup only
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

const (
	MinRetentionDays = 1
	MaxRetentionDays = 30
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rest.base_url", "https://api.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.rest.page_size", 1000)
	v.SetDefault("binance.rest.window", time.Hour)
	v.SetDefault("binance.rest.rate_limit", 10)
	v.SetDefault("binance.rest.rate_burst", 5)

	v.SetDefault("binance.ws.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("binance.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("binance.ws.heartbeat_interval", 20*time.Second)
	v.SetDefault("binance.ws.reconnect_delay", 3*time.Second)
	v.SetDefault("binance.ws.max_reconnect_delay", time.Minute)

	v.SetDefault("engine.symbols", []string{"BTCUSDT"})
	v.SetDefault("engine.timeframes", []string{"1m"})
	v.SetDefault("engine.retention_days", 7)
	v.SetDefault("engine.min_gap", time.Minute)
	v.SetDefault("engine.live_catchup_gap", time.Minute)
	v.SetDefault("engine.live_catchup_threshold", 5*time.Minute)
	v.SetDefault("engine.dedup_window", 10*time.Minute)
	v.SetDefault("engine.cleanup_interval", time.Hour)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/footprint.db")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	// .env is optional; variables already set in the environment win
	_ = godotenv.Load()

	var dir string
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		dir = filepath.Join(pwd, "../../config")
	} else {
		dir = filepath.Join(filepath.Dir(ex), "../config")
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from dir. A missing file falls back to defaults and environment.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// Support environment variables with dot notation (e.g., ENGINE_RETENTION_DAYS)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges and clamps the retention horizon.
func (c *Config) Validate() error {
	c.Engine.RetentionDays = ClampDays(c.Engine.RetentionDays)
	if c.Binance.REST.PageSize <= 0 || c.Binance.REST.PageSize > 1000 {
		return fmt.Errorf("binance.rest.page_size must be in 1..1000, got %d", c.Binance.REST.PageSize)
	}
	if c.Binance.WS.HeartbeatInterval <= 0 {
		return fmt.Errorf("binance.ws.heartbeat_interval must be positive")
	}
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Storage.Driver)
	}
	return nil
}

// ClampDays limits a history horizon to MinRetentionDays..MaxRetentionDays.
func ClampDays(days int) int {
	return min(max(days, MinRetentionDays), MaxRetentionDays)
}

// Retention returns the retention horizon as a duration.
func (c EngineConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
