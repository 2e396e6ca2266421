// Package config loads the application configuration from defaults, an
// optional JSON file, and environment variables, in rising priority.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoflow/go-crypto-etl/internal/market"
	"github.com/cryptoflow/go-crypto-etl/internal/ticker"
	"github.com/cryptoflow/go-crypto-etl/internal/validator"
)

// AppConfig is the complete application configuration. Durations are
// strings ("30s", "5m") so the JSON file stays readable; the typed
// accessors parse them.
type AppConfig struct {
	AppName string `json:"app_name" env:"APP_NAME"`
	Version string `json:"version" env:"VERSION"`

	Storage   StorageConfig   `json:"storage"`
	Exchange  ExchangeConfig  `json:"exchange"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Validator ValidatorConfig `json:"validator"`
	Ticker    TickerConfig    `json:"ticker"`
	Market    MarketConfig    `json:"market"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type        string `json:"type" env:"STORAGE_TYPE"` // "duckdb", "postgres", "memory"
	DatabaseURL string `json:"database_url" env:"DATABASE_URL"`
	BatchSize   int    `json:"batch_size" env:"BATCH_SIZE"`
}

// ExchangeConfig configures the candle and ticker exchange adapter.
type ExchangeConfig struct {
	Type              string  `json:"type" env:"EXCHANGE_TYPE"` // "binance", "mock"
	BaseURL           string  `json:"base_url" env:"EXCHANGE_BASE_URL"`
	Timeout           string  `json:"timeout" env:"EXCHANGE_TIMEOUT"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"EXCHANGE_RPS"`
}

// PipelineConfig configures the recurring candle ETL runs.
type PipelineConfig struct {
	Symbols    []string `json:"symbols" env:"PIPELINE_SYMBOLS"`
	Timeframes []string `json:"timeframes" env:"PIPELINE_TIMEFRAMES"`
	Limit      int      `json:"limit" env:"PIPELINE_LIMIT"`
}

// ValidatorConfig configures data quality thresholds. Decimal bounds
// are strings to avoid float drift in the JSON file.
type ValidatorConfig struct {
	MinPrice  string  `json:"min_price" env:"MIN_PRICE"`
	MaxVolume string  `json:"max_volume" env:"MAX_VOLUME"`
	GapFactor float64 `json:"gap_factor" env:"GAP_FACTOR"`
}

// TickerConfig configures the background ticker collector.
type TickerConfig struct {
	Enabled          bool     `json:"enabled" env:"TICKER_ENABLED"`
	Symbols          []string `json:"symbols" env:"TICKER_SYMBOLS"`
	TickInterval     string   `json:"tick_interval" env:"TICKER_TICK_INTERVAL"`
	SnapshotInterval string   `json:"snapshot_interval" env:"TICKER_SNAPSHOT_INTERVAL"`
	CleanupInterval  string   `json:"cleanup_interval" env:"TICKER_CLEANUP_INTERVAL"`
	Retention        string   `json:"retention" env:"TICKER_RETENTION"`
	CacheSize        int      `json:"cache_size" env:"TICKER_CACHE_SIZE"`
}

// MarketConfig configures the aggregate market snapshot collector.
type MarketConfig struct {
	Enabled  bool   `json:"enabled" env:"MARKET_ENABLED"`
	TopN     int    `json:"top_n" env:"MARKET_TOP_N"`
	Interval string `json:"interval" env:"MARKET_INTERVAL"`
}

// SchedulerConfig configures the recurring job loop.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" env:"SCHEDULER_ENABLED"`
	Interval string `json:"interval" env:"SCHEDULER_INTERVAL"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"` // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE"`
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE"`
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *AppConfig {
	return &AppConfig{
		AppName: "crypto-etl",
		Version: "1.0.0",
		Storage: StorageConfig{
			Type:        "duckdb",
			DatabaseURL: "./data/crypto.db",
			BatchSize:   1000,
		},
		Exchange: ExchangeConfig{
			Type:              "binance",
			Timeout:           "30s",
			RequestsPerSecond: 10,
		},
		Pipeline: PipelineConfig{
			Symbols:    []string{"BTC/USDT", "ETH/USDT"},
			Timeframes: []string{"1h", "1d"},
			Limit:      100,
		},
		Validator: ValidatorConfig{
			MinPrice:  "0.01",
			MaxVolume: "1000000000000",
			GapFactor: 2.0,
		},
		Ticker: TickerConfig{
			Enabled:          false,
			Symbols:          []string{"BTC/USDT", "ETH/USDT"},
			TickInterval:     "1m",
			SnapshotInterval: "5m",
			CleanupInterval:  "30m",
			Retention:        "24h",
			CacheSize:        100,
		},
		Market: MarketConfig{
			Enabled:  false,
			TopN:     10,
			Interval: "1h",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Interval: "1h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load builds the configuration: defaults, then the JSON file at path
// if it exists, then environment variables. The result is validated
// before being returned.
func Load(path string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path, logger); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"config_path", path,
		"storage_type", cfg.Storage.Type,
		"exchange_type", cfg.Exchange.Type,
		"log_level", cfg.Logging.Level)
	return cfg, nil
}

func loadFromFile(cfg *AppConfig, path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("config file does not exist, using defaults", "path", path)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *AppConfig) {
	setString(&cfg.AppName, "APP_NAME")
	setString(&cfg.Version, "VERSION")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setInt(&cfg.Storage.BatchSize, "BATCH_SIZE")

	setString(&cfg.Exchange.Type, "EXCHANGE_TYPE")
	setString(&cfg.Exchange.BaseURL, "EXCHANGE_BASE_URL")
	setString(&cfg.Exchange.Timeout, "EXCHANGE_TIMEOUT")
	setFloat(&cfg.Exchange.RequestsPerSecond, "EXCHANGE_RPS")

	setList(&cfg.Pipeline.Symbols, "PIPELINE_SYMBOLS")
	setList(&cfg.Pipeline.Timeframes, "PIPELINE_TIMEFRAMES")
	setInt(&cfg.Pipeline.Limit, "PIPELINE_LIMIT")

	setString(&cfg.Validator.MinPrice, "MIN_PRICE")
	setString(&cfg.Validator.MaxVolume, "MAX_VOLUME")
	setFloat(&cfg.Validator.GapFactor, "GAP_FACTOR")

	setBool(&cfg.Ticker.Enabled, "TICKER_ENABLED")
	setList(&cfg.Ticker.Symbols, "TICKER_SYMBOLS")
	setString(&cfg.Ticker.TickInterval, "TICKER_TICK_INTERVAL")
	setString(&cfg.Ticker.SnapshotInterval, "TICKER_SNAPSHOT_INTERVAL")

	setBool(&cfg.Market.Enabled, "MARKET_ENABLED")
	setInt(&cfg.Market.TopN, "MARKET_TOP_N")
	setString(&cfg.Market.Interval, "MARKET_INTERVAL")

	setBool(&cfg.Scheduler.Enabled, "SCHEDULER_ENABLED")
	setString(&cfg.Scheduler.Interval, "SCHEDULER_INTERVAL")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "LOG_FILE_PATH")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func setList(dst *[]string, key string) {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

// Validate checks the configuration for consistency. All problems are
// reported at once.
func (c *AppConfig) Validate() error {
	var problems []string

	switch c.Storage.Type {
	case "duckdb", "postgres", "memory":
	default:
		problems = append(problems, "storage.type must be one of: duckdb, postgres, memory")
	}
	if c.Storage.Type != "memory" && c.Storage.DatabaseURL == "" {
		problems = append(problems, "storage.database_url is required for "+c.Storage.Type)
	}
	if c.Storage.BatchSize <= 0 {
		problems = append(problems, "storage.batch_size must be greater than 0")
	}

	switch c.Exchange.Type {
	case "binance", "mock":
	default:
		problems = append(problems, "exchange.type must be one of: binance, mock")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		problems = append(problems, "exchange.requests_per_second must be greater than 0")
	}
	if _, err := time.ParseDuration(c.Exchange.Timeout); err != nil {
		problems = append(problems, fmt.Sprintf("exchange.timeout is not a valid duration: %v", err))
	}

	if len(c.Pipeline.Symbols) == 0 {
		problems = append(problems, "pipeline.symbols must not be empty")
	}
	if len(c.Pipeline.Timeframes) == 0 {
		problems = append(problems, "pipeline.timeframes must not be empty")
	}
	if c.Pipeline.Limit <= 0 {
		problems = append(problems, "pipeline.limit must be greater than 0")
	}

	if _, err := decimal.NewFromString(c.Validator.MinPrice); err != nil {
		problems = append(problems, "validator.min_price is not a valid decimal")
	}
	if _, err := decimal.NewFromString(c.Validator.MaxVolume); err != nil {
		problems = append(problems, "validator.max_volume is not a valid decimal")
	}
	if c.Validator.GapFactor <= 0 {
		problems = append(problems, "validator.gap_factor must be greater than 0")
	}

	if c.Ticker.Enabled {
		if len(c.Ticker.Symbols) == 0 {
			problems = append(problems, "ticker.symbols must not be empty when the collector is enabled")
		}
		for _, field := range []struct{ name, val string }{
			{"ticker.tick_interval", c.Ticker.TickInterval},
			{"ticker.snapshot_interval", c.Ticker.SnapshotInterval},
			{"ticker.cleanup_interval", c.Ticker.CleanupInterval},
			{"ticker.retention", c.Ticker.Retention},
		} {
			if _, err := time.ParseDuration(field.val); err != nil {
				problems = append(problems, fmt.Sprintf("%s is not a valid duration: %v", field.name, err))
			}
		}
	}

	if c.Scheduler.Enabled {
		if _, err := time.ParseDuration(c.Scheduler.Interval); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.interval is not a valid duration: %v", err))
		}
	}
	if c.Market.Enabled {
		if _, err := time.ParseDuration(c.Market.Interval); err != nil {
			problems = append(problems, fmt.Sprintf("market.interval is not a valid duration: %v", err))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, "logging.format must be one of: json, text")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// ValidatorConfig returns the parsed data quality thresholds. Call
// after Validate.
func (c *AppConfig) ValidatorConfig() validator.Config {
	minPrice, _ := decimal.NewFromString(c.Validator.MinPrice)
	maxVolume, _ := decimal.NewFromString(c.Validator.MaxVolume)
	return validator.Config{
		MinPrice:  minPrice,
		MaxVolume: maxVolume,
		GapFactor: c.Validator.GapFactor,
	}
}

// TickerConfig returns the parsed ticker collector configuration. Call
// after Validate.
func (c *AppConfig) TickerConfig() ticker.Config {
	return ticker.Config{
		Symbols:          c.Ticker.Symbols,
		TickInterval:     mustDuration(c.Ticker.TickInterval),
		SnapshotInterval: mustDuration(c.Ticker.SnapshotInterval),
		CleanupInterval:  mustDuration(c.Ticker.CleanupInterval),
		Retention:        mustDuration(c.Ticker.Retention),
		CacheSize:        c.Ticker.CacheSize,
	}
}

// MarketConfig returns the market collector configuration.
func (c *AppConfig) MarketConfig() market.Config {
	return market.Config{TopN: c.Market.TopN}
}

// ExchangeTimeout returns the parsed HTTP timeout. Call after Validate.
func (c *AppConfig) ExchangeTimeout() time.Duration {
	return mustDuration(c.Exchange.Timeout)
}

// SchedulerInterval returns the parsed job interval. Call after
// Validate.
func (c *AppConfig) SchedulerInterval() time.Duration {
	return mustDuration(c.Scheduler.Interval)
}

// MarketInterval returns the parsed market collection interval. Call
// after Validate.
func (c *AppConfig) MarketInterval() time.Duration {
	return mustDuration(c.Market.Interval)
}

// mustDuration parses a duration that Validate already checked; a zero
// value comes back only for strings Validate never saw.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
