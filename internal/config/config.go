package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for capindex.
type Config struct {
	Index    Index    `yaml:"index"`
	Provider Provider `yaml:"provider"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Polygon  Polygon  `yaml:"polygon"`
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Sinks    Sinks    `yaml:"sinks"`
}

// Index describes the basket and how the index is computed and sampled.
type Index struct {
	Name           string        `yaml:"name"`
	BaseValue      float64       `yaml:"base_value"`
	Tickers        []string      `yaml:"tickers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPoints      int           `yaml:"max_points"`
	HistoryDays    int           `yaml:"history_days"`
	IntradayWindow time.Duration `yaml:"intraday_window"`
	// FallbackWarnFrames is how many leading frames may log the
	// intraday-unavailable warning before it is suppressed.
	FallbackWarnFrames int `yaml:"fallback_warn_frames"`
}

// Provider selects the market-data sources by name.
type Provider struct {
	Bars         string        `yaml:"bars"`         // yahoo | alpaca | polygon
	Fundamentals string        `yaml:"fundamentals"` // yahoo | polygon
	Timeout      time.Duration `yaml:"timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Polygon holds credentials for the Polygon REST API.
type Polygon struct {
	APIKey          string `yaml:"api_key"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives log records in the TUI binary. Headless binaries log to
	// stdout and ignore it.
	File string `yaml:"file"`
}

// Storage holds optional local persistence targets. Empty disables each.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"`
}

// Server holds network listener configuration. Empty disables each.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// Sinks configures the optional tick publishers.
type Sinks struct {
	Redis      RedisSink      `yaml:"redis"`
	Kafka      KafkaSink      `yaml:"kafka"`
	ClickHouse ClickHouseSink `yaml:"clickhouse"`
}

// RedisSink publishes each tick on a Redis channel and keeps the latest value.
type RedisSink struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KafkaSink writes each tick as one Kafka message.
type KafkaSink struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ClickHouseSink inserts constituent quotes into a ClickHouse table.
type ClickHouseSink struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// Credentials are read from the environment only, never from YAML files
// checked into a repository.
type Credentials struct {
	AlpacaKey    string `envconfig:"APCA_API_KEY_ID"`
	AlpacaSecret string `envconfig:"APCA_API_SECRET_KEY"`
	PolygonKey   string `envconfig:"POLYGON_API_KEY"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// DefaultTickers is the AI10 basket.
var DefaultTickers = []string{"NVDA", "MSFT", "AAPL", "GOOGL", "AVGO", "META", "NFLX", "AMZN", "TSLA", "AMD"}

// Default returns the configuration the program runs with when no file is
// given: the AI10 basket at base 1000, polled every 15 seconds, keeping the
// last 300 points, with the keyless Yahoo provider.
func Default() *Config {
	tickers := make([]string, len(DefaultTickers))
	copy(tickers, DefaultTickers)

	return &Config{
		Index: Index{
			Name:               "AnsCom AI10 Index",
			BaseValue:          1000,
			Tickers:            tickers,
			PollInterval:       15 * time.Second,
			MaxPoints:          300,
			HistoryDays:        5,
			IntradayWindow:     2 * time.Minute,
			FallbackWarnFrames: 2,
		},
		Provider: Provider{
			Bars:         "yahoo",
			Fundamentals: "yahoo",
			Timeout:      10 * time.Second,
		},
		Alpaca: Alpaca{
			Feed: "iex",
		},
		Polygon: Polygon{
			RateLimitPerMin: 5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			File:   "capindex.log",
		},
		Sinks: Sinks{
			Redis: RedisSink{
				Addr:   "localhost:6379",
				Prefix: "capindex",
			},
			Kafka: KafkaSink{
				Brokers: []string{"localhost:9092"},
				Topic:   "capindex_ticks",
			},
			ClickHouse: ClickHouseSink{
				Addr:     "localhost:9000",
				Database: "default",
				Username: "default",
				Table:    "capindex_quotes",
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then a .env file in the working directory, credentials
// from the environment, and finally explicit environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	applyCredentials(cfg, creds)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyCredentials(cfg *Config, c Credentials) {
	if c.AlpacaKey != "" {
		cfg.Alpaca.APIKey = c.AlpacaKey
	}
	if c.AlpacaSecret != "" {
		cfg.Alpaca.APISecret = c.AlpacaSecret
	}
	if c.PolygonKey != "" {
		cfg.Polygon.APIKey = c.PolygonKey
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CAPINDEX_TICKERS"); v != "" {
		cfg.Index.Tickers = strings.Split(v, ",")
	}
	if v := os.Getenv("CAPINDEX_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAPINDEX_POLL_INTERVAL: %w", err)
		}
		cfg.Index.PollInterval = d
	}
	if v := os.Getenv("CAPINDEX_MAX_POINTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAPINDEX_MAX_POINTS: %w", err)
		}
		cfg.Index.MaxPoints = n
	}
	if v := os.Getenv("CAPINDEX_BARS_PROVIDER"); v != "" {
		cfg.Provider.Bars = v
	}
	if v := os.Getenv("CAPINDEX_FUNDAMENTALS_PROVIDER"); v != "" {
		cfg.Provider.Fundamentals = v
	}
	if v := os.Getenv("CAPINDEX_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CAPINDEX_PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}
	if v := os.Getenv("CAPINDEX_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("CAPINDEX_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Sinks.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Sinks.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	return nil
}

// normalize upper-cases and de-duplicates tickers, keeping first occurrence
// order, and lower-cases provider names.
func normalize(cfg *Config) {
	seen := make(map[string]bool, len(cfg.Index.Tickers))
	tickers := cfg.Index.Tickers[:0]
	for _, t := range cfg.Index.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	cfg.Index.Tickers = tickers
	cfg.Provider.Bars = strings.ToLower(strings.TrimSpace(cfg.Provider.Bars))
	cfg.Provider.Fundamentals = strings.ToLower(strings.TrimSpace(cfg.Provider.Fundamentals))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case len(c.Index.Tickers) == 0:
		return fmt.Errorf("index.tickers: basket is empty")
	case c.Index.BaseValue <= 0:
		return fmt.Errorf("index.base_value: must be positive, got %v", c.Index.BaseValue)
	case c.Index.PollInterval <= 0:
		return fmt.Errorf("index.poll_interval: must be positive, got %v", c.Index.PollInterval)
	case c.Index.MaxPoints <= 0:
		return fmt.Errorf("index.max_points: must be positive, got %d", c.Index.MaxPoints)
	case c.Index.HistoryDays < 2:
		return fmt.Errorf("index.history_days: need at least 2 sessions, got %d", c.Index.HistoryDays)
	case c.Index.IntradayWindow <= 0:
		return fmt.Errorf("index.intraday_window: must be positive, got %v", c.Index.IntradayWindow)
	}
	switch c.Provider.Bars {
	case "yahoo", "alpaca", "polygon":
	default:
		return fmt.Errorf("provider.bars: unknown source %q", c.Provider.Bars)
	}
	switch c.Provider.Fundamentals {
	case "yahoo", "polygon":
	default:
		return fmt.Errorf("provider.fundamentals: unknown source %q", c.Provider.Fundamentals)
	}
	return nil
}
