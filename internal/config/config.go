package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "KEYLEDGER"

// Config represents the complete application configuration
type Config struct {
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Keys    KeysConfig    `yaml:"keys" envconfig:"KEYS"`
	Redeem  RedeemConfig  `yaml:"redeem" envconfig:"REDEEM"`
	Query   QueryConfig   `yaml:"query" envconfig:"QUERY"`
	Ops     OpsConfig     `yaml:"ops" envconfig:"OPS"`
}

// StorageConfig selects and tunes the SQL backend
type StorageConfig struct {
	Driver           string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres"`
	DSN              string        `yaml:"dsn" envconfig:"DSN" validate:"required"`
	MaxOpenConns     int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" validate:"min=0"`
	MaxIdleConns     int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" validate:"min=0"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" validate:"min=0"`
	BusyTimeout      time.Duration `yaml:"busy_timeout" envconfig:"BUSY_TIMEOUT" validate:"min=0"`
	OperationTimeout time.Duration `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT" validate:"min=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// KeysConfig controls code generation and batch limits
type KeysConfig struct {
	CodeBytes  int `yaml:"code_bytes" envconfig:"CODE_BYTES" validate:"min=4,max=32"`
	MaxBatch   int `yaml:"max_batch" envconfig:"MAX_BATCH" validate:"min=1,max=10000"`
	MaxRerolls int `yaml:"max_rerolls" envconfig:"MAX_REROLLS" validate:"min=1"`
}

// RedeemConfig controls per-subject redemption limits.
// A zero RatePerMinute disables limiting. Limiter state lives in process
// memory, so limits only bite in long-lived processes; one-shot CLI runs
// always start with a full bucket.
type RedeemConfig struct {
	RatePerMinute float64       `yaml:"rate_per_minute" envconfig:"RATE_PER_MINUTE" validate:"min=0"`
	Burst         int           `yaml:"burst" envconfig:"BURST" validate:"min=1"`
	LimiterTTL    time.Duration `yaml:"limiter_ttl" envconfig:"LIMITER_TTL" validate:"min=0"`
}

// QueryConfig controls the entitlement read cache
type QueryConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" validate:"min=0"`
	CacheSize int           `yaml:"cache_size" envconfig:"CACHE_SIZE" validate:"min=0"`
}

// OpsConfig contains the health/metrics endpoint and telemetry settings
type OpsConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	MetricsEnabled  bool          `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	TraceExporter   string        `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	Environment     string        `yaml:"environment" envconfig:"ENVIRONMENT"`
	StatsInterval   time.Duration `yaml:"stats_interval" envconfig:"STATS_INTERVAL" validate:"min=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Load loads configuration from defaults, the config file and environment variables
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Environment variables override file values
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:           "sqlite",
			DSN:              "data/keyledger.db",
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  5 * time.Minute,
			BusyTimeout:      5 * time.Second,
			OperationTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/keyledger.log",
		},
		Keys: KeysConfig{
			CodeBytes:  8,
			MaxBatch:   100,
			MaxRerolls: 5,
		},
		Redeem: RedeemConfig{
			RatePerMinute: 10,
			Burst:         5,
			LimiterTTL:    30 * time.Minute,
		},
		Query: QueryConfig{
			CacheTTL:  30 * time.Second,
			CacheSize: 10000,
		},
		Ops: OpsConfig{
			Addr:            ":9464",
			MetricsEnabled:  true,
			TraceExporter:   "none",
			Environment:     "development",
			StatsInterval:   time.Minute,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}
