// Package config loads and validates the analytics service configuration.
//
// Sources, highest priority first:
//  1. Environment variables (ANOMALY_* prefix, "." replaced by "_", e.g. ANOMALY_SERVER_PORT)
//  2. YAML config file (optional)
//  3. Built-in defaults
//
// Sections:
//   - server: listen address, HTTP timeouts, CORS origins, request body cap
//   - database: "sqlite" | "postgres" | "memory" and pool sizing
//   - analysis: threshold optimization defaults, accuracy estimation constants,
//     correlation concurrency and the per-request analysis timeout
//   - logging: level, format and optional rotated file output
//   - tracing: OTLP endpoint and sampling
//   - rate_limit: per-client token bucket
//
// Only logging.level is applied on hot reload; everything else needs a restart.
package config

import (
	"context"
	"time"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
)

// Database types.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Database struct {
		Type            string        `yaml:"type"`
		SQLitePath      string        `yaml:"sqlite_path"`
		PostgresURL     string        `yaml:"postgres_url"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		// LogicCacheSize bounds the LRU of detection logic lookups. 0 disables it.
		LogicCacheSize int `yaml:"logic_cache_size"`
	} `yaml:"database"`

	Analysis struct {
		Threshold                  threshold.OptimizationConfig `yaml:"threshold"`
		NormalPointsPerHour        float64                      `yaml:"normal_points_per_hour"`
		MaxRecommendations         int                          `yaml:"max_recommendations"`
		MaxAdvancedRecommendations int                          `yaml:"max_advanced_recommendations"`
		CorrelationWindow          time.Duration                `yaml:"correlation_window"`
		MaxConcurrentQueries       int                          `yaml:"max_concurrent_queries"`
		MaxCorrelations            int                          `yaml:"max_correlations"`
		RequestTimeout             time.Duration                `yaml:"request_timeout"`
	} `yaml:"analysis"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		FilePath   string `yaml:"file_path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		Endpoint     string  `yaml:"endpoint"`
		ServiceName  string  `yaml:"service_name"`
		SamplingRate float64 `yaml:"sampling_rate"`
	} `yaml:"tracing"`

	RateLimit struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Manager gives access to the loaded configuration.
type Manager interface {
	// Load reads defaults, the optional file and the environment.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate reports every invalid field in one error.
	Validate(ctx context.Context) error

	// Watch delivers the reloaded configuration whenever the file changes.
	Watch(ctx context.Context) <-chan Config
}

// NewManager creates a viper-backed manager. configPath may be empty.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
}
