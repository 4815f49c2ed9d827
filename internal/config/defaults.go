package config

import (
	"time"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
)

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second
	cfg.Server.IdleTimeout = 120 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.MaxBodyBytes = 8 << 20

	// Database defaults
	cfg.Database.Type = DatabaseSQLite
	cfg.Database.SQLitePath = "data/anomaly-analytics.db"
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.LogicCacheSize = 256

	// Analysis defaults
	cfg.Analysis.Threshold = threshold.DefaultConfig()
	cfg.Analysis.NormalPointsPerHour = 100
	cfg.Analysis.MaxRecommendations = 5
	cfg.Analysis.MaxAdvancedRecommendations = 10
	cfg.Analysis.CorrelationWindow = 5 * time.Minute
	cfg.Analysis.MaxConcurrentQueries = 8
	cfg.Analysis.MaxCorrelations = 10
	cfg.Analysis.RequestTimeout = 30 * time.Second

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Tracing defaults
	cfg.Tracing.ServiceName = "anomaly-analytics"
	cfg.Tracing.SamplingRate = 1.0

	// Rate limit defaults
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 20
	cfg.RateLimit.Burst = 40

	return cfg
}
