package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns all validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		add("server.read_timeout", "must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		add("server.write_timeout", "must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes", "must be positive, got %d", c.Server.MaxBodyBytes)
	}

	// Database
	switch c.Database.Type {
	case DatabaseSQLite:
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when type is sqlite")
		}
	case DatabasePostgres:
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when type is postgres")
		}
	case DatabaseMemory:
	default:
		add("database.type", "must be one of sqlite, postgres, memory, got %q", c.Database.Type)
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		add("database.max_open_conns", "pool sizes cannot be negative")
	}
	if c.Database.LogicCacheSize < 0 {
		add("database.logic_cache_size", "cannot be negative")
	}

	// Analysis
	if err := c.Analysis.Threshold.Validate(); err != nil {
		add("analysis.threshold", "%v", err)
	}
	if !(c.Analysis.NormalPointsPerHour > 0) {
		add("analysis.normal_points_per_hour", "must be positive, got %v", c.Analysis.NormalPointsPerHour)
	}
	if c.Analysis.MaxRecommendations < 1 {
		add("analysis.max_recommendations", "must be at least 1, got %d", c.Analysis.MaxRecommendations)
	}
	if c.Analysis.MaxAdvancedRecommendations < 1 {
		add("analysis.max_advanced_recommendations", "must be at least 1, got %d", c.Analysis.MaxAdvancedRecommendations)
	}
	if c.Analysis.CorrelationWindow <= 0 {
		add("analysis.correlation_window", "must be positive, got %s", c.Analysis.CorrelationWindow)
	}
	if c.Analysis.MaxConcurrentQueries < 1 {
		add("analysis.max_concurrent_queries", "must be at least 1, got %d", c.Analysis.MaxConcurrentQueries)
	}
	if c.Analysis.MaxCorrelations < 1 {
		add("analysis.max_correlations", "must be at least 1, got %d", c.Analysis.MaxCorrelations)
	}
	if c.Analysis.RequestTimeout <= 0 {
		add("analysis.request_timeout", "must be positive, got %s", c.Analysis.RequestTimeout)
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		add("tracing.endpoint", "endpoint is required when tracing is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "must be within [0, 1], got %v", c.Tracing.SamplingRate)
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if !(c.RateLimit.RequestsPerSecond > 0) {
			add("rate_limit.requests_per_second", "must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst < 1 {
			add("rate_limit.burst", "must be at least 1 when rate limiting is enabled")
		}
	}

	return errs
}
