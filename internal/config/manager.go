package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()
	m.viper.SetConfigType("yaml")
	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	}

	m.viper.SetEnvPrefix("ANOMALY")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			// A missing file is fine: defaults and environment still apply.
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	m.unmarshalConfig()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates the configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Watch watches the config file for changes. Updates that fail validation are dropped.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || m.configPath == "" {
		return m.watchChan
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg := m.unmarshalConfig()
		if len(cfg.Validate()) > 0 {
			return
		}
		select {
		case m.watchChan <- *cfg:
		default:
			// Consumer is behind; it will pick up the next change.
		}
	})
	m.viper.WatchConfig()
	return m.watchChan
}

// setDefaults registers every key so AutomaticEnv can override it.
func (m *viperManager) setDefaults() {
	d := DefaultConfig()
	v := m.viper

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.postgres_url", d.Database.PostgresURL)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.logic_cache_size", d.Database.LogicCacheSize)

	t := d.Analysis.Threshold
	v.SetDefault("analysis.threshold.target_false_positive_rate", t.TargetFalsePositiveRate)
	v.SetDefault("analysis.threshold.target_true_positive_rate", t.TargetTruePositiveRate)
	v.SetDefault("analysis.threshold.confidence_level", t.ConfidenceLevel)
	v.SetDefault("analysis.threshold.upper_percentile", t.UpperPercentile)
	v.SetDefault("analysis.threshold.lower_percentile", t.LowerPercentile)
	v.SetDefault("analysis.threshold.minimum_sample_size", t.MinimumSampleSize)
	v.SetDefault("analysis.threshold.consider_seasonality", t.ConsiderSeasonality)
	v.SetDefault("analysis.normal_points_per_hour", d.Analysis.NormalPointsPerHour)
	v.SetDefault("analysis.max_recommendations", d.Analysis.MaxRecommendations)
	v.SetDefault("analysis.max_advanced_recommendations", d.Analysis.MaxAdvancedRecommendations)
	v.SetDefault("analysis.correlation_window", d.Analysis.CorrelationWindow)
	v.SetDefault("analysis.max_concurrent_queries", d.Analysis.MaxConcurrentQueries)
	v.SetDefault("analysis.max_correlations", d.Analysis.MaxCorrelations)
	v.SetDefault("analysis.request_timeout", d.Analysis.RequestTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

// unmarshalConfig builds a Config from viper and installs it as current.
func (m *viperManager) unmarshalConfig() *Config {
	v := m.viper
	cfg := &Config{}

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowed_origins"))
	cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")

	cfg.Database.Type = strings.ToLower(v.GetString("database.type"))
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = v.GetString("database.postgres_url")
	cfg.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = v.GetDuration("database.conn_max_lifetime")
	cfg.Database.LogicCacheSize = v.GetInt("database.logic_cache_size")

	t := &cfg.Analysis.Threshold
	t.TargetFalsePositiveRate = v.GetFloat64("analysis.threshold.target_false_positive_rate")
	t.TargetTruePositiveRate = v.GetFloat64("analysis.threshold.target_true_positive_rate")
	t.ConfidenceLevel = v.GetFloat64("analysis.threshold.confidence_level")
	t.UpperPercentile = v.GetFloat64("analysis.threshold.upper_percentile")
	t.LowerPercentile = v.GetFloat64("analysis.threshold.lower_percentile")
	t.MinimumSampleSize = v.GetInt("analysis.threshold.minimum_sample_size")
	t.ConsiderSeasonality = v.GetBool("analysis.threshold.consider_seasonality")
	cfg.Analysis.NormalPointsPerHour = v.GetFloat64("analysis.normal_points_per_hour")
	cfg.Analysis.MaxRecommendations = v.GetInt("analysis.max_recommendations")
	cfg.Analysis.MaxAdvancedRecommendations = v.GetInt("analysis.max_advanced_recommendations")
	cfg.Analysis.CorrelationWindow = v.GetDuration("analysis.correlation_window")
	cfg.Analysis.MaxConcurrentQueries = v.GetInt("analysis.max_concurrent_queries")
	cfg.Analysis.MaxCorrelations = v.GetInt("analysis.max_correlations")
	cfg.Analysis.RequestTimeout = v.GetDuration("analysis.request_timeout")

	cfg.Logging.Level = strings.ToLower(v.GetString("logging.level"))
	cfg.Logging.Format = strings.ToLower(v.GetString("logging.format"))
	cfg.Logging.FilePath = v.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")

	cfg.RateLimit.Enabled = v.GetBool("rate_limit.enabled")
	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("rate_limit.requests_per_second")
	cfg.RateLimit.Burst = v.GetInt("rate_limit.burst")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return cfg
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
