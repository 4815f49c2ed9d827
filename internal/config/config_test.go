package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, DatabaseSQLite, cfg.Database.Type)
	assert.Equal(t, 0.05, cfg.Analysis.Threshold.TargetFalsePositiveRate)
	assert.Equal(t, 100, cfg.Analysis.Threshold.MinimumSampleSize)
	assert.Equal(t, 100.0, cfg.Analysis.NormalPointsPerHour)
	assert.Equal(t, 5*time.Minute, cfg.Analysis.CorrelationWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantField string
	}{
		{
			name:     "valid default config",
			modifyFn: func(cfg *Config) {},
		},
		{
			name:      "invalid port",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantField: "server.port",
		},
		{
			name:      "unknown database type",
			modifyFn:  func(cfg *Config) { cfg.Database.Type = "mysql" },
			wantField: "database.type",
		},
		{
			name:      "negative logic cache",
			modifyFn:  func(cfg *Config) { cfg.Database.LogicCacheSize = -1 },
			wantField: "database.logic_cache_size",
		},
		{
			name: "postgres without url",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = DatabasePostgres
				cfg.Database.PostgresURL = ""
			},
			wantField: "database.postgres_url",
		},
		{
			name:      "inverted percentiles",
			modifyFn:  func(cfg *Config) { cfg.Analysis.Threshold.LowerPercentile = 0.99 },
			wantField: "analysis.threshold",
		},
		{
			name:      "zero normal points",
			modifyFn:  func(cfg *Config) { cfg.Analysis.NormalPointsPerHour = 0 },
			wantField: "analysis.normal_points_per_hour",
		},
		{
			name:      "bad log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "loud" },
			wantField: "logging.level",
		},
		{
			name: "tracing without endpoint",
			modifyFn: func(cfg *Config) {
				cfg.Tracing.Enabled = true
			},
			wantField: "tracing.endpoint",
		},
		{
			name:      "rate limit without burst",
			modifyFn:  func(cfg *Config) { cfg.RateLimit.Burst = 0 },
			wantField: "rate_limit.burst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)
			errs := cfg.Validate()
			if tt.wantField == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			var fields []string
			for _, err := range errs {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				fields = append(fields, ve.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestManagerLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9100
database:
  type: memory
analysis:
  normal_points_per_hour: 250
  correlation_window: 10m
  threshold:
    upper_percentile: 0.99
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	mgr := NewManager(path)
	require.NoError(t, mgr.Load(context.Background()))
	require.NoError(t, mgr.Validate(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, DatabaseMemory, cfg.Database.Type)
	assert.Equal(t, 250.0, cfg.Analysis.NormalPointsPerHour)
	assert.Equal(t, 10*time.Minute, cfg.Analysis.CorrelationWindow)
	assert.Equal(t, 0.99, cfg.Analysis.Threshold.UpperPercentile)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.05, cfg.Analysis.Threshold.LowerPercentile)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestManagerMissingFileUsesDefaults(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, DefaultConfig().Server.Port, mgr.Get(context.Background()).Server.Port)
}

func TestManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("ANOMALY_SERVER_PORT", "9200")
	t.Setenv("ANOMALY_ANALYSIS_THRESHOLD_MINIMUM_SAMPLE_SIZE", "50")
	t.Setenv("ANOMALY_SERVER_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	mgr := NewManager("")
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Analysis.Threshold.MinimumSampleSize)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
}

func TestManagerValidateCombinesErrors(t *testing.T) {
	t.Setenv("ANOMALY_SERVER_PORT", "70000")
	t.Setenv("ANOMALY_LOGGING_FORMAT", "xml")

	mgr := NewManager("")
	require.NoError(t, mgr.Load(context.Background()))

	err := mgr.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.format")
}
