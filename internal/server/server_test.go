package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ryuu1kyou/anomaly-analytics/internal/api/middleware"
	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Type = config.DatabaseMemory
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return newServer(cfg, log, store.NewMemoryStore())
}

func TestHandlerChain(t *testing.T) {
	h := testServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := testServer(t).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/thresholds/optimal", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/thresholds/optimal", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartStop(t *testing.T) {
	s := testServer(t)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.Stop(ctx))
}

func TestApplyConfigChangesLogLevel(t *testing.T) {
	s := testServer(t)
	cfg := *s.config
	cfg.Logging.Level = "debug"
	s.ApplyConfig(cfg)
	assert.Equal(t, zapcore.DebugLevel, s.logger.Level())

	cfg.Logging.Level = "shouting"
	s.ApplyConfig(cfg)
	assert.Equal(t, zapcore.DebugLevel, s.logger.Level())
}
