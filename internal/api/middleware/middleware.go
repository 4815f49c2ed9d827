// Package middleware provides HTTP middleware for request ID, structured logging, Prometheus
// metrics, tracing, rate limiting and body size limits.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/metrics"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID adds a unique request ID to the context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), reqID)))
	})
}

// responseWriter captures status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// routeLabel normalizes the path to its route template to keep metric cardinality bounded.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return "unmatched"
}

// StructuredLog logs each request as one line and records HTTP RED metrics.
// It must run inside the router so mux.CurrentRoute is populated.
func StructuredLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			path := routeLabel(r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", path),
				zap.Int("status", rw.status),
				zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
			}
			l := logger.WithContext(r.Context(), log)
			switch {
			case rw.status >= 500:
				l.Error("request", fields...)
			case rw.status >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}

			metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(duration.Seconds())
		})
	}
}
