package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/tracing"
)

const TraceIDHeader = "X-Trace-ID"

// Tracing wraps HTTP handlers with OpenTelemetry instrumentation and echoes the trace id in
// the X-Trace-ID response header. Incoming traceparent headers are honoured.
func Tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if traceID := tracing.TraceIDFromContext(r.Context()); traceID != "" {
				w.Header().Set(TraceIDHeader, traceID)
			}
			next.ServeHTTP(w, r)
		}),
		"http.request",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}
