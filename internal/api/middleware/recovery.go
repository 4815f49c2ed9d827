package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
)

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithContext(r.Context(), log).Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":      http.StatusText(http.StatusInternalServerError),
						"code":       "INTERNAL_ERROR",
						"message":    "internal server error",
						"request_id": logger.FromContext(r.Context()),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
