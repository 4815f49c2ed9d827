package rest

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
)

// Health handles GET /health - liveness probe (process is alive)
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready - readiness probe (detection store is reachable)
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		logger.WithContext(r.Context(), h.logger).Warn("readiness check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "store_unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
