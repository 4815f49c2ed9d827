package rest

import (
	"encoding/json"
	"net/http"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// OptimalThresholdRequest is the body of POST /api/v1/thresholds/optimal. Config fields that are
// omitted keep the server defaults.
type OptimalThresholdRequest struct {
	Values []float64       `json:"values"`
	Config json.RawMessage `json:"config,omitempty"`
}

// OutlierRequest is the body of POST /api/v1/thresholds/outliers.
type OutlierRequest struct {
	Values     []float64            `json:"values"`
	Method     models.OutlierMethod `json:"method"`
	WindowSize int                  `json:"window_size,omitempty"`
}

// DynamicThresholdRequest is the body of POST /api/v1/thresholds/dynamic.
type DynamicThresholdRequest struct {
	Series     []models.TimedValue `json:"series"`
	WindowSize int                 `json:"window_size"`
}

// MultivariateThresholdRequest is the body of POST /api/v1/thresholds/multivariate.
type MultivariateThresholdRequest struct {
	Signals              map[string][]float64 `json:"signals"`
	CorrelationThreshold *float64             `json:"correlation_threshold,omitempty"`
	Config               json.RawMessage      `json:"config,omitempty"`
}

// defaultCorrelationThreshold applies when a multivariate request omits correlation_threshold.
const defaultCorrelationThreshold = 0.7

// overlayConfig applies a partial JSON config over the handler defaults.
func (h *Handler) overlayConfig(raw json.RawMessage) (threshold.OptimizationConfig, error) {
	cfg := h.defaults
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PostOptimalThreshold handles POST /api/v1/thresholds/optimal
func (h *Handler) PostOptimalThreshold(w http.ResponseWriter, r *http.Request) {
	var req OptimalThresholdRequest
	if !h.decodeOrRespond(w, r, &req) {
		return
	}
	cfg, err := h.overlayConfig(req.Config)
	if err != nil {
		respondBadRequest(w, r, "invalid config: "+err.Error(), nil)
		return
	}
	result, err := h.svc.CalculateOptimalThreshold(r.Context(), req.Values, &cfg)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PostOutliers handles POST /api/v1/thresholds/outliers
func (h *Handler) PostOutliers(w http.ResponseWriter, r *http.Request) {
	var req OutlierRequest
	if !h.decodeOrRespond(w, r, &req) {
		return
	}
	if req.Method == "" {
		req.Method = models.OutlierMethodIQR
	}
	result, err := h.svc.DetectOutliers(r.Context(), req.Values, req.Method, threshold.OutlierOptions{WindowSize: req.WindowSize})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PostDynamicThreshold handles POST /api/v1/thresholds/dynamic
func (h *Handler) PostDynamicThreshold(w http.ResponseWriter, r *http.Request) {
	var req DynamicThresholdRequest
	if !h.decodeOrRespond(w, r, &req) {
		return
	}
	result, err := h.svc.CalculateDynamicThreshold(r.Context(), req.Series, req.WindowSize)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PostMultivariateThreshold handles POST /api/v1/thresholds/multivariate
func (h *Handler) PostMultivariateThreshold(w http.ResponseWriter, r *http.Request) {
	var req MultivariateThresholdRequest
	if !h.decodeOrRespond(w, r, &req) {
		return
	}
	cfg, err := h.overlayConfig(req.Config)
	if err != nil {
		respondBadRequest(w, r, "invalid config: "+err.Error(), nil)
		return
	}
	corr := defaultCorrelationThreshold
	if req.CorrelationThreshold != nil {
		corr = *req.CorrelationThreshold
	}
	result, err := h.svc.OptimizeMultivariateThreshold(r.Context(), req.Signals, corr, &cfg)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
