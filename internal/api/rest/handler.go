// Package rest exposes the analysis service over HTTP/JSON.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
)

// defaultLookback is the window used when a request gives no from parameter.
const defaultLookback = 24 * time.Hour

// Handler manages HTTP request handlers
type Handler struct {
	svc      service.AnalysisService
	defaults threshold.OptimizationConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new HTTP handler. defaults seed partially specified optimizer configs.
func NewHandler(svc service.AnalysisService, defaults threshold.OptimizationConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, defaults: defaults, logger: logger, now: time.Now}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Analysis over stored detections
	api.HandleFunc("/signals/{signalId}/patterns", h.GetPatterns).Methods(http.MethodGet)
	api.HandleFunc("/detection-logics/{logicId}/accuracy", h.GetAccuracy).Methods(http.MethodGet)
	api.HandleFunc("/detection-logics/{logicId}/recommendations", h.GetRecommendations).Methods(http.MethodGet)

	// Stateless threshold optimization
	api.HandleFunc("/thresholds/optimal", h.PostOptimalThreshold).Methods(http.MethodPost)
	api.HandleFunc("/thresholds/outliers", h.PostOutliers).Methods(http.MethodPost)
	api.HandleFunc("/thresholds/dynamic", h.PostDynamicThreshold).Methods(http.MethodPost)
	api.HandleFunc("/thresholds/multivariate", h.PostMultivariateThreshold).Methods(http.MethodPost)

	// Ingestion
	api.HandleFunc("/detection-results", h.PostDetectionResults).Methods(http.MethodPost)
	api.HandleFunc("/detection-logics/{logicId}", h.PutDetectionLogic).Methods(http.MethodPut)

	// Probes and metrics
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// respondJSON encodes before writing so an unencodable value still yields a clean 500.
func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIError{
			Error:   http.StatusText(http.StatusInternalServerError),
			Code:    ErrCodeInternalError,
			Message: fmt.Sprintf("encode response: %v", err),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// decodeJSON reads exactly one JSON document with no unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeOrRespond decodes into dst and answers the error itself. It reports whether to continue.
func (h *Handler) decodeOrRespond(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondServiceError(w, r, err)
			return false
		}
		respondBadRequest(w, r, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// parseWindow reads the RFC 3339 from/to query parameters. to defaults to now, from to
// 24 hours before to.
func (h *Handler) parseWindow(r *http.Request) (models.TimeWindow, error) {
	q := r.URL.Query()
	end := h.now().UTC()
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("%w: to: %v", models.ErrInvalidWindow, err)
		}
		end = t
	}
	start := end.Add(-defaultLookback)
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("%w: from: %v", models.ErrInvalidWindow, err)
		}
		start = t
	}
	return models.NewTimeWindow(start, end)
}

func parseBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return v, nil
}
