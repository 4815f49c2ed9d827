package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

// APIError represents a structured API error response
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInsufficientSample  = "INSUFFICIENT_SAMPLE"
	ErrCodeInvariantViolation  = "INVARIANT_VIOLATION"
	ErrCodeUpstreamReadFailure = "UPSTREAM_READ_FAILURE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// errorStatus maps a service error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge
	case errors.Is(err, models.ErrInvariantViolation):
		return http.StatusInternalServerError, ErrCodeInvariantViolation
	case errors.Is(err, threshold.ErrInsufficientSample):
		return http.StatusUnprocessableEntity, ErrCodeInsufficientSample
	case errors.Is(err, threshold.ErrInvalidConfig),
		errors.Is(err, threshold.ErrUnknownMethod),
		errors.Is(err, models.ErrInvalidWindow),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusBadGateway, ErrCodeUpstreamReadFailure
	}
}

// respondStructuredError sends a structured error response with error code and details
func respondStructuredError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: logger.FromContext(r.Context()),
		Details:   details,
	})
}

// respondServiceError maps err and writes it. Upstream failures hide the store's message.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if code == ErrCodeUpstreamReadFailure {
		logger.WithContext(r.Context(), h.logger).Error("detection store read failed", zap.Error(err))
		message = "failed to read from the detection store"
	}
	respondStructuredError(w, r, status, code, message, nil)
}

// respondBadRequest reports a request the handler could not parse.
func respondBadRequest(w http.ResponseWriter, r *http.Request, message string, details map[string]string) {
	respondStructuredError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, message, details)
}
