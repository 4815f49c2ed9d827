package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetPatterns handles GET /api/v1/signals/{signalId}/patterns
func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	window, err := h.parseWindow(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	result, err := h.svc.AnalyzePatterns(r.Context(), mux.Vars(r)["signalId"], window)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetAccuracy handles GET /api/v1/detection-logics/{logicId}/accuracy
func (h *Handler) GetAccuracy(w http.ResponseWriter, r *http.Request) {
	window, err := h.parseWindow(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	result, err := h.svc.CalculateAccuracy(r.Context(), mux.Vars(r)["logicId"], window)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetRecommendations handles GET /api/v1/detection-logics/{logicId}/recommendations?advanced=true
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	window, err := h.parseWindow(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	advanced, err := parseBool(r, "advanced")
	if err != nil {
		respondBadRequest(w, r, err.Error(), nil)
		return
	}
	result, err := h.svc.RecommendThresholds(r.Context(), mux.Vars(r)["logicId"], window, advanced)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
