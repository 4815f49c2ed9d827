package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// ImportRequest is the body of POST /api/v1/detection-results.
type ImportRequest struct {
	Results []models.DetectionResult `json:"results"`
}

// PostDetectionResults handles POST /api/v1/detection-results
func (h *Handler) PostDetectionResults(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !h.decodeOrRespond(w, r, &req) {
		return
	}
	inserted, err := h.svc.ImportDetectionResults(r.Context(), req.Results)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"received": len(req.Results),
		"inserted": inserted,
	})
}

// PutDetectionLogic handles PUT /api/v1/detection-logics/{logicId}
func (h *Handler) PutDetectionLogic(w http.ResponseWriter, r *http.Request) {
	var logic models.DetectionLogic
	if !h.decodeOrRespond(w, r, &logic) {
		return
	}
	id := mux.Vars(r)["logicId"]
	if logic.ID != "" && logic.ID != id {
		respondBadRequest(w, r, "body id does not match the path", map[string]string{"path_id": id, "body_id": logic.ID})
		return
	}
	logic.ID = id
	if err := h.svc.UpsertDetectionLogic(r.Context(), &logic); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logic)
}
