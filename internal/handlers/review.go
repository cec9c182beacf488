package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/civicplus/grievance-engine/internal/middleware"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReviewHandler exposes the review workflow hooks
type ReviewHandler struct {
	review *services.ReviewService
	svc    *services.GrievanceService
	logger *zap.SugaredLogger
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(review *services.ReviewService, svc *services.GrievanceService, logger *zap.SugaredLogger) *ReviewHandler {
	return &ReviewHandler{review: review, svc: svc, logger: logger}
}

// UpdateStatus handles PUT /api/v1/grievances/{id}/status
func (h *ReviewHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req models.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	g, err := h.review.UpdateStatus(r.Context(), chi.URLParam(r, "id"), actor, req)
	switch {
	case errors.Is(err, services.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrGrievanceNotFound):
		respondError(w, http.StatusNotFound, "Grievance not found")
	case err != nil:
		h.logger.Errorw("Failed to update status", "grievance_id", chi.URLParam(r, "id"), "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to update status")
	default:
		respondJSON(w, http.StatusOK, g)
	}
}

// History handles GET /api/v1/grievances/{id}/history
func (h *ReviewHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.review.History(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrGrievanceNotFound) {
		respondError(w, http.StatusNotFound, "Grievance not found")
		return
	}
	if err != nil {
		h.logger.Errorw("Failed to load history", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// Recompute handles POST /api/v1/groups/{groupId}/recompute
func (h *ReviewHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	summary, err := h.svc.RecomputeGroupPriority(r.Context(), groupID)
	if errors.Is(err, services.ErrGrievanceNotFound) {
		respondError(w, http.StatusNotFound, "Group not found")
		return
	}
	if err != nil {
		h.logger.Errorw("Failed to recompute group", "group_id", groupID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to recompute group")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
