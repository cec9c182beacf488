package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/civicplus/grievance-engine/internal/services"
	"go.uber.org/zap"
)

// ZoneHandler resolves coordinates to wards
type ZoneHandler struct {
	svc    *services.GrievanceService
	logger *zap.SugaredLogger
}

// NewZoneHandler creates a new zone handler
func NewZoneHandler(svc *services.GrievanceService, logger *zap.SugaredLogger) *ZoneHandler {
	return &ZoneHandler{svc: svc, logger: logger}
}

// Resolve handles GET /api/v1/zones/resolve?lat=&lng=
func (h *ZoneHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	zone, name, ok, err := h.svc.ResolveZone(lat, lng)
	if errors.Is(err, services.ErrInvalidLocation) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Errorw("Zone lookup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Zone lookup failed")
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"found": true,
		"ward":  zone,
		"name":  name,
	})
}
