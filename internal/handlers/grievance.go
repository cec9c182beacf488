// Package handlers contains HTTP request handlers for the grievance API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/civicplus/grievance-engine/internal/middleware"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/services"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxUploadBytes = 32 << 20
	maxFiles       = 5
	defaultLimit   = 20
	maxLimit       = 100
)

// GrievanceHandler handles grievance intake and listing endpoints
type GrievanceHandler struct {
	svc    *services.GrievanceService
	logger *zap.SugaredLogger
}

// NewGrievanceHandler creates a new grievance handler
func NewGrievanceHandler(svc *services.GrievanceService, logger *zap.SugaredLogger) *GrievanceHandler {
	return &GrievanceHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/grievances.
// Accepts a JSON body or a multipart form with up to five evidence files.
func (h *GrievanceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	sub, cleanup, err := h.decodeSubmission(r)
	defer cleanup()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.IP = clientIP(r)
	sub.Device = r.UserAgent()

	res, err := h.svc.Submit(r.Context(), caller, sub)
	if err != nil {
		h.respondServiceError(w, err, "Failed to submit grievance")
		return
	}

	respondJSON(w, outcomeStatus(res.Outcome), res)
}

// Check handles POST /api/v1/grievances/check
func (h *GrievanceHandler) Check(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	sub, cleanup, err := h.decodeSubmission(r)
	defer cleanup()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	check, err := h.svc.QuickDuplicateCheck(r.Context(), caller, sub)
	if err != nil {
		h.respondServiceError(w, err, "Failed to check for duplicates")
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// List handles GET /api/v1/grievances?ward=&status=&page=&limit=
func (h *GrievanceHandler) List(w http.ResponseWriter, r *http.Request) {
	f, page, err := listFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.list(w, r, f, page)
}

// Mine handles GET /api/v1/grievances/mine
func (h *GrievanceHandler) Mine(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}
	f, page, err := listFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.SubmitterID = caller.ID
	h.list(w, r, f, page)
}

func (h *GrievanceHandler) list(w http.ResponseWriter, r *http.Request, f store.ListFilter, page int) {
	items, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.respondServiceError(w, err, "Failed to list grievances")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
		"page":  page,
		"limit": f.Limit,
	})
}

// Stats handles GET /api/v1/grievances/stats?ward=
func (h *GrievanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	zone, err := optionalInt(r, "ward")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := h.svc.Stats(r.Context(), zone)
	if err != nil {
		h.logger.Errorw("Failed to load stats", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// Get handles GET /api/v1/grievances/{id}
func (h *GrievanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err, "Failed to load grievance")
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// submissionBody shadows the coordinates so an omitted one can be told apart from zero
type submissionBody struct {
	models.Submission
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// decodeSubmission reads a JSON or multipart body. Uploaded files are staged
// in a temporary directory removed by the returned cleanup func.
func (h *GrievanceHandler) decodeSubmission(r *http.Request) (models.Submission, func(), error) {
	var sub models.Submission
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body submissionBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return sub, noop, errors.New("invalid request body")
		}
		if body.Lat == nil || body.Lng == nil {
			return sub, noop, errors.New("lat and lng are required")
		}
		sub = body.Submission
		sub.Lat, sub.Lng = *body.Lat, *body.Lng
		return sub, noop, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return sub, noop, errors.New("invalid multipart form")
	}
	cleanupForm := func() { _ = r.MultipartForm.RemoveAll() }

	var err error
	sub.Title = r.FormValue("title")
	sub.Description = r.FormValue("description")
	sub.Category = r.FormValue("category")
	sub.Address = r.FormValue("address")
	if sub.Lat, err = strconv.ParseFloat(r.FormValue("lat"), 64); err != nil {
		return sub, cleanupForm, errors.New("lat must be a number")
	}
	if sub.Lng, err = strconv.ParseFloat(r.FormValue("lng"), 64); err != nil {
		return sub, cleanupForm, errors.New("lng must be a number")
	}
	if v := r.FormValue("ward"); v != "" {
		if sub.ClaimedZone, err = strconv.Atoi(v); err != nil {
			return sub, cleanupForm, errors.New("ward must be an integer")
		}
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) > maxFiles {
		return sub, cleanupForm, fmt.Errorf("at most %d files are allowed", maxFiles)
	}
	if len(headers) == 0 {
		return sub, cleanupForm, nil
	}

	dir, err := os.MkdirTemp("", "grievance-upload-*")
	if err != nil {
		h.logger.Errorw("Failed to create upload staging dir", "error", err)
		return sub, cleanupForm, errors.New("failed to stage uploads")
	}
	cleanup := func() {
		cleanupForm()
		_ = os.RemoveAll(dir)
	}

	for i, fh := range headers {
		staged, err := stageFile(dir, i, fh)
		if err != nil {
			h.logger.Warnw("Failed to stage upload", "file", fh.Filename, "error", err)
			continue
		}
		sub.Files = append(sub.Files, staged)
	}
	return sub, cleanup, nil
}

func stageFile(dir string, i int, fh *multipart.FileHeader) (models.UploadedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return models.UploadedFile{}, err
	}
	defer src.Close()

	name := filepath.Base(fh.Filename)
	path := filepath.Join(dir, fmt.Sprintf("%d%s", i, strings.ToLower(filepath.Ext(name))))
	dst, err := os.Create(path)
	if err != nil {
		return models.UploadedFile{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return models.UploadedFile{}, err
	}
	if err := dst.Close(); err != nil {
		return models.UploadedFile{}, err
	}
	return models.UploadedFile{
		Path:        path,
		Filename:    name,
		ContentType: fh.Header.Get("Content-Type"),
	}, nil
}

func (h *GrievanceHandler) respondServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrInvalidLocation), errors.Is(err, services.ErrInvalidSubmission),
		errors.Is(err, services.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrGrievanceNotFound):
		respondError(w, http.StatusNotFound, "Grievance not found")
	default:
		h.logger.Errorw(msg, "error", err)
		respondError(w, http.StatusInternalServerError, msg)
	}
}

func outcomeStatus(o models.OutcomeKind) int {
	switch o {
	case models.OutcomeCreated:
		return http.StatusCreated
	case models.OutcomeRejectedDuplicate:
		return http.StatusConflict
	case models.OutcomeRejectedRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func listFilter(r *http.Request) (store.ListFilter, int, error) {
	zone, err := optionalInt(r, "ward")
	if err != nil {
		return store.ListFilter{}, 0, err
	}
	page, limit := 1, defaultLimit
	if v := r.URL.Query().Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return store.ListFilter{}, 0, errors.New("page must be a positive integer")
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return store.ListFilter{}, 0, errors.New("limit must be a positive integer")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return store.ListFilter{
		Zone:   zone,
		Status: models.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, page, nil
}

func optionalInt(r *http.Request, key string) (*int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}

// clientIP is the remote host after chi's RealIP rewrite
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
