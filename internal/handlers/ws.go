package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/civicplus/grievance-engine/internal/notify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedHandler upgrades clients to the ward-scoped live feed
type FeedHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewFeedHandler creates a feed handler; an empty origins list accepts any origin
func NewFeedHandler(hub *notify.Hub, origins []string, logger *zap.SugaredLogger) *FeedHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &FeedHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Serve handles GET /api/v1/ws?ward=N
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ward, err := strconv.Atoi(r.URL.Query().Get("ward"))
	if err != nil || ward < 1 {
		respondError(w, http.StatusBadRequest, "ward must be a positive integer")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Debugw("Websocket upgrade failed", "error", err)
		return
	}

	// Clear the request deadlines inherited from the HTTP server
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	room := notify.WardTopic(ward)
	h.logger.Infow("Live feed subscriber joined", "room", room)
	h.hub.Serve(r.Context(), conn, room)
}
