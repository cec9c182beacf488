package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans published events out to websocket connections grouped in rooms.
// A slow connection drops messages instead of stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*subscriber]struct{}
	logger *zap.SugaredLogger
}

// NewHub creates an empty hub
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{}), logger: logger}
}

// Serve joins conn to room and pumps messages until the peer leaves or ctx ends.
// It closes conn before returning.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, room string) {
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.join(room, s)
	defer func() {
		h.leave(room, s)
		conn.Close()
	}()

	// Reader only watches for the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugw("Websocket write failed", "room", room, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Publish implements Publisher for every subscriber of topic
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[topic] {
		select {
		case s.send <- b:
		default:
			h.logger.Warnw("Dropping event for slow subscriber", "room", topic)
		}
	}
	return nil
}

// Subscribers returns the number of connections in room
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) join(room string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*subscriber]struct{})
	}
	h.rooms[room][s] = struct{}{}
	h.logger.Debugw("Subscriber joined", "room", room, "subscribers", len(h.rooms[room]))
}

func (h *Hub) leave(room string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], s)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}
