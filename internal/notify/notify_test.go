package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWardTopic(t *testing.T) {
	assert.Equal(t, "ward:5", WardTopic(5))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	broken := &Recorder{Err: errors.New("down")}

	err := Multi{ok, broken}.Publish(context.Background(), "ward:1", map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	require.Len(t, ok.Messages(), 1)
	assert.JSONEq(t, `{"a":"b"}`, string(ok.Messages()[0].Payload))
}

func TestNewGrievanceEvent(t *testing.T) {
	g := &models.Grievance{ID: "g1", Zone: 5, Category: "Drainage", Title: "Blocked drain", PriorityScore: 55}
	ev := NewGrievanceEvent(g)
	assert.Equal(t, EventGrievanceCreated, ev.Type)
	assert.Equal(t, 5, ev.Zone)
	assert.Equal(t, 55, ev.PriorityScore)
}

func TestHubDeliversToRoom(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, r.URL.Query().Get("room"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=ward:5"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("ward:5") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "ward:6", Event{GrievanceID: "other"}))
	require.NoError(t, hub.Publish(context.Background(), "ward:5", Event{GrievanceID: "g1", Zone: 5}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "g1", ev.GrievanceID)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers("ward:5") == 0 }, time.Second, 10*time.Millisecond)
}
