// Package notify broadcasts grievance events to ward-scoped subscribers.
// Publishing is fire-and-forget: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
)

// EventGrievanceCreated is sent when a new group leader is stored
const EventGrievanceCreated = "grievance.created"

// Publisher delivers a payload to every subscriber of topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// WardTopic is the room name for a ward
func WardTopic(zone int) string {
	return fmt.Sprintf("ward:%d", zone)
}

// Event is the message body sent to ward subscribers
type Event struct {
	Type          string    `json:"type"`
	GrievanceID   string    `json:"grievance_id"`
	Zone          int       `json:"zone"`
	Category      string    `json:"category"`
	Title         string    `json:"title"`
	PriorityScore int       `json:"priority_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewGrievanceEvent summarizes g for the live feed
func NewGrievanceEvent(g *models.Grievance) Event {
	return Event{
		Type:          EventGrievanceCreated,
		GrievanceID:   g.ID,
		Zone:          g.Zone,
		Category:      g.Category,
		Title:         g.Title,
		PriorityScore: g.PriorityScore,
		CreatedAt:     g.CreatedAt,
	}
}

func encode(payload any) ([]byte, error) {
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Multi publishes to several publishers and joins their errors
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every message
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(context.Context, string, any) error { return nil }

// Message is one recorded publication
type Message struct {
	Topic   string
	Payload []byte
}

// Recorder keeps every publication in memory
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, topic string, payload any) error {
	if r.Err != nil {
		return r.Err
	}
	b, err := encode(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Topic: topic, Payload: b})
	r.mu.Unlock()
	return nil
}

// Messages returns a copy of what has been published so far
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
