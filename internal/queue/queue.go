// Package queue carries newly created grievances to the relevance worker.
// Delivery is at-least-once; consumers must tolerate repeats.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultName is the Redis list jobs are pushed to
const DefaultName = "grievance-processing"

var (
	// ErrFull is returned when an in-memory queue has no room left
	ErrFull = errors.New("queue full")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("queue closed")
)

// Job asks the worker to classify one grievance
type Job struct {
	GrievanceID string    `json:"grievance_id"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of relevance jobs
type Queue interface {
	// Enqueue adds a job without waiting for a consumer
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done
	Dequeue(ctx context.Context) (Job, error)
	// Close releases the underlying connection
	Close() error
}
