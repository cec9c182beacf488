package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is a bounded in-process Queue
type Memory struct {
	jobs   chan Job
	once   sync.Once
	closed chan struct{}
}

// NewMemory creates a queue holding at most size pending jobs
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{jobs: make(chan Job, size), closed: make(chan struct{})}
}

// Enqueue implements Queue. It never blocks; a full queue returns ErrFull.
func (q *Memory) Enqueue(_ context.Context, job Job) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue implements Queue
func (q *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.closed:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len returns the number of pending jobs
func (q *Memory) Len() int {
	return len(q.jobs)
}

// Close implements Queue
func (q *Memory) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
