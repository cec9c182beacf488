package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Retry defaults for relevance jobs
const (
	DefaultWorkerAttempts = 3
	DefaultWorkerBackoff  = 2 * time.Second
)

// RelevanceWorker classifies new grievances and revises their credibility.
// Processing a job twice gives the same stored result.
type RelevanceWorker struct {
	store      store.Store
	queue      queue.Queue
	classifier scoring.RelevanceClassifier
	calc       *scoring.Calculator
	attempts   int
	backoff    time.Duration
	logger     *zap.SugaredLogger
}

// NewRelevanceWorker creates a worker; non-positive attempts or backoff use the defaults
func NewRelevanceWorker(st store.Store, q queue.Queue, classifier scoring.RelevanceClassifier, calc *scoring.Calculator,
	attempts int, backoff time.Duration, logger *zap.SugaredLogger) *RelevanceWorker {
	if attempts < 1 {
		attempts = DefaultWorkerAttempts
	}
	if backoff <= 0 {
		backoff = DefaultWorkerBackoff
	}
	return &RelevanceWorker{
		store:      st,
		queue:      q,
		classifier: classifier,
		calc:       calc,
		attempts:   attempts,
		backoff:    backoff,
		logger:     logger,
	}
}

// Start consumes jobs until ctx is cancelled, running up to concurrency jobs at once
func (w *RelevanceWorker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Infow("Relevance worker started", "concurrency", concurrency, "attempts", w.attempts)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			w.logger.Warnw("Dequeue failed", "error", err)
			if !sleepCtx(ctx, w.backoff) {
				break
			}
			continue
		}
		eg.Go(func() error {
			w.Handle(ctx, job)
			return nil
		})
	}

	_ = eg.Wait()
	w.logger.Info("Relevance worker stopped")
}

// Handle processes one job with exponential backoff between attempts.
// After the last failed attempt the grievance keeps its current scores.
func (w *RelevanceWorker) Handle(ctx context.Context, job queue.Job) {
	delay := w.backoff
	for attempt := 1; attempt <= w.attempts; attempt++ {
		err := w.Process(ctx, job.GrievanceID)
		if err == nil {
			return
		}
		if attempt == w.attempts {
			w.logger.Warnw("Relevance processing gave up, keeping initial credibility",
				"grievance_id", job.GrievanceID,
				"attempt", attempt,
				"error", err,
			)
			return
		}
		w.logger.Infow("Relevance processing failed, retrying",
			"grievance_id", job.GrievanceID,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
	}
}

// Process classifies one grievance and stores its revised credibility and
// priority. All signals other than AIRelevant are the ones stored at creation.
func (w *RelevanceWorker) Process(ctx context.Context, id string) error {
	g, err := w.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Debugw("Relevance job for missing grievance skipped", "grievance_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	relevant, label, err := w.classifier.Classify(ctx, g)
	if err != nil {
		return fmt.Errorf("classify %s: %w", id, err)
	}

	signals := g.Signals
	signals.AIRelevant = relevant
	credibility := scoring.Credibility(signals)
	priority := w.calc.Priority(g.Category, credibility, g.SupporterCount)

	if err := w.store.ApplyRelevance(ctx, id, store.RelevancePatch{
		Signals:          signals,
		CredibilityScore: credibility,
		PriorityScore:    priority,
		AIClassification: label,
	}); err != nil {
		return err
	}

	// A merge may have fanned out a new supporter count while classifying
	fresh, err := w.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reload %s: %w", id, err)
	}
	if p := w.calc.Priority(fresh.Category, fresh.CredibilityScore, fresh.SupporterCount); p != fresh.PriorityScore {
		if err := w.store.SetPriority(ctx, id, p); err != nil {
			return err
		}
		priority = p
	}

	w.logger.Infow("Relevance applied",
		"grievance_id", id,
		"classification", label,
		"credibility", credibility,
		"priority", priority,
	)
	return nil
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
