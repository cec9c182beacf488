package services

import (
	"context"
	"time"

	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
)

// Rate limit defaults
const (
	DefaultGrievancesPer24h = 3
	rateWindow              = 24 * time.Hour
)

// RateLimiter caps how many reports one submitter may file per rolling 24 hours
type RateLimiter struct {
	store  store.Store
	limit  int
	logger *zap.SugaredLogger
}

// NewRateLimiter creates a limiter; limit < 1 uses DefaultGrievancesPer24h
func NewRateLimiter(st store.Store, limit int, logger *zap.SugaredLogger) *RateLimiter {
	if limit < 1 {
		limit = DefaultGrievancesPer24h
	}
	return &RateLimiter{store: st, limit: limit, logger: logger}
}

// Limit returns the configured ceiling
func (l *RateLimiter) Limit() int {
	return l.limit
}

// Allow reports whether submitterID is below the ceiling.
// A store failure allows the submission.
func (l *RateLimiter) Allow(ctx context.Context, submitterID string) bool {
	n, err := l.store.CountSince(ctx, submitterID, time.Now().UTC().Add(-rateWindow))
	if err != nil {
		l.logger.Warnw("Rate limit check failed, allowing submission",
			"submitter_id", submitterID,
			"error", err,
		)
		return true
	}
	return n < l.limit
}
