package services

import (
	"context"
	"time"

	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
)

// GroupReconciler periodically re-derives group counts and priorities so
// siblings that lagged behind a merge converge
type GroupReconciler struct {
	store  store.Store
	groups *GroupAggregator
	logger *zap.SugaredLogger
}

// NewGroupReconciler creates a new background group reconciler
func NewGroupReconciler(st store.Store, groups *GroupAggregator, logger *zap.SugaredLogger) *GroupReconciler {
	return &GroupReconciler{store: st, groups: groups, logger: logger}
}

// Start begins the periodic reconcile loop
func (r *GroupReconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Cover two intervals so a group touched just before a tick is not missed
	window := 2 * interval

	// Initial pass
	r.Reconcile(ctx, time.Now().UTC().Add(-window))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Group reconciler stopped")
			return
		case <-ticker.C:
			r.Reconcile(ctx, time.Now().UTC().Add(-window))
		}
	}
}

// Reconcile refreshes every open group updated since the given time and
// returns how many groups were processed
func (r *GroupReconciler) Reconcile(ctx context.Context, since time.Time) int {
	r.logger.Debug("Reconciling duplicate groups...")

	ids, err := r.store.ActiveGroups(ctx, since)
	if err != nil {
		r.logger.Warnw("Failed to list active groups", "error", err)
		return 0
	}

	done, fixed := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		summary, err := r.groups.RecomputeGroupPriority(ctx, id)
		if err != nil {
			r.logger.Warnw("Group reconcile failed", "group_id", id, "error", err)
			continue
		}
		done++
		fixed += summary.Updated
	}

	r.logger.Infow("Group reconcile complete", "groups", done, "documents_updated", fixed)
	return done
}
