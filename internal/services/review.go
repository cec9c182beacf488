package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
)

// ErrInvalidStatus is returned for a status outside the review workflow
var ErrInvalidStatus = errors.New("invalid status")

// ReviewService applies review workflow changes. It never touches scoring
// inputs; it only asks the group to refresh its derived ranking afterwards.
type ReviewService struct {
	store  store.Store
	groups *GroupAggregator
	logger *zap.SugaredLogger
}

// NewReviewService creates a new review service
func NewReviewService(st store.Store, groups *GroupAggregator, logger *zap.SugaredLogger) *ReviewService {
	return &ReviewService{store: st, groups: groups, logger: logger}
}

// UpdateStatus records a status transition by actor and returns the updated grievance
func (s *ReviewService) UpdateStatus(ctx context.Context, id string, actor models.Identity, upd models.StatusUpdate) (*models.Grievance, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, upd.Status)
	}

	g, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGrievanceNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	patch := store.StatusPatch{Status: upd.Status, AssignedTo: upd.AssignedTo}
	if upd.Status == models.StatusResolved {
		patch.ResolvedAt = &now
	}

	action := "status:" + string(upd.Status)
	if upd.AssignedTo != "" && upd.AssignedTo != g.AssignedTo {
		action += " assigned:" + upd.AssignedTo
	}
	entry := models.ActionEntry{Actor: actor.ID, Action: action, At: now, Remarks: upd.Remarks}

	if err := s.store.UpdateStatus(ctx, id, patch, entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGrievanceNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logger.Infow("Grievance status updated",
		"grievance_id", id,
		"actor", actor.ID,
		"from", g.Status,
		"to", upd.Status,
	)

	if _, err := s.groups.RecomputeGroupPriority(ctx, g.LeaderID()); err != nil {
		s.logger.Warnw("Group refresh after review failed", "group_id", g.LeaderID(), "error", err)
	}

	return s.store.Get(ctx, id)
}

// History returns the append-only action history of a grievance
func (s *ReviewService) History(ctx context.Context, id string) ([]models.ActionEntry, error) {
	g, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGrievanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return g.ActionHistory, nil
}
