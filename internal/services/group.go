package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
)

// errLeaderGone means the matched leader vanished or was closed between
// detection and merge
var errLeaderGone = errors.New("group leader no longer accepts supporters")

const (
	msgMerged          = "Thanks for confirming, this issue has already been reported"
	msgAlreadyReported = "You have already reported or supported this issue"
)

// GroupSummary describes a group after its derived fields were refreshed
type GroupSummary struct {
	GroupID        string `json:"group_id"`
	SupporterCount int    `json:"supporter_count"`
	LeaderPriority int    `json:"leader_priority"`
	Members        int    `json:"members"`
	Updated        int    `json:"updated"`
}

// GroupAggregator owns duplicate group membership and the group's derived scores
type GroupAggregator struct {
	store  store.Store
	calc   *scoring.Calculator
	logger *zap.SugaredLogger
}

// NewGroupAggregator creates a new group aggregator
func NewGroupAggregator(st store.Store, calc *scoring.Calculator, logger *zap.SugaredLogger) *GroupAggregator {
	return &GroupAggregator{store: st, calc: calc, logger: logger}
}

// Merge folds report into the group led by leaderID.
//
// The supporter add is the only step that must be atomic; it is done by the
// store in one conditional update. Count and priorities are then re-derived
// from a fresh read of the group, so a sibling may briefly lag until the next
// merge or reconcile pass.
func (a *GroupAggregator) Merge(ctx context.Context, report *models.Grievance, leaderID string) (models.SubmitResult, error) {
	leader, err := a.store.Get(ctx, leaderID)
	if errors.Is(err, store.ErrNotFound) {
		return models.SubmitResult{}, errLeaderGone
	}
	if err != nil {
		return models.SubmitResult{}, fmt.Errorf("load group leader: %w", err)
	}
	if !leader.Status.Open() {
		return models.SubmitResult{}, errLeaderGone
	}

	rejected := models.SubmitResult{
		Outcome:        models.OutcomeRejectedDuplicate,
		GroupID:        leaderID,
		SupporterCount: leader.SupporterCount,
		PriorityScore:  leader.PriorityScore,
		Message:        msgAlreadyReported,
	}

	if leader.HasSupporter(report.SubmitterID) {
		return rejected, nil
	}
	inGroup, err := a.store.GroupHasSubmitter(ctx, leaderID, report.SubmitterID)
	if err != nil {
		return models.SubmitResult{}, err
	}
	if inGroup {
		return rejected, nil
	}

	added, err := a.store.AddSupporter(ctx, leaderID, report.SubmitterID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrGroupClosed) {
		return models.SubmitResult{}, errLeaderGone
	}
	if err != nil {
		return models.SubmitResult{}, err
	}
	if !added {
		// Lost a race with the same submitter's other request
		return rejected, nil
	}

	report.GroupID = leaderID
	report.Supporters = nil
	report.DuplicateCandidate = true
	if err := a.store.Create(ctx, report); err != nil {
		// The support is already counted; only the extra evidence is lost
		a.logger.Errorw("Failed to store merged report",
			"group_id", leaderID,
			"submitter_id", report.SubmitterID,
			"error", err,
		)
		report.ID = ""
	}

	summary, err := a.RecomputeGroupPriority(ctx, leaderID)
	if err != nil {
		a.logger.Warnw("Group fan-out failed, reconciler will retry",
			"group_id", leaderID,
			"error", err,
		)
		summary = &GroupSummary{GroupID: leaderID, SupporterCount: leader.SupporterCount + 1, LeaderPriority: leader.PriorityScore}
	}

	a.logger.Infow("Report merged into group",
		"group_id", leaderID,
		"grievance_id", report.ID,
		"submitter_id", report.SubmitterID,
		"supporter_count", summary.SupporterCount,
	)

	return models.SubmitResult{
		Outcome:        models.OutcomeMerged,
		GrievanceID:    report.ID,
		GroupID:        leaderID,
		SupporterCount: summary.SupporterCount,
		PriorityScore:  summary.LeaderPriority,
		Message:        msgMerged,
	}, nil
}

// RecomputeGroupPriority re-derives the supporter count from the leader's
// supporter set and rewrites every member's priority from its own category
// and credibility. Only changed values are written.
func (a *GroupAggregator) RecomputeGroupPriority(ctx context.Context, groupID string) (*GroupSummary, error) {
	docs, err := a.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	var leader *models.Grievance
	for _, g := range docs {
		if g.ID == groupID {
			leader = g
			break
		}
	}
	if leader == nil {
		return nil, ErrGrievanceNotFound
	}

	role, ok := leader.Role().(models.Leader)
	if !ok {
		return nil, fmt.Errorf("group %s: leader document is not a leader", groupID)
	}
	count := role.SupporterCount()

	summary := &GroupSummary{GroupID: groupID, SupporterCount: count, Members: len(docs)}

	stale := false
	for _, g := range docs {
		if g.SupporterCount != count {
			stale = true
			break
		}
	}
	if stale {
		if err := a.store.SetGroupSupporterCount(ctx, groupID, count); err != nil {
			return nil, err
		}
	}

	for _, g := range docs {
		p := a.calc.Priority(g.Category, g.CredibilityScore, count)
		if g.ID == groupID {
			summary.LeaderPriority = p
		}
		if p == g.PriorityScore {
			continue
		}
		if err := a.store.SetPriority(ctx, g.ID, p); err != nil {
			return nil, fmt.Errorf("update priority of %s: %w", g.ID, err)
		}
		summary.Updated++
	}

	return summary, nil
}
