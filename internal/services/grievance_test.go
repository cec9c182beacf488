package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitCreatesLeader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := report("water leaking from pipe", baseLat, baseLng)
	sub.Category = scoring.CategoryWaterLeakage
	sub.IP = "203.0.113.9"
	sub.Device = "test-agent"

	res, err := f.svc.Submit(ctx, alice, sub)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
	assert.Equal(t, res.GrievanceID, res.GroupID)
	assert.Equal(t, 1, res.SupporterCount)
	// 25 + round(0.85*30) + 10
	assert.Equal(t, 61, res.PriorityScore)

	g, err := f.svc.Get(ctx, res.GrievanceID)
	require.NoError(t, err)
	assert.True(t, g.IsLeader())
	assert.Equal(t, 5, g.Zone)
	assert.Equal(t, "Market", g.ZoneName)
	assert.True(t, g.GeoValid)
	assert.Equal(t, 0.85, g.CredibilityScore)
	assert.Equal(t, models.CredibilitySignals{
		GeoInsideZone:     true,
		SubmitterVerified: true,
		UniqueImage:       true,
		AIRelevant:        false,
		GoodHistory:       true,
	}, g.Signals)
	assert.Equal(t, models.AIUnclassified, g.AIClassification)
	assert.False(t, g.DuplicateCandidate)
	assert.Equal(t, "203.0.113.9", g.Audit.IP)
	assert.Equal(t, "test-agent", g.Audit.Device)

	// enqueued for relevance and announced to the ward
	assert.Equal(t, 1, f.queue.Len())
	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ward:5", msgs[0].Topic)
	assert.Contains(t, string(msgs[0].Payload), res.GrievanceID)
}

func TestSubmitAfterGroupResolvedStartsNewGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	officer := models.Identity{ID: "officer-1", Role: "officer"}

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, bob, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeMerged, second.Outcome)

	_, err = f.review.UpdateStatus(ctx, first.GroupID, officer, models.StatusUpdate{Status: models.StatusResolved})
	require.NoError(t, err)

	// bob's member document is still pending but belongs to a closed group
	third, err := f.svc.Submit(ctx, carol, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, third.Outcome)
	assert.NotEqual(t, first.GroupID, third.GroupID)
	assert.Equal(t, third.GrievanceID, third.GroupID)
	assert.Equal(t, 1, third.SupporterCount)

	leader, err := f.store.Get(ctx, first.GroupID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, leader.Status)
	assert.Equal(t, []string{"bob"}, leader.Supporters)
	assert.Equal(t, 2, leader.SupporterCount)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, alice, report("pothole", 0, 0))
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = f.svc.Submit(ctx, alice, report("pothole", 95, 10))
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = f.svc.Submit(ctx, alice, report("   ", baseLat, baseLng))
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	assert.Equal(t, 0, f.store.Len())
}

// Scenario A
func TestSubmitMergesNearbySimilarReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCreated, first.Outcome)
	assert.Equal(t, 56, first.PriorityScore)

	second, err := f.svc.Submit(ctx, bob, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMerged, second.Outcome)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.Equal(t, 2, second.SupporterCount)
	assert.Equal(t, 66, second.PriorityScore)
	assert.Greater(t, second.PriorityScore, first.PriorityScore)

	leader, err := f.store.Get(ctx, first.GrievanceID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, leader.Supporters)
	assert.Equal(t, 2, leader.SupporterCount)
	assert.Equal(t, 66, leader.PriorityScore)

	member, err := f.store.Get(ctx, second.GrievanceID)
	require.NoError(t, err)
	assert.False(t, member.IsLeader())
	assert.Equal(t, models.Member{LeaderID: first.GrievanceID}, member.Role())
	assert.Equal(t, 2, member.SupporterCount)
	assert.Equal(t, 66, member.PriorityScore)

	// merged reports are not re-scored asynchronously
	assert.Equal(t, 1, f.queue.Len())
}

// Scenario B
func TestSubmitRejectsSameSubmitter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)

	again, err := f.svc.Submit(ctx, alice, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejectedDuplicate, again.Outcome)
	assert.Equal(t, first.GroupID, again.GroupID)
	assert.Empty(t, again.GrievanceID)
	assert.Equal(t, 1, f.store.Len())
}

func TestSubmitRejectsRepeatSupporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	merged, err := f.svc.Submit(ctx, bob, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeMerged, merged.Outcome)

	again, err := f.svc.Submit(ctx, bob, report("pothole on the main road", baseLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejectedDuplicate, again.Outcome)
	assert.Equal(t, 2, again.SupporterCount)
	assert.Equal(t, 2, f.store.Len())

	leader, err := f.store.Get(ctx, first.GrievanceID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, leader.Supporters)
}

// Scenario C
func TestSubmitRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Create(ctx, &models.Grievance{
			ID:          fmt.Sprintf("old-%d", i),
			SubmitterID: alice.ID,
			Zone:        6,
			Description: fmt.Sprintf("report %d", i),
			Location:    models.Location{Lat: baseLat, Lng: ward6Lng},
			CreatedAt:   time.Now().UTC().Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	res, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejectedRateLimited, res.Outcome)
	assert.Equal(t, 3, f.store.Len())
	assert.Equal(t, 0, f.queue.Len())
}

func TestSubmitRateLimitIgnoresOldReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Create(ctx, &models.Grievance{
			ID:          fmt.Sprintf("old-%d", i),
			SubmitterID: alice.ID,
			Zone:        6,
			CreatedAt:   time.Now().UTC().Add(-25 * time.Hour),
		}))
	}

	res, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
}

func TestSubmitThresholdIsExclusive(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		score float64
		want  models.OutcomeKind
	}{
		{0.30, models.OutcomeCreated},
		{0.31, models.OutcomeMerged},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%.2f", tc.score), func(t *testing.T) {
			f := newFixture(t)
			f.detector.WithSimilarity(func(a, b string) float64 { return tc.score })

			_, err := f.svc.Submit(ctx, alice, report("first description", baseLat, baseLng))
			require.NoError(t, err)
			res, err := f.svc.Submit(ctx, bob, report("second description", nearLat, baseLng))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)
		})
	}
}

func TestSubmitIgnoresReportsOutsideRadius(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, bob, report("pothole on main road", farLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
}

func TestSubmitIgnoresClosedReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	_, err = f.review.UpdateStatus(ctx, first.GrievanceID, models.Identity{ID: "officer"},
		models.StatusUpdate{Status: models.StatusResolved})
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, bob, report("pothole on main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
}

func TestSubmitMergesOnImageHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := report("broken streetlight", baseLat, baseLng)
	first.Files = []models.UploadedFile{imageFile(t, "same photo bytes")}
	created, err := f.svc.Submit(ctx, alice, first)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCreated, created.Outcome)

	g, err := f.store.Get(ctx, created.GrievanceID)
	require.NoError(t, err)
	require.Len(t, g.ImageHashes, 1)
	// no file backend configured: hash kept, no attachment
	assert.Empty(t, g.Attachments)

	second := report("garbage pile", nearLat, baseLng)
	second.Files = []models.UploadedFile{imageFile(t, "same photo bytes")}
	merged, err := f.svc.Submit(ctx, bob, second)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMerged, merged.Outcome)
	assert.Equal(t, created.GroupID, merged.GroupID)

	member, err := f.store.Get(ctx, merged.GrievanceID)
	require.NoError(t, err)
	assert.False(t, member.Signals.UniqueImage)
}

func TestSubmitFlagsNearDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)

	long := "residents say there is a pothole on main road near the old temple junction for many weeks now"
	res, err := f.svc.Submit(ctx, bob, report(long, nearLat, baseLng))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCreated, res.Outcome)

	g, err := f.store.Get(ctx, res.GrievanceID)
	require.NoError(t, err)
	assert.True(t, g.DuplicateCandidate)
}

func TestSubmitSeenImageElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := report("broken streetlight", baseLat, baseLng)
	first.Files = []models.UploadedFile{imageFile(t, "reused photo")}
	_, err := f.svc.Submit(ctx, alice, first)
	require.NoError(t, err)

	second := report("garbage pile", baseLat, ward6Lng)
	second.Files = []models.UploadedFile{imageFile(t, "reused photo")}
	res, err := f.svc.Submit(ctx, bob, second)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCreated, res.Outcome)

	g, err := f.store.Get(ctx, res.GrievanceID)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Zone)
	assert.False(t, g.Signals.UniqueImage)
	assert.True(t, g.DuplicateCandidate)
}

func TestSubmitCredibilitySignals(t *testing.T) {
	ctx := context.Background()

	t.Run("claimed ward mismatch", func(t *testing.T) {
		f := newFixture(t)
		caller := alice
		caller.HomeZone = 6
		res, err := f.svc.Submit(ctx, caller, report("pothole", baseLat, baseLng))
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.Equal(t, 5, g.Zone)
		assert.False(t, g.GeoValid)
		assert.Equal(t, 0.55, g.CredibilityScore)
	})

	t.Run("explicit ward claim wins over home ward", func(t *testing.T) {
		f := newFixture(t)
		caller := alice
		caller.HomeZone = 6
		sub := report("pothole", baseLat, baseLng)
		sub.ClaimedZone = 5
		res, err := f.svc.Submit(ctx, caller, sub)
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.True(t, g.GeoValid)
	})

	t.Run("outside every ward falls back to home ward", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.Submit(ctx, alice, report("pothole", 9.98, baseLng))
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.Equal(t, 5, g.Zone)
		assert.False(t, g.GeoValid)
	})

	t.Run("no ward data fails open", func(t *testing.T) {
		f := newFixtureWithResolver(geo.NewResolver(nil, zap.NewNop().Sugar()))
		res, err := f.svc.Submit(ctx, alice, report("pothole", 9.98, baseLng))
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.Equal(t, 5, g.Zone)
		assert.True(t, g.GeoValid)
	})

	t.Run("unverified submitter", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.Submit(ctx, carol, report("pothole", baseLat, baseLng))
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.Equal(t, 0.6, g.CredibilityScore)
	})

	t.Run("rejected history", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Create(ctx, &models.Grievance{
			ID: "fake", SubmitterID: alice.ID, Zone: 6, Status: models.StatusRejected,
			CreatedAt: time.Now().UTC().Add(-72 * time.Hour),
		}))
		res, err := f.svc.Submit(ctx, alice, report("pothole", baseLat, baseLng))
		require.NoError(t, err)
		g, err := f.store.Get(ctx, res.GrievanceID)
		require.NoError(t, err)
		assert.False(t, g.Signals.GoodHistory)
		assert.Equal(t, 0.75, g.CredibilityScore)
	})
}

func TestSubmitInfersCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := report("garbage pile", baseLat, baseLng)
	sub.Category = "rubbish??"
	res, err := f.svc.Submit(ctx, alice, sub)
	require.NoError(t, err)

	g, err := f.store.Get(ctx, res.GrievanceID)
	require.NoError(t, err)
	assert.Contains(t, scoring.Categories, g.Category)
}

func TestSubmitSurvivesQueueAndPublisherFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	full := queue.NewMemory(1)
	require.NoError(t, full.Enqueue(ctx, queue.Job{GrievanceID: "filler"}))
	f.svc.deps.Queue = full
	f.pub.Err = errors.New("broker down")

	res, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, f.store.Len())
}

func TestConcurrentMergesKeepGroupInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)

	const users = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[models.OutcomeKind]int{}
	)
	for i := 0; i < users; i++ {
		caller := models.Identity{ID: fmt.Sprintf("user-%d", i), Verified: true, HomeZone: 5}
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.svc.Submit(ctx, caller, report("big pothole main road", nearLat, baseLng))
				assert.NoError(t, err)
				mu.Lock()
				outcomes[res.Outcome]++
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, users, outcomes[models.OutcomeMerged])
	assert.Equal(t, users, outcomes[models.OutcomeRejectedDuplicate])

	// settle any sibling lag the way the reconciler would
	summary, err := f.groups.RecomputeGroupPriority(ctx, first.GroupID)
	require.NoError(t, err)
	assert.Equal(t, users+1, summary.SupporterCount)
	assert.Equal(t, users+1, summary.Members)

	group, err := f.store.FindGroup(ctx, first.GroupID)
	require.NoError(t, err)
	leaders := 0
	perSubmitter := map[string]int{}
	for _, g := range group {
		if g.IsLeader() {
			leaders++
			assert.Equal(t, 1+len(g.Supporters), g.SupporterCount)
		}
		assert.Equal(t, users+1, g.SupporterCount)
		perSubmitter[g.SubmitterID]++
	}
	assert.Equal(t, 1, leaders)
	for id, n := range perSubmitter {
		assert.Equal(t, 1, n, id)
	}
}

func TestQuickDuplicateCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)

	check, err := f.svc.QuickDuplicateCheck(ctx, bob, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.True(t, check.IsDuplicate)
	assert.Equal(t, first.GroupID, check.GroupID)
	assert.Equal(t, 1, check.SupporterCount)
	assert.False(t, check.AlreadySupportedByCaller)

	check, err = f.svc.QuickDuplicateCheck(ctx, alice, report("big pothole main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.True(t, check.AlreadySupportedByCaller)

	check, err = f.svc.QuickDuplicateCheck(ctx, bob, report("broken streetlight", nearLat, baseLng))
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)

	// nothing was written
	assert.Equal(t, 1, f.store.Len())

	_, err = f.svc.QuickDuplicateCheck(ctx, bob, report("x", 0, 0))
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestQuickDuplicateCheckUsesShorterWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Create(ctx, &models.Grievance{
		ID:          "four-days-old",
		SubmitterID: alice.ID,
		Zone:        5,
		Description: "pothole on main road",
		Location:    models.Location{Lat: baseLat, Lng: baseLng},
		CreatedAt:   time.Now().UTC().Add(-96 * time.Hour),
	}))

	check, err := f.svc.QuickDuplicateCheck(ctx, bob, report("pothole on main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)

	res, err := f.svc.Submit(ctx, bob, report("pothole on main road", nearLat, baseLng))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMerged, res.Outcome)
}

func TestResolveZoneAndReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	zone, name, ok, err := f.svc.ResolveZone(baseLat, ward6Lng)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, zone)
	assert.Equal(t, "Harbour", name)

	_, _, ok, err = f.svc.ResolveZone(9.5, 75.5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = f.svc.ResolveZone(200, 0)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrGrievanceNotFound)

	_, err = f.svc.Submit(ctx, alice, report("pothole on main road", baseLat, baseLng))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, bob, report("broken streetlight", baseLat, ward6Lng))
	require.NoError(t, err)

	five := 5
	items, total, err := f.svc.List(ctx, store.ListFilter{Zone: &five})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, alice.ID, items[0].SubmitterID)

	_, _, err = f.svc.List(ctx, store.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	counts, err := f.svc.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
}
