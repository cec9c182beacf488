package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicplus/grievance-engine/internal/fingerprint"
	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/similarity"
	"github.com/civicplus/grievance-engine/internal/store"
	"go.uber.org/zap"
)

// DuplicateThreshold is the score a candidate must strictly exceed to match
const DuplicateThreshold = 0.3

// DefaultGroupingRadius bounds how far apart two reports of one incident may be
const DefaultGroupingRadius = 100.0

// SimilarityFunc scores two descriptions in [0,1]
type SimilarityFunc func(a, b string) float64

// Probe is the part of a new report the detector compares
type Probe struct {
	Zone        int
	Point       geo.Point
	Description string
	ImageHashes []string
}

// Match is the winning candidate
type Match struct {
	Candidate store.Candidate
	Score     float64
	HashMatch bool
}

// LeaderID is the group the new report should join
func (m *Match) LeaderID() string {
	return m.Candidate.LeaderID()
}

// Detection is the outcome of one duplicate search
type Detection struct {
	Match *Match
	// NearDuplicate is set when a nearby report shares an image or one
	// description contains the other, whether or not it cleared the threshold
	NearDuplicate bool
	Candidates    int
}

// DuplicateDetector finds the open report a new submission restates
type DuplicateDetector struct {
	store      store.Store
	resolver   *geo.Resolver
	similarity SimilarityFunc
	radius     float64
	logger     *zap.SugaredLogger
}

// NewDuplicateDetector creates a detector; radius <= 0 uses DefaultGroupingRadius
func NewDuplicateDetector(st store.Store, resolver *geo.Resolver, radius float64, logger *zap.SugaredLogger) *DuplicateDetector {
	if radius <= 0 {
		radius = DefaultGroupingRadius
	}
	return &DuplicateDetector{
		store:      st,
		resolver:   resolver,
		similarity: similarity.Text,
		radius:     radius,
		logger:     logger,
	}
}

// WithSimilarity replaces the text similarity function
func (d *DuplicateDetector) WithSimilarity(fn SimilarityFunc) *DuplicateDetector {
	d.similarity = fn
	return d
}

// ResolveZone maps p to a ward, falling back to homeZone when no polygon contains it
func (d *DuplicateDetector) ResolveZone(p geo.Point, homeZone int) (zone int, name string, resolved bool) {
	if id, n, ok := d.resolver.ResolveZone(p); ok {
		return id, n, true
	}
	return homeZone, "", false
}

// FindDuplicate searches open reports in the probe's zone created within lookback
// and returns the best one scoring above DuplicateThreshold. A member is only a
// candidate while its group leader is open. Candidates arrive oldest first and
// only a strictly higher score replaces the current best, so ties go to the
// oldest report.
func (d *DuplicateDetector) FindDuplicate(ctx context.Context, p Probe, lookback time.Duration) (Detection, error) {
	candidates, err := d.store.FindCandidates(ctx, store.CandidateFilter{
		Zone:     p.Zone,
		Statuses: models.OpenStatuses,
		Since:    time.Now().UTC().Add(-lookback),
	})
	if err != nil {
		return Detection{}, fmt.Errorf("find duplicate candidates: %w", err)
	}

	det := Detection{Candidates: len(candidates)}
	groupOpen := make(map[string]bool)
	for _, c := range candidates {
		cp := geo.Point{Lat: c.Location.Lat, Lng: c.Location.Lng}
		if similarity.Distance(p.Point, cp) > d.radius {
			continue
		}
		open, err := d.leaderOpen(ctx, c, groupOpen)
		if err != nil {
			return Detection{}, err
		}
		if !open {
			continue
		}

		hashMatch := fingerprint.SharesHash(p.ImageHashes, c.ImageHashes)
		if hashMatch || similarity.Contains(p.Description, c.Description) {
			det.NearDuplicate = true
		}

		score := d.similarity(p.Description, c.Description)
		if hashMatch {
			score = 1
		}
		if score <= DuplicateThreshold {
			continue
		}
		if det.Match == nil || score > det.Match.Score {
			det.Match = &Match{Candidate: c, Score: score, HashMatch: hashMatch}
		}
	}

	if det.Match != nil {
		d.logger.Debugw("Duplicate candidate selected",
			"zone", p.Zone,
			"group_id", det.Match.LeaderID(),
			"score", det.Match.Score,
			"hash_match", det.Match.HashMatch,
		)
	}
	return det, nil
}

// leaderOpen reports whether the group c belongs to still accepts supporters.
// Leaders were already filtered by status; members need their leader loaded.
func (d *DuplicateDetector) leaderOpen(ctx context.Context, c store.Candidate, seen map[string]bool) (bool, error) {
	leaderID := c.LeaderID()
	if leaderID == c.ID {
		return true, nil
	}
	if open, ok := seen[leaderID]; ok {
		return open, nil
	}

	leader, err := d.store.Get(ctx, leaderID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		seen[leaderID] = false
	case err != nil:
		return false, fmt.Errorf("load candidate leader: %w", err)
	default:
		seen[leaderID] = leader.Status.Open()
	}
	return seen[leaderID], nil
}
