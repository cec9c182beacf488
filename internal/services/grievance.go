// Package services implements the grievance engine: intake, duplicate
// grouping, scoring refreshes and the background workers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/civicplus/grievance-engine/internal/filestore"
	"github.com/civicplus/grievance-engine/internal/fingerprint"
	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/notify"
	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidLocation is returned for missing or out-of-range coordinates
	ErrInvalidLocation = errors.New("invalid location")
	// ErrInvalidSubmission is returned when a report has no description
	ErrInvalidSubmission = errors.New("description is required")
	// ErrGrievanceNotFound is returned for unknown grievance or group ids
	ErrGrievanceNotFound = errors.New("grievance not found")
)

// Field limits
const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	evidenceWorkers   = 4
)

const (
	msgCreated     = "Grievance submitted successfully"
	msgRateLimited = "Daily submission limit reached, please try again later"
)

// IntakeOptions tunes the submission path
type IntakeOptions struct {
	GroupingLookback   time.Duration
	QuickCheckLookback time.Duration
	OldPhotoAge        time.Duration
}

// DefaultIntakeOptions are 7 days for grouping, 72 hours for the quick check
// and 30 days before a photo is flagged as old
func DefaultIntakeOptions() IntakeOptions {
	return IntakeOptions{
		GroupingLookback:   7 * 24 * time.Hour,
		QuickCheckLookback: 72 * time.Hour,
		OldPhotoAge:        30 * 24 * time.Hour,
	}
}

// GrievanceDeps are the collaborators of GrievanceService. Files, Queue and
// Publisher may be nil; the matching step is then skipped.
type GrievanceDeps struct {
	Store      store.Store
	Resolver   *geo.Resolver
	Detector   *DuplicateDetector
	Groups     *GroupAggregator
	Limiter    *RateLimiter
	Calculator *scoring.Calculator
	Files      filestore.Backend
	Queue      queue.Queue
	Publisher  notify.Publisher
}

// GrievanceService handles grievance intake and read access
type GrievanceService struct {
	deps   GrievanceDeps
	opts   IntakeOptions
	logger *zap.SugaredLogger
}

// NewGrievanceService creates a new grievance service
func NewGrievanceService(deps GrievanceDeps, opts IntakeOptions, logger *zap.SugaredLogger) *GrievanceService {
	def := DefaultIntakeOptions()
	if opts.GroupingLookback <= 0 {
		opts.GroupingLookback = def.GroupingLookback
	}
	if opts.QuickCheckLookback <= 0 {
		opts.QuickCheckLookback = def.QuickCheckLookback
	}
	if opts.OldPhotoAge <= 0 {
		opts.OldPhotoAge = def.OldPhotoAge
	}
	return &GrievanceService{deps: deps, opts: opts, logger: logger}
}

// evidence is what the engine learns from the uploaded files
type evidence struct {
	attachments  []models.Attachment
	hashes       []string
	captureTimes []time.Time
	oldPhoto     bool
}

// Submit runs a report through rate limiting, zone resolution and duplicate
// detection, then either merges it into an existing group or stores it as a
// new group leader. Policy rejections are outcomes, not errors.
func (s *GrievanceService) Submit(ctx context.Context, caller models.Identity, sub models.Submission) (models.SubmitResult, error) {
	point, err := validateSubmission(&sub)
	if err != nil {
		return models.SubmitResult{}, err
	}

	if !s.deps.Limiter.Allow(ctx, caller.ID) {
		s.logger.Infow("Submission rate limited", "submitter_id", caller.ID, "limit", s.deps.Limiter.Limit())
		return models.SubmitResult{Outcome: models.OutcomeRejectedRateLimited, Message: msgRateLimited}, nil
	}

	now := time.Now().UTC()
	claimed := sub.ClaimedZone
	if claimed == 0 {
		claimed = caller.HomeZone
	}
	zone, zoneName, _ := s.deps.Detector.ResolveZone(point, claimed)
	if claimed == 0 {
		claimed = zone
	}
	geoValid := s.deps.Resolver.ValidateInsideZone(point, claimed)

	ev := s.collectEvidence(ctx, sub, now)

	g := &models.Grievance{
		ID:            uuid.NewString(),
		SubmitterID:   caller.ID,
		SubmitterName: caller.Name,
		Zone:          zone,
		ZoneName:      zoneName,
		Category:      scoring.NormalizeCategory(sub.Category, sub.Title, sub.Description),
		Title:         sub.Title,
		Description:   sub.Description,
		Location:      models.Location{Lat: sub.Lat, Lng: sub.Lng, Address: sub.Address},
		Attachments:   ev.attachments,
		ImageHashes:   ev.hashes,
		CaptureTimes:  ev.captureTimes,
		GeoValid:      geoValid,
		Status:        models.StatusPending,
		Audit:         models.Audit{SubmittedAt: now, IP: sub.IP, Device: sub.Device},
		CreatedAt:     now,
	}
	if ev.oldPhoto {
		g.Flags = append(g.Flags, models.FlagOldPhoto)
	}

	det, err := s.deps.Detector.FindDuplicate(ctx, Probe{
		Zone:        zone,
		Point:       point,
		Description: sub.Description,
		ImageHashes: ev.hashes,
	}, s.opts.GroupingLookback)
	if err != nil {
		return models.SubmitResult{}, err
	}

	uniqueImage := s.uniqueImage(ctx, ev.hashes)
	g.Signals = models.CredibilitySignals{
		GeoInsideZone:     geoValid,
		SubmitterVerified: caller.Verified,
		UniqueImage:       uniqueImage,
		AIRelevant:        false,
		GoodHistory:       s.goodHistory(ctx, caller.ID),
	}
	g.SupporterCount = 1
	s.deps.Calculator.Rescore(g)

	if det.Match != nil {
		res, err := s.deps.Groups.Merge(ctx, g, det.Match.LeaderID())
		if !errors.Is(err, errLeaderGone) {
			return res, err
		}
		s.logger.Warnw("Matched group is gone or closed, creating a new report", "group_id", det.Match.LeaderID())
	}

	g.DuplicateCandidate = det.NearDuplicate || !uniqueImage
	if err := s.deps.Store.Create(ctx, g); err != nil {
		return models.SubmitResult{}, err
	}

	s.logger.Infow("Grievance created",
		"grievance_id", g.ID,
		"zone", g.Zone,
		"category", g.Category,
		"credibility", g.CredibilityScore,
		"priority", g.PriorityScore,
		"duplicate_candidate", g.DuplicateCandidate,
	)

	s.enqueue(ctx, g.ID)
	s.publish(ctx, g)

	return models.SubmitResult{
		Outcome:        models.OutcomeCreated,
		GrievanceID:    g.ID,
		GroupID:        g.GroupID,
		SupporterCount: g.SupporterCount,
		PriorityScore:  g.PriorityScore,
		Message:        msgCreated,
	}, nil
}

// QuickDuplicateCheck previews whether sub would merge, without writing anything
func (s *GrievanceService) QuickDuplicateCheck(ctx context.Context, caller models.Identity, sub models.Submission) (models.DuplicateCheck, error) {
	point, err := validateLocation(sub.Lat, sub.Lng)
	if err != nil {
		return models.DuplicateCheck{}, err
	}

	var hashes []string
	for _, f := range sub.Files {
		if h, err := fingerprint.HashFile(f.Path); err == nil {
			hashes = append(hashes, h)
		}
	}

	zone, _, _ := s.deps.Detector.ResolveZone(point, caller.HomeZone)
	det, err := s.deps.Detector.FindDuplicate(ctx, Probe{
		Zone:        zone,
		Point:       point,
		Description: sub.Description,
		ImageHashes: hashes,
	}, s.opts.QuickCheckLookback)
	if err != nil {
		return models.DuplicateCheck{}, err
	}
	if det.Match == nil {
		return models.DuplicateCheck{IsDuplicate: false}, nil
	}

	leaderID := det.Match.LeaderID()
	leader, err := s.deps.Store.Get(ctx, leaderID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DuplicateCheck{IsDuplicate: false}, nil
	}
	if err != nil {
		return models.DuplicateCheck{}, err
	}

	supported := leader.HasSupporter(caller.ID)
	if !supported {
		if supported, err = s.deps.Store.GroupHasSubmitter(ctx, leaderID, caller.ID); err != nil {
			return models.DuplicateCheck{}, err
		}
	}

	return models.DuplicateCheck{
		IsDuplicate:              true,
		GroupID:                  leaderID,
		SupporterCount:           leader.SupporterCount,
		AlreadySupportedByCaller: supported,
	}, nil
}

// RecomputeGroupPriority refreshes the derived ranking of a whole group
func (s *GrievanceService) RecomputeGroupPriority(ctx context.Context, groupID string) (*GroupSummary, error) {
	return s.deps.Groups.RecomputeGroupPriority(ctx, groupID)
}

// ResolveZone maps a point to its ward
func (s *GrievanceService) ResolveZone(lat, lng float64) (zone int, name string, ok bool, err error) {
	point, err := validateLocation(lat, lng)
	if err != nil {
		return 0, "", false, err
	}
	zone, name, ok = s.deps.Resolver.ResolveZone(point)
	return zone, name, ok, nil
}

// Get returns one grievance
func (s *GrievanceService) Get(ctx context.Context, id string) (*models.Grievance, error) {
	g, err := s.deps.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGrievanceNotFound
	}
	return g, err
}

// List returns a page of grievances ordered by priority
func (s *GrievanceService) List(ctx context.Context, f store.ListFilter) ([]*models.Grievance, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.deps.Store.List(ctx, f)
}

// Stats counts grievances per status, optionally within one ward
func (s *GrievanceService) Stats(ctx context.Context, zone *int) (models.StatusCounts, error) {
	return s.deps.Store.StatusCounts(ctx, zone)
}

// collectEvidence hashes, dates and uploads files concurrently. Failures only
// drop the affected piece of evidence.
func (s *GrievanceService) collectEvidence(ctx context.Context, sub models.Submission, submittedAt time.Time) evidence {
	type item struct {
		kind     string
		url      string
		hash     string
		captured time.Time
	}
	items := make([]item, len(sub.Files))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(evidenceWorkers)
	for i, f := range sub.Files {
		i, f := i, f
		eg.Go(func() error {
			it := item{kind: filestore.AttachmentType(f.ContentType, f.Filename)}
			if it.kind == "image" {
				h, err := fingerprint.HashFile(f.Path)
				if err != nil {
					s.logger.Warnw("Failed to hash evidence", "file", f.Filename, "error", err)
				}
				it.hash = h
				if t, ok := fingerprint.ExtractCaptureTime(f.Path); ok {
					it.captured = t
				}
			}
			if s.deps.Files != nil {
				url, err := s.deps.Files.Store(egctx, f)
				if err != nil {
					s.logger.Warnw("Evidence upload failed, keeping report without it", "file", f.Filename, "error", err)
				}
				it.url = url
			}
			items[i] = it
			return nil
		})
	}
	_ = eg.Wait()

	ev := evidence{}
	seen := make(map[string]struct{})
	for _, it := range items {
		if it.url != "" {
			ev.attachments = append(ev.attachments, models.Attachment{URL: it.url, Type: it.kind})
		}
		if it.hash != "" {
			if _, dup := seen[it.hash]; !dup {
				seen[it.hash] = struct{}{}
				ev.hashes = append(ev.hashes, it.hash)
			}
		}
		if !it.captured.IsZero() {
			ev.captureTimes = append(ev.captureTimes, it.captured)
			if fingerprint.IsStale(it.captured, submittedAt, s.opts.OldPhotoAge) {
				ev.oldPhoto = true
			}
		}
	}
	for _, a := range sub.Attachments {
		if a.URL == "" {
			continue
		}
		if a.Type == "" {
			a.Type = filestore.AttachmentType("", a.URL)
		}
		ev.attachments = append(ev.attachments, a)
	}
	return ev
}

func (s *GrievanceService) uniqueImage(ctx context.Context, hashes []string) bool {
	seen, err := s.deps.Store.ImageHashSeen(ctx, hashes)
	if err != nil {
		s.logger.Warnw("Image uniqueness check failed", "error", err)
		return true
	}
	return !seen
}

func (s *GrievanceService) goodHistory(ctx context.Context, submitterID string) bool {
	n, err := s.deps.Store.CountWithStatus(ctx, submitterID, models.StatusRejected)
	if err != nil {
		s.logger.Warnw("History check failed", "submitter_id", submitterID, "error", err)
		return true
	}
	return n == 0
}

func (s *GrievanceService) enqueue(ctx context.Context, id string) {
	if s.deps.Queue == nil {
		return
	}
	if err := s.deps.Queue.Enqueue(ctx, queue.Job{GrievanceID: id}); err != nil {
		s.logger.Warnw("Failed to enqueue relevance job, keeping initial credibility",
			"grievance_id", id,
			"error", err,
		)
	}
}

func (s *GrievanceService) publish(ctx context.Context, g *models.Grievance) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, notify.WardTopic(g.Zone), notify.NewGrievanceEvent(g)); err != nil {
		s.logger.Warnw("Failed to publish grievance event", "grievance_id", g.ID, "error", err)
	}
}

func validateLocation(lat, lng float64) (geo.Point, error) {
	p := geo.Point{Lat: lat, Lng: lng}
	// 0,0 is what an omitted location decodes to
	if !p.Valid() || (lat == 0 && lng == 0) {
		return geo.Point{}, fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidLocation, lat, lng)
	}
	return p, nil
}

// validateSubmission checks coordinates and trims text fields to their limits
func validateSubmission(sub *models.Submission) (geo.Point, error) {
	p, err := validateLocation(sub.Lat, sub.Lng)
	if err != nil {
		return geo.Point{}, err
	}
	sub.Title = truncate(strings.TrimSpace(sub.Title), maxTitleLen)
	sub.Description = truncate(strings.TrimSpace(sub.Description), maxDescriptionLen)
	sub.Address = strings.TrimSpace(sub.Address)
	if sub.Description == "" {
		return geo.Point{}, ErrInvalidSubmission
	}
	return p, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
