// Package store persists grievance documents.
//
// Every method is a single-document (or single-statement) atomic operation;
// the engine never holds a lock across calls. AddSupporter is the only
// operation the merge path relies on for mutual exclusion.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicplus/grievance-engine/internal/database"
	"github.com/civicplus/grievance-engine/internal/models"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no document matches an id
var ErrNotFound = errors.New("grievance not found")

// ErrGroupClosed is returned when a supporter is added to a resolved or rejected leader
var ErrGroupClosed = errors.New("group is closed")

// CandidateFilter bounds the duplicate search window
type CandidateFilter struct {
	Zone     int
	Statuses []models.Status
	Since    time.Time
}

// Candidate is the projection needed to compare a report against a new submission
type Candidate struct {
	ID             string          `json:"id" bson:"_id"`
	GroupID        string          `json:"group_id" bson:"group_id"`
	SubmitterID    string          `json:"submitter_id" bson:"submitter_id"`
	Description    string          `json:"description" bson:"description"`
	Location       models.Location `json:"location" bson:"location"`
	ImageHashes    []string        `json:"image_hashes" bson:"image_hashes"`
	SupporterCount int             `json:"supporter_count" bson:"supporter_count"`
	CreatedAt      time.Time       `json:"created_at" bson:"created_at"`
}

// LeaderID returns the candidate's group id, or its own id if it has none
func (c Candidate) LeaderID() string {
	if c.GroupID == "" {
		return c.ID
	}
	return c.GroupID
}

// ListFilter selects grievances for listings
type ListFilter struct {
	Zone        *int
	Status      models.Status
	SubmitterID string
	Limit       int
	Offset      int
}

// StatusPatch is a review workflow change
type StatusPatch struct {
	Status     models.Status
	AssignedTo string
	ResolvedAt *time.Time
}

// RelevancePatch is written by the relevance worker
type RelevancePatch struct {
	Signals          models.CredibilitySignals
	CredibilityScore float64
	PriorityScore    int
	AIClassification string
}

// Store is the grievance record store
type Store interface {
	// Create inserts a new document
	Create(ctx context.Context, g *models.Grievance) error
	// Get returns one document by id
	Get(ctx context.Context, id string) (*models.Grievance, error)
	// FindCandidates returns open reports in a zone created since a time, oldest first
	FindCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error)
	// FindGroup returns every document of a group, leader included
	FindGroup(ctx context.Context, groupID string) ([]*models.Grievance, error)
	// GroupHasSubmitter reports whether any document of the group was filed by submitterID
	GroupHasSubmitter(ctx context.Context, groupID, submitterID string) (bool, error)
	// AddSupporter atomically adds userID to the leader's supporter set and
	// increments its counters. Returns false if userID was already present and
	// ErrGroupClosed if the leader is no longer open.
	AddSupporter(ctx context.Context, leaderID, userID string) (bool, error)
	// SetGroupSupporterCount writes count to every document of the group
	SetGroupSupporterCount(ctx context.Context, groupID string, count int) error
	// SetPriority overwrites one document's derived priority
	SetPriority(ctx context.Context, id string, priority int) error
	// ApplyRelevance stores the worker's revised scores
	ApplyRelevance(ctx context.Context, id string, p RelevancePatch) error
	// UpdateStatus applies a review change and appends a history entry
	UpdateStatus(ctx context.Context, id string, p StatusPatch, entry models.ActionEntry) error
	// CountSince counts documents filed by submitterID at or after since
	CountSince(ctx context.Context, submitterID string, since time.Time) (int, error)
	// CountWithStatus counts a submitter's documents in a status
	CountWithStatus(ctx context.Context, submitterID string, status models.Status) (int, error)
	// ImageHashSeen reports whether any stored document carries one of hashes
	ImageHashSeen(ctx context.Context, hashes []string) (bool, error)
	// List returns a page of documents by priority, plus the total match count
	List(ctx context.Context, f ListFilter) ([]*models.Grievance, int, error)
	// StatusCounts aggregates documents per status, optionally for one zone
	StatusCounts(ctx context.Context, zone *int) (models.StatusCounts, error)
	// ActiveGroups returns leader ids of open groups updated since a time
	ActiveGroups(ctx context.Context, since time.Time) ([]string, error)
	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Close releases resources
	Close(ctx context.Context) error
}

// Options selects and configures a Store implementation
type Options struct {
	Driver        string // "postgres" | "mongo" | "memory"
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	Pool          database.PoolOptions
}

// Open connects the configured store
func Open(ctx context.Context, opts Options, logger *zap.SugaredLogger) (Store, error) {
	switch opts.Driver {
	case "", "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL, opts.Pool, logger)
	case "mongo":
		return OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase, logger)
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// prepare fills defaults so every backend stores the same shape
func prepare(g *models.Grievance) {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = g.CreatedAt
	if g.GroupID == "" {
		g.GroupID = g.ID
	}
	if g.SupporterCount < 1 {
		g.SupporterCount = 1
	}
	if g.Upvotes < 1 {
		g.Upvotes = g.SupporterCount
	}
	if g.Status == "" {
		g.Status = models.StatusPending
	}
	if g.AIClassification == "" {
		g.AIClassification = models.AIUnclassified
	}
	g.Geo = models.NewGeoPoint(g.Location.Lat, g.Location.Lng)
	if g.Attachments == nil {
		g.Attachments = []models.Attachment{}
	}
	if g.ImageHashes == nil {
		g.ImageHashes = []string{}
	}
	if g.CaptureTimes == nil {
		g.CaptureTimes = []time.Time{}
	}
	if g.Supporters == nil {
		g.Supporters = []string{}
	}
	if g.Flags == nil {
		g.Flags = []string{}
	}
	if g.ActionHistory == nil {
		g.ActionHistory = []models.ActionEntry{}
	}
	if g.ImageURL == "" && len(g.Attachments) > 0 {
		g.ImageURL = g.Attachments[0].URL
	}
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
