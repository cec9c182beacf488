// Package models defines the data structures used across the application.
// These map to the grievances table (Postgres) and collection (MongoDB).
package models

import (
	"time"
)

// Status is the review state of a grievance
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// OpenStatuses are the statuses a duplicate candidate may be in
var OpenStatuses = []Status{StatusPending, StatusAssigned, StatusInProgress}

// Valid reports whether s is one of the known review statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Open reports whether a grievance in this status can still absorb duplicates
func (s Status) Open() bool {
	for _, o := range OpenStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// AIUnclassified is the relevance label before the async worker has run
const AIUnclassified = "unclassified"

// FlagOldPhoto marks a report whose photo was captured long before submission
const FlagOldPhoto = "old_photo"

// Location is the reported point plus a free-text address
type Location struct {
	Lat     float64 `json:"lat" bson:"lat"`
	Lng     float64 `json:"lng" bson:"lng"`
	Address string  `json:"address" bson:"address"`
}

// GeoPoint is the normalized GeoJSON point used for spatial queries ([lng, lat])
type GeoPoint struct {
	Type        string     `json:"type" bson:"type"`
	Coordinates [2]float64 `json:"coordinates" bson:"coordinates"`
}

// NewGeoPoint builds a GeoJSON point from a location
func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

// Attachment is a stored evidence file
type Attachment struct {
	URL  string `json:"url" bson:"url"`
	Type string `json:"type" bson:"type"` // "image" | "video" | "pdf"
}

// ActionEntry is one step in the append-only review history
type ActionEntry struct {
	Actor   string    `json:"actor" bson:"actor"`
	Action  string    `json:"action" bson:"action"`
	At      time.Time `json:"at" bson:"at"`
	Remarks string    `json:"remarks,omitempty" bson:"remarks,omitempty"`
}

// Audit captures where a submission came from
type Audit struct {
	SubmittedAt time.Time `json:"submitted_at" bson:"submitted_at"`
	IP          string    `json:"ip,omitempty" bson:"ip,omitempty"`
	Device      string    `json:"device,omitempty" bson:"device,omitempty"`
}

// CredibilitySignals are the trust inputs recorded at creation time.
// The relevance worker only ever changes AIRelevant.
type CredibilitySignals struct {
	GeoInsideZone     bool `json:"geo_inside_zone" bson:"geo_inside_zone"`
	SubmitterVerified bool `json:"submitter_verified" bson:"submitter_verified"`
	UniqueImage       bool `json:"unique_image" bson:"unique_image"`
	AIRelevant        bool `json:"ai_relevant" bson:"ai_relevant"`
	GoodHistory       bool `json:"good_history" bson:"good_history"`
}

// Grievance is a citizen-submitted incident report.
// A document whose GroupID equals its own ID is the group leader; see Role.
type Grievance struct {
	ID            string `json:"id" db:"id" bson:"_id"`
	SubmitterID   string `json:"submitter_id" db:"submitter_id" bson:"submitter_id"`
	SubmitterName string `json:"submitter_name" db:"submitter_name" bson:"submitter_name"`
	Zone          int    `json:"zone" db:"zone" bson:"zone"`
	ZoneName      string `json:"zone_name,omitempty" db:"zone_name" bson:"zone_name,omitempty"`

	Category    string `json:"category" db:"category" bson:"category"`
	Title       string `json:"title" db:"title" bson:"title"`
	Description string `json:"description" db:"description" bson:"description"`

	Location Location `json:"location" db:"location" bson:"location"`
	Geo      GeoPoint `json:"geo" db:"geo" bson:"geo"`

	Attachments  []Attachment `json:"attachments" db:"attachments" bson:"attachments"`
	ImageURL     string       `json:"image_url,omitempty" db:"image_url" bson:"image_url,omitempty"`
	ImageHashes  []string     `json:"image_hashes" db:"image_hashes" bson:"image_hashes"`
	CaptureTimes []time.Time  `json:"capture_times,omitempty" db:"capture_times" bson:"capture_times,omitempty"`

	GroupID        string   `json:"group_id" db:"group_id" bson:"group_id"`
	SupporterCount int      `json:"supporter_count" db:"supporter_count" bson:"supporter_count"`
	Supporters     []string `json:"-" db:"supporters" bson:"supporters"`
	Upvotes        int      `json:"upvotes" db:"upvotes" bson:"upvotes"`

	CredibilityScore float64            `json:"credibility_score" db:"credibility_score" bson:"credibility_score"`
	Signals          CredibilitySignals `json:"signals" db:"signals" bson:"signals"`
	PriorityScore    int                `json:"priority_score" db:"priority_score" bson:"priority_score"`
	AIClassification string             `json:"ai_classification" db:"ai_classification" bson:"ai_classification"`

	GeoValid           bool     `json:"geo_valid" db:"geo_valid" bson:"geo_valid"`
	DuplicateCandidate bool     `json:"duplicate_candidate" db:"duplicate_candidate" bson:"duplicate_candidate"`
	Flags              []string `json:"flags" db:"flags" bson:"flags"`

	Status        Status        `json:"status" db:"status" bson:"status"`
	AssignedTo    string        `json:"assigned_to,omitempty" db:"assigned_to" bson:"assigned_to,omitempty"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty" db:"resolved_at" bson:"resolved_at,omitempty"`
	ActionHistory []ActionEntry `json:"action_history" db:"action_history" bson:"action_history"`

	Audit     Audit     `json:"audit" db:"audit" bson:"audit"`
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// IsLeader reports whether g is the canonical document of its group
func (g *Grievance) IsLeader() bool {
	return g.GroupID == "" || g.GroupID == g.ID
}

// LeaderID returns the id of the group leader this document belongs to
func (g *Grievance) LeaderID() string {
	if g.GroupID == "" {
		return g.ID
	}
	return g.GroupID
}

// Role returns the explicit group role of the document
func (g *Grievance) Role() GroupRole {
	if g.IsLeader() {
		return Leader{Supporters: append([]string(nil), g.Supporters...)}
	}
	return Member{LeaderID: g.GroupID}
}

// HasSupporter reports whether userID already backs this leader's group
func (g *Grievance) HasSupporter(userID string) bool {
	if g.SubmitterID == userID {
		return true
	}
	for _, s := range g.Supporters {
		if s == userID {
			return true
		}
	}
	return false
}

// GroupRole is either Leader or Member
type GroupRole interface {
	groupRole()
}

// Leader holds the supporter set of a duplicate group.
// The creator is the implicit first supporter and is not listed.
type Leader struct {
	Supporters []string
}

// SupporterCount is 1 (the creator) plus every merged supporter
func (l Leader) SupporterCount() int {
	return 1 + len(l.Supporters)
}

// Member references the leader of its group
type Member struct {
	LeaderID string
}

func (Leader) groupRole() {}
func (Member) groupRole() {}

// Identity is the verified caller supplied by the session layer
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
	HomeZone int    `json:"home_zone"`
	Role     string `json:"role,omitempty"`
}

// UploadedFile is a locally staged evidence file awaiting storage
type UploadedFile struct {
	Path        string
	Filename    string
	ContentType string
}

// Submission is an incoming report before any engine processing
type Submission struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Lat         float64        `json:"lat"`
	Lng         float64        `json:"lng"`
	Address     string         `json:"address"`
	ClaimedZone int            `json:"ward,omitempty"`
	Files       []UploadedFile `json:"-"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	IP          string         `json:"-"`
	Device      string         `json:"-"`
}

// OutcomeKind classifies the result of a submission
type OutcomeKind string

const (
	OutcomeCreated             OutcomeKind = "created"
	OutcomeMerged              OutcomeKind = "merged"
	OutcomeRejectedDuplicate   OutcomeKind = "rejected-duplicate"
	OutcomeRejectedRateLimited OutcomeKind = "rejected-rate-limited"
)

// SubmitResult is returned by the intake path for every submission
type SubmitResult struct {
	Outcome        OutcomeKind `json:"outcome"`
	GrievanceID    string      `json:"grievance_id,omitempty"`
	GroupID        string      `json:"group_id,omitempty"`
	SupporterCount int         `json:"supporter_count,omitempty"`
	PriorityScore  int         `json:"priority_score,omitempty"`
	Message        string      `json:"message"`
}

// DuplicateCheck is the non-mutating preview result
type DuplicateCheck struct {
	IsDuplicate              bool   `json:"is_duplicate"`
	GroupID                  string `json:"group_id,omitempty"`
	SupporterCount           int    `json:"supporter_count,omitempty"`
	AlreadySupportedByCaller bool   `json:"already_supported_by_caller"`
}

// StatusUpdate is the review workflow's request body
type StatusUpdate struct {
	Status     Status `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Remarks    string `json:"remarks,omitempty"`
}

// StatusCounts for dashboard widgets
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
	Rejected   int `json:"rejected"`
}

// Add increments the counter matching status
func (c *StatusCounts) Add(status Status, n int) {
	switch status {
	case StatusPending:
		c.Pending += n
	case StatusAssigned:
		c.Assigned += n
	case StatusInProgress:
		c.InProgress += n
	case StatusResolved:
		c.Resolved += n
	case StatusRejected:
		c.Rejected += n
	default:
		return
	}
	c.Total += n
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database,omitempty"`
	Zones    int    `json:"zones"`
}
