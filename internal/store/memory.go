package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
)

// Memory is an in-process Store for tests and local development.
// Its mutex stands in for the per-document atomicity of a real database.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*models.Grievance
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*models.Grievance)}
}

// Create implements Store
func (m *Memory) Create(_ context.Context, g *models.Grievance) error {
	prepare(g)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[g.ID]; exists {
		return fmt.Errorf("insert grievance: duplicate id %s", g.ID)
	}
	m.docs[g.ID] = clone(g)
	return nil
}

// Get implements Store
func (m *Memory) Get(_ context.Context, id string) (*models.Grievance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(g), nil
}

// FindCandidates implements Store
func (m *Memory) FindCandidates(_ context.Context, f CandidateFilter) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Candidate
	for _, g := range m.docs {
		if g.Zone != f.Zone || g.CreatedAt.Before(f.Since) || !hasStatus(f.Statuses, g.Status) {
			continue
		}
		out = append(out, Candidate{
			ID:             g.ID,
			GroupID:        g.GroupID,
			SubmitterID:    g.SubmitterID,
			Description:    g.Description,
			Location:       g.Location,
			ImageHashes:    append([]string(nil), g.ImageHashes...),
			SupporterCount: g.SupporterCount,
			CreatedAt:      g.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FindGroup implements Store
func (m *Memory) FindGroup(_ context.Context, groupID string) ([]*models.Grievance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Grievance
	for _, g := range m.docs {
		if g.GroupID == groupID {
			out = append(out, clone(g))
		}
	}
	sortByCreated(out)
	return out, nil
}

// GroupHasSubmitter implements Store
func (m *Memory) GroupHasSubmitter(_ context.Context, groupID, submitterID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.docs {
		if g.GroupID == groupID && g.SubmitterID == submitterID {
			return true, nil
		}
	}
	return false, nil
}

// AddSupporter implements Store
func (m *Memory) AddSupporter(_ context.Context, leaderID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.docs[leaderID]
	if !ok || !g.IsLeader() {
		return false, ErrNotFound
	}
	if !g.Status.Open() {
		return false, ErrGroupClosed
	}
	if g.HasSupporter(userID) {
		return false, nil
	}
	g.Supporters = append(g.Supporters, userID)
	g.SupporterCount++
	g.Upvotes++
	g.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SetGroupSupporterCount implements Store
func (m *Memory) SetGroupSupporterCount(_ context.Context, groupID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, g := range m.docs {
		if g.GroupID == groupID {
			g.SupporterCount = count
			g.Upvotes = count
			g.UpdatedAt = now
		}
	}
	return nil
}

// SetPriority implements Store
func (m *Memory) SetPriority(_ context.Context, id string, priority int) error {
	return m.update(id, func(g *models.Grievance) {
		g.PriorityScore = priority
	})
}

// ApplyRelevance implements Store
func (m *Memory) ApplyRelevance(_ context.Context, id string, p RelevancePatch) error {
	return m.update(id, func(g *models.Grievance) {
		g.Signals = p.Signals
		g.CredibilityScore = p.CredibilityScore
		g.PriorityScore = p.PriorityScore
		g.AIClassification = p.AIClassification
	})
}

// UpdateStatus implements Store
func (m *Memory) UpdateStatus(_ context.Context, id string, p StatusPatch, entry models.ActionEntry) error {
	return m.update(id, func(g *models.Grievance) {
		g.Status = p.Status
		if p.AssignedTo != "" {
			g.AssignedTo = p.AssignedTo
		}
		if p.ResolvedAt != nil {
			t := *p.ResolvedAt
			g.ResolvedAt = &t
		}
		g.ActionHistory = append(g.ActionHistory, entry)
	})
}

// CountSince implements Store
func (m *Memory) CountSince(_ context.Context, submitterID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, g := range m.docs {
		if g.SubmitterID == submitterID && !g.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountWithStatus implements Store
func (m *Memory) CountWithStatus(_ context.Context, submitterID string, status models.Status) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, g := range m.docs {
		if g.SubmitterID == submitterID && g.Status == status {
			n++
		}
	}
	return n, nil
}

// ImageHashSeen implements Store
func (m *Memory) ImageHashSeen(_ context.Context, hashes []string) (bool, error) {
	if len(hashes) == 0 {
		return false, nil
	}
	want := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.docs {
		for _, h := range g.ImageHashes {
			if _, ok := want[h]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// List implements Store
func (m *Memory) List(_ context.Context, f ListFilter) ([]*models.Grievance, int, error) {
	m.mu.RLock()
	var matched []*models.Grievance
	for _, g := range m.docs {
		if f.Zone != nil && g.Zone != *f.Zone {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		if f.SubmitterID != "" && g.SubmitterID != f.SubmitterID {
			continue
		}
		matched = append(matched, clone(g))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PriorityScore != matched[j].PriorityScore {
			return matched[i].PriorityScore > matched[j].PriorityScore
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + pageLimit(f.Limit)
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// StatusCounts implements Store
func (m *Memory) StatusCounts(_ context.Context, zone *int) (models.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c models.StatusCounts
	for _, g := range m.docs {
		if zone != nil && g.Zone != *zone {
			continue
		}
		c.Add(g.Status, 1)
	}
	return c, nil
}

// ActiveGroups implements Store
func (m *Memory) ActiveGroups(_ context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, g := range m.docs {
		if g.UpdatedAt.Before(since) || !g.Status.Open() {
			continue
		}
		if _, ok := seen[g.GroupID]; ok {
			continue
		}
		seen[g.GroupID] = struct{}{}
		out = append(out, g.GroupID)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Store
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store
func (m *Memory) Close(context.Context) error { return nil }

// Len returns the number of stored documents
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *Memory) update(id string, fn func(g *models.Grievance)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	fn(g)
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func hasStatus(statuses []models.Status, s models.Status) bool {
	for _, o := range statuses {
		if o == s {
			return true
		}
	}
	return false
}

func sortByCreated(gs []*models.Grievance) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].ID < gs[j].ID
		}
		return gs[i].CreatedAt.Before(gs[j].CreatedAt)
	})
}

func clone(g *models.Grievance) *models.Grievance {
	c := *g
	c.Attachments = append([]models.Attachment(nil), g.Attachments...)
	c.ImageHashes = append([]string(nil), g.ImageHashes...)
	c.CaptureTimes = append([]time.Time(nil), g.CaptureTimes...)
	c.Supporters = append([]string(nil), g.Supporters...)
	c.Flags = append([]string(nil), g.Flags...)
	c.ActionHistory = append([]models.ActionEntry(nil), g.ActionHistory...)
	if g.ResolvedAt != nil {
		t := *g.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
