// Package scoring computes the derived trust and ranking values of a grievance.
// Everything here is pure: identical inputs always give identical outputs.
package scoring

import (
	"math"

	"github.com/civicplus/grievance-engine/internal/models"
)

// Credibility signal weights; they sum to 1.0
const (
	WeightGeoInsideZone     = 0.30
	WeightSubmitterVerified = 0.25
	WeightUniqueImage       = 0.20
	WeightAIRelevant        = 0.15
	WeightGoodHistory       = 0.10
)

// Priority components
const (
	DefaultSeverity    = 10
	credibilityScale   = 30
	supporterWeight    = 10
	maxDuplicateWeight = 30
)

// Credibility is the weighted sum of the trust signals, clamped to [0,1].
// The result is rounded to 4 decimals so that float noise never leaks into priority.
func Credibility(s models.CredibilitySignals) float64 {
	var score float64
	if s.GeoInsideZone {
		score += WeightGeoInsideZone
	}
	if s.SubmitterVerified {
		score += WeightSubmitterVerified
	}
	if s.UniqueImage {
		score += WeightUniqueImage
	}
	if s.AIRelevant {
		score += WeightAIRelevant
	}
	if s.GoodHistory {
		score += WeightGoodHistory
	}
	score = math.Round(score*10000) / 10000
	return math.Max(0, math.Min(1, score))
}

// Calculator derives priority scores from a severity table
type Calculator struct {
	severity map[string]int
}

// NewCalculator copies table; nil or empty uses DefaultSeverityTable
func NewCalculator(table map[string]int) *Calculator {
	if len(table) == 0 {
		table = DefaultSeverityTable
	}
	c := &Calculator{severity: make(map[string]int, len(table))}
	for k, v := range table {
		c.severity[k] = v
	}
	return c
}

// Severity returns the base severity of a category
func (c *Calculator) Severity(category string) int {
	if v, ok := c.severity[category]; ok {
		return v
	}
	return DefaultSeverity
}

// Priority is severity + round(credibility*30) + min(supporters*10, 30).
// Always recompute from the three inputs; never patch a stored value.
func (c *Calculator) Priority(category string, credibility float64, supporterCount int) int {
	if supporterCount < 1 {
		supporterCount = 1
	}
	credibilityWeight := int(math.Round(credibility * credibilityScale))
	duplicateWeight := supporterCount * supporterWeight
	if duplicateWeight > maxDuplicateWeight {
		duplicateWeight = maxDuplicateWeight
	}
	return c.Severity(category) + credibilityWeight + duplicateWeight
}

// Rescore recomputes credibility and priority on g from its stored signals
func (c *Calculator) Rescore(g *models.Grievance) {
	g.CredibilityScore = Credibility(g.Signals)
	g.PriorityScore = c.Priority(g.Category, g.CredibilityScore, g.SupporterCount)
}
