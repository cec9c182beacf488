package scoring

import (
	"context"
	"regexp"
	"strings"

	"github.com/civicplus/grievance-engine/internal/models"
)

// Relevance labels written to Grievance.AIClassification
const (
	LabelCivicIssue = "CivicIssue"
	LabelGeneral    = "General"
)

// DefaultRelevanceKeywords mark text as describing a real civic issue
var DefaultRelevanceKeywords = []string{
	"pothole", "road", "garbage", "waste", "sewage", "drain",
	"water", "streetlight", "electric", "leak",
}

// RelevanceClassifier decides whether a report describes a genuine civic problem.
// Implementations must be deterministic for a given grievance.
type RelevanceClassifier interface {
	Classify(ctx context.Context, g *models.Grievance) (relevant bool, label string, err error)
}

// KeywordClassifier matches title, category and description against a keyword list
type KeywordClassifier struct {
	pattern *regexp.Regexp
}

// NewKeywordClassifier builds a classifier; empty keywords use DefaultRelevanceKeywords
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultRelevanceKeywords
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return &KeywordClassifier{pattern: regexp.MustCompile("(" + strings.Join(quoted, "|") + ")")}
}

// Classify implements RelevanceClassifier
func (k *KeywordClassifier) Classify(_ context.Context, g *models.Grievance) (bool, string, error) {
	text := strings.ToLower(g.Title + " " + g.Category + " " + g.Description)
	if k.pattern.MatchString(text) {
		return true, LabelCivicIssue, nil
	}
	return false, LabelGeneral, nil
}
