package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scoring overrides the built-in severity table and relevance keywords.
//
//	severity:
//	  Flood: 45
//	  Road Repair: 22
//	relevance_keywords: [pothole, sewage, flooding]
type Scoring struct {
	Severity          map[string]int `yaml:"severity"`
	RelevanceKeywords []string       `yaml:"relevance_keywords"`
}

// LoadScoring reads the overrides file. An empty path returns empty overrides.
func LoadScoring(path string) (*Scoring, error) {
	if path == "" {
		return &Scoring{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scoring config: %w", err)
	}
	return parseScoring(data)
}

func parseScoring(data []byte) (*Scoring, error) {
	s := &Scoring{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing scoring config: %w", err)
	}
	for category, v := range s.Severity {
		if v < 0 {
			return nil, fmt.Errorf("severity for %q must not be negative", category)
		}
	}
	return s, nil
}

// SeverityTable merges the overrides onto base without modifying it
func (s *Scoring) SeverityTable(base map[string]int) map[string]int {
	out := make(map[string]int, len(base)+len(s.Severity))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range s.Severity {
		out[k] = v
	}
	return out
}
