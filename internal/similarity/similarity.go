// Package similarity provides the pure comparison primitives used by duplicate detection.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/civicplus/grievance-engine/internal/geo"
)

// Text returns a case-insensitive normalized Levenshtein similarity in [0,1].
// Whitespace runs are collapsed before comparing. Two empty strings are identical.
func Text(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Contains reports whether either description contains the other (case-insensitive).
// Empty descriptions never match.
func Contains(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Distance is the great-circle distance between two points in meters
func Distance(a, b geo.Point) float64 {
	return geo.Distance(a, b)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
