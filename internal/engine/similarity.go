package engine

import (
	"math"
	"strings"
	"time"
)

// tokenize lowercases content and splits it on whitespace.
func tokenize(content string) []string {
	return strings.Fields(strings.ToLower(content))
}

// jaccard computes the Jaccard index of two string sets. By convention two
// empty sets are identical (1.0) and one empty set is disjoint (0.0).
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}

	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// contentSimilarity is the Jaccard index over whitespace-tokenized words.
func contentSimilarity(a, b string) float64 {
	return jaccard(tokenize(a), tokenize(b))
}

// timeSimilarity buckets the absolute day difference between two creation
// timestamps: same day or adjacent → 1.0, within a week → 0.7, within a
// month → 0.4, otherwise 0.1.
func timeSimilarity(a, b time.Time) float64 {
	days := math.Abs(a.Sub(b).Hours()) / 24.0
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.7
	case days <= 30:
		return 0.4
	default:
		return 0.1
	}
}

// unionStrings returns the set union of two string slices, preserving first
// occurrence order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// intersects reports whether two string slices share at least one element.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
