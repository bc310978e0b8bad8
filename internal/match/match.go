// Package match provides fuzzy entity-name similarity scoring.
//
// Scores are 0-100. Every conflict detector that compares names goes through
// Similarity, so the confidence bands are defined here once.
package match

import (
	"strings"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// Confidence band boundaries shared by the detectors.
const (
	// BandNoMatch: scores below this are discarded.
	BandNoMatch = 60
	// BandMedium: scores at or above this are medium confidence.
	BandMedium = 75
	// BandHigh: scores at or above this are high/exact confidence.
	BandHigh = 90

	// containmentScore is returned when one normalized name contains the
	// other ("Acme" vs "Acme Corporation").
	containmentScore = 85
)

// Similarity returns a 0-100 score for two entity names. Names are
// normalized (case, whitespace, punctuation) before comparison. Exact
// equality short-circuits to 100 and containment to 85; otherwise the score
// is normalized Levenshtein distance:
//
//	100 * (maxLen - editDistance) / maxLen
func Similarity(a, b string) int {
	na := domain.NormalizeEntityName(a)
	nb := domain.NormalizeEntityName(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return containmentScore
	}

	ra := []rune(na)
	rb := []rune(nb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	dist := editDistance(ra, rb)
	return 100 * (maxLen - dist) / maxLen
}

// SeverityFor maps a similarity score to an alert severity.
func SeverityFor(score int) domain.Severity {
	switch {
	case score >= BandHigh:
		return domain.SeverityHigh
	case score >= BandMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// editDistance computes the Levenshtein distance between two rune slices
// using the two-row dynamic programming form.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
