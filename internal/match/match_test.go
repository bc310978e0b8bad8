package match

import (
	"testing"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

func TestSimilarityExact(t *testing.T) {
	if got := Similarity("Acme Corp", "Acme Corp"); got != 100 {
		t.Errorf("expected 100 for identical names, got %d", got)
	}
}

func TestSimilarityCaseAndPunctuation(t *testing.T) {
	cases := [][2]string{
		{"ACME Corp.", "acme corp"},
		{"Acme  Corp", "Acme Corp"},
		{"Acme, Corp", "acme corp"},
	}
	for _, c := range cases {
		if got := Similarity(c[0], c[1]); got != 100 {
			t.Errorf("Similarity(%q, %q) = %d, want 100", c[0], c[1], got)
		}
	}
}

func TestSimilarityContainment(t *testing.T) {
	got := Similarity("Acme Corp", "Acme Corporation")
	if got < BandMedium {
		t.Errorf("expected containment score >= %d, got %d", BandMedium, got)
	}
	if got != 85 {
		t.Errorf("expected containment short-circuit 85, got %d", got)
	}
}

func TestSimilarityNoMatch(t *testing.T) {
	got := Similarity("Acme", "Zephyr")
	if got >= BandNoMatch {
		t.Errorf("expected score < %d for unrelated names, got %d", BandNoMatch, got)
	}
}

func TestSimilarityTable(t *testing.T) {
	tests := []struct {
		a, b string
		min  int
		max  int
	}{
		{"Acme Corp", "Acme Corp", 100, 100},
		{"Acme Corp", "Acme Corporation", 85, 85},
		{"Acme", "Acme Inc", 85, 85},
		{"Globex", "Globox", 60, 99},
		{"Acme", "Zephyr", 0, 59},
		{"", "Acme", 0, 0},
		{"Acme", "", 0, 0},
	}

	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q, %q) = %d, want in [%d, %d]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Acme Corp", "Acme Corporation"},
		{"Globex", "Globox"},
		{"Initech", "Intertech"},
	}
	for _, p := range pairs {
		if a, b := Similarity(p[0], p[1]), Similarity(p[1], p[0]); a != b {
			t.Errorf("Similarity not symmetric for %q/%q: %d vs %d", p[0], p[1], a, b)
		}
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score int
		want  domain.Severity
	}{
		{100, domain.SeverityHigh},
		{90, domain.SeverityHigh},
		{85, domain.SeverityMedium},
		{75, domain.SeverityMedium},
		{60, domain.SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.score); got != tt.want {
			t.Errorf("SeverityFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"", "abc", 3},
		{"abc", "abc", 0},
	}
	for _, tt := range tests {
		if got := editDistance([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
