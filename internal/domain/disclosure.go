// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Disclosure is a persisted compliance disclosure handed to the engine after
// the disclosure subsystem has durably stored it.
type Disclosure struct {
	// Core identifiers
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	// Submitter
	PersonID   string `json:"personId"`
	Department string `json:"department,omitempty"`

	// Counterparty named on the disclosure (vendor, employer, relative, ...)
	EntityName string `json:"entityName"`

	// Disclosure category (e.g. "gift", "coi", "outside_employment")
	Category string `json:"category"`

	// Declared monetary value in the declared currency.
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`

	// BaseValue is Value normalized into the organization's base currency by
	// the disclosure subsystem before the engine sees the record. All
	// aggregates sum BaseValue, never Value.
	BaseValue decimal.Decimal `json:"baseValue"`

	// Temporal
	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NormalizedEntity returns the entity name in canonical matching form.
func (d *Disclosure) NormalizedEntity() string {
	return NormalizeEntityName(d.EntityName)
}

// NormalizeEntityName lowercases a name, collapses whitespace and strips
// punctuation so that "ACME  Corp." and "acme corp" compare equal. The same
// normalization is applied before fuzzy matching and before exclusion lookup,
// so an exclusion recorded from a dismissal covers every later spelling that
// normalizes the same way.
func NormalizeEntityName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
