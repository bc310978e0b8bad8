package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// RelationshipPatternDetector flags an entity that multiple distinct
// employees have disclosed within a window. Several employees linked to the
// same counterparty suggests an undeclared organizational relationship.
type RelationshipPatternDetector struct {
	repo       domain.Repository
	windowDays int
	minPersons int
}

// NewRelationshipPatternDetector creates a relationship-pattern detector.
// minPersons is the distinct-employee count (including the submitter) that
// flags.
func NewRelationshipPatternDetector(repo domain.Repository, windowDays, minPersons int) *RelationshipPatternDetector {
	if windowDays <= 0 {
		windowDays = 365
	}
	if minPersons < 2 {
		minPersons = 2
	}
	return &RelationshipPatternDetector{
		repo:       repo,
		windowDays: windowDays,
		minPersons: minPersons,
	}
}

func (r *RelationshipPatternDetector) Type() domain.ConflictType {
	return domain.ConflictRelationshipPattern
}

func (r *RelationshipPatternDetector) Detect(ctx context.Context, d *domain.Disclosure, _ domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	since := d.SubmittedAt.Add(-time.Duration(r.windowDays) * 24 * time.Hour)

	rows, err := r.repo.ListDisclosures(ctx, d.OrgID, domain.DisclosureFilter{
		Entity: d.NormalizedEntity(),
		From:   since,
		To:     d.SubmittedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entity disclosures: %w", err)
	}

	persons := map[string]bool{d.PersonID: true}
	related := make([]string, 0, len(rows))
	for _, row := range rows {
		persons[row.PersonID] = true
		if row.ID != d.ID {
			related = append(related, row.ID)
		}
	}

	if len(persons) < r.minPersons {
		return nil, nil
	}

	severity := domain.SeverityMedium
	if len(persons) >= r.minPersons*2 {
		severity = domain.SeverityHigh
	}

	return []domain.ConflictCandidate{{
		Type:          domain.ConflictRelationshipPattern,
		Confidence:    100,
		Severity:      severity,
		MatchedKind:   domain.MatchedDisclosure,
		MatchedEntity: d.EntityName,
		Reason: fmt.Sprintf("%d distinct employees disclosed %q within %d days",
			len(persons), d.EntityName, r.windowDays),
		RelatedDisclosureIDs: related,
	}}, nil
}
