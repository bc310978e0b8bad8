package detect

import (
	"context"
	"fmt"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/match"
)

// PriorCaseDetector flags disclosures naming an entity that is already the
// subject of an existing compliance case, or where the submitter is a case
// subject themselves.
type PriorCaseDetector struct{}

// NewPriorCaseDetector creates a case-history detector.
func NewPriorCaseDetector() *PriorCaseDetector {
	return &PriorCaseDetector{}
}

func (p *PriorCaseDetector) Type() domain.ConflictType {
	return domain.ConflictPriorCase
}

func (p *PriorCaseDetector) Detect(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	cases, err := org.ListCases(ctx, d.OrgID)
	if err != nil {
		return nil, fmt.Errorf("case history unavailable: %w", err)
	}

	var candidates []domain.ConflictCandidate
	for _, c := range cases {
		if c.SubjectPerson != "" && c.SubjectPerson == d.PersonID {
			candidates = append(candidates, domain.ConflictCandidate{
				Type:          domain.ConflictPriorCase,
				Confidence:    100,
				Severity:      domain.SeverityHigh,
				MatchedKind:   domain.MatchedCase,
				MatchedID:     c.ID,
				MatchedEntity: d.EntityName,
				Reason:        fmt.Sprintf("submitter is a subject of case %s (%s)", c.ID, c.Status),
			})
			continue
		}
		if c.SubjectEntity == "" {
			continue
		}
		score := match.Similarity(d.EntityName, c.SubjectEntity)
		if score < match.BandNoMatch {
			continue
		}
		candidates = append(candidates, domain.ConflictCandidate{
			Type:          domain.ConflictPriorCase,
			Confidence:    score,
			Severity:      match.SeverityFor(score),
			MatchedKind:   domain.MatchedCase,
			MatchedID:     c.ID,
			MatchedEntity: c.SubjectEntity,
			Reason:        fmt.Sprintf("entity matches subject of case %s (%s)", c.ID, c.Status),
		})
	}
	return candidates, nil
}
