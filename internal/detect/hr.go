package detect

import (
	"context"
	"fmt"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/match"
)

// HRMatchDetector flags disclosures whose named entity resolves to an active
// employee in the directory: a relationship disclosure naming a coworker is a
// nepotism signal.
type HRMatchDetector struct{}

// NewHRMatchDetector creates an employee-directory detector.
func NewHRMatchDetector() *HRMatchDetector {
	return &HRMatchDetector{}
}

func (h *HRMatchDetector) Type() domain.ConflictType {
	return domain.ConflictHRMatch
}

func (h *HRMatchDetector) Detect(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	employees, err := org.ListEmployees(ctx, d.OrgID)
	if err != nil {
		return nil, fmt.Errorf("employee directory unavailable: %w", err)
	}

	var candidates []domain.ConflictCandidate
	for _, emp := range employees {
		if !emp.Active || emp.ID == d.PersonID {
			continue
		}
		score := match.Similarity(d.EntityName, emp.Name)
		if score < match.BandNoMatch {
			continue
		}
		severity := match.SeverityFor(score)
		if emp.Department != "" && emp.Department == d.Department && severity == domain.SeverityHigh {
			// Same-department match is the strongest nepotism signal.
			severity = domain.SeverityCritical
		}
		candidates = append(candidates, domain.ConflictCandidate{
			Type:          domain.ConflictHRMatch,
			Confidence:    score,
			Severity:      severity,
			MatchedKind:   domain.MatchedHRRecord,
			MatchedID:     emp.ID,
			MatchedEntity: emp.Name,
			Reason:        fmt.Sprintf("entity resolves to active employee %q (%s)", emp.Name, emp.Department),
		})
	}
	return candidates, nil
}
