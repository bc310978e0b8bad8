package detect

import (
	"context"
	"fmt"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/match"
)

// ApprovalAuthorityDetector flags disclosures where the submitter holds
// spend-approval power over the disclosed entity, either directly over the
// vendor or over the department the authority record names.
type ApprovalAuthorityDetector struct{}

// NewApprovalAuthorityDetector creates an approval-authority detector.
func NewApprovalAuthorityDetector() *ApprovalAuthorityDetector {
	return &ApprovalAuthorityDetector{}
}

func (a *ApprovalAuthorityDetector) Type() domain.ConflictType {
	return domain.ConflictApprovalAuthority
}

func (a *ApprovalAuthorityDetector) Detect(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	authorities, err := org.ApprovalAuthorities(ctx, d.OrgID, d.PersonID)
	if err != nil {
		return nil, fmt.Errorf("approval authority lookup failed: %w", err)
	}

	var candidates []domain.ConflictCandidate
	for _, auth := range authorities {
		if auth.VendorName != "" {
			score := match.Similarity(d.EntityName, auth.VendorName)
			if score < match.BandNoMatch {
				continue
			}
			// Approval power over the disclosed counterparty is a direct
			// conflict regardless of amount.
			candidates = append(candidates, domain.ConflictCandidate{
				Type:          domain.ConflictApprovalAuthority,
				Confidence:    score,
				Severity:      domain.SeverityCritical,
				MatchedKind:   domain.MatchedVendor,
				MatchedID:     auth.ID,
				MatchedEntity: auth.VendorName,
				Reason:        fmt.Sprintf("submitter holds spend approval over %q", auth.VendorName),
			})
			continue
		}
		if auth.Department != "" && auth.Department == d.Department {
			candidates = append(candidates, domain.ConflictCandidate{
				Type:          domain.ConflictApprovalAuthority,
				Confidence:    100,
				Severity:      domain.SeverityHigh,
				MatchedKind:   domain.MatchedHRRecord,
				MatchedID:     auth.ID,
				MatchedEntity: d.EntityName,
				Reason:        fmt.Sprintf("submitter holds spend approval for department %q", auth.Department),
			})
		}
	}
	return candidates, nil
}
