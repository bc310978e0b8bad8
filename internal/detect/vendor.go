package detect

import (
	"context"
	"fmt"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/match"
)

// VendorMatchDetector flags disclosures whose entity fuzzy-matches a vendor
// in the approved vendor registry.
type VendorMatchDetector struct{}

// NewVendorMatchDetector creates a vendor-registry detector.
func NewVendorMatchDetector() *VendorMatchDetector {
	return &VendorMatchDetector{}
}

func (v *VendorMatchDetector) Type() domain.ConflictType {
	return domain.ConflictVendorMatch
}

func (v *VendorMatchDetector) Detect(ctx context.Context, d *domain.Disclosure, org domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	vendors, err := org.ListVendors(ctx, d.OrgID)
	if err != nil {
		return nil, fmt.Errorf("vendor registry unavailable: %w", err)
	}

	var candidates []domain.ConflictCandidate
	for _, vendor := range vendors {
		score := match.Similarity(d.EntityName, vendor.Name)
		if score < match.BandNoMatch {
			continue
		}
		candidates = append(candidates, domain.ConflictCandidate{
			Type:          domain.ConflictVendorMatch,
			Confidence:    score,
			Severity:      match.SeverityFor(score),
			MatchedKind:   domain.MatchedVendor,
			MatchedID:     vendor.ID,
			MatchedEntity: vendor.Name,
			Reason:        fmt.Sprintf("entity matches %s vendor %q", vendor.Status, vendor.Name),
		})
	}
	return candidates, nil
}
