package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/match"
)

// SelfDealingDetector flags a disclosure naming an entity the same person has
// disclosed before. Repeated dealings with one counterparty across categories
// are the classic self-dealing signal.
type SelfDealingDetector struct {
	repo domain.Repository

	// lookback bounds the history scan.
	lookback time.Duration
}

// NewSelfDealingDetector creates a self-dealing detector scanning the given
// lookback window of the person's own history.
func NewSelfDealingDetector(repo domain.Repository, lookback time.Duration) *SelfDealingDetector {
	if lookback <= 0 {
		lookback = 3 * 365 * 24 * time.Hour
	}
	return &SelfDealingDetector{repo: repo, lookback: lookback}
}

func (s *SelfDealingDetector) Type() domain.ConflictType {
	return domain.ConflictSelfDealing
}

func (s *SelfDealingDetector) Detect(ctx context.Context, d *domain.Disclosure, _ domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	prior, err := s.repo.ListDisclosures(ctx, d.OrgID, domain.DisclosureFilter{
		PersonID: d.PersonID,
		From:     d.SubmittedAt.Add(-s.lookback),
		To:       d.SubmittedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load prior disclosures: %w", err)
	}

	var candidates []domain.ConflictCandidate
	for _, p := range prior {
		if p.ID == d.ID {
			continue
		}
		score := match.Similarity(d.EntityName, p.EntityName)
		if score < match.BandNoMatch {
			continue
		}
		candidates = append(candidates, domain.ConflictCandidate{
			Type:          domain.ConflictSelfDealing,
			Confidence:    score,
			Severity:      match.SeverityFor(score),
			MatchedKind:   domain.MatchedDisclosure,
			MatchedID:     p.ID,
			MatchedEntity: p.EntityName,
			Reason: fmt.Sprintf("prior %s disclosure for %q on %s",
				p.Category, p.EntityName, p.SubmittedAt.Format("2006-01-02")),
			RelatedDisclosureIDs: []string{p.ID},
		})
	}
	return candidates, nil
}
