// Package exclusion suppresses conflict candidates covered by recorded
// exclusions.
package exclusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/repository"
)

// Filter checks candidates against the organization's exclusion list before
// alerts are persisted. Exclusions are loaded from the store per evaluation;
// they are never cached across organizations.
type Filter struct {
	repo domain.Repository
}

// NewFilter creates an exclusion filter.
func NewFilter(repo domain.Repository) *Filter {
	return &Filter{repo: repo}
}

// Apply returns the candidates not covered by an active exclusion, plus the
// number suppressed. Consuming a ONE_TIME exclusion is atomic with the
// suppression decision: the conditional update in the store either wins the
// row or reports it already consumed, in which case the candidate survives.
// An exclusion lookup failure keeps the candidate — compliance correctness
// favors a false positive over silent suppression.
func (f *Filter) Apply(ctx context.Context, orgID string, d *domain.Disclosure, candidates []domain.ConflictCandidate) (kept []domain.ConflictCandidate, suppressed int) {
	now := time.Now().UTC()

	for _, c := range candidates {
		excl, err := f.match(ctx, orgID, d.PersonID, &c, now)
		if err != nil {
			slog.Warn("exclusion lookup failed, keeping candidate",
				"org_id", orgID,
				"detector", c.Type,
				"error", err,
			)
			kept = append(kept, c)
			continue
		}
		if excl == nil {
			kept = append(kept, c)
			continue
		}

		if excl.Scope == domain.ScopeOneTime {
			err := f.repo.ConsumeExclusion(ctx, orgID, excl.ID)
			if errors.Is(err, repository.ErrExclusionConsumed) {
				// A concurrent suppression used it first.
				kept = append(kept, c)
				continue
			}
			if err != nil {
				slog.Warn("failed to consume one-time exclusion, keeping candidate",
					"exclusion_id", excl.ID,
					"error", err,
				)
				kept = append(kept, c)
				continue
			}
		}

		suppressed++
		slog.Debug("candidate suppressed by exclusion",
			"exclusion_id", excl.ID,
			"detector", c.Type,
			"matched_entity", c.MatchedEntity,
			"scope", excl.Scope,
		)
	}
	return kept, suppressed
}

// match returns the first active exclusion covering the candidate.
func (f *Filter) match(ctx context.Context, orgID, personID string, c *domain.ConflictCandidate, now time.Time) (*domain.ConflictExclusion, error) {
	exclusions, err := f.repo.ListExclusions(ctx, orgID, personID, domain.NormalizeEntityName(c.MatchedEntity))
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusions: %w", err)
	}
	for _, e := range exclusions {
		if e.Active(now) && e.Covers(personID, c) {
			return e, nil
		}
	}
	return nil, nil
}

// FromDismissal builds the exclusion a dismissal requested. scope ONE_TIME
// and PERMANENT need no expiry; TIME_LIMITED requires one.
func FromDismissal(orgID string, alert *domain.ConflictAlert, category domain.DismissCategory, scope domain.ExclusionScope, expiresAt *time.Time) (*domain.ConflictExclusion, error) {
	switch scope {
	case domain.ScopePermanent, domain.ScopeOneTime:
	case domain.ScopeTimeLimited:
		if expiresAt == nil {
			return nil, fmt.Errorf("TIME_LIMITED exclusion requires an expiry")
		}
	default:
		return nil, fmt.Errorf("unknown exclusion scope %q", scope)
	}

	return &domain.ConflictExclusion{
		OrgID:               orgID,
		PersonID:            alert.PersonID,
		MatchedEntity:       domain.NormalizeEntityName(alert.MatchedEntity),
		DetectorType:        alert.Type,
		Scope:               scope,
		ExpiresAt:           expiresAt,
		CreatedFromCategory: category,
		CreatedFromAlertID:  alert.ID,
		CreatedAt:           time.Now().UTC(),
	}, nil
}
