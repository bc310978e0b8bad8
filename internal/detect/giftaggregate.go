package detect

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/domain"
)

// GiftAggregateDetector flags a person+vendor pair whose rolling gift total
// crosses the configured conflict threshold. This threshold is a conflict
// signal and is distinct from any case-creation threshold rule over the same
// aggregate.
type GiftAggregateDetector struct {
	calc      *aggregate.Calculator
	threshold decimal.Decimal
	window    domain.Window
}

// NewGiftAggregateDetector creates a gift-aggregate detector over a rolling
// window of windowDays.
func NewGiftAggregateDetector(calc *aggregate.Calculator, threshold decimal.Decimal, windowDays int) *GiftAggregateDetector {
	if windowDays <= 0 {
		windowDays = 365
	}
	return &GiftAggregateDetector{
		calc:      calc,
		threshold: threshold,
		window:    domain.Window{Kind: domain.WindowRolling, Days: windowDays},
	}
}

func (g *GiftAggregateDetector) Type() domain.ConflictType {
	return domain.ConflictGiftAggregate
}

func (g *GiftAggregateDetector) Detect(ctx context.Context, d *domain.Disclosure, _ domain.OrganizationContext) ([]domain.ConflictCandidate, error) {
	cfg := &domain.AggregateConfig{
		Dimensions: []domain.Dimension{domain.DimPerson, domain.DimEntity},
		Window:     g.window,
		Function:   domain.AggSum,
		Category:   "gift",
	}

	res, err := g.calc.Compute(ctx, d.OrgID, cfg, d, d.SubmittedAt, true)
	if err != nil {
		return nil, fmt.Errorf("gift aggregate unavailable: %w", err)
	}

	if res.Value.LessThan(g.threshold) {
		return nil, nil
	}

	severity := domain.SeverityMedium
	if res.Value.GreaterThanOrEqual(g.threshold.Mul(decimal.NewFromInt(2))) {
		severity = domain.SeverityHigh
	}

	related := make([]string, 0, len(res.Contributors))
	for _, c := range res.Contributors {
		related = append(related, c.ID)
	}

	return []domain.ConflictCandidate{{
		Type:          domain.ConflictGiftAggregate,
		Confidence:    100, // deterministic aggregate, not a fuzzy match
		Severity:      severity,
		MatchedKind:   domain.MatchedAggregate,
		MatchedEntity: d.EntityName,
		Reason: fmt.Sprintf("gifts from %q total %s over %d days (conflict threshold %s)",
			d.EntityName, res.Value.StringFixed(2), g.window.Days, g.threshold.StringFixed(2)),
		RelatedDisclosureIDs: related,
	}}, nil
}
