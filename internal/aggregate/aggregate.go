// Package aggregate computes rolling and calendar-window aggregates over
// disclosure history.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// Calculator computes SUM/COUNT/AVG/MAX aggregates for threshold rules and
// detectors. All arithmetic is fixed-point decimal; monetary aggregates never
// touch floating point.
type Calculator struct {
	repo domain.Repository

	// fiscalYearStartMonth anchors fiscal-year calendar windows (1-12).
	fiscalYearStartMonth int
}

// NewCalculator creates a new aggregate calculator.
func NewCalculator(repo domain.Repository, fiscalYearStartMonth int) *Calculator {
	if fiscalYearStartMonth < 1 || fiscalYearStartMonth > 12 {
		fiscalYearStartMonth = 1
	}
	return &Calculator{
		repo:                 repo,
		fiscalYearStartMonth: fiscalYearStartMonth,
	}
}

// Result carries the computed value plus the disclosures that contributed to
// it, for trigger-log breakdowns and escalation context bundles.
type Result struct {
	Value        decimal.Decimal
	Contributors []*domain.Disclosure
}

// Compute evaluates the configured aggregate for the disclosure's dimension
// key values as of asOf. Queries never look past asOf, so concurrent
// submissions for the same person cannot be double-counted.
//
// includeCurrent controls the exactly-once semantics for the disclosure under
// evaluation: post-submission evaluation passes true (the disclosure is
// already persisted and must count exactly once), pre-submission preview
// passes false (it must not count at all). A person with no history returns
// zero, not an error.
func (c *Calculator) Compute(ctx context.Context, orgID string, cfg *domain.AggregateConfig, d *domain.Disclosure, asOf time.Time, includeCurrent bool) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("aggregate config is required")
	}
	if d == nil {
		return nil, fmt.Errorf("disclosure is required")
	}

	filter := domain.DisclosureFilter{
		From:     c.WindowStart(cfg.Window, asOf),
		To:       asOf,
		Category: cfg.Category,
	}
	for _, dim := range cfg.Dimensions {
		switch dim {
		case domain.DimPerson:
			filter.PersonID = d.PersonID
		case domain.DimEntity:
			filter.Entity = d.NormalizedEntity()
		case domain.DimDepartment:
			filter.Department = d.Department
		case domain.DimCategory:
			filter.Category = d.Category
		default:
			return nil, fmt.Errorf("unknown aggregate dimension: %s", dim)
		}
	}

	rows, err := c.repo.ListDisclosures(ctx, orgID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load disclosure history: %w", err)
	}

	// Enforce exactly-once (or exactly-zero) inclusion of the disclosure
	// under evaluation regardless of whether the store returned it. The
	// disclosure still has to satisfy the filter: a COI disclosure must not
	// count toward a gift-restricted aggregate.
	contributors := make([]*domain.Disclosure, 0, len(rows)+1)
	seen := false
	for _, row := range rows {
		if row.ID == d.ID {
			if seen || !includeCurrent {
				continue
			}
			seen = true
		}
		contributors = append(contributors, row)
	}
	if includeCurrent && !seen && matchesFilter(filter, d) {
		contributors = append(contributors, d)
	}

	return &Result{
		Value:        apply(cfg.Function, contributors),
		Contributors: contributors,
	}, nil
}

// matchesFilter reports whether the disclosure under evaluation satisfies the
// computed filter. The dimension keys are taken from the disclosure itself,
// so only the category restriction and the window bounds can exclude it.
func matchesFilter(f domain.DisclosureFilter, d *domain.Disclosure) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if d.SubmittedAt.Before(f.From) || d.SubmittedAt.After(f.To) {
		return false
	}
	return true
}

// WindowStart resolves the inclusive start of a window ending at asOf.
func (c *Calculator) WindowStart(w domain.Window, asOf time.Time) time.Time {
	switch w.Kind {
	case domain.WindowCalendar:
		return c.calendarStart(w.Period, asOf)
	default:
		return asOf.AddDate(-w.Years, -w.Months, -w.Days)
	}
}

func (c *Calculator) calendarStart(p domain.CalendarPeriod, asOf time.Time) time.Time {
	y, m, _ := asOf.Date()
	loc := asOf.Location()

	switch p {
	case domain.PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case domain.PeriodQuarter:
		qm := time.Month(((int(m)-1)/3)*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case domain.PeriodFiscalYear:
		start := time.Month(c.fiscalYearStartMonth)
		if m < start {
			y--
		}
		return time.Date(y, start, 1, 0, 0, 0, 0, loc)
	default: // PeriodYear
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
}

func apply(fn domain.AggregateFunc, rows []*domain.Disclosure) decimal.Decimal {
	if len(rows) == 0 {
		return decimal.Zero
	}

	switch fn {
	case domain.AggCount:
		return decimal.NewFromInt(int64(len(rows)))
	case domain.AggAvg:
		sum := decimal.Zero
		for _, r := range rows {
			sum = sum.Add(r.BaseValue)
		}
		return sum.DivRound(decimal.NewFromInt(int64(len(rows))), 4)
	case domain.AggMax:
		max := rows[0].BaseValue
		for _, r := range rows[1:] {
			if r.BaseValue.GreaterThan(max) {
				max = r.BaseValue
			}
		}
		return max
	default: // AggSum
		sum := decimal.Zero
		for _, r := range rows {
			sum = sum.Add(r.BaseValue)
		}
		return sum
	}
}
