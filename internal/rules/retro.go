package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// RetroRunner applies RETROACTIVE rules to existing disclosure history.
// Preview computes hits without writing anything; Apply processes confirmed
// runs in bounded batches so a new rule cannot flood case creation, and
// honors context cancellation between evaluations.
type RetroRunner struct {
	repo domain.Repository
	eval *Evaluator

	batchSize   int
	concurrency int
}

// NewRetroRunner creates a retroactive rule runner.
func NewRetroRunner(repo domain.Repository, eval *Evaluator, batchSize, concurrency int) *RetroRunner {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &RetroRunner{
		repo:        repo,
		eval:        eval,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Range resolves the retroactive window for a rule. RETROACTIVE_FROM_DATE
// rules are clamped to their configured start date.
func (r *RetroRunner) Range(rule *domain.ThresholdRule, from, to time.Time) (time.Time, time.Time, error) {
	switch rule.ApplyMode {
	case domain.ApplyRetroactive:
	case domain.ApplyRetroactiveFromDate:
		if rule.RetroactiveFrom == nil {
			return from, to, fmt.Errorf("rule %s: retroactiveFrom is not set", rule.ID)
		}
		if rule.RetroactiveFrom.After(from) {
			from = *rule.RetroactiveFrom
		}
	default:
		return from, to, fmt.Errorf("rule %s is not retroactive", rule.ID)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	return from, to, nil
}

// Preview returns the disclosures the rule would trigger on, without writing
// trigger logs or alerts. Each disclosure is evaluated as of its own
// submission time, with itself included, so preview reproduces exactly what
// post-submission evaluation would have decided.
func (r *RetroRunner) Preview(ctx context.Context, orgID string, rule *domain.ThresholdRule, from, to time.Time) ([]domain.PreviewHit, error) {
	from, to, err := r.Range(rule, from, to)
	if err != nil {
		return nil, err
	}

	disclosures, err := r.repo.ListDisclosures(ctx, orgID, domain.DisclosureFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("failed to list disclosures: %w", err)
	}

	var hits []domain.PreviewHit
	for _, d := range disclosures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if res.Fired {
			hits = append(hits, domain.PreviewHit{
				DisclosureID:   d.ID,
				PersonID:       d.PersonID,
				EntityName:     d.EntityName,
				AggregateValue: res.AggregateValue,
				SubmittedAt:    d.SubmittedAt,
			})
		}
	}
	return hits, nil
}

// OnTrigger is called once per fired disclosure during a confirmed
// retroactive run. The callback persists the trigger log and drives any
// downstream action (escalation, events).
type OnTrigger func(ctx context.Context, d *domain.Disclosure, res domain.RuleResult) error

// Apply runs a confirmed retroactive application. Disclosures are processed
// in batches of batchSize with at most concurrency evaluations in flight, and
// the run stops between batches when ctx is canceled. Returns the number of
// disclosures that triggered.
func (r *RetroRunner) Apply(ctx context.Context, orgID string, rule *domain.ThresholdRule, from, to time.Time, onTrigger OnTrigger) (int, error) {
	from, to, err := r.Range(rule, from, to)
	if err != nil {
		return 0, err
	}

	disclosures, err := r.repo.ListDisclosures(ctx, orgID, domain.DisclosureFilter{From: from, To: to})
	if err != nil {
		return 0, fmt.Errorf("failed to list disclosures: %w", err)
	}

	var (
		mu        sync.Mutex
		triggered int
	)

	for start := 0; start < len(disclosures); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			slog.Info("retroactive run canceled",
				"rule_id", rule.ID,
				"processed", start,
				"total", len(disclosures),
			)
			return triggered, err
		}

		end := start + r.batchSize
		if end > len(disclosures) {
			end = len(disclosures)
		}
		batch := disclosures[start:end]

		sem := make(chan struct{}, r.concurrency)
		var wg sync.WaitGroup
		errCh := make(chan error, len(batch))

		for _, d := range batch {
			wg.Add(1)
			go func(d *domain.Disclosure) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				res := r.eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
				if !res.Fired {
					return
				}
				if err := onTrigger(ctx, d, res); err != nil {
					errCh <- fmt.Errorf("disclosure %s: %w", d.ID, err)
					return
				}
				mu.Lock()
				triggered++
				mu.Unlock()
			}(d)
		}
		wg.Wait()
		close(errCh)

		for err := range errCh {
			slog.Error("retroactive trigger failed",
				"rule_id", rule.ID,
				"error", err,
			)
		}
	}

	slog.Info("retroactive run complete",
		"rule_id", rule.ID,
		"org_id", orgID,
		"evaluated", len(disclosures),
		"triggered", triggered,
	)
	return triggered, nil
}
