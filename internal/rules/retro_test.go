package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// seedHistory saves n gift disclosures spaced one day apart, oldest first,
// with values 100, 200, 300, ...
func seedHistory(t *testing.T, repo domain.Repository, orgID string, n int) []*domain.Disclosure {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	out := make([]*domain.Disclosure, 0, n)
	for i := 0; i < n; i++ {
		d := testDisclosure(int64((i + 1) * 100))
		d.ID = string(rune('a'+i)) + "-disc"
		d.SubmittedAt = now.AddDate(0, 0, -(n - i))
		d.CreatedAt = d.SubmittedAt
		if err := repo.SaveDisclosure(ctx, orgID, d); err != nil {
			t.Fatalf("SaveDisclosure failed: %v", err)
		}
		out = append(out, d)
	}
	return out
}

func retroRule(threshold int64) *domain.ThresholdRule {
	rule := valueRule("r-retro", domain.OpGte, threshold, domain.ActionCreateCase)
	rule.ApplyMode = domain.ApplyRetroactive
	return rule
}

func TestRetroRange(t *testing.T) {
	runner := NewRetroRunner(nil, nil, 100, 4)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("RejectsForwardOnlyRule", func(t *testing.T) {
		rule := valueRule("r-fwd", domain.OpGte, 100, domain.ActionNotify)
		if _, _, err := runner.Range(rule, from, to); err == nil {
			t.Error("expected error for a forward-only rule")
		}
	})

	t.Run("RetroactivePassesRangeThrough", func(t *testing.T) {
		gotFrom, gotTo, err := runner.Range(retroRule(100), from, to)
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		if !gotFrom.Equal(from) || !gotTo.Equal(to) {
			t.Errorf("expected [%v, %v], got [%v, %v]", from, to, gotFrom, gotTo)
		}
	})

	t.Run("FromDateClampsWindowStart", func(t *testing.T) {
		cutover := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		rule := retroRule(100)
		rule.ApplyMode = domain.ApplyRetroactiveFromDate
		rule.RetroactiveFrom = &cutover

		gotFrom, _, err := runner.Range(rule, from, to)
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		if !gotFrom.Equal(cutover) {
			t.Errorf("expected from clamped to %v, got %v", cutover, gotFrom)
		}
	})

	t.Run("FromDateWithoutDateFails", func(t *testing.T) {
		rule := retroRule(100)
		rule.ApplyMode = domain.ApplyRetroactiveFromDate
		if _, _, err := runner.Range(rule, from, to); err == nil {
			t.Error("expected error when retroactiveFrom is unset")
		}
	})

	t.Run("ZeroToDefaultsToNow", func(t *testing.T) {
		_, gotTo, err := runner.Range(retroRule(100), from, time.Time{})
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		if gotTo.IsZero() || time.Since(gotTo) > time.Minute {
			t.Errorf("expected to default near now, got %v", gotTo)
		}
	})
}

func TestRetroPreview(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	runner := NewRetroRunner(repo, eval, 100, 4)
	ctx := context.Background()
	orgID := "org-001"

	discs := seedHistory(t, repo, orgID, 4) // 100, 200, 300, 400
	from := discs[0].SubmittedAt.AddDate(0, 0, -1)

	hits, err := runner.Preview(ctx, orgID, retroRule(300), from, time.Time{})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits (300 and 400), got %d", len(hits))
	}
	for _, h := range hits {
		if h.DisclosureID == "" || h.PersonID != "person-001" {
			t.Errorf("incomplete preview hit: %+v", h)
		}
	}

	// Preview is read-only: no trigger logs appear for the hits.
	for _, d := range discs {
		logs, err := repo.ListTriggerLogs(ctx, orgID, d.ID)
		if err != nil {
			t.Fatalf("ListTriggerLogs failed: %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("preview wrote %d trigger logs for %s", len(logs), d.ID)
		}
	}
}

func TestRetroPreviewClampsFromDate(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	runner := NewRetroRunner(repo, eval, 100, 4)
	ctx := context.Background()
	orgID := "org-001"

	discs := seedHistory(t, repo, orgID, 4) // all would fire at threshold 50
	from := discs[0].SubmittedAt.AddDate(0, 0, -1)

	rule := retroRule(50)
	rule.ApplyMode = domain.ApplyRetroactiveFromDate
	cutover := discs[2].SubmittedAt.Add(-time.Hour)
	rule.RetroactiveFrom = &cutover

	hits, err := runner.Preview(ctx, orgID, rule, from, time.Time{})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 hits after the cutover date, got %d", len(hits))
	}
}

func TestRetroApply(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	// batchSize 2 forces multiple batches over 5 disclosures.
	runner := NewRetroRunner(repo, eval, 2, 2)
	ctx := context.Background()
	orgID := "org-001"

	seedHistory(t, repo, orgID, 5) // 100..500
	from := time.Now().UTC().AddDate(0, 0, -30)

	var (
		mu    sync.Mutex
		fired []string
	)
	triggered, err := runner.Apply(ctx, orgID, retroRule(300), from, time.Time{},
		func(ctx context.Context, d *domain.Disclosure, res domain.RuleResult) error {
			if !res.Fired {
				t.Errorf("onTrigger called for unfired result on %s", d.ID)
			}
			mu.Lock()
			fired = append(fired, d.ID)
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if triggered != 3 {
		t.Errorf("expected 3 triggered (300, 400, 500), got %d", triggered)
	}
	if len(fired) != 3 {
		t.Errorf("expected onTrigger called 3 times, got %d", len(fired))
	}
}

func TestRetroApplyCanceled(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	runner := NewRetroRunner(repo, eval, 2, 2)
	orgID := "org-001"

	seedHistory(t, repo, orgID, 5)
	from := time.Now().UTC().AddDate(0, 0, -30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Apply(ctx, orgID, retroRule(50), from, time.Time{},
		func(ctx context.Context, d *domain.Disclosure, res domain.RuleResult) error {
			return nil
		}); err == nil {
		t.Error("expected canceled context to abort the run")
	}
}
