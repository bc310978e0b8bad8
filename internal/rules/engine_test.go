package rules

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-rules-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestEvaluator(t *testing.T, repo domain.Repository) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator(aggregate.NewCalculator(repo, 1), 4)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return eval
}

func testDisclosure(value int64) *domain.Disclosure {
	now := time.Now().UTC()
	return &domain.Disclosure{
		ID:          "disc-001",
		OrgID:       "org-001",
		PersonID:    "person-001",
		Department:  "engineering",
		EntityName:  "Acme Corp",
		Category:    "gift",
		Value:       decimal.NewFromInt(value),
		Currency:    "USD",
		BaseValue:   decimal.NewFromInt(value),
		SubmittedAt: now,
		CreatedAt:   now,
	}
}

func valueRule(id string, op domain.Operator, threshold int64, action domain.RuleAction) *domain.ThresholdRule {
	v := decimal.NewFromInt(threshold)
	return &domain.ThresholdRule{
		ID:      id,
		OrgID:   "org-001",
		Name:    id,
		Version: 1,
		Condition: domain.Condition{
			Field: domain.FieldValue,
			Op:    op,
			Value: &v,
		},
		Action:    action,
		ApplyMode: domain.ApplyForwardOnly,
		Enabled:   true,
	}
}

func TestEvaluateRuleBoundaries(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()
	d := testDisclosure(500)

	t.Run("GteFiresAtThreshold", func(t *testing.T) {
		res := eval.EvaluateRule(ctx, d, valueRule("r-gte", domain.OpGte, 500, domain.ActionNotify), d.SubmittedAt, true)
		if !res.Fired {
			t.Error("expected gte 500 to fire at exactly 500")
		}
	})

	t.Run("GtDoesNotFireAtThreshold", func(t *testing.T) {
		res := eval.EvaluateRule(ctx, d, valueRule("r-gt", domain.OpGt, 500, domain.ActionNotify), d.SubmittedAt, true)
		if res.Fired {
			t.Error("expected gt 500 not to fire at exactly 500")
		}
	})

	t.Run("LtFiresBelow", func(t *testing.T) {
		res := eval.EvaluateRule(ctx, d, valueRule("r-lt", domain.OpLt, 600, domain.ActionNotify), d.SubmittedAt, true)
		if !res.Fired {
			t.Error("expected lt 600 to fire at 500")
		}
	})

	t.Run("ThresholdReported", func(t *testing.T) {
		res := eval.EvaluateRule(ctx, d, valueRule("r-thr", domain.OpGte, 500, domain.ActionNotify), d.SubmittedAt, true)
		if res.Threshold == nil || !res.Threshold.Equal(decimal.NewFromInt(500)) {
			t.Errorf("expected threshold 500, got %v", res.Threshold)
		}
	})
}

func TestEvaluatePriorityResolution(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()
	d := testDisclosure(1000)

	ruleSet := []*domain.ThresholdRule{
		valueRule("r-review", domain.OpGte, 100, domain.ActionFlagReview),
		valueRule("r-case", domain.OpGte, 500, domain.ActionCreateCase),
		valueRule("r-notify", domain.OpGte, 50, domain.ActionNotify),
		valueRule("r-quiet", domain.OpGte, 100000, domain.ActionCreateCase),
	}

	res := eval.Evaluate(ctx, d, ruleSet, d.SubmittedAt, true)

	if !res.Triggered {
		t.Fatal("expected evaluation to trigger")
	}
	if len(res.TriggeredRuleIDs) != 3 {
		t.Errorf("expected 3 triggered rules, got %d: %v", len(res.TriggeredRuleIDs), res.TriggeredRuleIDs)
	}
	if res.RecommendedAction != domain.ActionCreateCase {
		t.Errorf("expected CREATE_CASE to win, got %s", res.RecommendedAction)
	}
	// MaxThreshold reflects fired rules only, never the 100000 rule.
	if res.MaxThreshold == nil || !res.MaxThreshold.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected max threshold 500, got %v", res.MaxThreshold)
	}
}

func TestEvaluateSkipsDisabledRules(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()
	d := testDisclosure(1000)

	rule := valueRule("r-off", domain.OpGte, 100, domain.ActionNotify)
	rule.Enabled = false

	res := eval.Evaluate(ctx, d, []*domain.ThresholdRule{rule}, d.SubmittedAt, true)
	if res.Triggered {
		t.Error("disabled rule must not trigger")
	}
	if len(res.RuleResults) != 0 {
		t.Errorf("disabled rule must not be evaluated, got %d results", len(res.RuleResults))
	}
}

func TestEvaluateCurrencyPin(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()
	d := testDisclosure(1000) // declared USD

	rule := valueRule("r-eur", domain.OpGte, 100, domain.ActionNotify)
	rule.Currency = "EUR"

	res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
	if res.Fired {
		t.Error("EUR-pinned rule must skip a USD disclosure")
	}
}

func TestEvaluateConditionTree(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()

	v := decimal.NewFromInt(100)
	gift := "gift"
	travel := "travel"

	rule := &domain.ThresholdRule{
		ID: "r-tree", OrgID: "org-001", Name: "tree", Version: 1,
		Condition: domain.Condition{
			All: []domain.Condition{
				{Field: domain.FieldValue, Op: domain.OpGte, Value: &v},
				{Any: []domain.Condition{
					{Field: domain.FieldCategory, Op: domain.OpEq, StringValue: &gift},
					{Field: domain.FieldCategory, Op: domain.OpEq, StringValue: &travel},
				}},
			},
		},
		Action:    domain.ActionRequireApproval,
		ApplyMode: domain.ApplyForwardOnly,
		Enabled:   true,
	}

	t.Run("AllBranchesHold", func(t *testing.T) {
		d := testDisclosure(150) // category gift
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if !res.Fired {
			t.Error("expected rule to fire: value>=100 and category in (gift, travel)")
		}
	})

	t.Run("AnyBranchFails", func(t *testing.T) {
		d := testDisclosure(150)
		d.Category = "coi"
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if res.Fired {
			t.Error("expected rule not to fire for category coi")
		}
	})
}

func TestEvaluateMetadataFields(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()

	recurring := true
	rule := &domain.ThresholdRule{
		ID: "r-meta", OrgID: "org-001", Name: "meta", Version: 1,
		Condition: domain.Condition{
			Field:     "meta.recurring",
			Op:        domain.OpEq,
			BoolValue: &recurring,
		},
		Action:    domain.ActionNotify,
		ApplyMode: domain.ApplyForwardOnly,
		Enabled:   true,
	}

	d := testDisclosure(10)
	d.Metadata = map[string]interface{}{"recurring": true}

	res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
	if !res.Fired {
		t.Error("expected meta.recurring == true to fire")
	}

	d.Metadata = nil
	res = eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
	if !res.Indeterminate {
		t.Error("expected missing metadata key to be indeterminate")
	}
}

func TestEvaluateExpression(t *testing.T) {
	eval := newTestEvaluator(t, nil)
	ctx := context.Background()

	v := decimal.NewFromInt(100)
	rule := &domain.ThresholdRule{
		ID: "r-expr", OrgID: "org-001", Name: "expr", Version: 1,
		Condition: domain.Condition{
			Field: domain.FieldValue,
			Op:    domain.OpGte,
			Value: &v,
		},
		Expression: `category == "gift" && department != "procurement"`,
		Action:     domain.ActionFlagReview,
		ApplyMode:  domain.ApplyForwardOnly,
		Enabled:    true,
	}

	t.Run("ExpressionNarrowsCondition", func(t *testing.T) {
		d := testDisclosure(200) // engineering
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if !res.Fired {
			t.Error("expected rule to fire for engineering")
		}

		d.Department = "procurement"
		res = eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if res.Fired {
			t.Error("expected expression to veto procurement")
		}
	})

	t.Run("ExpressionSkippedWhenConditionFails", func(t *testing.T) {
		d := testDisclosure(50)
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if res.Fired {
			t.Error("expected rule not to fire below the condition threshold")
		}
	})
}

func TestEvaluateAggregateRule(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	ctx := context.Background()
	orgID := "org-001"

	now := time.Now().UTC()
	prior := testDisclosure(300)
	prior.ID = "disc-prior"
	prior.SubmittedAt = now.AddDate(0, -3, 0)
	prior.CreatedAt = prior.SubmittedAt
	if err := repo.SaveDisclosure(ctx, orgID, prior); err != nil {
		t.Fatalf("SaveDisclosure failed: %v", err)
	}

	v := decimal.NewFromInt(500)
	rule := &domain.ThresholdRule{
		ID: "r-agg", OrgID: orgID, Name: "agg", Version: 1,
		Condition: domain.Condition{
			Field: domain.FieldAggregate,
			Op:    domain.OpGte,
			Value: &v,
		},
		Aggregate: &domain.AggregateConfig{
			Dimensions: []domain.Dimension{domain.DimPerson, domain.DimEntity},
			Window:     domain.Window{Kind: domain.WindowRolling, Days: 365},
			Function:   domain.AggSum,
			Category:   "gift",
		},
		Action:    domain.ActionCreateCase,
		ApplyMode: domain.ApplyForwardOnly,
		Enabled:   true,
	}

	d := testDisclosure(250)
	d.ID = "disc-current"
	res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
	if !res.Fired {
		t.Error("expected 300+250=550 >= 500 to fire")
	}
	if res.AggregateValue == nil || !res.AggregateValue.Equal(decimal.NewFromInt(550)) {
		t.Errorf("expected recorded aggregate 550, got %v", res.AggregateValue)
	}
}

func TestEvaluateIndeterminateFloor(t *testing.T) {
	repo := newTestRepo(t)
	eval := newTestEvaluator(t, repo)
	ctx := context.Background()

	// Close the store so the aggregate read fails.
	repo.Close()

	v := decimal.NewFromInt(500)
	rule := &domain.ThresholdRule{
		ID: "r-ind", OrgID: "org-001", Name: "ind", Version: 1,
		Condition: domain.Condition{
			Field: domain.FieldAggregate,
			Op:    domain.OpGte,
			Value: &v,
		},
		Aggregate: &domain.AggregateConfig{
			Dimensions: []domain.Dimension{domain.DimPerson},
			Window:     domain.Window{Kind: domain.WindowRolling, Days: 365},
			Function:   domain.AggSum,
		},
		Action:    domain.ActionCreateCase,
		ApplyMode: domain.ApplyForwardOnly,
		Enabled:   true,
	}

	d := testDisclosure(100)
	res := eval.Evaluate(ctx, d, []*domain.ThresholdRule{rule}, d.SubmittedAt, true)

	if res.Triggered {
		t.Error("indeterminate rule must not count as triggered")
	}
	if len(res.IndeterminateRuleIDs) != 1 {
		t.Fatalf("expected 1 indeterminate rule, got %d", len(res.IndeterminateRuleIDs))
	}
	// An aggregate the engine could not compute surfaces for review instead
	// of passing silently.
	if res.RecommendedAction != domain.ActionFlagReview {
		t.Errorf("expected FLAG_REVIEW floor, got %s", res.RecommendedAction)
	}
}

func TestValidateRule(t *testing.T) {
	eval := newTestEvaluator(t, nil)

	valid := func() *domain.ThresholdRule {
		return valueRule("r-ok", domain.OpGte, 100, domain.ActionNotify)
	}

	if err := eval.ValidateRule(valid()); err != nil {
		t.Fatalf("expected valid rule to pass, got %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(r *domain.ThresholdRule)
		wantErr string
	}{
		{
			"UnknownAction",
			func(r *domain.ThresholdRule) { r.Action = "EXPLODE" },
			"unknown action",
		},
		{
			"UnknownApplyMode",
			func(r *domain.ThresholdRule) { r.ApplyMode = "SIDEWAYS" },
			"unknown apply mode",
		},
		{
			"RetroFromDateWithoutDate",
			func(r *domain.ThresholdRule) { r.ApplyMode = domain.ApplyRetroactiveFromDate },
			"requires retroactiveFrom",
		},
		{
			"AggregateWithoutConfig",
			func(r *domain.ThresholdRule) { r.Condition.Field = domain.FieldAggregate },
			"no aggregate config",
		},
		{
			"UnknownField",
			func(r *domain.ThresholdRule) { r.Condition.Field = "altitude" },
			"unknown field",
		},
		{
			"UnknownOperator",
			func(r *domain.ThresholdRule) { r.Condition.Op = "spaceship" },
			"unknown operator",
		},
		{
			"OrderedOpOnString",
			func(r *domain.ThresholdRule) {
				s := "gift"
				r.Condition = domain.Condition{Field: domain.FieldCategory, Op: domain.OpGt, StringValue: &s}
			},
			"requires a numeric value",
		},
		{
			"MixedCombinator",
			func(r *domain.ThresholdRule) {
				v := decimal.NewFromInt(1)
				leaf := domain.Condition{Field: domain.FieldValue, Op: domain.OpGte, Value: &v}
				r.Condition = domain.Condition{All: []domain.Condition{leaf}, Any: []domain.Condition{leaf}}
			},
			"cannot combine",
		},
		{
			"TwoComparands",
			func(r *domain.ThresholdRule) {
				s := "gift"
				r.Condition.StringValue = &s
			},
			"exactly one comparand",
		},
		{
			"ExpressionAggregateWithoutConfig",
			func(r *domain.ThresholdRule) {
				r.ID = "r-expr-agg"
				r.Expression = "aggregate > 500.0"
			},
			"no aggregate config",
		},
		{
			"BadExpression",
			func(r *domain.ThresholdRule) { r.Expression = "category ==" },
			"compile",
		},
		{
			"NonBoolExpression",
			func(r *domain.ThresholdRule) { r.Expression = "value + 1.0" },
			"must return bool",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := valid()
			tc.mutate(rule)
			err := eval.ValidateRule(rule)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err)
			}
		})
	}

	t.Run("BadAggregateWindow", func(t *testing.T) {
		rule := valid()
		rule.Condition.Field = domain.FieldAggregate
		rule.Aggregate = &domain.AggregateConfig{
			Dimensions: []domain.Dimension{domain.DimPerson},
			Window:     domain.Window{Kind: domain.WindowRolling},
			Function:   domain.AggSum,
		}
		if err := eval.ValidateRule(rule); err == nil {
			t.Error("expected error for zero-span rolling window")
		}
	})
}

func TestExpressionAggregateDetection(t *testing.T) {
	ctx := context.Background()

	t.Run("StringLiteralIsNotAReference", func(t *testing.T) {
		// "aggregate" appearing only inside a string literal must not make
		// the rule an aggregate rule.
		eval := newTestEvaluator(t, nil)

		rule := valueRule("r-literal", domain.OpGte, 100, domain.ActionNotify)
		rule.Expression = `department != "aggregates"`

		if err := eval.ValidateRule(rule); err != nil {
			t.Fatalf("expected rule to validate without aggregate config, got %v", err)
		}

		d := testDisclosure(200) // engineering
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if res.Indeterminate {
			t.Fatalf("expected no aggregate computation, got indeterminate: %s", res.Error)
		}
		if !res.Fired {
			t.Error("expected rule to fire")
		}
		if res.AggregateValue != nil {
			t.Errorf("expected no aggregate value, got %v", res.AggregateValue)
		}
	})

	t.Run("ExpressionReferenceComputesAggregate", func(t *testing.T) {
		repo := newTestRepo(t)
		eval := newTestEvaluator(t, repo)
		orgID := "org-001"

		prior := testDisclosure(300)
		prior.ID = "disc-prior"
		prior.SubmittedAt = time.Now().UTC().AddDate(0, -3, 0)
		prior.CreatedAt = prior.SubmittedAt
		if err := repo.SaveDisclosure(ctx, orgID, prior); err != nil {
			t.Fatalf("SaveDisclosure failed: %v", err)
		}

		v := decimal.Zero
		rule := &domain.ThresholdRule{
			ID: "r-expr-sum", OrgID: orgID, Name: "expr-sum", Version: 1,
			Condition: domain.Condition{
				Field: domain.FieldValue,
				Op:    domain.OpGte,
				Value: &v,
			},
			Expression: "aggregate >= 500.0",
			Aggregate: &domain.AggregateConfig{
				Dimensions: []domain.Dimension{domain.DimPerson, domain.DimEntity},
				Window:     domain.Window{Kind: domain.WindowRolling, Days: 365},
				Function:   domain.AggSum,
				Category:   "gift",
			},
			Action:    domain.ActionCreateCase,
			ApplyMode: domain.ApplyForwardOnly,
			Enabled:   true,
		}

		d := testDisclosure(250)
		d.ID = "disc-current"
		res := eval.EvaluateRule(ctx, d, rule, d.SubmittedAt, true)
		if !res.Fired {
			t.Error("expected aggregate 550 >= 500 to fire")
		}
		if res.AggregateValue == nil || !res.AggregateValue.Equal(decimal.NewFromInt(550)) {
			t.Errorf("expected recorded aggregate 550, got %v", res.AggregateValue)
		}
	})
}

func TestSnapshotRule(t *testing.T) {
	rule := valueRule("r-snap", domain.OpGte, 500, domain.ActionCreateCase)
	rule.Version = 3

	snap := SnapshotRule(rule)
	if !strings.Contains(snap, `"id":"r-snap"`) {
		t.Errorf("snapshot missing rule id: %s", snap)
	}
	if !strings.Contains(snap, `"version":3`) {
		t.Errorf("snapshot missing version: %s", snap)
	}
	if !strings.Contains(snap, `"action":"CREATE_CASE"`) {
		t.Errorf("snapshot missing action: %s", snap)
	}
}
