// Package rules provides threshold rule evaluation.
//
// A rule's primary representation is a typed condition tree (Comparison |
// All | Any) interpreted directly against disclosure facts. Rules may also
// carry an optional CEL expression, AND-ed with the tree, for policies the
// tree cannot express. Expressions are compiled and type-checked at
// rule-creation time so a malformed rule can never reach evaluation.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/domain"
)

// Evaluator evaluates threshold rule sets against disclosures. It is
// stateless with respect to rule sets: callers load rules from the store per
// evaluation, scoped to one organization. The only retained state is a cache
// of compiled CEL programs keyed by rule id and version.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]*compiledRule
	calc     *aggregate.Calculator

	maxWorkers int
}

// compiledRule is a cached CEL program plus facts derived from its checked
// AST. usesAggregate is decided by the identifiers the expression actually
// references, not by its text.
type compiledRule struct {
	program       cel.Program
	usesAggregate bool
}

// NewEvaluator creates a rule evaluator backed by the given aggregate
// calculator.
func NewEvaluator(calc *aggregate.Calculator, maxWorkers int) (*Evaluator, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing disclosure facts. CEL sees monetary values as
	// doubles; exact decimal comparison belongs in the condition tree, the
	// expression path is for structural policies (category/department logic).
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("aggregate", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("department", cel.StringType),
		cel.Variable("person_id", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:        env,
		programs:   make(map[string]*compiledRule),
		calc:       calc,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule checks a rule at creation time: condition tree shape, known
// fields and operators, aggregate config presence, and CEL compilation. A
// rule that passes validation cannot produce a configuration error at
// evaluation time.
func (e *Evaluator) ValidateRule(rule *domain.ThresholdRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ID == "" || rule.Name == "" {
		return fmt.Errorf("rule id and name are required")
	}
	if rule.Action.Priority() == 0 {
		return fmt.Errorf("rule %s: unknown action %q", rule.ID, rule.Action)
	}
	switch rule.ApplyMode {
	case domain.ApplyForwardOnly, domain.ApplyRetroactive:
	case domain.ApplyRetroactiveFromDate:
		if rule.RetroactiveFrom == nil {
			return fmt.Errorf("rule %s: RETROACTIVE_FROM_DATE requires retroactiveFrom", rule.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown apply mode %q", rule.ID, rule.ApplyMode)
	}

	if err := validateCondition(&rule.Condition); err != nil {
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	needsAggregate := conditionReferences(&rule.Condition, domain.FieldAggregate)

	if rule.Expression != "" {
		prog, err := e.compile(rule)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		needsAggregate = needsAggregate || prog.usesAggregate
	}

	if needsAggregate {
		if rule.Aggregate == nil {
			return fmt.Errorf("rule %s: references aggregate but no aggregate config is set", rule.ID)
		}
		if err := validateAggregateConfig(rule.Aggregate); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}

	return nil
}

// Evaluate runs every enabled rule against the disclosure and resolves the
// outcome. Rules run concurrently under a bounded worker pool; an aggregate
// read failure marks that rule indeterminate and surfaces as FLAG_REVIEW
// rather than as a silent non-trigger.
func (e *Evaluator) Evaluate(ctx context.Context, d *domain.Disclosure, ruleSet []*domain.ThresholdRule, asOf time.Time, includeCurrent bool) *domain.ThresholdEvaluationResult {
	res := &domain.ThresholdEvaluationResult{
		DisclosureID: d.ID,
		OrgID:        d.OrgID,
		EvaluatedAt:  time.Now().UTC(),
	}

	active := make([]*domain.ThresholdRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return res
	}

	results := make([]domain.RuleResult, len(active))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, rule := range active {
		wg.Add(1)
		go func(idx int, r *domain.ThresholdRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.EvaluateRule(ctx, d, r, asOf, includeCurrent)
		}(i, rule)
	}
	wg.Wait()

	res.RuleResults = results
	for i := range results {
		r := &results[i]
		if r.Indeterminate {
			res.IndeterminateRuleIDs = append(res.IndeterminateRuleIDs, r.RuleID)
			continue
		}
		if !r.Fired {
			continue
		}
		res.Triggered = true
		res.TriggeredRuleIDs = append(res.TriggeredRuleIDs, r.RuleID)
		if r.Action.Priority() > res.RecommendedAction.Priority() {
			res.RecommendedAction = r.Action
		}
		if r.Threshold != nil {
			if res.MaxThreshold == nil || r.Threshold.GreaterThan(*res.MaxThreshold) {
				v := *r.Threshold
				res.MaxThreshold = &v
			}
		}
	}

	// Indeterminate rules surface as FLAG_REVIEW unless a fired rule already
	// recommends something stronger.
	if len(res.IndeterminateRuleIDs) > 0 &&
		res.RecommendedAction.Priority() < domain.ActionFlagReview.Priority() {
		res.RecommendedAction = domain.ActionFlagReview
	}

	return res
}

// EvaluateRule evaluates a single rule against a disclosure.
func (e *Evaluator) EvaluateRule(ctx context.Context, d *domain.Disclosure, rule *domain.ThresholdRule, asOf time.Time, includeCurrent bool) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		OrgID:       rule.OrgID,
		Action:      rule.Action,
		Threshold:   rule.MaxConditionValue(),
	}
	defer func() { result.ProcessMs = time.Since(start).Milliseconds() }()

	// Currency-pinned rules skip disclosures declared in other currencies.
	if rule.Currency != "" && rule.Currency != d.Currency {
		return result
	}

	facts := factsFor(d)

	var prog *compiledRule
	if rule.Expression != "" {
		var err error
		if prog, err = e.compile(rule); err != nil {
			result.Indeterminate = true
			result.Error = err.Error()
			return result
		}
	}

	if conditionReferences(&rule.Condition, domain.FieldAggregate) || (prog != nil && prog.usesAggregate) {
		if rule.Aggregate == nil {
			result.Indeterminate = true
			result.Error = "aggregate referenced but not configured"
			return result
		}
		agg, err := e.calc.Compute(ctx, d.OrgID, rule.Aggregate, d, asOf, includeCurrent)
		if err != nil {
			result.Indeterminate = true
			result.Error = err.Error()
			return result
		}
		facts.aggregate = &agg.Value
		result.AggregateValue = &agg.Value
	}

	holds, err := evalCondition(&rule.Condition, facts)
	if err != nil {
		result.Indeterminate = true
		result.Error = err.Error()
		return result
	}

	if holds && prog != nil {
		ok, err := evalExpression(prog, facts)
		if err != nil {
			result.Indeterminate = true
			result.Error = err.Error()
			return result
		}
		holds = ok
	}

	result.Fired = holds
	return result
}

// SnapshotRule serializes the decision-relevant parts of a rule for the
// trigger log. Snapshots make the audit trail independent of later rule
// versions.
func SnapshotRule(rule *domain.ThresholdRule) string {
	snap := struct {
		ID         string                  `json:"id"`
		Version    int                     `json:"version"`
		Name       string                  `json:"name"`
		Condition  domain.Condition        `json:"condition"`
		Expression string                  `json:"expression,omitempty"`
		Aggregate  *domain.AggregateConfig `json:"aggregate,omitempty"`
		Action     domain.RuleAction       `json:"action"`
	}{rule.ID, rule.Version, rule.Name, rule.Condition, rule.Expression, rule.Aggregate, rule.Action}

	b, _ := json.Marshal(snap)
	return string(b)
}

type facts struct {
	value      decimal.Decimal
	aggregate  *decimal.Decimal
	category   string
	currency   string
	department string
	personID   string
	entity     string
	meta       map[string]interface{}
}

func factsFor(d *domain.Disclosure) *facts {
	return &facts{
		value:      d.BaseValue,
		category:   d.Category,
		currency:   d.Currency,
		department: d.Department,
		personID:   d.PersonID,
		entity:     d.EntityName,
		meta:       d.Metadata,
	}
}

func evalCondition(c *domain.Condition, f *facts) (bool, error) {
	if !c.IsLeaf() {
		if len(c.All) > 0 {
			for i := range c.All {
				ok, err := evalCondition(&c.All[i], f)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}
		for i := range c.Any {
			ok, err := evalCondition(&c.Any[i], f)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	switch {
	case c.Value != nil:
		actual, err := numericFact(c.Field, f)
		if err != nil {
			return false, err
		}
		return compareDecimal(actual, c.Op, *c.Value)
	case c.StringValue != nil:
		actual, err := stringFact(c.Field, f)
		if err != nil {
			return false, err
		}
		return compareEq(c.Op, actual == *c.StringValue)
	case c.BoolValue != nil:
		actual, err := boolFact(c.Field, f)
		if err != nil {
			return false, err
		}
		return compareEq(c.Op, actual == *c.BoolValue)
	default:
		return false, fmt.Errorf("condition on %q has no comparand", c.Field)
	}
}

func numericFact(field string, f *facts) (decimal.Decimal, error) {
	switch field {
	case domain.FieldValue:
		return f.value, nil
	case domain.FieldAggregate:
		if f.aggregate == nil {
			return decimal.Zero, fmt.Errorf("aggregate not computed")
		}
		return *f.aggregate, nil
	}
	if v, ok := metaFact(field, f); ok {
		switch n := v.(type) {
		case float64:
			return decimal.NewFromFloat(n), nil
		case int:
			return decimal.NewFromInt(int64(n)), nil
		case string:
			return decimal.NewFromString(n)
		}
	}
	return decimal.Zero, fmt.Errorf("unknown numeric field %q", field)
}

func stringFact(field string, f *facts) (string, error) {
	switch field {
	case domain.FieldCategory:
		return f.category, nil
	case domain.FieldCurrency:
		return f.currency, nil
	case domain.FieldDepartment:
		return f.department, nil
	}
	if v, ok := metaFact(field, f); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown string field %q", field)
}

func boolFact(field string, f *facts) (bool, error) {
	if v, ok := metaFact(field, f); ok {
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return false, fmt.Errorf("unknown boolean field %q", field)
}

// metaFact resolves "meta.<key>" fields from disclosure metadata.
func metaFact(field string, f *facts) (interface{}, bool) {
	key, ok := strings.CutPrefix(field, "meta.")
	if !ok || f.meta == nil {
		return nil, false
	}
	v, ok := f.meta[key]
	return v, ok
}

func compareDecimal(actual decimal.Decimal, op domain.Operator, expected decimal.Decimal) (bool, error) {
	cmp := actual.Cmp(expected)
	switch op {
	case domain.OpEq:
		return cmp == 0, nil
	case domain.OpNe:
		return cmp != 0, nil
	case domain.OpGt:
		return cmp > 0, nil
	case domain.OpGte:
		return cmp >= 0, nil
	case domain.OpLt:
		return cmp < 0, nil
	case domain.OpLte:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func compareEq(op domain.Operator, equal bool) (bool, error) {
	switch op {
	case domain.OpEq:
		return equal, nil
	case domain.OpNe:
		return !equal, nil
	default:
		return false, fmt.Errorf("operator %q is not valid for string/bool fields", op)
	}
}

func validateCondition(c *domain.Condition) error {
	if !c.IsLeaf() {
		if len(c.All) > 0 && len(c.Any) > 0 {
			return fmt.Errorf("condition node cannot combine all and any")
		}
		for i := range c.All {
			if err := validateCondition(&c.All[i]); err != nil {
				return err
			}
		}
		for i := range c.Any {
			if err := validateCondition(&c.Any[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("comparison is missing a field")
	}
	comparands := 0
	if c.Value != nil {
		comparands++
	}
	if c.StringValue != nil {
		comparands++
	}
	if c.BoolValue != nil {
		comparands++
	}
	if comparands != 1 {
		return fmt.Errorf("comparison on %q must have exactly one comparand", c.Field)
	}

	switch c.Op {
	case domain.OpEq, domain.OpNe:
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		if c.Value == nil {
			return fmt.Errorf("operator %q on %q requires a numeric value", c.Op, c.Field)
		}
	default:
		return fmt.Errorf("unknown operator %q on %q", c.Op, c.Field)
	}

	switch c.Field {
	case domain.FieldValue, domain.FieldAggregate:
		if c.Value == nil {
			return fmt.Errorf("field %q requires a numeric value", c.Field)
		}
	case domain.FieldCategory, domain.FieldCurrency, domain.FieldDepartment:
		if c.StringValue == nil {
			return fmt.Errorf("field %q requires a string value", c.Field)
		}
	default:
		if !strings.HasPrefix(c.Field, "meta.") {
			return fmt.Errorf("unknown field %q", c.Field)
		}
	}
	return nil
}

func validateAggregateConfig(cfg *domain.AggregateConfig) error {
	if len(cfg.Dimensions) == 0 {
		return fmt.Errorf("aggregate config requires at least one dimension")
	}
	for _, d := range cfg.Dimensions {
		switch d {
		case domain.DimPerson, domain.DimEntity, domain.DimDepartment, domain.DimCategory:
		default:
			return fmt.Errorf("unknown aggregate dimension %q", d)
		}
	}
	switch cfg.Function {
	case domain.AggSum, domain.AggCount, domain.AggAvg, domain.AggMax:
	default:
		return fmt.Errorf("unknown aggregate function %q", cfg.Function)
	}
	switch cfg.Window.Kind {
	case domain.WindowRolling:
		if cfg.Window.Days == 0 && cfg.Window.Months == 0 && cfg.Window.Years == 0 {
			return fmt.Errorf("rolling window requires a non-zero span")
		}
	case domain.WindowCalendar:
		switch cfg.Window.Period {
		case domain.PeriodMonth, domain.PeriodQuarter, domain.PeriodYear, domain.PeriodFiscalYear:
		default:
			return fmt.Errorf("unknown calendar period %q", cfg.Window.Period)
		}
	default:
		return fmt.Errorf("unknown window kind %q", cfg.Window.Kind)
	}
	return nil
}

func conditionReferences(c *domain.Condition, field string) bool {
	if c.IsLeaf() {
		return c.Field == field
	}
	for i := range c.All {
		if conditionReferences(&c.All[i], field) {
			return true
		}
	}
	for i := range c.Any {
		if conditionReferences(&c.Any[i], field) {
			return true
		}
	}
	return false
}

func evalExpression(prog *compiledRule, f *facts) (bool, error) {
	aggregate := 0.0
	if f.aggregate != nil {
		aggregate = f.aggregate.InexactFloat64()
	}
	meta := f.meta
	if meta == nil {
		meta = map[string]interface{}{}
	}

	out, _, err := prog.program.Eval(map[string]any{
		"value":      f.value.InexactFloat64(),
		"aggregate":  aggregate,
		"category":   f.category,
		"currency":   f.currency,
		"department": f.department,
		"person_id":  f.personID,
		"entity":     f.entity,
		"meta":       meta,
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool")
	}
	return bool(b), nil
}

func (e *Evaluator) compile(rule *domain.ThresholdRule) (*compiledRule, error) {
	key := fmt.Sprintf("%s@%d", rule.ID, rule.Version)

	e.mu.RLock()
	compiled, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	compiled = &compiledRule{
		program:       program,
		usesAggregate: astReferences(ast.NativeRep(), "aggregate"),
	}

	e.mu.Lock()
	e.programs[key] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// astReferences reports whether the checked expression references the named
// identifier. References come from the type checker, so an identifier inside
// a string literal does not count.
func astReferences(a *celast.AST, name string) bool {
	for _, ref := range a.ReferenceMap() {
		if ref.Name == name {
			return true
		}
	}
	return false
}
