package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleAction is the action a threshold rule recommends when it fires.
type RuleAction string

const (
	ActionCreateCase      RuleAction = "CREATE_CASE"
	ActionRequireApproval RuleAction = "REQUIRE_APPROVAL"
	ActionFlagReview      RuleAction = "FLAG_REVIEW"
	ActionNotify          RuleAction = "NOTIFY"
)

// Priority orders actions for resolution when multiple rules fire.
// Higher wins.
func (a RuleAction) Priority() int {
	switch a {
	case ActionCreateCase:
		return 4
	case ActionRequireApproval:
		return 3
	case ActionFlagReview:
		return 2
	case ActionNotify:
		return 1
	default:
		return 0
	}
}

// ApplyMode controls whether a rule looks backwards over existing disclosures.
type ApplyMode string

const (
	ApplyForwardOnly         ApplyMode = "FORWARD_ONLY"
	ApplyRetroactive         ApplyMode = "RETROACTIVE"
	ApplyRetroactiveFromDate ApplyMode = "RETROACTIVE_FROM_DATE"
)

// Operator is a comparison operator in a rule condition.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// Condition is a typed condition tree node. Exactly one of All, Any, or the
// comparison triple (Field/Op + one value) is set per node. All children must
// hold for an All node, any child for an Any node.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`

	Field string   `json:"field,omitempty"`
	Op    Operator `json:"op,omitempty"`

	// Value is the numeric comparand for numeric fields.
	Value *decimal.Decimal `json:"value,omitempty"`
	// StringValue is the comparand for string fields (eq/ne only).
	StringValue *string `json:"stringValue,omitempty"`
	// BoolValue is the comparand for boolean fields (eq/ne only).
	BoolValue *bool `json:"boolValue,omitempty"`
}

// IsLeaf reports whether the node is a comparison rather than a combinator.
func (c *Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0
}

// Fact field names a condition may reference.
const (
	FieldValue      = "value"     // disclosure base value
	FieldAggregate  = "aggregate" // computed aggregate, requires AggregateConfig
	FieldCategory   = "category"
	FieldCurrency   = "currency" // declared currency
	FieldDepartment = "department"
)

// AggregateFunc selects how disclosure history is reduced to one number.
type AggregateFunc string

const (
	AggSum   AggregateFunc = "SUM"
	AggCount AggregateFunc = "COUNT"
	AggAvg   AggregateFunc = "AVG"
	AggMax   AggregateFunc = "MAX"
)

// Dimension is one axis the aggregate is sliced along. The triggering
// disclosure supplies the key value for each configured dimension.
type Dimension string

const (
	DimPerson     Dimension = "person"
	DimEntity     Dimension = "entity"
	DimDepartment Dimension = "department"
	DimCategory   Dimension = "category"
)

// WindowKind distinguishes rolling windows from calendar periods.
type WindowKind string

const (
	WindowRolling  WindowKind = "rolling"
	WindowCalendar WindowKind = "calendar"
)

// CalendarPeriod names a calendar window anchored to the as-of date.
type CalendarPeriod string

const (
	PeriodMonth      CalendarPeriod = "month"
	PeriodQuarter    CalendarPeriod = "quarter"
	PeriodYear       CalendarPeriod = "year"
	PeriodFiscalYear CalendarPeriod = "fiscal_year"
)

// Window describes the time range of an aggregate.
type Window struct {
	Kind WindowKind `json:"kind"`

	// Rolling windows: at least one of these is non-zero.
	Days   int `json:"days,omitempty"`
	Months int `json:"months,omitempty"`
	Years  int `json:"years,omitempty"`

	// Calendar windows.
	Period CalendarPeriod `json:"period,omitempty"`
}

// AggregateConfig describes the aggregate a rule evaluates against.
type AggregateConfig struct {
	Dimensions []Dimension   `json:"dimensions"`
	Window     Window        `json:"window"`
	Function   AggregateFunc `json:"function"`

	// Category restricts the aggregate to disclosures of this category even
	// when DimCategory is not a grouping dimension. Empty means all.
	Category string `json:"category,omitempty"`
}

// ThresholdRule is an organization-scoped threshold policy. Once a rule has
// been evaluated against a disclosure and produced a recorded outcome it is
// locked: edits must create a new version so the trigger log's snapshots keep
// their meaning.
type ThresholdRule struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`

	// Condition is the typed condition tree evaluated against the facts.
	Condition Condition `json:"condition"`

	// Expression is an optional CEL expression AND-ed with Condition, for
	// policies the tree cannot express. Validated at rule-creation time.
	Expression string `json:"expression,omitempty"`

	// Aggregate is required when the condition references "aggregate".
	Aggregate *AggregateConfig `json:"aggregate,omitempty"`

	Action    RuleAction `json:"action"`
	ApplyMode ApplyMode  `json:"applyMode"`

	// RetroactiveFrom bounds RETROACTIVE_FROM_DATE application.
	RetroactiveFrom *time.Time `json:"retroactiveFrom,omitempty"`

	// Currency restricts the rule to disclosures declared in this currency.
	// Empty means the rule compares BaseValue regardless of declared currency.
	Currency string `json:"currency,omitempty"`

	Enabled bool `json:"enabled"`

	// Locked is set the first time the rule produces a recorded outcome.
	Locked bool `json:"locked"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// MaxConditionValue returns the largest numeric comparand in the condition
// tree. Used to report maxThreshold on fired rules for context display.
func (r *ThresholdRule) MaxConditionValue() *decimal.Decimal {
	return maxConditionValue(&r.Condition)
}

func maxConditionValue(c *Condition) *decimal.Decimal {
	var max *decimal.Decimal
	consider := func(v *decimal.Decimal) {
		if v == nil {
			return
		}
		if max == nil || v.GreaterThan(*max) {
			vv := *v
			max = &vv
		}
	}
	if c.IsLeaf() {
		consider(c.Value)
		return max
	}
	for i := range c.All {
		consider(maxConditionValue(&c.All[i]))
	}
	for i := range c.Any {
		consider(maxConditionValue(&c.Any[i]))
	}
	return max
}
