package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleResult is the outcome of evaluating one threshold rule against one
// disclosure.
type RuleResult struct {
	RuleID      string `json:"ruleId"`
	RuleVersion int    `json:"ruleVersion"`
	OrgID       string `json:"orgId"`

	Fired bool `json:"fired"`

	// AggregateValue is the computed aggregate, when the rule has one.
	AggregateValue *decimal.Decimal `json:"aggregateValue,omitempty"`

	// Threshold is the rule's largest numeric comparand, for context display.
	Threshold *decimal.Decimal `json:"threshold,omitempty"`

	Action RuleAction `json:"action,omitempty"`

	// Indeterminate marks rules whose aggregate could not be computed. An
	// indeterminate rule surfaces as FLAG_REVIEW rather than "no trigger".
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Error         string `json:"error,omitempty"`

	ProcessMs int64 `json:"processMs"`
}

// ThresholdEvaluationResult is the resolved outcome across a rule set.
type ThresholdEvaluationResult struct {
	DisclosureID string `json:"disclosureId"`
	OrgID        string `json:"orgId"`

	Triggered        bool     `json:"triggered"`
	TriggeredRuleIDs []string `json:"triggeredRuleIds"`

	// MaxThreshold is the largest threshold among fired rules. Context
	// display only, never decision logic.
	MaxThreshold *decimal.Decimal `json:"maxThreshold,omitempty"`

	RecommendedAction RuleAction `json:"recommendedAction,omitempty"`

	// IndeterminateRuleIDs lists rules whose aggregates failed to compute.
	IndeterminateRuleIDs []string `json:"indeterminateRuleIds,omitempty"`

	RuleResults []RuleResult `json:"ruleResults"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// TriggerLog is one append-only row per fired rule evaluation. Never mutated
// after insert except for the case-id backlink written on escalation.
type TriggerLog struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	DisclosureID string `json:"disclosureId"`
	RuleID       string `json:"ruleId"`
	RuleVersion  int    `json:"ruleVersion"`

	// RuleSnapshot is the rule's condition/aggregate config serialized at
	// evaluation time, preserving the audit trail across rule versions.
	RuleSnapshot string `json:"ruleSnapshot"`

	AggregateValue *decimal.Decimal `json:"aggregateValue,omitempty"`
	Action         RuleAction       `json:"action"`

	// CaseID is written back when the trigger escalates into a case.
	CaseID string `json:"caseId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// DetectorFailure records one detector that errored or timed out. Failures
// are isolated: the rest of the registry's results still stand.
type DetectorFailure struct {
	Type  ConflictType `json:"type"`
	Error string       `json:"error"`
}

// DetectionResult is the post-exclusion outcome of the detector registry.
type DetectionResult struct {
	DisclosureID string `json:"disclosureId"`
	OrgID        string `json:"orgId"`

	Candidates []ConflictCandidate `json:"candidates"`

	// Suppressed counts candidates removed by the exclusion filter.
	Suppressed int `json:"suppressed"`

	CompletedDetectors []ConflictType    `json:"completedDetectors"`
	FailedDetectors    []DetectorFailure `json:"failedDetectors,omitempty"`

	ProcessMs int64 `json:"processMs"`
}

// PreviewHit is one disclosure a retroactive rule would have triggered on.
// Preview computes these without writing trigger logs or alerts.
type PreviewHit struct {
	DisclosureID   string           `json:"disclosureId"`
	PersonID       string           `json:"personId"`
	EntityName     string           `json:"entityName"`
	AggregateValue *decimal.Decimal `json:"aggregateValue,omitempty"`
	SubmittedAt    time.Time        `json:"submittedAt"`
}

// ContextBundle is the full record set attached to an auto-created case so an
// investigator can trace the decision.
type ContextBundle struct {
	OrgID string `json:"orgId"`

	// Disclosure is the triggering disclosure.
	Disclosure *Disclosure `json:"disclosure"`

	// Alert is present when escalating a conflict alert.
	Alert *ConflictAlert `json:"alert,omitempty"`

	// Triggers are the fired rules with their recorded aggregate values.
	Triggers []*TriggerLog `json:"triggers,omitempty"`

	// RelatedDisclosures contributed to the aggregates or the pattern match.
	RelatedDisclosures []*Disclosure `json:"relatedDisclosures,omitempty"`

	// Profile is the submitter's HR record, when resolvable.
	Profile *Employee `json:"profile,omitempty"`
}
