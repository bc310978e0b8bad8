package domain

import (
	"time"
)

// ConflictType identifies the detector category that produced an alert.
type ConflictType string

const (
	ConflictSelfDealing         ConflictType = "SELF_DEALING"
	ConflictVendorMatch         ConflictType = "VENDOR_MATCH"
	ConflictApprovalAuthority   ConflictType = "APPROVAL_AUTHORITY"
	ConflictPriorCase           ConflictType = "PRIOR_CASE"
	ConflictHRMatch             ConflictType = "HR_MATCH"
	ConflictGiftAggregate       ConflictType = "GIFT_AGGREGATE"
	ConflictRelationshipPattern ConflictType = "RELATIONSHIP_PATTERN"
)

// Severity buckets an alert for triage.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertStatus is the disposition state of a ConflictAlert.
// OPEN -> DISMISSED and OPEN -> ESCALATED are the only transitions.
type AlertStatus string

const (
	AlertOpen      AlertStatus = "OPEN"
	AlertDismissed AlertStatus = "DISMISSED"
	AlertEscalated AlertStatus = "ESCALATED"
)

// MatchedKind names what record an alert was matched against.
type MatchedKind string

const (
	MatchedDisclosure MatchedKind = "disclosure"
	MatchedVendor     MatchedKind = "vendor"
	MatchedHRRecord   MatchedKind = "hr"
	MatchedCase       MatchedKind = "case"
	MatchedAggregate  MatchedKind = "aggregate"
)

// DismissCategory is the fixed closed set of dismissal reasons.
type DismissCategory string

const (
	DismissDifferentEntity      DismissCategory = "FALSE_MATCH_DIFFERENT_ENTITY"
	DismissNameCollision        DismissCategory = "NAME_COLLISION"
	DismissAlreadyReviewed      DismissCategory = "ALREADY_REVIEWED"
	DismissPreApprovedException DismissCategory = "PRE_APPROVED_EXCEPTION"
	DismissBelowThreshold       DismissCategory = "BELOW_THRESHOLD"
	DismissOther                DismissCategory = "OTHER"
)

// ValidDismissCategory reports whether c is in the closed set.
func ValidDismissCategory(c DismissCategory) bool {
	switch c {
	case DismissDifferentEntity, DismissNameCollision, DismissAlreadyReviewed,
		DismissPreApprovedException, DismissBelowThreshold, DismissOther:
		return true
	}
	return false
}

// ConflictCandidate is a detector's raw output before exclusion filtering and
// persistence.
type ConflictCandidate struct {
	Type       ConflictType `json:"type"`
	Confidence int          `json:"confidence"` // 0-100
	Severity   Severity     `json:"severity"`

	MatchedKind   MatchedKind `json:"matchedKind"`
	MatchedID     string      `json:"matchedId,omitempty"`
	MatchedEntity string      `json:"matchedEntity"`

	Reason string `json:"reason"`

	// RelatedDisclosureIDs lists disclosures contributing to the match
	// (aggregate contributors, pattern members).
	RelatedDisclosureIDs []string `json:"relatedDisclosureIds,omitempty"`
}

// ConflictAlert is a persisted candidate conflict pending disposition.
// Never hard-deleted.
type ConflictAlert struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	Type       ConflictType `json:"type"`
	Severity   Severity     `json:"severity"`
	Confidence int          `json:"confidence"`
	Status     AlertStatus  `json:"status"`

	// DisclosureID is the single triggering disclosure.
	DisclosureID string `json:"disclosureId"`
	PersonID     string `json:"personId"`

	MatchedKind   MatchedKind `json:"matchedKind"`
	MatchedID     string      `json:"matchedId,omitempty"`
	MatchedEntity string      `json:"matchedEntity"`

	Reason               string   `json:"reason,omitempty"`
	RelatedDisclosureIDs []string `json:"relatedDisclosureIds,omitempty"`

	// Disposition
	DismissCategory DismissCategory `json:"dismissCategory,omitempty"`
	DismissedAt     *time.Time      `json:"dismissedAt,omitempty"`
	CaseID          string          `json:"caseId,omitempty"`
	EscalatedAt     *time.Time      `json:"escalatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ExclusionScope controls how long an exclusion suppresses matches.
type ExclusionScope string

const (
	ScopePermanent   ExclusionScope = "PERMANENT"
	ScopeTimeLimited ExclusionScope = "TIME_LIMITED"
	ScopeOneTime     ExclusionScope = "ONE_TIME"
)

// ConflictExclusion suppresses future candidates matching a normalized
// (source person, matched entity) pair for a detector type. A ONE_TIME
// exclusion is consumed by its first suppression.
type ConflictExclusion struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	// PersonID is the submitter whose matches are suppressed.
	PersonID string `json:"personId"`

	// MatchedEntity is stored normalized (NormalizeEntityName).
	MatchedEntity string `json:"matchedEntity"`

	// DetectorType restricts the exclusion to one detector. Empty suppresses
	// the pair for every detector.
	DetectorType ConflictType `json:"detectorType,omitempty"`

	Scope     ExclusionScope `json:"scope"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Consumed  bool           `json:"consumed"`

	// CreatedFromCategory records the dismissal category that produced the
	// exclusion, for audit.
	CreatedFromCategory DismissCategory `json:"createdFromCategory,omitempty"`
	CreatedFromAlertID  string          `json:"createdFromAlertId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Active reports whether the exclusion still suppresses matches at now.
func (e *ConflictExclusion) Active(now time.Time) bool {
	if e.Consumed {
		return false
	}
	if e.Scope == ScopeTimeLimited && e.ExpiresAt != nil && now.After(*e.ExpiresAt) {
		return false
	}
	return true
}

// Covers reports whether the exclusion's criteria match a candidate raised
// for the given submitter.
func (e *ConflictExclusion) Covers(personID string, c *ConflictCandidate) bool {
	if e.PersonID != personID {
		return false
	}
	if e.MatchedEntity != NormalizeEntityName(c.MatchedEntity) {
		return false
	}
	if e.DetectorType != "" && e.DetectorType != c.Type {
		return false
	}
	return true
}

// Escalation is a pending case-creation request. Rows are drained by the
// escalation retry loop, so a case request survives a crashed collaborator
// call. At-least-once: the external case subsystem deduplicates on AlertID /
// TriggerID.
type Escalation struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`

	// Exactly one of these is set.
	AlertID   string `json:"alertId,omitempty"`
	TriggerID string `json:"triggerId,omitempty"`

	Status    string    `json:"status"` // PENDING | SENT
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	CaseID    string    `json:"caseId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Escalation statuses.
const (
	EscalationPending = "PENDING"
	EscalationSent    = "SENT"
)
