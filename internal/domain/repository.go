package domain

import (
	"context"
	"time"
)

// DisclosureFilter bounds an aggregate or timeline query. Zero-value fields
// are not applied.
type DisclosureFilter struct {
	PersonID   string
	Entity     string // normalized entity name
	Department string
	Category   string
	Currency   string

	// Window [From, To]; To doubles as the as-of timestamp so concurrent
	// submissions for the same person cannot be double-counted.
	From time.Time
	To   time.Time
}

// AlertFilter bounds alert listing.
type AlertFilter struct {
	Status AlertStatus
	Entity string // normalized, matches MatchedEntity
	Person string
	Type   ConflictType
	Limit  int
}

// Repository defines the interface for data persistence.
// All methods require orgID for strict per-organization isolation.
type Repository interface {
	// Disclosure operations
	SaveDisclosure(ctx context.Context, orgID string, d *Disclosure) error
	GetDisclosure(ctx context.Context, orgID string, id string) (*Disclosure, error)
	ListDisclosures(ctx context.Context, orgID string, f DisclosureFilter) ([]*Disclosure, error)

	// Threshold rule operations
	SaveRule(ctx context.Context, orgID string, rule *ThresholdRule) error
	GetRule(ctx context.Context, orgID string, ruleID string) (*ThresholdRule, error)
	ListRules(ctx context.Context, orgID string) ([]*ThresholdRule, error)
	// LockRule marks a rule immutable after its first recorded outcome.
	LockRule(ctx context.Context, orgID string, ruleID string, version int) error

	// Trigger log: append-only, plus the case-id backlink on escalation.
	SaveTriggerLog(ctx context.Context, orgID string, log *TriggerLog) error
	GetTriggerLog(ctx context.Context, orgID string, id string) (*TriggerLog, error)
	ListTriggerLogs(ctx context.Context, orgID string, disclosureID string) ([]*TriggerLog, error)
	SetTriggerCase(ctx context.Context, orgID string, triggerID string, caseID string) error

	// Conflict alert operations. Alerts are never deleted; DismissAlert and
	// EscalateAlert succeed only from OPEN (ErrInvalidTransition otherwise).
	SaveAlert(ctx context.Context, orgID string, a *ConflictAlert) error
	GetAlert(ctx context.Context, orgID string, id string) (*ConflictAlert, error)
	ListAlerts(ctx context.Context, orgID string, f AlertFilter) ([]*ConflictAlert, error)
	DismissAlert(ctx context.Context, orgID string, alertID string, category DismissCategory) error
	EscalateAlert(ctx context.Context, orgID string, alertID string, caseID string) error

	// Exclusion operations. ConsumeExclusion atomically marks a ONE_TIME
	// exclusion used; it returns ErrExclusionConsumed when another
	// suppression won the race.
	SaveExclusion(ctx context.Context, orgID string, e *ConflictExclusion) error
	ListExclusions(ctx context.Context, orgID string, personID string, matchedEntity string) ([]*ConflictExclusion, error)
	ConsumeExclusion(ctx context.Context, orgID string, exclusionID string) error

	// Escalation queue, drained by the retry loop.
	EnqueueEscalation(ctx context.Context, orgID string, e *Escalation) error
	ListPendingEscalations(ctx context.Context, limit int) ([]*Escalation, error)
	MarkEscalationSent(ctx context.Context, orgID string, id string, caseID string) error
	MarkEscalationFailed(ctx context.Context, orgID string, id string, attemptErr string) error

	// Organization data (vendor registry, directory, authorities, cases).
	SaveVendor(ctx context.Context, orgID string, v *Vendor) error
	ListVendors(ctx context.Context, orgID string) ([]*Vendor, error)
	SaveEmployee(ctx context.Context, orgID string, e *Employee) error
	ListEmployees(ctx context.Context, orgID string) ([]*Employee, error)
	GetEmployee(ctx context.Context, orgID string, personID string) (*Employee, error)
	SaveApprovalAuthority(ctx context.Context, orgID string, a *ApprovalAuthority) error
	ListApprovalAuthorities(ctx context.Context, orgID string, personID string) ([]*ApprovalAuthority, error)
	SaveCaseRecord(ctx context.Context, orgID string, c *CaseRecord) error
	ListCaseRecords(ctx context.Context, orgID string) ([]*CaseRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
