package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Vendor is one row of the approved vendor registry.
type Vendor struct {
	ID     string `json:"id"`
	OrgID  string `json:"orgId"`
	Name   string `json:"name"`
	Status string `json:"status"` // "approved", "suspended", ...
}

// Employee is one row of the employee directory.
type Employee struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Active     bool   `json:"active"`
}

// ApprovalAuthority records that a person holds spend-approval power over a
// vendor or a department.
type ApprovalAuthority struct {
	ID       string `json:"id"`
	OrgID    string `json:"orgId"`
	PersonID string `json:"personId"`

	// One of VendorName / Department is set.
	VendorName string `json:"vendorName,omitempty"`
	Department string `json:"department,omitempty"`

	// Limit is the approval ceiling, zero meaning unlimited.
	Limit decimal.Decimal `json:"limit"`
}

// CaseRecord is a prior compliance case subject, for history matching.
type CaseRecord struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"orgId"`
	SubjectEntity string    `json:"subjectEntity"`
	SubjectPerson string    `json:"subjectPerson,omitempty"`
	Status        string    `json:"status"`
	OpenedAt      time.Time `json:"openedAt"`
}

// OrganizationContext is the narrow query surface detectors use to
// cross-reference a disclosure against organization data. Implementations
// must scope every query to the given organization.
type OrganizationContext interface {
	// ListVendors returns the approved vendor registry.
	ListVendors(ctx context.Context, orgID string) ([]*Vendor, error)

	// ListEmployees returns the employee directory.
	ListEmployees(ctx context.Context, orgID string) ([]*Employee, error)

	// GetEmployee resolves a person id to an HR record.
	GetEmployee(ctx context.Context, orgID string, personID string) (*Employee, error)

	// ApprovalAuthorities returns the spend-approval records held by a person.
	ApprovalAuthorities(ctx context.Context, orgID string, personID string) ([]*ApprovalAuthority, error)

	// ListCases returns prior case records for entity matching.
	ListCases(ctx context.Context, orgID string) ([]*CaseRecord, error)
}

// CaseCreator is the external case subsystem's creation interface. CreateCase
// must be idempotent on the bundle's alert/trigger identity so at-least-once
// escalation delivery cannot create duplicate cases.
type CaseCreator interface {
	CreateCase(ctx context.Context, orgID string, bundle *ContextBundle) (caseID string, err error)
}
