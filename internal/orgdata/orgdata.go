// Package orgdata serves organization reference data to the detectors: the
// vendor registry, the employee directory, approval authorities, and prior
// case records.
package orgdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

const (
	keyVendors   = "orgdata:vendors"
	keyEmployees = "orgdata:employees"
	keyCases     = "orgdata:cases"
)

// Service implements domain.OrganizationContext over the repository with a
// read-through cache. Reference data changes rarely and is read on every
// detection run, so a short TTL takes most of the load off the store. A cache
// failure falls through to the repository.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// New creates an organization-data service. ttl <= 0 disables expiry tuning
// and uses a 5 minute default.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// ListVendors returns the approved vendor registry.
func (s *Service) ListVendors(ctx context.Context, orgID string) ([]*domain.Vendor, error) {
	var vendors []*domain.Vendor
	if s.cacheGet(ctx, orgID, keyVendors, &vendors) {
		return vendors, nil
	}

	vendors, err := s.repo.ListVendors(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, orgID, keyVendors, vendors)
	return vendors, nil
}

// ListEmployees returns the employee directory.
func (s *Service) ListEmployees(ctx context.Context, orgID string) ([]*domain.Employee, error) {
	var employees []*domain.Employee
	if s.cacheGet(ctx, orgID, keyEmployees, &employees) {
		return employees, nil
	}

	employees, err := s.repo.ListEmployees(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, orgID, keyEmployees, employees)
	return employees, nil
}

// GetEmployee resolves a person id to an HR record. Not cached: single-row
// lookups are cheap and staleness here would misattribute departments.
func (s *Service) GetEmployee(ctx context.Context, orgID string, personID string) (*domain.Employee, error) {
	return s.repo.GetEmployee(ctx, orgID, personID)
}

// ApprovalAuthorities returns the spend-approval records held by a person.
func (s *Service) ApprovalAuthorities(ctx context.Context, orgID string, personID string) ([]*domain.ApprovalAuthority, error) {
	return s.repo.ListApprovalAuthorities(ctx, orgID, personID)
}

// ListCases returns prior case records for entity matching.
func (s *Service) ListCases(ctx context.Context, orgID string) ([]*domain.CaseRecord, error) {
	var cases []*domain.CaseRecord
	if s.cacheGet(ctx, orgID, keyCases, &cases) {
		return cases, nil
	}

	cases, err := s.repo.ListCaseRecords(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, orgID, keyCases, cases)
	return cases, nil
}

// Invalidate drops the cached reference data for an organization. Called when
// vendors, employees, or cases are written through the API.
func (s *Service) Invalidate(ctx context.Context, orgID string) {
	if s.cache == nil {
		return
	}
	for _, key := range []string{keyVendors, keyEmployees, keyCases} {
		if err := s.cache.Delete(ctx, orgID, key); err != nil {
			slog.Warn("failed to invalidate orgdata cache", "org_id", orgID, "key", key, "error", err)
		}
	}
}

func (s *Service) cacheGet(ctx context.Context, orgID, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, orgID, key)
	if err != nil {
		slog.Warn("orgdata cache read failed", "org_id", orgID, "key", key, "error", err)
		return false
	}
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("orgdata cache entry corrupt", "org_id", orgID, "key", key, "error", err)
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, orgID, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orgID, key, data, s.ttl); err != nil {
		slog.Warn("orgdata cache write failed", "org_id", orgID, "key", key, "error", err)
	}
}
