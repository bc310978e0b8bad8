package casestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/repository"
)

func newTestStore(t *testing.T) (*Store, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-case-*.db")
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

	return New(repo), repo
}

func bundleFor(orgID string) *domain.ContextBundle {
	return &domain.ContextBundle{
		OrgID: orgID,
		Disclosure: &domain.Disclosure{
			ID:          "disc-001",
			OrgID:       orgID,
			PersonID:    "person-001",
			EntityName:  "Acme Corp",
			Category:    "gift",
			Value:       decimal.NewFromInt(600),
			BaseValue:   decimal.NewFromInt(600),
			SubmittedAt: time.Now().UTC(),
		},
	}
}

func TestCreateCase(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	orgID := "org-001"

	t.Run("FromDisclosure", func(t *testing.T) {
		caseID, err := store.CreateCase(ctx, orgID, bundleFor(orgID))
		if err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}
		if caseID != "case-disc-001" {
			t.Errorf("expected case-disc-001, got %s", caseID)
		}

		cases, err := repo.ListCaseRecords(ctx, orgID)
		if err != nil {
			t.Fatalf("ListCaseRecords failed: %v", err)
		}
		if len(cases) != 1 {
			t.Fatalf("expected 1 case, got %d", len(cases))
		}
		if cases[0].SubjectEntity != "Acme Corp" || cases[0].Status != "open" {
			t.Errorf("unexpected case record: %+v", cases[0])
		}
	})

	t.Run("RedeliveryConverges", func(t *testing.T) {
		// A retried escalation recreates the same case, not a second one.
		if _, err := store.CreateCase(ctx, orgID, bundleFor(orgID)); err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}

		cases, err := repo.ListCaseRecords(ctx, orgID)
		if err != nil {
			t.Fatalf("ListCaseRecords failed: %v", err)
		}
		if len(cases) != 1 {
			t.Errorf("expected redelivery to converge on 1 case, got %d", len(cases))
		}
	})

	t.Run("FromAlert", func(t *testing.T) {
		bundle := bundleFor(orgID)
		bundle.Alert = &domain.ConflictAlert{
			ID:            "alert-001",
			OrgID:         orgID,
			Type:          domain.ConflictVendorMatch,
			PersonID:      "person-001",
			DisclosureID:  "disc-001",
			MatchedEntity: "Acme Corporation",
		}

		caseID, err := store.CreateCase(ctx, orgID, bundle)
		if err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}
		if caseID != "case-alert-001" {
			t.Errorf("expected case-alert-001, got %s", caseID)
		}
	})

	t.Run("MissingDisclosure", func(t *testing.T) {
		if _, err := store.CreateCase(ctx, orgID, &domain.ContextBundle{OrgID: orgID}); err == nil {
			t.Error("expected error for bundle without disclosure")
		}
	})
}
