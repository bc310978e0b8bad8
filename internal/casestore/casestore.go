// Package casestore is the embedded case backend used when no external case
// subsystem is configured. Escalations land as case records in the engine's
// own store, where the prior-case detector picks them up on later
// disclosures.
package casestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

// Store implements domain.CaseCreator over the repository. Case IDs derive
// from the alert or disclosure identity, so at-least-once escalation delivery
// converges on a single case per subject.
type Store struct {
	repo domain.Repository
}

// New creates an embedded case store.
func New(repo domain.Repository) *Store {
	return &Store{repo: repo}
}

// CreateCase persists an open case record built from the context bundle and
// returns its id. Calling it again for the same alert or disclosure rewrites
// the same record.
func (s *Store) CreateCase(ctx context.Context, orgID string, bundle *domain.ContextBundle) (string, error) {
	if bundle == nil || bundle.Disclosure == nil {
		return "", fmt.Errorf("case bundle is missing its disclosure")
	}

	id := "case-" + bundle.Disclosure.ID
	subjectEntity := bundle.Disclosure.EntityName
	if bundle.Alert != nil {
		id = "case-" + bundle.Alert.ID
		subjectEntity = bundle.Alert.MatchedEntity
	}

	rec := &domain.CaseRecord{
		ID:            id,
		OrgID:         orgID,
		SubjectEntity: subjectEntity,
		SubjectPerson: bundle.Disclosure.PersonID,
		Status:        "open",
		OpenedAt:      time.Now().UTC(),
	}
	if err := s.repo.SaveCaseRecord(ctx, orgID, rec); err != nil {
		return "", fmt.Errorf("failed to save case record: %w", err)
	}

	slog.Info("case opened",
		"case_id", id,
		"org_id", orgID,
		"subject_entity", subjectEntity,
		"subject_person", bundle.Disclosure.PersonID,
	)
	return id, nil
}
