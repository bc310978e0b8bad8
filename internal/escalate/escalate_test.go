package escalate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/bus"
	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/repository"
)

// flakyCreator fails its first failUntil calls, then creates cases with
// deterministic ids.
type flakyCreator struct {
	calls     int
	failUntil int
}

func (f *flakyCreator) CreateCase(ctx context.Context, orgID string, bundle *domain.ContextBundle) (string, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return "", errors.New("case subsystem unavailable")
	}
	if bundle.Alert != nil {
		return "case-" + bundle.Alert.ID, nil
	}
	return "case-" + bundle.Disclosure.ID, nil
}

func newTestTrigger(t *testing.T, creator domain.CaseCreator) (*Trigger, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-esc-*.db")
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

	calc := aggregate.NewCalculator(repo, 1)
	return NewTrigger(repo, creator, bus.NewChannelBus(10), calc), repo
}

func seedAlert(t *testing.T, repo domain.Repository, id string, status domain.AlertStatus) {
	t.Helper()
	ctx := context.Background()
	orgID := "org-001"
	now := time.Now().UTC()

	d := &domain.Disclosure{
		ID:          "disc-" + id,
		OrgID:       orgID,
		PersonID:    "person-001",
		EntityName:  "Acme Corp",
		Category:    "gift",
		Value:       decimal.NewFromInt(100),
		BaseValue:   decimal.NewFromInt(100),
		Currency:    "USD",
		SubmittedAt: now,
		CreatedAt:   now,
	}
	if err := repo.SaveDisclosure(ctx, orgID, d); err != nil {
		t.Fatalf("SaveDisclosure failed: %v", err)
	}

	a := &domain.ConflictAlert{
		ID:            id,
		OrgID:         orgID,
		Type:          domain.ConflictVendorMatch,
		Severity:      domain.SeverityHigh,
		Confidence:    100,
		Status:        status,
		DisclosureID:  d.ID,
		PersonID:      "person-001",
		MatchedKind:   domain.MatchedVendor,
		MatchedEntity: "Acme Corporation",
		CreatedAt:     now,
	}
	if err := repo.SaveAlert(ctx, orgID, a); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}
}

func TestEscalateAlert(t *testing.T) {
	ctx := context.Background()
	orgID := "org-001"

	t.Run("OpenAlertEscalates", func(t *testing.T) {
		trigger, repo := newTestTrigger(t, &flakyCreator{})
		seedAlert(t, repo, "alert-001", domain.AlertOpen)

		caseID, err := trigger.EscalateAlert(ctx, orgID, "alert-001")
		if err != nil {
			t.Fatalf("EscalateAlert failed: %v", err)
		}
		if caseID != "case-alert-001" {
			t.Errorf("expected case-alert-001, got %s", caseID)
		}

		alert, err := repo.GetAlert(ctx, orgID, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if alert.Status != domain.AlertEscalated || alert.CaseID != caseID {
			t.Errorf("expected ESCALATED with case backlink, got %s / %q", alert.Status, alert.CaseID)
		}
	})

	t.Run("DismissedAlertRejected", func(t *testing.T) {
		trigger, repo := newTestTrigger(t, &flakyCreator{})
		seedAlert(t, repo, "alert-002", domain.AlertDismissed)

		_, err := trigger.EscalateAlert(ctx, orgID, "alert-002")
		if !errors.Is(err, repository.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("UnknownAlertNotQueued", func(t *testing.T) {
		trigger, repo := newTestTrigger(t, &flakyCreator{})

		_, err := trigger.EscalateAlert(ctx, orgID, "alert-missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		pending, err := repo.ListPendingEscalations(ctx, 10)
		if err != nil {
			t.Fatalf("ListPendingEscalations failed: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("a rejected escalation must not be queued, got %d pending", len(pending))
		}
	})
}

func TestEscalationRetry(t *testing.T) {
	ctx := context.Background()
	orgID := "org-001"

	creator := &flakyCreator{failUntil: 1}
	trigger, repo := newTestTrigger(t, creator)
	seedAlert(t, repo, "alert-010", domain.AlertOpen)

	// First attempt fails at the collaborator: the alert stays OPEN and the
	// escalation stays queued.
	_, err := trigger.EscalateAlert(ctx, orgID, "alert-010")
	if !errors.Is(err, ErrCasePending) {
		t.Fatalf("expected ErrCasePending, got %v", err)
	}

	alert, err := repo.GetAlert(ctx, orgID, "alert-010")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if alert.Status != domain.AlertOpen {
		t.Errorf("failed escalation must leave the alert OPEN, got %s", alert.Status)
	}

	pending, err := repo.ListPendingEscalations(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingEscalations failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("expected 1 pending escalation with 1 attempt, got %+v", pending)
	}

	// The drain loop delivers it on the next pass.
	trigger.DrainPending(ctx, 10)

	alert, err = repo.GetAlert(ctx, orgID, "alert-010")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if alert.Status != domain.AlertEscalated {
		t.Errorf("expected ESCALATED after retry, got %s", alert.Status)
	}

	pending, err = repo.ListPendingEscalations(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingEscalations failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("delivered escalation must leave the queue, got %d pending", len(pending))
	}
}

func TestEscalateTrigger(t *testing.T) {
	ctx := context.Background()
	orgID := "org-001"

	trigger, repo := newTestTrigger(t, &flakyCreator{})

	now := time.Now().UTC()
	d := &domain.Disclosure{
		ID:          "disc-100",
		OrgID:       orgID,
		PersonID:    "person-001",
		EntityName:  "Acme Corp",
		Category:    "gift",
		Value:       decimal.NewFromInt(900),
		BaseValue:   decimal.NewFromInt(900),
		Currency:    "USD",
		SubmittedAt: now,
		CreatedAt:   now,
	}
	if err := repo.SaveDisclosure(ctx, orgID, d); err != nil {
		t.Fatalf("SaveDisclosure failed: %v", err)
	}

	trig := &domain.TriggerLog{
		ID:           "trig-100",
		OrgID:        orgID,
		DisclosureID: d.ID,
		RuleID:       "rule-001",
		RuleVersion:  1,
		RuleSnapshot: `{"id":"rule-001","version":1}`,
		Action:       domain.ActionCreateCase,
		CreatedAt:    now,
	}
	if err := repo.SaveTriggerLog(ctx, orgID, trig); err != nil {
		t.Fatalf("SaveTriggerLog failed: %v", err)
	}

	caseID, err := trigger.EscalateTrigger(ctx, orgID, "trig-100")
	if err != nil {
		t.Fatalf("EscalateTrigger failed: %v", err)
	}
	if caseID != "case-disc-100" {
		t.Errorf("expected case-disc-100, got %s", caseID)
	}

	// The case id is written back to the trigger log.
	got, err := repo.GetTriggerLog(ctx, orgID, "trig-100")
	if err != nil {
		t.Fatalf("GetTriggerLog failed: %v", err)
	}
	if got.CaseID != caseID {
		t.Errorf("expected trigger backlink %s, got %q", caseID, got.CaseID)
	}
}

func TestEscalateTriggerUnknownNotQueued(t *testing.T) {
	ctx := context.Background()
	orgID := "org-001"

	trigger, repo := newTestTrigger(t, &flakyCreator{})

	_, err := trigger.EscalateTrigger(ctx, orgID, "trig-missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// An undeliverable escalation must never reach the queue, or the drain
	// loop would retry it forever.
	pending, err := repo.ListPendingEscalations(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingEscalations failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("a rejected escalation must not be queued, got %d pending", len(pending))
	}
}

func TestBuildBundleRelatedDisclosures(t *testing.T) {
	ctx := context.Background()
	orgID := "org-001"

	trigger, repo := newTestTrigger(t, &flakyCreator{})

	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		d := &domain.Disclosure{
			ID:          fmt.Sprintf("disc-%d", i),
			OrgID:       orgID,
			PersonID:    "person-001",
			EntityName:  "Acme Corp",
			Category:    "gift",
			Value:       decimal.NewFromInt(200),
			BaseValue:   decimal.NewFromInt(200),
			Currency:    "USD",
			SubmittedAt: now.AddDate(0, 0, -i),
			CreatedAt:   now,
		}
		if err := repo.SaveDisclosure(ctx, orgID, d); err != nil {
			t.Fatalf("SaveDisclosure failed: %v", err)
		}
		ids = append(ids, d.ID)
	}

	// An aggregate-backed trigger: the bundle must pull in the other
	// contributing disclosures via the snapshot's aggregate config.
	trig := &domain.TriggerLog{
		ID:           "trig-200",
		OrgID:        orgID,
		DisclosureID: ids[0],
		RuleID:       "rule-agg",
		RuleVersion:  1,
		RuleSnapshot: `{"id":"rule-agg","version":1,"aggregate":{"dimensions":["person","entity"],"window":{"kind":"rolling","days":365},"function":"SUM","category":"gift"}}`,
		Action:       domain.ActionCreateCase,
		CreatedAt:    now,
	}
	if err := repo.SaveTriggerLog(ctx, orgID, trig); err != nil {
		t.Fatalf("SaveTriggerLog failed: %v", err)
	}

	esc := &domain.Escalation{ID: "esc-200", OrgID: orgID, TriggerID: "trig-200"}
	bundle, err := trigger.buildBundle(ctx, esc)
	if err != nil {
		t.Fatalf("buildBundle failed: %v", err)
	}

	if bundle.Disclosure == nil || bundle.Disclosure.ID != ids[0] {
		t.Fatalf("expected triggering disclosure %s, got %+v", ids[0], bundle.Disclosure)
	}
	if len(bundle.Triggers) != 1 {
		t.Errorf("expected 1 trigger in bundle, got %d", len(bundle.Triggers))
	}
	if len(bundle.RelatedDisclosures) != 2 {
		t.Errorf("expected 2 related contributors, got %d", len(bundle.RelatedDisclosures))
	}
}
