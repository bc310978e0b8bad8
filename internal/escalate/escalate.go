// Package escalate turns severe compliance outcomes into case-creation
// requests against the external case subsystem.
package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/repository"
)

// ErrCasePending is returned when case creation could not complete now; the
// escalation stays queued and the retry loop will deliver it.
var ErrCasePending = errors.New("case creation pending retry")

// Trigger assembles context bundles and requests case creation. Requests are
// written to a pending-escalation queue before the first attempt, so a
// crashed or unavailable collaborator can never lose one: delivery is
// at-least-once and the case subsystem deduplicates on alert/trigger id.
type Trigger struct {
	repo    domain.Repository
	creator domain.CaseCreator
	bus     domain.EventBus
	calc    *aggregate.Calculator
}

// NewTrigger creates an escalation trigger.
func NewTrigger(repo domain.Repository, creator domain.CaseCreator, bus domain.EventBus, calc *aggregate.Calculator) *Trigger {
	return &Trigger{
		repo:    repo,
		creator: creator,
		bus:     bus,
		calc:    calc,
	}
}

// EscalateAlert requests case creation for an OPEN conflict alert. On success
// the alert transitions to ESCALATED with the case id written back. On
// collaborator failure the alert stays OPEN, ErrCasePending is returned, and
// the queued escalation is retried.
func (t *Trigger) EscalateAlert(ctx context.Context, orgID, alertID string) (string, error) {
	alert, err := t.repo.GetAlert(ctx, orgID, alertID)
	if err != nil {
		return "", err
	}
	if alert.Status != domain.AlertOpen {
		return "", fmt.Errorf("alert %s is %s: %w", alertID, alert.Status, repository.ErrInvalidTransition)
	}

	esc := &domain.Escalation{
		ID:      uuid.New().String(),
		OrgID:   orgID,
		AlertID: alertID,
		Status:  domain.EscalationPending,
	}
	if err := t.repo.EnqueueEscalation(ctx, orgID, esc); err != nil {
		return "", fmt.Errorf("failed to enqueue escalation: %w", err)
	}
	return t.attempt(ctx, esc)
}

// EscalateTrigger requests case creation for a threshold trigger-log entry.
// The entry must exist before anything is queued; a bad id would otherwise
// become a pending escalation that can never deliver.
func (t *Trigger) EscalateTrigger(ctx context.Context, orgID, triggerID string) (string, error) {
	if _, err := t.repo.GetTriggerLog(ctx, orgID, triggerID); err != nil {
		return "", err
	}

	esc := &domain.Escalation{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		TriggerID: triggerID,
		Status:    domain.EscalationPending,
	}
	if err := t.repo.EnqueueEscalation(ctx, orgID, esc); err != nil {
		return "", fmt.Errorf("failed to enqueue escalation: %w", err)
	}
	return t.attempt(ctx, esc)
}

// Start runs the pending-escalation drain loop until ctx is canceled.
func (t *Trigger) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.DrainPending(ctx, 50)
		}
	}
}

// DrainPending retries up to limit queued escalations once each.
func (t *Trigger) DrainPending(ctx context.Context, limit int) {
	pending, err := t.repo.ListPendingEscalations(ctx, limit)
	if err != nil {
		slog.Error("failed to list pending escalations", "error", err)
		return
	}
	for _, esc := range pending {
		if _, err := t.attempt(ctx, esc); err != nil {
			slog.Warn("escalation retry failed",
				"escalation_id", esc.ID,
				"attempts", esc.Attempts+1,
				"error", err,
			)
		}
	}
}

func (t *Trigger) attempt(ctx context.Context, esc *domain.Escalation) (string, error) {
	bundle, err := t.buildBundle(ctx, esc)
	if err != nil {
		_ = t.repo.MarkEscalationFailed(ctx, esc.OrgID, esc.ID, err.Error())
		return "", fmt.Errorf("%w: %v", ErrCasePending, err)
	}

	caseID, err := t.creator.CreateCase(ctx, esc.OrgID, bundle)
	if err != nil {
		_ = t.repo.MarkEscalationFailed(ctx, esc.OrgID, esc.ID, err.Error())
		return "", fmt.Errorf("%w: %v", ErrCasePending, err)
	}

	// Write the case id back for traceability.
	if esc.AlertID != "" {
		if err := t.repo.EscalateAlert(ctx, esc.OrgID, esc.AlertID, caseID); err != nil &&
			!errors.Is(err, repository.ErrInvalidTransition) {
			// The case exists; keep the escalation pending so the backlink
			// write is retried.
			_ = t.repo.MarkEscalationFailed(ctx, esc.OrgID, esc.ID, err.Error())
			return "", fmt.Errorf("%w: %v", ErrCasePending, err)
		}
	}
	if esc.TriggerID != "" {
		if err := t.repo.SetTriggerCase(ctx, esc.OrgID, esc.TriggerID, caseID); err != nil {
			_ = t.repo.MarkEscalationFailed(ctx, esc.OrgID, esc.ID, err.Error())
			return "", fmt.Errorf("%w: %v", ErrCasePending, err)
		}
	}

	if err := t.repo.MarkEscalationSent(ctx, esc.OrgID, esc.ID, caseID); err != nil {
		slog.Error("failed to mark escalation sent",
			"escalation_id", esc.ID,
			"case_id", caseID,
			"error", err,
		)
	}

	payload, _ := json.Marshal(map[string]string{
		"caseId":    caseID,
		"alertId":   esc.AlertID,
		"triggerId": esc.TriggerID,
	})
	if err := t.bus.Publish(ctx, esc.OrgID, domain.TopicCaseRequested, payload); err != nil {
		slog.Warn("failed to publish case.requested", "case_id", caseID, "error", err)
	}

	slog.Info("escalation delivered",
		"escalation_id", esc.ID,
		"org_id", esc.OrgID,
		"case_id", caseID,
	)
	return caseID, nil
}

// buildBundle assembles the full investigator context: the triggering
// disclosure, the fired rules with their recorded aggregate values, every
// disclosure that contributed to those aggregates, and the submitter's HR
// profile.
func (t *Trigger) buildBundle(ctx context.Context, esc *domain.Escalation) (*domain.ContextBundle, error) {
	bundle := &domain.ContextBundle{OrgID: esc.OrgID}

	var disclosureID string
	relatedIDs := map[string]bool{}

	if esc.AlertID != "" {
		alert, err := t.repo.GetAlert(ctx, esc.OrgID, esc.AlertID)
		if err != nil {
			return nil, fmt.Errorf("failed to load alert: %w", err)
		}
		bundle.Alert = alert
		disclosureID = alert.DisclosureID
		for _, id := range alert.RelatedDisclosureIDs {
			relatedIDs[id] = true
		}
	} else {
		trig, err := t.repo.GetTriggerLog(ctx, esc.OrgID, esc.TriggerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trigger log: %w", err)
		}
		disclosureID = trig.DisclosureID
	}

	d, err := t.repo.GetDisclosure(ctx, esc.OrgID, disclosureID)
	if err != nil {
		return nil, fmt.Errorf("failed to load disclosure: %w", err)
	}
	bundle.Disclosure = d

	triggers, err := t.repo.ListTriggerLogs(ctx, esc.OrgID, disclosureID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger logs: %w", err)
	}
	bundle.Triggers = triggers

	// Recompute aggregate contributors from each trigger's rule snapshot so
	// the bundle lists every disclosure behind the recorded value.
	for _, trig := range triggers {
		var snap struct {
			Aggregate *domain.AggregateConfig `json:"aggregate"`
		}
		if err := json.Unmarshal([]byte(trig.RuleSnapshot), &snap); err != nil || snap.Aggregate == nil {
			continue
		}
		res, err := t.calc.Compute(ctx, esc.OrgID, snap.Aggregate, d, d.SubmittedAt, true)
		if err != nil {
			slog.Warn("failed to recompute aggregate contributors",
				"trigger_id", trig.ID,
				"error", err,
			)
			continue
		}
		for _, c := range res.Contributors {
			if c.ID != d.ID {
				relatedIDs[c.ID] = true
			}
		}
	}

	for id := range relatedIDs {
		rd, err := t.repo.GetDisclosure(ctx, esc.OrgID, id)
		if err != nil {
			slog.Warn("related disclosure missing from bundle", "id", id, "error", err)
			continue
		}
		bundle.RelatedDisclosures = append(bundle.RelatedDisclosures, rd)
	}

	if emp, err := t.repo.GetEmployee(ctx, esc.OrgID, d.PersonID); err == nil {
		bundle.Profile = emp
	}

	return bundle, nil
}
