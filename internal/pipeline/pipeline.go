// Package pipeline runs submitted disclosures through threshold evaluation,
// conflict detection, and escalation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-compliance/kestrel/internal/detect"
	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/escalate"
	"github.com/opensource-compliance/kestrel/internal/exclusion"
	"github.com/opensource-compliance/kestrel/internal/metrics"
	"github.com/opensource-compliance/kestrel/internal/rules"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Pipeline is the engine's evaluation path. Threshold rules and conflict
// detection run on the same submission; both halves write their outcomes
// before any event is published.
type Pipeline struct {
	repo     domain.Repository
	bus      domain.EventBus
	eval     *rules.Evaluator
	registry *detect.Registry
	org      domain.OrganizationContext
	excl     *exclusion.Filter
	esc      *escalate.Trigger

	subscriptions []domain.Subscription
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a pipeline over the given collaborators.
func New(repo domain.Repository, bus domain.EventBus, eval *rules.Evaluator, registry *detect.Registry, org domain.OrganizationContext, excl *exclusion.Filter, esc *escalate.Trigger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		repo:     repo,
		bus:      bus,
		eval:     eval,
		registry: registry,
		org:      org,
		excl:     excl,
		esc:      esc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the pipeline to disclosure-submitted events for the given
// organizations.
func (p *Pipeline) Start(orgIDs []string) error {
	for _, orgID := range orgIDs {
		sub, err := p.bus.Subscribe(p.ctx, orgID, domain.TopicDisclosureSubmitted, p.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe for org %s: %w", orgID, err)
		}
		p.mu.Lock()
		p.subscriptions = append(p.subscriptions, sub)
		p.mu.Unlock()
	}

	slog.Info("pipeline started", "org_count", len(orgIDs))
	return nil
}

// Stop unsubscribes the pipeline.
func (p *Pipeline) Stop() error {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	p.subscriptions = nil

	slog.Info("pipeline stopped")
	return nil
}

// SubmittedMessage is the payload of TopicDisclosureSubmitted.
type SubmittedMessage struct {
	DisclosureID string `json:"disclosureId"`
	OrgID        string `json:"orgId"`
}

func (p *Pipeline) handleMessage(ctx context.Context, msg *domain.Message) error {
	var sm SubmittedMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil {
		slog.Error("failed to parse disclosure message", "message_id", msg.ID, "error", err)
		return err
	}

	orgID := sm.OrgID
	if orgID == "" {
		orgID = msg.OrgID
	}

	d, err := p.repo.GetDisclosure(ctx, orgID, sm.DisclosureID)
	if err != nil {
		slog.Error("failed to load submitted disclosure",
			"disclosure_id", sm.DisclosureID,
			"org_id", orgID,
			"error", err,
		)
		return err
	}

	_, _, err = p.ProcessDisclosure(ctx, d)
	return err
}

// ProcessDisclosure runs the full evaluation for one stored disclosure:
// threshold rules against rolling aggregates, then the detector registry with
// exclusion filtering, then outcome persistence, events, and auto-escalation.
// The rule set and exclusion list are loaded from the store for this
// organization on every call.
func (p *Pipeline) ProcessDisclosure(ctx context.Context, d *domain.Disclosure) (*domain.ThresholdEvaluationResult, *domain.DetectionResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.ProcessDisclosure")
	span.SetAttributes(
		attribute.String("disclosure.id", d.ID),
		attribute.String("org.id", d.OrgID),
	)
	defer span.End()

	ruleSet, err := p.repo.ListRules(ctx, d.OrgID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rule set: %w", err)
	}

	evalResult := p.eval.Evaluate(ctx, d, ruleSet, d.SubmittedAt, true)

	rulesByID := make(map[string]*domain.ThresholdRule, len(ruleSet))
	for _, r := range ruleSet {
		rulesByID[r.ID] = r
	}

	// Record one trigger-log row per fired rule, snapshotting the rule as
	// evaluated, and lock the rule version now that it has an outcome.
	for _, rr := range evalResult.RuleResults {
		if !rr.Fired {
			continue
		}
		rule := rulesByID[rr.RuleID]
		if rule == nil {
			continue
		}
		log := &domain.TriggerLog{
			ID:             uuid.New().String(),
			OrgID:          d.OrgID,
			DisclosureID:   d.ID,
			RuleID:         rr.RuleID,
			RuleVersion:    rr.RuleVersion,
			RuleSnapshot:   rules.SnapshotRule(rule),
			AggregateValue: rr.AggregateValue,
			Action:         rr.Action,
			CreatedAt:      time.Now().UTC(),
		}
		if err := p.repo.SaveTriggerLog(ctx, d.OrgID, log); err != nil {
			return nil, nil, fmt.Errorf("failed to record trigger: %w", err)
		}
		if !rule.Locked {
			if err := p.repo.LockRule(ctx, d.OrgID, rule.ID, rule.Version); err != nil {
				slog.Warn("failed to lock rule after first outcome",
					"rule_id", rule.ID, "version", rule.Version, "error", err)
			} else {
				rule.Locked = true
			}
		}
		metrics.RulesTriggered.WithLabelValues(d.OrgID, string(rr.Action)).Inc()

		if rr.Action == domain.ActionCreateCase {
			if _, err := p.esc.EscalateTrigger(ctx, d.OrgID, log.ID); err != nil {
				// Queued; the retry loop delivers it.
				slog.Warn("case creation deferred",
					"trigger_id", log.ID, "rule_id", rr.RuleID, "error", err)
			} else {
				metrics.EscalationsDelivered.WithLabelValues(d.OrgID).Inc()
			}
		}
	}

	// Conflict detection over the same submission.
	detection := p.registry.Run(ctx, d, p.org)
	for _, f := range detection.FailedDetectors {
		metrics.DetectorFailures.WithLabelValues(string(f.Type)).Inc()
	}

	kept, suppressed := p.excl.Apply(ctx, d.OrgID, d, detection.Candidates)
	detection.Candidates = kept
	detection.Suppressed = suppressed
	metrics.AlertsSuppressed.WithLabelValues(d.OrgID).Add(float64(suppressed))

	var alertIDs []string
	for _, c := range kept {
		alert := &domain.ConflictAlert{
			ID:                   uuid.New().String(),
			OrgID:                d.OrgID,
			Type:                 c.Type,
			Severity:             c.Severity,
			Confidence:           c.Confidence,
			Status:               domain.AlertOpen,
			DisclosureID:         d.ID,
			PersonID:             d.PersonID,
			MatchedKind:          c.MatchedKind,
			MatchedID:            c.MatchedID,
			MatchedEntity:        c.MatchedEntity,
			Reason:               c.Reason,
			RelatedDisclosureIDs: c.RelatedDisclosureIDs,
			CreatedAt:            time.Now().UTC(),
		}
		if err := p.repo.SaveAlert(ctx, d.OrgID, alert); err != nil {
			return evalResult, detection, fmt.Errorf("failed to persist alert: %w", err)
		}
		alertIDs = append(alertIDs, alert.ID)
		metrics.AlertsCreated.WithLabelValues(d.OrgID, string(c.Type)).Inc()

		if c.Severity == domain.SeverityCritical {
			if _, err := p.esc.EscalateAlert(ctx, d.OrgID, alert.ID); err != nil {
				slog.Warn("critical alert escalation deferred",
					"alert_id", alert.ID, "error", err)
			} else {
				metrics.EscalationsDelivered.WithLabelValues(d.OrgID).Inc()
			}
		}
	}

	p.publishOutcomes(ctx, d, evalResult, alertIDs)

	metrics.DisclosuresProcessed.WithLabelValues(d.OrgID).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	slog.Info("disclosure processed",
		"disclosure_id", d.ID,
		"org_id", d.OrgID,
		"triggered", evalResult.Triggered,
		"action", evalResult.RecommendedAction,
		"alerts", len(alertIDs),
		"suppressed", suppressed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return evalResult, detection, nil
}

func (p *Pipeline) publishOutcomes(ctx context.Context, d *domain.Disclosure, evalResult *domain.ThresholdEvaluationResult, alertIDs []string) {
	if evalResult.Triggered {
		payload, _ := json.Marshal(domain.ThresholdTriggeredEvent{
			DisclosureID: d.ID,
			RuleIDs:      evalResult.TriggeredRuleIDs,
			Action:       evalResult.RecommendedAction,
		})
		if err := p.bus.Publish(ctx, d.OrgID, domain.TopicThresholdTriggered, payload); err != nil {
			slog.Error("failed to publish threshold.triggered", "disclosure_id", d.ID, "error", err)
		}
	}

	if len(alertIDs) > 0 {
		payload, _ := json.Marshal(domain.ConflictDetectedEvent{
			DisclosureID: d.ID,
			AlertIDs:     alertIDs,
		})
		if err := p.bus.Publish(ctx, d.OrgID, domain.TopicConflictDetected, payload); err != nil {
			slog.Error("failed to publish conflict.detected", "disclosure_id", d.ID, "error", err)
		}
	}
}
