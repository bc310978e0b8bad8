package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/escalate"
	"github.com/opensource-compliance/kestrel/internal/exclusion"
	"github.com/opensource-compliance/kestrel/internal/orgdata"
	"github.com/opensource-compliance/kestrel/internal/pipeline"
	"github.com/opensource-compliance/kestrel/internal/repository"
	"github.com/opensource-compliance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	eval    *rules.Evaluator
	retro   *rules.RetroRunner
	pipe    *pipeline.Pipeline
	esc     *escalate.Trigger
	orgdata *orgdata.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eval *rules.Evaluator, retro *rules.RetroRunner, pipe *pipeline.Pipeline, esc *escalate.Trigger, org *orgdata.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		eval:    eval,
		retro:   retro,
		pipe:    pipe,
		esc:     esc,
		orgdata: org,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps repository sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

// DisclosureRequest is the request body for POST /disclosures.
type DisclosureRequest struct {
	ID         string                 `json:"id,omitempty"`
	PersonID   string                 `json:"personId"`
	Department string                 `json:"department,omitempty"`
	EntityName string                 `json:"entityName"`
	Category   string                 `json:"category"`
	Value      decimal.Decimal        `json:"value"`
	Currency   string                 `json:"currency"`
	BaseValue  *decimal.Decimal       `json:"baseValue,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DisclosureResponse is the response for POST /disclosures.
type DisclosureResponse struct {
	DisclosureID string                            `json:"disclosureId"`
	Evaluation   *domain.ThresholdEvaluationResult `json:"evaluation"`
	Detection    *domain.DetectionResult           `json:"detection"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`

	// Warning is set when the disclosure was stored but compliance processing
	// did not complete. Acceptance never depends on processing.
	Warning string `json:"warning,omitempty"`
}

// SubmitDisclosure handles POST /disclosures: the disclosure is stored and
// run through threshold evaluation and conflict detection in-line.
func (h *Handler) SubmitDisclosure(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	traceID := GetTraceID(ctx)

	var req DisclosureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.PersonID == "" || req.EntityName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "personId and entityName are required",
		})
		return
	}
	if req.Category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "category is required",
		})
		return
	}
	if req.Value.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "value must not be negative",
		})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	baseValue := req.Value
	if req.BaseValue != nil {
		baseValue = *req.BaseValue
	}

	now := time.Now().UTC()
	d := &domain.Disclosure{
		ID:          id,
		OrgID:       orgID,
		PersonID:    req.PersonID,
		Department:  req.Department,
		EntityName:  req.EntityName,
		Category:    req.Category,
		Value:       req.Value,
		Currency:    currency,
		BaseValue:   baseValue,
		SubmittedAt: now,
		CreatedAt:   now,
		Metadata:    req.Metadata,
	}

	if err := h.repo.SaveDisclosure(ctx, orgID, d); err != nil {
		slog.Error("failed to save disclosure", "id", d.ID, "error", err)
		writeError(w, err, "failed to save disclosure")
		return
	}

	resp := DisclosureResponse{DisclosureID: d.ID}

	// The disclosure is stored; a processing failure degrades the response
	// rather than failing the submission.
	evalResult, detection, err := h.pipe.ProcessDisclosure(ctx, d)
	if err != nil {
		slog.Error("disclosure processing failed", "id", d.ID, "error", err)
		resp.Warning = "compliance processing did not complete"
	} else {
		resp.Evaluation = evalResult
		resp.Detection = detection
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// GetDisclosure retrieves a disclosure by ID.
func (h *Handler) GetDisclosure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	id := chi.URLParam(r, "id")

	d, err := h.repo.GetDisclosure(ctx, orgID, id)
	if err != nil {
		writeError(w, err, "failed to get disclosure")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// EntityTimeline lists all disclosures naming an entity, newest first. The
// entity path segment is normalized before matching, so any spelling that
// normalizes the same way returns the same timeline.
func (h *Handler) EntityTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	name := chi.URLParam(r, "name")

	disclosures, err := h.repo.ListDisclosures(ctx, orgID, domain.DisclosureFilter{
		Entity: domain.NormalizeEntityName(name),
	})
	if err != nil {
		writeError(w, err, "failed to list disclosures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity":      domain.NormalizeEntityName(name),
		"disclosures": disclosures,
		"count":       len(disclosures),
	})
}

// ListRules returns the latest version of every rule for the organization.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	ruleSet, err := h.repo.ListRules(ctx, orgID)
	if err != nil {
		writeError(w, err, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

// GetRule retrieves the latest version of a rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, orgID, ruleID)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// RuleRequest is the request body for PUT /rules/{id}.
type RuleRequest struct {
	Name            string                  `json:"name"`
	Description     string                  `json:"description,omitempty"`
	Condition       domain.Condition        `json:"condition"`
	Expression      string                  `json:"expression,omitempty"`
	Aggregate       *domain.AggregateConfig `json:"aggregate,omitempty"`
	Action          domain.RuleAction       `json:"action"`
	ApplyMode       domain.ApplyMode        `json:"applyMode"`
	RetroactiveFrom *time.Time              `json:"retroactiveFrom,omitempty"`
	Currency        string                  `json:"currency,omitempty"`
	Enabled         bool                    `json:"enabled"`
}

// PutRule creates or updates a threshold rule. A rule that has already
// produced a recorded outcome is locked, so the update is stored as a new
// version; otherwise the current version is replaced in place.
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	version := 1
	existing, err := h.repo.GetRule(ctx, orgID, ruleID)
	switch {
	case err == nil:
		version = existing.Version
		if existing.Locked {
			version = existing.Version + 1
		}
	case errors.Is(err, repository.ErrNotFound):
		// first version
	default:
		writeError(w, err, "failed to load rule")
		return
	}

	rule := &domain.ThresholdRule{
		ID:              ruleID,
		OrgID:           orgID,
		Name:            req.Name,
		Description:     req.Description,
		Version:         version,
		Condition:       req.Condition,
		Expression:      req.Expression,
		Aggregate:       req.Aggregate,
		Action:          req.Action,
		ApplyMode:       req.ApplyMode,
		RetroactiveFrom: req.RetroactiveFrom,
		Currency:        req.Currency,
		Enabled:         req.Enabled,
	}

	if err := h.eval.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, orgID, rule); err != nil {
		writeError(w, err, "failed to save rule")
		return
	}

	slog.Info("rule saved", "id", rule.ID, "org_id", orgID, "version", rule.Version)
	writeJSON(w, http.StatusCreated, rule)
}

// RetroRequest bounds a retroactive preview or apply.
type RetroRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to,omitempty"`
}

// PreviewRule returns the disclosures a retroactive rule would trigger on,
// without writing anything.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	var req RetroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, orgID, ruleID)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}

	hits, err := h.retro.Preview(ctx, orgID, rule, req.From, req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ruleId":  rule.ID,
		"version": rule.Version,
		"hits":    hits,
		"count":   len(hits),
	})
}

// ApplyRule runs a confirmed retroactive application. Every fired disclosure
// gets a trigger-log row exactly as post-submission evaluation would write,
// and CREATE_CASE outcomes are escalated through the same queue.
func (h *Handler) ApplyRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	var req RetroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, orgID, ruleID)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}

	locked := rule.Locked
	onTrigger := func(ctx context.Context, d *domain.Disclosure, res domain.RuleResult) error {
		log := &domain.TriggerLog{
			ID:             uuid.New().String(),
			OrgID:          orgID,
			DisclosureID:   d.ID,
			RuleID:         rule.ID,
			RuleVersion:    rule.Version,
			RuleSnapshot:   rules.SnapshotRule(rule),
			AggregateValue: res.AggregateValue,
			Action:         res.Action,
			CreatedAt:      time.Now().UTC(),
		}
		if err := h.repo.SaveTriggerLog(ctx, orgID, log); err != nil {
			return err
		}
		if !locked {
			if err := h.repo.LockRule(ctx, orgID, rule.ID, rule.Version); err == nil {
				locked = true
			}
		}
		if res.Action == domain.ActionCreateCase {
			if _, err := h.esc.EscalateTrigger(ctx, orgID, log.ID); err != nil {
				slog.Warn("retroactive case creation deferred",
					"trigger_id", log.ID, "rule_id", rule.ID, "error", err)
			}
		}
		return nil
	}

	triggered, err := h.retro.Apply(ctx, orgID, rule, req.From, req.To, onTrigger)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ruleId":    rule.ID,
		"version":   rule.Version,
		"triggered": triggered,
	})
}

// ListAlerts lists conflict alerts, filtered by query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	q := r.URL.Query()
	filter := domain.AlertFilter{
		Status: domain.AlertStatus(q.Get("status")),
		Type:   domain.ConflictType(q.Get("type")),
		Person: q.Get("personId"),
	}
	if entity := q.Get("entity"); entity != "" {
		filter.Entity = domain.NormalizeEntityName(entity)
	}

	alerts, err := h.repo.ListAlerts(ctx, orgID, filter)
	if err != nil {
		writeError(w, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	id := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, orgID, id)
	if err != nil {
		writeError(w, err, "failed to get alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// DismissRequest is the request body for POST /alerts/{id}/dismiss. An
// exclusion scope is optional; when present, the dismissal also records an
// exclusion suppressing future matches of the same pair.
type DismissRequest struct {
	Category       domain.DismissCategory `json:"category"`
	ExclusionScope domain.ExclusionScope  `json:"exclusionScope,omitempty"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"`
}

// AlertDismissedEvent is the payload published on dismissal.
type AlertDismissedEvent struct {
	AlertID     string                 `json:"alertId"`
	Category    domain.DismissCategory `json:"category"`
	ExclusionID string                 `json:"exclusionId,omitempty"`
}

// DismissAlert dismisses an OPEN alert with a categorized reason.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	alertID := chi.URLParam(r, "id")

	var req DismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if !domain.ValidDismissCategory(req.Category) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown dismissal category",
		})
		return
	}

	// Load the alert first: the exclusion is built from its matched pair, and
	// a failed build should not leave the alert dismissed without it.
	alert, err := h.repo.GetAlert(ctx, orgID, alertID)
	if err != nil {
		writeError(w, err, "failed to get alert")
		return
	}

	var excl *domain.ConflictExclusion
	if req.ExclusionScope != "" {
		excl, err = exclusion.FromDismissal(orgID, alert, req.Category, req.ExclusionScope, req.ExpiresAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		excl.ID = uuid.New().String()
	}

	if err := h.repo.DismissAlert(ctx, orgID, alertID, req.Category); err != nil {
		writeError(w, err, "failed to dismiss alert")
		return
	}

	exclusionID := ""
	if excl != nil {
		if err := h.repo.SaveExclusion(ctx, orgID, excl); err != nil {
			slog.Error("failed to save exclusion from dismissal",
				"alert_id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "alert dismissed but exclusion could not be recorded",
			})
			return
		}
		exclusionID = excl.ID
	}

	payload, _ := json.Marshal(AlertDismissedEvent{
		AlertID:     alertID,
		Category:    req.Category,
		ExclusionID: exclusionID,
	})
	if err := h.bus.Publish(ctx, orgID, domain.TopicAlertDismissed, payload); err != nil {
		slog.Error("failed to publish alert.dismissed", "alert_id", alertID, "error", err)
	}

	slog.Info("alert dismissed",
		"alert_id", alertID, "org_id", orgID,
		"category", req.Category, "exclusion_id", exclusionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alertId":     alertID,
		"status":      domain.AlertDismissed,
		"exclusionId": exclusionID,
	})
}

// EscalateAlert escalates an OPEN alert into a case. When the case subsystem
// is unreachable the request stays queued and the retry loop delivers it; the
// client gets 202 with a pending marker rather than an error.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	alertID := chi.URLParam(r, "id")

	caseID, err := h.esc.EscalateAlert(ctx, orgID, alertID)
	if errors.Is(err, escalate.ErrCasePending) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"alertId": alertID,
			"status":  "PENDING",
		})
		return
	}
	if err != nil {
		writeError(w, err, "failed to escalate alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alertId": alertID,
		"status":  domain.AlertEscalated,
		"caseId":  caseID,
	})
}

// ListExclusions lists exclusions for a (person, entity) pair.
func (h *Handler) ListExclusions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	q := r.URL.Query()
	personID := q.Get("personId")
	entity := domain.NormalizeEntityName(q.Get("entity"))

	exclusions, err := h.repo.ListExclusions(ctx, orgID, personID, entity)
	if err != nil {
		writeError(w, err, "failed to list exclusions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exclusions": exclusions,
		"count":      len(exclusions),
	})
}

// ExclusionRequest is the request body for POST /exclusions.
type ExclusionRequest struct {
	PersonID      string                `json:"personId"`
	MatchedEntity string                `json:"matchedEntity"`
	DetectorType  domain.ConflictType   `json:"detectorType,omitempty"`
	Scope         domain.ExclusionScope `json:"scope"`
	ExpiresAt     *time.Time            `json:"expiresAt,omitempty"`
}

// CreateExclusion records an exclusion directly, outside any dismissal.
func (h *Handler) CreateExclusion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var req ExclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.PersonID == "" || req.MatchedEntity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "personId and matchedEntity are required",
		})
		return
	}
	switch req.Scope {
	case domain.ScopePermanent, domain.ScopeOneTime:
	case domain.ScopeTimeLimited:
		if req.ExpiresAt == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "TIME_LIMITED exclusion requires expiresAt",
			})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown exclusion scope",
		})
		return
	}

	excl := &domain.ConflictExclusion{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		PersonID:      req.PersonID,
		MatchedEntity: domain.NormalizeEntityName(req.MatchedEntity),
		DetectorType:  req.DetectorType,
		Scope:         req.Scope,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.repo.SaveExclusion(ctx, orgID, excl); err != nil {
		writeError(w, err, "failed to save exclusion")
		return
	}
	writeJSON(w, http.StatusCreated, excl)
}

// PutVendor upserts a vendor registry row and invalidates the cached
// reference data.
func (h *Handler) PutVendor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var v domain.Vendor
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if v.ID == "" || v.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}
	v.OrgID = orgID

	if err := h.repo.SaveVendor(ctx, orgID, &v); err != nil {
		writeError(w, err, "failed to save vendor")
		return
	}
	h.orgdata.Invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, &v)
}

// PutEmployee upserts an employee directory row.
func (h *Handler) PutEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var e domain.Employee
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if e.ID == "" || e.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}
	e.OrgID = orgID

	if err := h.repo.SaveEmployee(ctx, orgID, &e); err != nil {
		writeError(w, err, "failed to save employee")
		return
	}
	h.orgdata.Invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, &e)
}

// PutAuthority upserts a spend-approval authority record.
func (h *Handler) PutAuthority(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var a domain.ApprovalAuthority
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if a.ID == "" || a.PersonID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and personId are required",
		})
		return
	}
	a.OrgID = orgID

	if err := h.repo.SaveApprovalAuthority(ctx, orgID, &a); err != nil {
		writeError(w, err, "failed to save approval authority")
		return
	}
	writeJSON(w, http.StatusCreated, &a)
}

// PutCaseRecord upserts a prior case record used for history matching.
func (h *Handler) PutCaseRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var c domain.CaseRecord
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if c.ID == "" || c.SubjectEntity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and subjectEntity are required",
		})
		return
	}
	c.OrgID = orgID

	if err := h.repo.SaveCaseRecord(ctx, orgID, &c); err != nil {
		writeError(w, err, "failed to save case record")
		return
	}
	h.orgdata.Invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, &c)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}
