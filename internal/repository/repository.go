// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-compliance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when an alert disposition is attempted
	// from a state other than OPEN.
	ErrInvalidTransition = errors.New("invalid alert state transition")

	// ErrExclusionConsumed is returned when a ONE_TIME exclusion was already
	// used by a concurrent suppression.
	ErrExclusionConsumed = errors.New("exclusion already consumed")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDisclosure stores a disclosure with organization isolation.
func (r *SQLRepository) SaveDisclosure(ctx context.Context, orgID string, d *domain.Disclosure) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(d.Metadata)

	query := `
		INSERT INTO disclosures (
			id, org_id, person_id, department, entity_name, entity_normalized,
			category, value, currency, base_value, submitted_at, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, orgID, d.PersonID, d.Department,
		d.EntityName, d.NormalizedEntity(),
		d.Category, d.Value.String(), d.Currency, d.BaseValue.String(),
		d.SubmittedAt, d.CreatedAt, string(metadata),
	)
	return err
}

// GetDisclosure retrieves a disclosure by ID with organization isolation.
func (r *SQLRepository) GetDisclosure(ctx context.Context, orgID string, id string) (*domain.Disclosure, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, person_id, department, entity_name,
			   category, value, currency, base_value, submitted_at, created_at, metadata
		FROM disclosures
		WHERE org_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), orgID, id)
	d, err := scanDisclosure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDisclosures retrieves disclosures matching the filter, newest first.
// The filter's To bound doubles as the as-of timestamp for aggregate reads.
func (r *SQLRepository) ListDisclosures(ctx context.Context, orgID string, f domain.DisclosureFilter) ([]*domain.Disclosure, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, person_id, department, entity_name,
			   category, value, currency, base_value, submitted_at, created_at, metadata
		FROM disclosures
		WHERE org_id = ?
	`
	args := []interface{}{orgID}

	if f.PersonID != "" {
		query += " AND person_id = ?"
		args = append(args, f.PersonID)
	}
	if f.Entity != "" {
		query += " AND entity_normalized = ?"
		args = append(args, f.Entity)
	}
	if f.Department != "" {
		query += " AND department = ?"
		args = append(args, f.Department)
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Currency != "" {
		query += " AND currency = ?"
		args = append(args, f.Currency)
	}
	if !f.From.IsZero() {
		query += " AND submitted_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += " AND submitted_at <= ?"
		args = append(args, f.To)
	}
	query += " ORDER BY submitted_at DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disclosures []*domain.Disclosure
	for rows.Next() {
		d, err := scanDisclosure(rows)
		if err != nil {
			return nil, err
		}
		disclosures = append(disclosures, d)
	}
	return disclosures, rows.Err()
}

// SaveRule stores a threshold rule version with organization isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, orgID string, rule *domain.ThresholdRule) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}
	var aggregateJSON interface{}
	if rule.Aggregate != nil {
		raw, err := json.Marshal(rule.Aggregate)
		if err != nil {
			return fmt.Errorf("failed to encode aggregate config: %w", err)
		}
		aggregateJSON = string(raw)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	locked := 0
	if rule.Locked {
		locked = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO threshold_rules (
			id, org_id, version, name, description, condition, expression,
			aggregate, action, apply_mode, retroactive_from, currency,
			enabled, locked, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, org_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			condition = excluded.condition,
			expression = excluded.expression,
			aggregate = excluded.aggregate,
			action = excluded.action,
			apply_mode = excluded.apply_mode,
			retroactive_from = excluded.retroactive_from,
			currency = excluded.currency,
			enabled = excluded.enabled,
			locked = excluded.locked,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, orgID, rule.Version, rule.Name, rule.Description,
		string(condition), rule.Expression, aggregateJSON,
		rule.Action, rule.ApplyMode, rule.RetroactiveFrom, rule.Currency,
		enabled, locked, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves the latest version of a rule with organization isolation.
func (r *SQLRepository) GetRule(ctx context.Context, orgID string, ruleID string) (*domain.ThresholdRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := ruleSelectColumns + `
		FROM threshold_rules
		WHERE org_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), orgID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves the latest version of every rule for an organization.
func (r *SQLRepository) ListRules(ctx context.Context, orgID string) ([]*domain.ThresholdRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := ruleSelectColumns + `
		FROM threshold_rules t
		WHERE org_id = ?
		  AND version = (
			SELECT MAX(version) FROM threshold_rules
			WHERE org_id = t.org_id AND id = t.id
		  )
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ThresholdRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// LockRule marks a rule version immutable after its first recorded outcome.
func (r *SQLRepository) LockRule(ctx context.Context, orgID string, ruleID string, version int) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE threshold_rules
		SET locked = 1, updated_at = ?
		WHERE org_id = ? AND id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), orgID, ruleID, version)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTriggerLog appends a trigger-log row. Rows are never mutated after
// insert except for the case-id backlink.
func (r *SQLRepository) SaveTriggerLog(ctx context.Context, orgID string, log *domain.TriggerLog) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO trigger_log (
			id, org_id, disclosure_id, rule_id, rule_version,
			rule_snapshot, aggregate_value, action, case_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		log.ID, orgID, log.DisclosureID, log.RuleID, log.RuleVersion,
		log.RuleSnapshot, decimalOrNil(log.AggregateValue), log.Action,
		log.CaseID, log.CreatedAt,
	)
	return err
}

// GetTriggerLog retrieves a trigger-log row by ID.
func (r *SQLRepository) GetTriggerLog(ctx context.Context, orgID string, id string) (*domain.TriggerLog, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, disclosure_id, rule_id, rule_version,
			   rule_snapshot, aggregate_value, action, case_id, created_at
		FROM trigger_log
		WHERE org_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), orgID, id)
	log, err := scanTriggerLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return log, err
}

// ListTriggerLogs retrieves the trigger-log rows for a disclosure.
func (r *SQLRepository) ListTriggerLogs(ctx context.Context, orgID string, disclosureID string) ([]*domain.TriggerLog, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, disclosure_id, rule_id, rule_version,
			   rule_snapshot, aggregate_value, action, case_id, created_at
		FROM trigger_log
		WHERE org_id = ? AND disclosure_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, disclosureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.TriggerLog
	for rows.Next() {
		log, err := scanTriggerLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// SetTriggerCase writes the case-id backlink on an escalated trigger.
func (r *SQLRepository) SetTriggerCase(ctx context.Context, orgID string, triggerID string, caseID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE trigger_log
		SET case_id = ?
		WHERE org_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), caseID, orgID, triggerID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAlert stores a conflict alert with organization isolation.
func (r *SQLRepository) SaveAlert(ctx context.Context, orgID string, a *domain.ConflictAlert) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	related, _ := json.Marshal(a.RelatedDisclosureIDs)

	query := `
		INSERT INTO conflict_alerts (
			id, org_id, type, severity, confidence, status,
			disclosure_id, person_id, matched_kind, matched_id,
			matched_entity, matched_normalized, reason, related_disclosure_ids,
			dismiss_category, dismissed_at, case_id, escalated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, orgID, a.Type, a.Severity, a.Confidence, a.Status,
		a.DisclosureID, a.PersonID, a.MatchedKind, a.MatchedID,
		a.MatchedEntity, domain.NormalizeEntityName(a.MatchedEntity),
		a.Reason, string(related),
		a.DismissCategory, a.DismissedAt, a.CaseID, a.EscalatedAt, a.CreatedAt,
	)
	return err
}

// GetAlert retrieves a conflict alert by ID with organization isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, orgID string, id string) (*domain.ConflictAlert, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := alertSelectColumns + `
		FROM conflict_alerts
		WHERE org_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), orgID, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, orgID string, f domain.AlertFilter) ([]*domain.ConflictAlert, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := alertSelectColumns + `
		FROM conflict_alerts
		WHERE org_id = ?
	`
	args := []interface{}{orgID}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Entity != "" {
		query += " AND matched_normalized = ?"
		args = append(args, f.Entity)
	}
	if f.Person != "" {
		query += " AND person_id = ?"
		args = append(args, f.Person)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.ConflictAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DismissAlert transitions an alert OPEN -> DISMISSED. The conditional update
// enforces the transition: a row already dismissed or escalated is untouched
// and the call reports ErrInvalidTransition.
func (r *SQLRepository) DismissAlert(ctx context.Context, orgID string, alertID string, category domain.DismissCategory) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}
	if !domain.ValidDismissCategory(category) {
		return fmt.Errorf("%w: unknown dismiss category %q", ErrInvalidInput, category)
	}

	query := `
		UPDATE conflict_alerts
		SET status = ?, dismiss_category = ?, dismissed_at = ?
		WHERE org_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.AlertDismissed, category, time.Now().UTC(),
		orgID, alertID, domain.AlertOpen,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetAlert(ctx, orgID, alertID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// EscalateAlert transitions an alert OPEN -> ESCALATED with the case id.
func (r *SQLRepository) EscalateAlert(ctx context.Context, orgID string, alertID string, caseID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE conflict_alerts
		SET status = ?, case_id = ?, escalated_at = ?
		WHERE org_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.AlertEscalated, caseID, time.Now().UTC(),
		orgID, alertID, domain.AlertOpen,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetAlert(ctx, orgID, alertID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// SaveExclusion stores a conflict exclusion.
func (r *SQLRepository) SaveExclusion(ctx context.Context, orgID string, e *domain.ConflictExclusion) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	consumed := 0
	if e.Consumed {
		consumed = 1
	}

	query := `
		INSERT INTO conflict_exclusions (
			id, org_id, person_id, matched_entity, detector_type,
			scope, expires_at, consumed, created_from_category,
			created_from_alert_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, orgID, e.PersonID, e.MatchedEntity, e.DetectorType,
		e.Scope, e.ExpiresAt, consumed, e.CreatedFromCategory,
		e.CreatedFromAlertID, e.CreatedAt,
	)
	return err
}

// ListExclusions retrieves exclusions for a (person, normalized entity) pair.
func (r *SQLRepository) ListExclusions(ctx context.Context, orgID string, personID string, matchedEntity string) ([]*domain.ConflictExclusion, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, person_id, matched_entity, detector_type,
			   scope, expires_at, consumed, created_from_category,
			   created_from_alert_id, created_at
		FROM conflict_exclusions
		WHERE org_id = ? AND person_id = ? AND matched_entity = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, personID, matchedEntity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exclusions []*domain.ConflictExclusion
	for rows.Next() {
		var e domain.ConflictExclusion
		var detectorType, category, alertID sql.NullString
		var expiresAt sql.NullTime
		var consumed int

		if err := rows.Scan(
			&e.ID, &e.OrgID, &e.PersonID, &e.MatchedEntity, &detectorType,
			&e.Scope, &expiresAt, &consumed, &category,
			&alertID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.DetectorType = domain.ConflictType(detectorType.String)
		e.CreatedFromCategory = domain.DismissCategory(category.String)
		e.CreatedFromAlertID = alertID.String
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		e.Consumed = consumed == 1
		exclusions = append(exclusions, &e)
	}
	return exclusions, rows.Err()
}

// ConsumeExclusion atomically marks a ONE_TIME exclusion used. The conditional
// update is the race arbiter: exactly one caller flips consumed 0 -> 1, every
// other caller gets ErrExclusionConsumed.
func (r *SQLRepository) ConsumeExclusion(ctx context.Context, orgID string, exclusionID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE conflict_exclusions
		SET consumed = 1
		WHERE org_id = ? AND id = ? AND consumed = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), orgID, exclusionID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrExclusionConsumed
	}
	return nil
}

// EnqueueEscalation writes a pending escalation row.
func (r *SQLRepository) EnqueueEscalation(ctx context.Context, orgID string, e *domain.Escalation) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO escalations (
			id, org_id, alert_id, trigger_id, status, attempts,
			last_error, case_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, orgID, e.AlertID, e.TriggerID, e.Status, e.Attempts,
		e.LastError, e.CaseID, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// ListPendingEscalations retrieves queued escalations across organizations,
// oldest first, for the retry loop.
func (r *SQLRepository) ListPendingEscalations(ctx context.Context, limit int) ([]*domain.Escalation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, org_id, alert_id, trigger_id, status, attempts,
			   last_error, case_id, created_at, updated_at
		FROM escalations
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.EscalationPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escalations []*domain.Escalation
	for rows.Next() {
		var e domain.Escalation
		var alertID, triggerID, lastError, caseID sql.NullString

		if err := rows.Scan(
			&e.ID, &e.OrgID, &alertID, &triggerID, &e.Status, &e.Attempts,
			&lastError, &caseID, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}

		e.AlertID = alertID.String
		e.TriggerID = triggerID.String
		e.LastError = lastError.String
		e.CaseID = caseID.String
		escalations = append(escalations, &e)
	}
	return escalations, rows.Err()
}

// MarkEscalationSent records successful delivery with the created case id.
func (r *SQLRepository) MarkEscalationSent(ctx context.Context, orgID string, id string, caseID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE escalations
		SET status = ?, case_id = ?, updated_at = ?
		WHERE org_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.EscalationSent, caseID, time.Now().UTC(), orgID, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEscalationFailed records a failed attempt; the row stays PENDING.
func (r *SQLRepository) MarkEscalationFailed(ctx context.Context, orgID string, id string, attemptErr string) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE escalations
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE org_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		attemptErr, time.Now().UTC(), orgID, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveVendor upserts a vendor registry row.
func (r *SQLRepository) SaveVendor(ctx context.Context, orgID string, v *domain.Vendor) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO vendors (id, org_id, name, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), v.ID, orgID, v.Name, v.Status)
	return err
}

// ListVendors retrieves the vendor registry for an organization.
func (r *SQLRepository) ListVendors(ctx context.Context, orgID string) ([]*domain.Vendor, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, name, status
		FROM vendors
		WHERE org_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vendors []*domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		if err := rows.Scan(&v.ID, &v.OrgID, &v.Name, &v.Status); err != nil {
			return nil, err
		}
		vendors = append(vendors, &v)
	}
	return vendors, rows.Err()
}

// SaveEmployee upserts an employee directory row.
func (r *SQLRepository) SaveEmployee(ctx context.Context, orgID string, e *domain.Employee) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	active := 0
	if e.Active {
		active = 1
	}

	query := `
		INSERT INTO employees (id, org_id, name, department, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, org_id) DO UPDATE SET
			name = excluded.name,
			department = excluded.department,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), e.ID, orgID, e.Name, e.Department, active)
	return err
}

// ListEmployees retrieves the employee directory for an organization.
func (r *SQLRepository) ListEmployees(ctx context.Context, orgID string) ([]*domain.Employee, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, name, department, active
		FROM employees
		WHERE org_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []*domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// GetEmployee resolves a person id to an HR record.
func (r *SQLRepository) GetEmployee(ctx context.Context, orgID string, personID string) (*domain.Employee, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, name, department, active
		FROM employees
		WHERE org_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), orgID, personID)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// SaveApprovalAuthority upserts a spend-approval record.
func (r *SQLRepository) SaveApprovalAuthority(ctx context.Context, orgID string, a *domain.ApprovalAuthority) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO approval_authorities (id, org_id, person_id, vendor_name, department, approval_limit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			person_id = excluded.person_id,
			vendor_name = excluded.vendor_name,
			department = excluded.department,
			approval_limit = excluded.approval_limit
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, orgID, a.PersonID, a.VendorName, a.Department, a.Limit.String(),
	)
	return err
}

// ListApprovalAuthorities retrieves the spend-approval records held by a person.
func (r *SQLRepository) ListApprovalAuthorities(ctx context.Context, orgID string, personID string) ([]*domain.ApprovalAuthority, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, person_id, vendor_name, department, approval_limit
		FROM approval_authorities
		WHERE org_id = ? AND person_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var authorities []*domain.ApprovalAuthority
	for rows.Next() {
		var a domain.ApprovalAuthority
		var vendorName, department sql.NullString
		var limit string

		if err := rows.Scan(&a.ID, &a.OrgID, &a.PersonID, &vendorName, &department, &limit); err != nil {
			return nil, err
		}

		a.VendorName = vendorName.String
		a.Department = department.String
		a.Limit, err = decimal.NewFromString(limit)
		if err != nil {
			return nil, fmt.Errorf("failed to parse approval limit for %s: %w", a.ID, err)
		}
		authorities = append(authorities, &a)
	}
	return authorities, rows.Err()
}

// SaveCaseRecord upserts a prior-case row for history matching.
func (r *SQLRepository) SaveCaseRecord(ctx context.Context, orgID string, c *domain.CaseRecord) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO cases (id, org_id, subject_entity, subject_person, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_entity = excluded.subject_entity,
			subject_person = excluded.subject_person,
			status = excluded.status,
			opened_at = excluded.opened_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, orgID, c.SubjectEntity, c.SubjectPerson, c.Status, c.OpenedAt,
	)
	return err
}

// ListCaseRecords retrieves prior case records for an organization.
func (r *SQLRepository) ListCaseRecords(ctx context.Context, orgID string) ([]*domain.CaseRecord, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, subject_entity, subject_person, status, opened_at
		FROM cases
		WHERE org_id = ?
		ORDER BY opened_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.CaseRecord
	for rows.Next() {
		var c domain.CaseRecord
		var subjectPerson sql.NullString

		if err := rows.Scan(&c.ID, &c.OrgID, &c.SubjectEntity, &subjectPerson, &c.Status, &c.OpenedAt); err != nil {
			return nil, err
		}

		c.SubjectPerson = subjectPerson.String
		cases = append(cases, &c)
	}
	return cases, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDisclosure(row rowScanner) (*domain.Disclosure, error) {
	var d domain.Disclosure
	var department, metadata sql.NullString
	var value, baseValue string

	err := row.Scan(
		&d.ID, &d.OrgID, &d.PersonID, &department, &d.EntityName,
		&d.Category, &value, &d.Currency, &baseValue,
		&d.SubmittedAt, &d.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	d.Department = department.String
	if d.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("failed to parse value for %s: %w", d.ID, err)
	}
	if d.BaseValue, err = decimal.NewFromString(baseValue); err != nil {
		return nil, fmt.Errorf("failed to parse base value for %s: %w", d.ID, err)
	}
	if metadata.String != "" && metadata.String != "null" {
		json.Unmarshal([]byte(metadata.String), &d.Metadata)
	}
	return &d, nil
}

const ruleSelectColumns = `
	SELECT id, org_id, version, name, description, condition, expression,
		   aggregate, action, apply_mode, retroactive_from, currency,
		   enabled, locked, created_at, updated_at
`

func scanRule(row rowScanner) (*domain.ThresholdRule, error) {
	var rule domain.ThresholdRule
	var description, expression, aggregateJSON, currency sql.NullString
	var retroFrom sql.NullTime
	var condition string
	var enabled, locked int

	err := row.Scan(
		&rule.ID, &rule.OrgID, &rule.Version, &rule.Name, &description,
		&condition, &expression, &aggregateJSON, &rule.Action, &rule.ApplyMode,
		&retroFrom, &currency, &enabled, &locked,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Expression = expression.String
	rule.Currency = currency.String
	if retroFrom.Valid {
		t := retroFrom.Time
		rule.RetroactiveFrom = &t
	}
	rule.Enabled = enabled == 1
	rule.Locked = locked == 1

	if err := json.Unmarshal([]byte(condition), &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to parse condition for %s: %w", rule.ID, err)
	}
	if aggregateJSON.String != "" {
		var cfg domain.AggregateConfig
		if err := json.Unmarshal([]byte(aggregateJSON.String), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse aggregate config for %s: %w", rule.ID, err)
		}
		rule.Aggregate = &cfg
	}
	return &rule, nil
}

func scanTriggerLog(row rowScanner) (*domain.TriggerLog, error) {
	var log domain.TriggerLog
	var aggregateValue, caseID sql.NullString

	err := row.Scan(
		&log.ID, &log.OrgID, &log.DisclosureID, &log.RuleID, &log.RuleVersion,
		&log.RuleSnapshot, &aggregateValue, &log.Action, &caseID, &log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	log.CaseID = caseID.String
	if aggregateValue.Valid {
		v, err := decimal.NewFromString(aggregateValue.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse aggregate value for %s: %w", log.ID, err)
		}
		log.AggregateValue = &v
	}
	return &log, nil
}

const alertSelectColumns = `
	SELECT id, org_id, type, severity, confidence, status,
		   disclosure_id, person_id, matched_kind, matched_id,
		   matched_entity, reason, related_disclosure_ids,
		   dismiss_category, dismissed_at, case_id, escalated_at, created_at
`

func scanAlert(row rowScanner) (*domain.ConflictAlert, error) {
	var a domain.ConflictAlert
	var matchedID, reason, related, dismissCategory, caseID sql.NullString
	var dismissedAt, escalatedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.OrgID, &a.Type, &a.Severity, &a.Confidence, &a.Status,
		&a.DisclosureID, &a.PersonID, &a.MatchedKind, &matchedID,
		&a.MatchedEntity, &reason, &related,
		&dismissCategory, &dismissedAt, &caseID, &escalatedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.MatchedID = matchedID.String
	a.Reason = reason.String
	a.DismissCategory = domain.DismissCategory(dismissCategory.String)
	a.CaseID = caseID.String
	if dismissedAt.Valid {
		t := dismissedAt.Time
		a.DismissedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time
		a.EscalatedAt = &t
	}
	if related.String != "" && related.String != "null" {
		json.Unmarshal([]byte(related.String), &a.RelatedDisclosureIDs)
	}
	return &a, nil
}

func scanEmployee(row rowScanner) (*domain.Employee, error) {
	var e domain.Employee
	var department sql.NullString
	var active int

	if err := row.Scan(&e.ID, &e.OrgID, &e.Name, &department, &active); err != nil {
		return nil, err
	}

	e.Department = department.String
	e.Active = active == 1
	return &e, nil
}

func decimalOrNil(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}
