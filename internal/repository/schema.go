package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.
// Monetary values are stored as TEXT and parsed as decimals, never floats.

const schemaDisclosures = `
CREATE TABLE IF NOT EXISTS disclosures (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    person_id TEXT NOT NULL,
    department TEXT,
    entity_name TEXT NOT NULL,
    entity_normalized TEXT NOT NULL,
    category TEXT NOT NULL,
    value TEXT NOT NULL,
    currency TEXT NOT NULL,
    base_value TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_disclosures_org ON disclosures(org_id);
CREATE INDEX IF NOT EXISTS idx_disclosures_person ON disclosures(org_id, person_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_disclosures_entity ON disclosures(org_id, entity_normalized, submitted_at);
CREATE INDEX IF NOT EXISTS idx_disclosures_submitted ON disclosures(org_id, submitted_at);
`

const schemaThresholdRules = `
CREATE TABLE IF NOT EXISTS threshold_rules (
    id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    condition TEXT NOT NULL,
    expression TEXT,
    aggregate TEXT,
    action TEXT NOT NULL,
    apply_mode TEXT NOT NULL,
    retroactive_from TIMESTAMP,
    currency TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    locked INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, org_id, version)
);

CREATE INDEX IF NOT EXISTS idx_threshold_rules_org ON threshold_rules(org_id);
CREATE INDEX IF NOT EXISTS idx_threshold_rules_enabled ON threshold_rules(org_id, enabled);
`

const schemaTriggerLog = `
CREATE TABLE IF NOT EXISTS trigger_log (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    disclosure_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_version INTEGER NOT NULL,
    rule_snapshot TEXT NOT NULL,
    aggregate_value TEXT,
    action TEXT NOT NULL,
    case_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trigger_log_org ON trigger_log(org_id);
CREATE INDEX IF NOT EXISTS idx_trigger_log_disclosure ON trigger_log(org_id, disclosure_id);
CREATE INDEX IF NOT EXISTS idx_trigger_log_rule ON trigger_log(org_id, rule_id);
`

const schemaConflictAlerts = `
CREATE TABLE IF NOT EXISTS conflict_alerts (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    status TEXT NOT NULL,
    disclosure_id TEXT NOT NULL,
    person_id TEXT NOT NULL,
    matched_kind TEXT NOT NULL,
    matched_id TEXT,
    matched_entity TEXT NOT NULL,
    matched_normalized TEXT NOT NULL,
    reason TEXT,
    related_disclosure_ids TEXT,
    dismiss_category TEXT,
    dismissed_at TIMESTAMP,
    case_id TEXT,
    escalated_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflict_alerts_org ON conflict_alerts(org_id);
CREATE INDEX IF NOT EXISTS idx_conflict_alerts_status ON conflict_alerts(org_id, status);
CREATE INDEX IF NOT EXISTS idx_conflict_alerts_person ON conflict_alerts(org_id, person_id);
CREATE INDEX IF NOT EXISTS idx_conflict_alerts_entity ON conflict_alerts(org_id, matched_normalized);
`

const schemaConflictExclusions = `
CREATE TABLE IF NOT EXISTS conflict_exclusions (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    person_id TEXT NOT NULL,
    matched_entity TEXT NOT NULL,
    detector_type TEXT,
    scope TEXT NOT NULL,
    expires_at TIMESTAMP,
    consumed INTEGER NOT NULL DEFAULT 0,
    created_from_category TEXT,
    created_from_alert_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflict_exclusions_org ON conflict_exclusions(org_id);
CREATE INDEX IF NOT EXISTS idx_conflict_exclusions_pair ON conflict_exclusions(org_id, person_id, matched_entity);
`

const schemaEscalations = `
CREATE TABLE IF NOT EXISTS escalations (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    alert_id TEXT,
    trigger_id TEXT,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    case_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_escalations_org ON escalations(org_id);
`

const schemaVendors = `
CREATE TABLE IF NOT EXISTS vendors (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vendors_org ON vendors(org_id);
`

const schemaEmployees = `
CREATE TABLE IF NOT EXISTS employees (
    id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    name TEXT NOT NULL,
    department TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, org_id)
);

CREATE INDEX IF NOT EXISTS idx_employees_org ON employees(org_id);
`

const schemaApprovalAuthorities = `
CREATE TABLE IF NOT EXISTS approval_authorities (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    person_id TEXT NOT NULL,
    vendor_name TEXT,
    department TEXT,
    approval_limit TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approval_authorities_person ON approval_authorities(org_id, person_id);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    subject_entity TEXT NOT NULL,
    subject_person TEXT,
    status TEXT NOT NULL,
    opened_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_org ON cases(org_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDisclosures,
		schemaThresholdRules,
		schemaTriggerLog,
		schemaConflictAlerts,
		schemaConflictExclusions,
		schemaEscalations,
		schemaVendors,
		schemaEmployees,
		schemaApprovalAuthorities,
		schemaCases,
	}
}
