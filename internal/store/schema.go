package store

const schemaVersion = 1

// schemaStatements are portable across sqlite and postgres. Timestamps are unix
// nanoseconds so ordering does not depend on a dialect's time type.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id         TEXT PRIMARY KEY,
		ts         BIGINT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		host       TEXT NOT NULL DEFAULT '',
		service    TEXT NOT NULL DEFAULT '',
		severity   TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL,
		raw        TEXT NOT NULL,
		tenant_id  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS alert_tags (
		alert_id  TEXT NOT NULL,
		tag_key   TEXT NOT NULL,
		tag_value TEXT NOT NULL,
		PRIMARY KEY (alert_id, tag_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_tags_kv ON alert_tags(tag_key, tag_value)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id           TEXT PRIMARY KEY,
		group_key    TEXT NOT NULL,
		tag          TEXT NOT NULL,
		summary      TEXT NOT NULL,
		severity     TEXT NOT NULL,
		status       TEXT NOT NULL,
		start_ts     BIGINT NOT NULL,
		end_ts       BIGINT NOT NULL,
		impact_scope TEXT NOT NULL,
		owner        TEXT NOT NULL DEFAULT '',
		created_by   TEXT NOT NULL,
		tenant_id    TEXT NOT NULL DEFAULT '',
		evidence     TEXT NOT NULL,
		created_ts   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_group_key ON incidents(group_key, status)`,
	`CREATE TABLE IF NOT EXISTS incident_alerts (
		incident_id TEXT NOT NULL,
		alert_id    TEXT NOT NULL,
		position    INTEGER NOT NULL,
		PRIMARY KEY (incident_id, alert_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incident_alerts_alert ON incident_alerts(alert_id)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id          TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		kind        TEXT NOT NULL,
		reasoner    TEXT NOT NULL,
		hypotheses  TEXT NOT NULL,
		confidence  TEXT NOT NULL,
		evidence    TEXT NOT NULL,
		duration_ns BIGINT NOT NULL,
		status      TEXT NOT NULL,
		created_ts  BIGINT NOT NULL,
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_incident ON artifacts(incident_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id          TEXT PRIMARY KEY,
		artifact_id TEXT NOT NULL UNIQUE,
		incident_id TEXT NOT NULL,
		ts          BIGINT NOT NULL,
		decision    TEXT NOT NULL,
		reviewer_id TEXT NOT NULL,
		note        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_incident ON audit_entries(incident_id, ts)`,
}
