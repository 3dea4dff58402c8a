package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/teleops-rca/internal/models"
)

const inChunkSize = 500

// dialect hides the placeholder and list-binding differences between drivers.
type dialect struct {
	name     string
	driver   string
	postgres bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", postgres: true}
)

// rebind converts ? placeholders into $n for postgres.
func (d dialect) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// in renders a membership predicate for column over values.
func (d dialect) in(column string, values []string, args []any) (string, []any) {
	if d.postgres {
		return column + " = ANY(?)", append(args, pq.Array(values))
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	return column + " IN (" + strings.Join(marks, ",") + ")", args
}

// SQLStore implements Store over database/sql with sqlite or postgres.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// OpenSQL opens the named driver ("sqlite" or "postgres") and applies the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var d dialect
	switch driver {
	case "sqlite":
		d = sqliteDialect
		if dsn == "" {
			dsn = "file:teleops-rca.db"
		}
	case "postgres":
		d = postgresDialect
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if !d.postgres {
		// A single connection serialises sqlite writers instead of surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	s := &SQLStore{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var version int
	err = tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, s.d.rebind("INSERT INTO schema_version(version) VALUES(?)"), schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("unknown schema version %d", version)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// AppendAlerts stores alerts; ids already present keep their original record.
func (s *SQLStore) AppendAlerts(ctx context.Context, alerts []models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertAlert := s.d.rebind(`INSERT INTO alerts
		(id, ts, source, host, service, severity, alert_type, message, tags, raw, tenant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	insertTag := s.d.rebind(`INSERT INTO alert_tags (alert_id, tag_key, tag_value)
		VALUES (?, ?, ?) ON CONFLICT (alert_id, tag_key) DO NOTHING`)

	for _, a := range alerts {
		if a.ID == "" {
			return fmt.Errorf("alert id is required")
		}
		tags, err := json.Marshal(a.Tags)
		if err != nil {
			return fmt.Errorf("encode tags for %s: %w", a.ID, err)
		}
		raw, err := json.Marshal(a.Raw)
		if err != nil {
			return fmt.Errorf("encode raw fields for %s: %w", a.ID, err)
		}
		res, err := tx.ExecContext(ctx, insertAlert,
			a.ID, toNanos(a.Timestamp), a.Source, a.Host, a.Service, string(a.Severity),
			a.AlertType, a.Message, string(tags), string(raw), a.TenantID)
		if err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		for _, key := range a.Tags.Keys() {
			value, ok := a.Tags.GetString(key)
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertTag, a.ID, key, value); err != nil {
				return fmt.Errorf("index tag %s on %s: %w", key, a.ID, err)
			}
		}
	}
	return tx.Commit()
}

// QueryAlerts returns alerts matching q in timestamp order.
func (s *SQLStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]models.Alert, error) {
	if len(q.IDs) > inChunkSize {
		var out []models.Alert
		for _, chunk := range chunks(q.IDs, inChunkSize) {
			sub := q
			sub.IDs = chunk
			sub.Limit = 0
			part, err := s.QueryAlerts(ctx, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
		return out, nil
	}

	var where []string
	var args []any
	if len(q.IDs) > 0 {
		var clause string
		clause, args = s.d.in("a.id", q.IDs, args)
		where = append(where, clause)
	}
	if q.TagKey != "" {
		clause := "EXISTS (SELECT 1 FROM alert_tags t WHERE t.alert_id = a.id AND t.tag_key = ?"
		args = append(args, q.TagKey)
		if q.TagValue != "" {
			clause += " AND t.tag_value = ?"
			args = append(args, q.TagValue)
		}
		where = append(where, clause+")")
	}
	if !q.Since.IsZero() {
		where = append(where, "a.ts >= ?")
		args = append(args, toNanos(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "a.ts <= ?")
		args = append(args, toNanos(q.Until))
	}

	query := `SELECT a.id, a.ts, a.source, a.host, a.service, a.severity, a.alert_type,
		a.message, a.tags, a.raw, a.tenant_id FROM alerts a`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.ts, a.id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a         models.Alert
			ts        int64
			severity  string
			tags, raw string
		)
		if err := rows.Scan(&a.ID, &ts, &a.Source, &a.Host, &a.Service, &severity, &a.AlertType,
			&a.Message, &tags, &raw, &a.TenantID); err != nil {
			return nil, err
		}
		a.Timestamp = fromNanos(ts)
		a.Severity = models.Severity(severity)
		if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(raw), &a.Raw); err != nil {
			return nil, fmt.Errorf("decode raw fields for %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateIncidents stores new incidents and their ordered member lists.
func (s *SQLStore) CreateIncidents(ctx context.Context, incidents []models.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertIncident := s.d.rebind(`INSERT INTO incidents
		(id, group_key, tag, summary, severity, status, start_ts, end_ts, impact_scope,
		 owner, created_by, tenant_id, evidence, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	insertMember := s.d.rebind(`INSERT INTO incident_alerts (incident_id, alert_id, position) VALUES (?, ?, ?)`)

	for _, inc := range incidents {
		scope, err := json.Marshal(inc.ImpactScope)
		if err != nil {
			return err
		}
		evidence, err := json.Marshal(inc.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence for %s: %w", inc.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insertIncident,
			inc.ID, inc.GroupKey, inc.Tag, inc.Summary, string(inc.Severity), string(inc.Status),
			toNanos(inc.StartTime), toNanos(inc.EndTime), string(scope), inc.Owner, inc.CreatedBy,
			inc.TenantID, string(evidence), toNanos(inc.CreatedAt)); err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
		for pos, alertID := range inc.AlertIDs {
			if _, err := tx.ExecContext(ctx, insertMember, inc.ID, alertID, pos); err != nil {
				return fmt.Errorf("insert member %s of %s: %w", alertID, inc.ID, err)
			}
		}
	}
	return tx.Commit()
}

const incidentColumns = `id, group_key, tag, summary, severity, status, start_ts, end_ts,
	impact_scope, owner, created_by, tenant_id, evidence, created_ts`

func scanIncident(scan func(dest ...any) error) (models.Incident, error) {
	var (
		inc                       models.Incident
		severity, status          string
		startTS, endTS, createdTS int64
		scope, evidence           string
	)
	if err := scan(&inc.ID, &inc.GroupKey, &inc.Tag, &inc.Summary, &severity, &status,
		&startTS, &endTS, &scope, &inc.Owner, &inc.CreatedBy, &inc.TenantID, &evidence, &createdTS); err != nil {
		return models.Incident{}, err
	}
	inc.Severity = models.Severity(severity)
	inc.Status = models.IncidentStatus(status)
	inc.StartTime = fromNanos(startTS)
	inc.EndTime = fromNanos(endTS)
	inc.CreatedAt = fromNanos(createdTS)
	if err := json.Unmarshal([]byte(scope), &inc.ImpactScope); err != nil {
		return models.Incident{}, fmt.Errorf("decode impact scope for %s: %w", inc.ID, err)
	}
	if err := json.Unmarshal([]byte(evidence), &inc.Evidence); err != nil {
		return models.Incident{}, fmt.Errorf("decode evidence for %s: %w", inc.ID, err)
	}
	return inc, nil
}

func (s *SQLStore) incidentMembers(ctx context.Context, incidentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.d.rebind("SELECT alert_id FROM incident_alerts WHERE incident_id = ? ORDER BY position"), incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetIncident returns the incident with id.
func (s *SQLStore) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind("SELECT "+incidentColumns+" FROM incidents WHERE id = ?"), id)
	inc, err := scanIncident(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, ErrNotFound
	}
	if err != nil {
		return models.Incident{}, fmt.Errorf("get incident %s: %w", id, err)
	}
	if inc.AlertIDs, err = s.incidentMembers(ctx, id); err != nil {
		return models.Incident{}, fmt.Errorf("load members of %s: %w", id, err)
	}
	return inc, nil
}

// ListIncidents returns incidents newest first.
func (s *SQLStore) ListIncidents(ctx context.Context, q IncidentQuery) ([]models.Incident, error) {
	var where []string
	var args []any
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Tag != "" {
		where = append(where, "tag = ?")
		args = append(args, q.Tag)
	}
	query := "SELECT " + incidentColumns + " FROM incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_ts DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].AlertIDs, err = s.incidentMembers(ctx, out[i].ID); err != nil {
			return nil, fmt.Errorf("load members of %s: %w", out[i].ID, err)
		}
	}
	return out, nil
}

// OpenAssignments maps alert ids to the open incident containing them.
func (s *SQLStore) OpenAssignments(ctx context.Context, alertIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, chunk := range chunks(alertIDs, inChunkSize) {
		clause, args := s.d.in("ia.alert_id", chunk, []any{string(models.IncidentOpen)})
		query := `SELECT ia.alert_id, ia.incident_id FROM incident_alerts ia
			JOIN incidents i ON i.id = ia.incident_id
			WHERE i.status = ? AND ` + clause
		if err := s.collectPairs(ctx, query, args, out); err != nil {
			return nil, fmt.Errorf("open assignments: %w", err)
		}
	}
	return out, nil
}

// OpenGroupKeys maps group keys to open incidents carrying them.
func (s *SQLStore) OpenGroupKeys(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, chunk := range chunks(keys, inChunkSize) {
		clause, args := s.d.in("group_key", chunk, []any{string(models.IncidentOpen)})
		query := "SELECT group_key, id FROM incidents WHERE status = ? AND " + clause
		if err := s.collectPairs(ctx, query, args, out); err != nil {
			return nil, fmt.Errorf("open group keys: %w", err)
		}
	}
	return out, nil
}

func (s *SQLStore) collectPairs(ctx context.Context, query string, args []any, out map[string]string) error {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		out[k] = v
	}
	return rows.Err()
}

// SetIncidentStatus applies an operator-driven status change.
func (s *SQLStore) SetIncidentStatus(ctx context.Context, id string, status models.IncidentStatus) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind("UPDATE incidents SET status = ? WHERE id = ?"), string(status), id)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateArtifact stores a new artifact for an existing incident.
func (s *SQLStore) CreateArtifact(ctx context.Context, a models.Artifact) error {
	hypotheses, err := json.Marshal(a.Hypotheses)
	if err != nil {
		return err
	}
	confidence, err := json.Marshal(a.Confidence)
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence for %s: %w", a.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.d.rebind("SELECT 1 FROM incidents WHERE id = ?"), a.IncidentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO artifacts
		(id, incident_id, kind, reasoner, hypotheses, confidence, evidence, duration_ns, status,
		 created_ts, reviewed_by, reviewed_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.IncidentID, string(a.Kind), a.Reasoner, string(hypotheses), string(confidence),
		string(evidence), int64(a.Duration), string(a.Status), toNanos(a.CreatedAt),
		a.ReviewedBy, toNanos(a.ReviewedAt)); err != nil {
		return fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}
	return tx.Commit()
}

const artifactColumns = `id, incident_id, kind, reasoner, hypotheses, confidence, evidence,
	duration_ns, status, created_ts, reviewed_by, reviewed_ts`

func scanArtifact(scan func(dest ...any) error) (models.Artifact, error) {
	var (
		a                                models.Artifact
		kind, status                     string
		hypotheses, confidence, evidence string
		duration, createdTS, reviewedTS  int64
	)
	if err := scan(&a.ID, &a.IncidentID, &kind, &a.Reasoner, &hypotheses, &confidence, &evidence,
		&duration, &status, &createdTS, &a.ReviewedBy, &reviewedTS); err != nil {
		return models.Artifact{}, err
	}
	a.Kind = models.ReasonerKind(kind)
	a.Status = models.ReviewStatus(status)
	a.Duration = time.Duration(duration)
	a.CreatedAt = fromNanos(createdTS)
	a.ReviewedAt = fromNanos(reviewedTS)
	if err := json.Unmarshal([]byte(hypotheses), &a.Hypotheses); err != nil {
		return models.Artifact{}, fmt.Errorf("decode hypotheses for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(confidence), &a.Confidence); err != nil {
		return models.Artifact{}, fmt.Errorf("decode confidence for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
		return models.Artifact{}, fmt.Errorf("decode evidence for %s: %w", a.ID, err)
	}
	return a, nil
}

// GetArtifact returns the artifact with id.
func (s *SQLStore) GetArtifact(ctx context.Context, id string) (models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind("SELECT "+artifactColumns+" FROM artifacts WHERE id = ?"), id)
	a, err := scanArtifact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Artifact{}, ErrNotFound
	}
	if err != nil {
		return models.Artifact{}, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// ListArtifacts returns every artifact generated for an incident in creation order.
func (s *SQLStore) ListArtifacts(ctx context.Context, incidentID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		s.d.rebind("SELECT "+artifactColumns+" FROM artifacts WHERE incident_id = ? ORDER BY created_ts, id"), incidentID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReviewArtifact performs the conditional status update and the audit insert in one
// transaction. The WHERE status guard makes the first committed writer win even across
// processes sharing the database.
func (s *SQLStore) ReviewArtifact(ctx context.Context, t ReviewTransition) (models.AuditEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.AuditEntry{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE artifacts
		SET status = ?, reviewed_by = ?, reviewed_ts = ?
		WHERE id = ? AND status = ?`),
		string(t.Decision.Status()), t.ReviewerID, toNanos(t.At), t.ArtifactID, string(models.StatusPendingReview))
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("update artifact %s: %w", t.ArtifactID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, s.d.rebind("SELECT 1 FROM artifacts WHERE id = ?"), t.ArtifactID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return models.AuditEntry{}, ErrNotFound
		}
		if err != nil {
			return models.AuditEntry{}, err
		}
		return models.AuditEntry{}, ErrAlreadyReviewed
	}

	var incidentID string
	if err := tx.QueryRowContext(ctx, s.d.rebind("SELECT incident_id FROM artifacts WHERE id = ?"), t.ArtifactID).Scan(&incidentID); err != nil {
		return models.AuditEntry{}, err
	}
	entry := auditEntryFor(t, incidentID)
	if _, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO audit_entries
		(id, artifact_id, incident_id, ts, decision, reviewer_id, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.ArtifactID, entry.IncidentID, toNanos(entry.Timestamp), string(entry.Decision),
		entry.ReviewerID, entry.Note); err != nil {
		return models.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.AuditEntry{}, fmt.Errorf("commit review: %w", err)
	}
	return entry, nil
}

// QueryAudit returns matching entries ordered by timestamp then id.
func (s *SQLStore) QueryAudit(ctx context.Context, q AuditQuery) ([]models.AuditEntry, error) {
	var where []string
	var args []any
	if q.IncidentID != "" {
		where = append(where, "incident_id = ?")
		args = append(args, q.IncidentID)
	}
	if q.ArtifactID != "" {
		where = append(where, "artifact_id = ?")
		args = append(args, q.ArtifactID)
	}
	if q.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(q.Decision))
	}
	if q.ReviewerID != "" {
		where = append(where, "reviewer_id = ?")
		args = append(args, q.ReviewerID)
	}
	query := "SELECT id, artifact_id, incident_id, ts, decision, reviewer_id, note FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var (
			e        models.AuditEntry
			ts       int64
			decision string
		)
		if err := rows.Scan(&e.ID, &e.ArtifactID, &e.IncidentID, &ts, &decision, &e.ReviewerID, &e.Note); err != nil {
			return nil, err
		}
		e.Timestamp = fromNanos(ts)
		e.Decision = models.Decision(decision)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts summarises stored records.
func (s *SQLStore) Counts(ctx context.Context) (Counts, error) {
	counts := newCounts()
	scalars := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM alerts", &counts.Alerts},
		{"SELECT COUNT(*) FROM incidents", &counts.Incidents},
		{"SELECT COUNT(*) FROM incidents WHERE status = 'open'", &counts.OpenIncidents},
		{"SELECT COUNT(*) FROM artifacts", &counts.Artifacts},
	}
	for _, sc := range scalars {
		if err := s.db.QueryRowContext(ctx, sc.query).Scan(sc.dest); err != nil {
			return Counts{}, fmt.Errorf("count: %w", err)
		}
	}
	grouped := []struct {
		query string
		dest  map[string]int
	}{
		{"SELECT reasoner, COUNT(*) FROM artifacts GROUP BY reasoner", counts.ArtifactsByReasoner},
		{"SELECT status, COUNT(*) FROM artifacts GROUP BY status", counts.ArtifactsByStatus},
		{"SELECT decision, COUNT(*) FROM audit_entries GROUP BY decision", counts.ReviewsByDecision},
	}
	for _, g := range grouped {
		if err := s.groupCounts(ctx, g.query, g.dest); err != nil {
			return Counts{}, err
		}
	}
	return counts, nil
}

func (s *SQLStore) groupCounts(ctx context.Context, query string, dest map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("grouped count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dest[key] = n
	}
	return rows.Err()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
