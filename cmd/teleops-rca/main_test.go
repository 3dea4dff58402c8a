package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/models"
)

type cliEnv struct {
	t      *testing.T
	dir    string
	config string
}

func newCLIEnv(t *testing.T, extra string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`logging:
  level: error
store:
  driver: sqlite
  dsn: file:%s
grounded:
  enabled: false
%s`, filepath.Join(dir, "rca.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{t: t, dir: dir, config: path}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("teleops-rca %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (e *cliEnv) writeAlerts(name string, alerts []models.Alert) string {
	e.t.Helper()
	data, err := json.Marshal(alerts)
	if err != nil {
		e.t.Fatalf("marshal alerts: %v", err)
	}
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		e.t.Fatalf("write alerts: %v", err)
	}
	return path
}

func ringAlerts(tag, prefix string, n int, alertType string) []models.Alert {
	base := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	out := make([]models.Alert, n)
	for i := range out {
		out[i] = models.Alert{
			ID:        fmt.Sprintf("%s-%02d", prefix, i),
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
			Host:      "metro-ring-1",
			Severity:  models.SeverityCritical,
			AlertType: alertType,
			Message:   alertType + " on metro-ring-1",
			Tags:      models.StringFields("incident", tag),
		}
	}
	return out
}

func TestCLICorrelateGenerateReviewAudit(t *testing.T) {
	env := newCLIEnv(t, "")
	batch := append(ringAlerts("A", "a", 12, "link_down"), ringAlerts("B", "b", 2, "high_latency")...)
	file := env.writeAlerts("alerts.json", batch)

	var correlated api.CorrelateResponse
	if err := json.Unmarshal([]byte(env.mustRun("correlate", "-f", file, "-o", "json")), &correlated); err != nil {
		t.Fatalf("decode correlate output: %v", err)
	}
	if len(correlated.Incidents) != 1 || correlated.Incidents[0].Tag != "A" {
		t.Fatalf("expected one incident for tag A, got %+v", correlated.Incidents)
	}
	incidentID := correlated.Incidents[0].ID

	// State persists across invocations through the sqlite store.
	var incidents []models.Incident
	if err := json.Unmarshal([]byte(env.mustRun("incidents", "--status", "open", "-o", "json")), &incidents); err != nil {
		t.Fatalf("decode incidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].ID != incidentID {
		t.Fatalf("unexpected open incidents %+v", incidents)
	}

	var artifact models.Artifact
	if err := json.Unmarshal([]byte(env.mustRun("rca", "baseline", incidentID, "-o", "json")), &artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact.Status != models.StatusPendingReview || len(artifact.Hypotheses) == 0 {
		t.Fatalf("unexpected artifact %+v", artifact)
	}

	env.mustRun("review", artifact.ID, "--decision", "accepted", "--reviewer", "noc-alice", "--note", "matches fiber cut")

	_, err := env.run("review", artifact.ID, "--decision", "rejected", "--reviewer", "noc-bob")
	if err == nil || !strings.Contains(err.Error(), "ALREADY_REVIEWED") {
		t.Fatalf("expected ALREADY_REVIEWED on second review, got %v", err)
	}

	var entries []models.AuditEntry
	if err := json.Unmarshal([]byte(env.mustRun("audit", "--incident", incidentID, "-o", "json")), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ReviewerID != "noc-alice" || entries[0].Decision != models.DecisionAccepted {
		t.Fatalf("unexpected audit trail %+v", entries)
	}

	var listed []models.Artifact
	if err := json.Unmarshal([]byte(env.mustRun("rca", "list", incidentID, "-o", "json")), &listed); err != nil {
		t.Fatalf("decode artifact list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != artifact.ID || listed[0].Status != models.StatusAccepted {
		t.Fatalf("unexpected artifact list %+v", listed)
	}

	var latest models.Artifact
	if err := json.Unmarshal([]byte(env.mustRun("rca", "latest", incidentID, "--status", "accepted", "-o", "json")), &latest); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	if latest.ID != artifact.ID || latest.ReviewedBy != "noc-alice" {
		t.Fatalf("unexpected latest artifact %+v", latest)
	}
}

func TestCLITableOutput(t *testing.T) {
	env := newCLIEnv(t, "")
	file := env.writeAlerts("alerts.json", ringAlerts("A", "a", 12, "link_down"))

	out := env.mustRun("correlate", "-f", file)
	for _, want := range []string{"GROUP KEY", "DISPOSITION", "incident", "A@2026-05-04T11:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}

	out = env.mustRun("incidents", "overview")
	if !strings.Contains(out, "open incidents") {
		t.Fatalf("overview missing counts:\n%s", out)
	}
}

func TestCLIBatchReportsFailures(t *testing.T) {
	env := newCLIEnv(t, "")
	file := env.writeAlerts("alerts.json", ringAlerts("A", "a", 12, "link_down"))

	var correlated api.CorrelateResponse
	if err := json.Unmarshal([]byte(env.mustRun("correlate", "-f", file, "-o", "json")), &correlated); err != nil {
		t.Fatalf("decode correlate output: %v", err)
	}

	out, err := env.run("rca", "baseline", correlated.Incidents[0].ID, "inc-missing", "-o", "json")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected partial batch failure, got %v", err)
	}
	var items []batchItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(items) != 2 || items[0].Artifact == nil || items[1].Error == "" {
		t.Fatalf("unexpected batch items %+v", items)
	}
}

func TestCLIRejectsInputErrors(t *testing.T) {
	env := newCLIEnv(t, "")

	if _, err := env.run("incidents", "-o", "yaml"); err == nil || !strings.Contains(err.Error(), "--output") {
		t.Fatalf("expected output format error, got %v", err)
	}

	empty := filepath.Join(env.dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := env.run("correlate", "-f", empty); err == nil {
		t.Fatal("expected empty input to fail")
	}

	if _, err := env.run("rca", "latest", "inc-none"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := env.run("review", "art-1", "--decision", "maybe", "--reviewer", "x"); err == nil {
		t.Fatal("expected invalid decision to fail")
	}
}

func TestParseAlertsFormats(t *testing.T) {
	cases := map[string]string{
		"array":   `[{"id":"a1","timestamp":"2026-05-04T11:00:00Z","tags":{"incident":"A"}},{"id":"a2","timestamp":"2026-05-04T11:00:10Z"}]`,
		"wrapped": `{"alerts":[{"id":"a1","timestamp":"2026-05-04T11:00:00Z"},{"id":"a2","timestamp":"2026-05-04T11:00:10Z"}]}`,
		"lines":   "{\"id\":\"a1\",\"timestamp\":\"2026-05-04T11:00:00Z\"}\n{\"id\":\"a2\",\"timestamp\":\"2026-05-04T11:00:10Z\"}\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			alerts, err := parseAlerts([]byte(input))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(alerts) != 2 || alerts[0].ID != "a1" || alerts[1].ID != "a2" {
				t.Fatalf("unexpected alerts %+v", alerts)
			}
		})
	}
}

func TestTokenCommand(t *testing.T) {
	env := newCLIEnv(t, "auth:\n  jwtSecret: cli-secret\n  issuer: teleops\n")
	token := strings.TrimSpace(env.mustRun("token", "--subject", "noc-alice", "--ttl", "1h"))

	subject, err := api.NewReviewerAuth("cli-secret", "teleops").ParseToken(token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if subject != "noc-alice" {
		t.Fatalf("expected subject noc-alice, got %q", subject)
	}

	noAuth := newCLIEnv(t, "")
	if _, err := noAuth.run("token", "--subject", "noc-alice"); err == nil {
		t.Fatal("expected token without secret to fail")
	}
}
