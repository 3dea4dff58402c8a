package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/correlation"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/services"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderCorrelation(w io.Writer, resp *api.CorrelateResponse) {
	groups := newTable(w, "GROUP KEY", "ALERTS", "DISPOSITION", "INCIDENT")
	for _, g := range resp.Groups {
		groups.AppendRow(table.Row{correlation.GroupKey(g.Key, g.WindowStart), g.AlertCount, g.Disposition, g.IncidentID})
	}
	if resp.NoiseFiltered {
		groups.AppendFooter(table.Row{"", "", fmt.Sprintf("noise threshold %.2f", resp.NoiseThreshold), ""})
	}
	groups.Render()
	if len(resp.Incidents) > 0 {
		renderIncidents(w, resp.Incidents)
	}
}

func renderIncidents(w io.Writer, incidents []models.Incident) {
	t := newTable(w, "ID", "TAG", "SEVERITY", "STATUS", "ALERTS", "START", "SUMMARY")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 7, WidthMax: 60}})
	for _, inc := range incidents {
		t.AppendRow(table.Row{inc.ID, inc.Tag, inc.Severity, inc.Status, len(inc.AlertIDs), stamp(inc.StartTime), inc.Summary})
	}
	t.Render()
}

func renderArtifact(w io.Writer, a models.Artifact) {
	fmt.Fprintf(w, "Artifact:  %s\n", a.ID)
	fmt.Fprintf(w, "Incident:  %s\n", a.IncidentID)
	fmt.Fprintf(w, "Reasoner:  %s (%s)\n", a.Reasoner, a.Kind)
	fmt.Fprintf(w, "Status:    %s\n", a.Status)
	if a.ReviewedBy != "" {
		fmt.Fprintf(w, "Reviewed:  %s at %s\n", a.ReviewedBy, stamp(a.ReviewedAt))
	}
	fmt.Fprintf(w, "Duration:  %s\n", a.Duration.Round(time.Millisecond))
	t := newTable(w, "#", "HYPOTHESIS", "CONFIDENCE")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 70},
		{Number: 3, Align: text.AlignRight},
	})
	for i, h := range a.Hypotheses {
		t.AppendRow(table.Row{i + 1, h, fmt.Sprintf("%.2f", a.Confidence[h])})
	}
	t.Render()
}

func renderArtifacts(w io.Writer, artifacts []models.Artifact) {
	t := newTable(w, "ID", "CREATED", "REASONER", "STATUS", "REVIEWER", "TOP HYPOTHESIS", "CONFIDENCE")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, WidthMax: 50}, {Number: 7, Align: text.AlignRight}})
	for _, a := range artifacts {
		top, score := a.TopHypothesis()
		t.AppendRow(table.Row{a.ID, stamp(a.CreatedAt), a.Reasoner, a.Status, a.ReviewedBy, top, fmt.Sprintf("%.2f", score)})
	}
	t.Render()
}

func renderBatch(w io.Writer, results []services.BatchResult) {
	t := newTable(w, "INCIDENT", "ARTIFACT", "TOP HYPOTHESIS", "CONFIDENCE", "ERROR")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 50}, {Number: 5, WidthMax: 50}})
	for _, r := range results {
		if r.Err != nil {
			t.AppendRow(table.Row{r.IncidentID, "-", "-", "-", r.Err.Error()})
			continue
		}
		top, score := r.Artifact.TopHypothesis()
		t.AppendRow(table.Row{r.IncidentID, r.Artifact.ID, top, fmt.Sprintf("%.2f", score), ""})
	}
	t.Render()
}

func renderAudit(w io.Writer, entries []models.AuditEntry) {
	t := newTable(w, "TIMESTAMP", "ARTIFACT", "INCIDENT", "DECISION", "REVIEWER", "NOTE")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, WidthMax: 50}})
	for _, e := range entries {
		t.AppendRow(table.Row{stamp(e.Timestamp), e.ArtifactID, e.IncidentID, e.Decision, e.ReviewerID, e.Note})
	}
	t.Render()
}

func renderOverview(w io.Writer, o services.Overview) {
	t := newTable(w, "METRIC", "VALUE")
	t.AppendRow(table.Row{"alerts", o.Alerts})
	t.AppendRow(table.Row{"incidents", o.Incidents})
	t.AppendRow(table.Row{"open incidents", o.OpenIncidents})
	t.AppendRow(table.Row{"artifacts", o.Artifacts})
	for _, k := range sortedKeys(o.ArtifactsByReasoner) {
		t.AppendRow(table.Row{"artifacts by " + k, o.ArtifactsByReasoner[k]})
	}
	for _, k := range sortedKeys(o.ArtifactsByStatus) {
		t.AppendRow(table.Row{"artifacts " + k, o.ArtifactsByStatus[k]})
	}
	for _, k := range sortedKeys(o.ReviewsByDecision) {
		t.AppendRow(table.Row{"reviews " + k, o.ReviewsByDecision[k]})
	}
	t.AppendRow(table.Row{"grounded enabled", o.GroundedEnabled})
	if len(o.InFlight) > 0 {
		states := make([]string, 0, len(o.InFlight))
		for _, r := range o.InFlight {
			states = append(states, r.IncidentID+"/"+string(r.State))
		}
		t.AppendRow(table.Row{"in flight", strings.Join(states, ", ")})
	}
	if o.GroundedP95 > 0 {
		t.AppendRow(table.Row{"grounded p95", o.GroundedP95.Round(time.Millisecond)})
	}
	t.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
