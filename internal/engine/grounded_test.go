package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/teleops-rca/internal/corpus"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/provider"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

type stubRetriever struct {
	hits  []corpus.Hit
	err   error
	query string
	k     int
}

func (s *stubRetriever) TopK(_ context.Context, query string, k int) ([]corpus.Hit, error) {
	s.query, s.k = query, k
	return s.hits, s.err
}

type stubCompleter struct {
	content string
	err     error
	block   bool
	last    provider.Request
}

func (s *stubCompleter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	s.last = req
	if s.block {
		<-ctx.Done()
		return provider.Response{}, ctx.Err()
	}
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return provider.Response{Model: "tele-llm", Content: s.content, FinishReason: "stop"}, nil
}

func groundedFixture(t *testing.T, completer *stubCompleter, retriever *stubRetriever) *GroundedReasoner {
	t.Helper()
	baseline, _ := NewBaselineReasoner(nil)
	g, err := NewGroundedReasoner(GroundedConfig{Model: "tele-llm", Timeout: time.Second}, retriever, completer, baseline, nil)
	if err != nil {
		t.Fatalf("new grounded reasoner: %v", err)
	}
	return g
}

func manyAlerts(n int) []models.Alert {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]models.Alert, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, models.Alert{
			ID:        fmt.Sprintf("a-%02d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Host:      "core-router-1",
			Severity:  models.SeverityWarning,
			AlertType: "bgp_session_flap",
			Tags:      models.StringFields("incident", "A"),
		})
	}
	return out
}

const validAnswer = `{
  "incident_summary": "bgp instability",
  "hypotheses": ["route policy change", "unstable BGP session with AS65010"],
  "confidence_scores": {"route policy change": 0.4, "unstable BGP session with AS65010": 0.75},
  "evidence": {"alerts": ["bgp_session_flap", "route_withdrawal"]}
}`

func TestGroundedEvaluateSuccess(t *testing.T) {
	completer := &stubCompleter{content: validAnswer}
	retriever := &stubRetriever{hits: []corpus.Hit{
		{Document: corpus.Document{ID: "bgp.md", Title: "BGP", Text: strings.Repeat("x", 5000)}, Score: 2},
	}}
	g := groundedFixture(t, completer, retriever)
	inc := incidentWithTypes("bgp_session_flap on core-router-1 (25 alerts, tag A)", "route_withdrawal", "bgp_session_flap")

	got, err := g.Evaluate(context.Background(), inc, manyAlerts(25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"unstable BGP session with AS65010", "route policy change"}
	if diff := cmp.Diff(want, got.Hypotheses); diff != "" {
		t.Fatalf("hypotheses not ranked (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"llm_evidence", "retrieval", "llm_request", "llm_response"}, got.Evidence.Keys()); diff != "" {
		t.Fatalf("unexpected evidence keys (-want +got):\n%s", diff)
	}

	if retriever.k != 4 || retriever.query != "bgp_session_flap on core-router-1 (25 alerts, tag A) bgp_session_flap route_withdrawal tag A" {
		t.Fatalf("unexpected retrieval call: %q k=%d", retriever.query, retriever.k)
	}
	if completer.last.System != SystemPrompt {
		t.Fatalf("system prompt not forwarded")
	}

	var prompt struct {
		AlertsSample []struct {
			ID string `json:"id"`
		} `json:"alerts_sample"`
		RAGContext []struct {
			Text string `json:"text"`
		} `json:"rag_context"`
		ScenarioHint string   `json:"scenario_hint"`
		Constraints  []string `json:"constraints"`
	}
	if err := json.Unmarshal([]byte(completer.last.Prompt), &prompt); err != nil {
		t.Fatalf("prompt is not JSON: %v", err)
	}
	if len(prompt.AlertsSample) != 20 || prompt.AlertsSample[0].ID != "a-00" {
		t.Fatalf("expected the 20 earliest alerts, got %d starting at %v", len(prompt.AlertsSample), prompt.AlertsSample)
	}
	if len(prompt.RAGContext) != 1 || len(prompt.RAGContext[0].Text) != 2000 {
		t.Fatalf("expected one passage truncated to 2000 bytes")
	}
	if prompt.ScenarioHint != "unstable BGP session with an upstream peer" {
		t.Fatalf("unexpected scenario hint %q", prompt.ScenarioHint)
	}
	if len(prompt.Constraints) == 0 {
		t.Fatalf("constraints missing from prompt")
	}
}

func TestGroundedEvaluateRejectsBadOutput(t *testing.T) {
	cases := map[string]string{
		"fenced":         "```json\n" + validAnswer + "\n```",
		"prose":          "Here is the analysis: " + validAnswer,
		"trailing":       validAnswer + " {}",
		"not json":       "bgp is broken",
		"key mismatch":   `{"hypotheses":["a","b"],"confidence_scores":{"a":0.5}}`,
		"extra key":      `{"hypotheses":["a"],"confidence_scores":{"a":0.5,"b":0.2}}`,
		"out of range":   `{"hypotheses":["a"],"confidence_scores":{"a":1.2}}`,
		"empty":          `{"hypotheses":[],"confidence_scores":{}}`,
		"duplicate":      `{"hypotheses":["a","a"],"confidence_scores":{"a":0.5}}`,
		"string score":   `{"hypotheses":["a"],"confidence_scores":{"a":"0.5"}}`,
		"too many":       `{"hypotheses":["a","b","c","d","e","f"],"confidence_scores":{"a":0.1,"b":0.1,"c":0.1,"d":0.1,"e":0.1,"f":0.1}}`,
		"blank response": "   ",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			g := groundedFixture(t, &stubCompleter{content: content}, &stubRetriever{})
			_, err := g.Evaluate(context.Background(), incidentWithTypes("x on h (10 alerts, tag A)", "x"), manyAlerts(2))
			if utils.KindOf(err) != utils.KindUpstream {
				t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
			}
		})
	}
}

func TestGroundedEvaluateAcceptsSurroundingWhitespaceAndScalarEvidence(t *testing.T) {
	content := "\n  {\"hypotheses\":[\"a\"],\"confidence_scores\":{\"a\":0.9},\"evidence\":\"packet loss burst\"}\n"
	g := groundedFixture(t, &stubCompleter{content: content}, &stubRetriever{})
	got, err := g.Evaluate(context.Background(), incidentWithTypes("x on h (10 alerts, tag A)", "x"), manyAlerts(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, _ := got.Evidence.Get("llm_evidence")
	fields, _ := ev.AsFields()
	if v, _ := fields.GetString("value"); v != "packet loss burst" {
		t.Fatalf("scalar evidence not preserved: %v", fields.Keys())
	}
}

func TestGroundedEvaluateUpstreamFailures(t *testing.T) {
	inc := incidentWithTypes("x on h (10 alerts, tag A)", "x")

	g := groundedFixture(t, &stubCompleter{content: validAnswer}, &stubRetriever{err: errors.New("weaviate down")})
	if _, err := g.Evaluate(context.Background(), inc, nil); utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("retrieval failure must be UPSTREAM_FAILURE, got %v", err)
	}

	g = groundedFixture(t, &stubCompleter{err: errors.New("502 bad gateway")}, &stubRetriever{})
	if _, err := g.Evaluate(context.Background(), inc, nil); utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("provider failure must be UPSTREAM_FAILURE, got %v", err)
	}
}

func TestGroundedEvaluateTimeout(t *testing.T) {
	baseline, _ := NewBaselineReasoner(nil)
	g, err := NewGroundedReasoner(GroundedConfig{Model: "tele-llm", Timeout: 20 * time.Millisecond},
		&stubRetriever{}, &stubCompleter{block: true}, baseline, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	_, err = g.Evaluate(context.Background(), incidentWithTypes("x on h (10 alerts, tag A)", "x"), nil)
	if utils.KindOf(err) != utils.KindUpstream || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout upstream failure, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestNewGroundedReasonerRejectsBaselineIdentity(t *testing.T) {
	if _, err := NewGroundedReasoner(GroundedConfig{Model: models.BaselineReasonerID}, &stubRetriever{}, &stubCompleter{}, nil, nil); err == nil {
		t.Fatalf("expected reserved identity error")
	}
}
