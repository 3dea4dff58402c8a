package engine

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/teleops-rca/internal/corpus"
	"github.com/miradorstack/teleops-rca/internal/models"
)

// SystemPrompt frames the provider as a telecom NOC engineer and pins the output format.
const SystemPrompt = "You are a principal network operations engineer with long experience in telecom NOCs. " +
	"You specialise in IP/MPLS networks, BGP routing, DNS infrastructure, optical transport, " +
	"CDN operations, firewall policy and database performance for large operators.\n\n" +
	"ANALYSIS FRAMEWORK:\n" +
	"1. Pattern recognition: which alert sequence or timing indicates causation rather than correlation?\n" +
	"2. Domain expertise: which telecom failure modes match this alert pattern?\n" +
	"3. Evidence strength: separate symptoms (high latency) from root causes (fiber cut).\n\n" +
	"OUTPUT REQUIREMENTS:\n" +
	"- Start each hypothesis with the root cause, naming the specific components involved.\n" +
	"- Cite two or three alert types from the provided sample as supporting evidence.\n" +
	"- Commit to the most likely cause (0.6-0.8) instead of hedging at 0.5.\n" +
	"- If a scenario_hint is provided, weigh it: it comes from deterministic pattern matching.\n" +
	"- Ground the analysis in the documented failure modes and runbooks given in rag_context.\n" +
	"- Return between one and five hypotheses, highest confidence first.\n\n" +
	"Return only one JSON object matching the provided schema. No markdown fences, no prose."

const promptInstruction = "You are a telecom operations RCA assistant. " +
	"Return only valid JSON following the schema below. " +
	"Do not wrap the JSON in markdown or code fences."

var promptConstraints = []string{
	"Do not invent remediation commands.",
	"If uncertain, include a lower confidence score.",
	"Every hypothesis must appear as a key in confidence_scores and nowhere else.",
	"Confidence scores are numbers between 0 and 1.",
}

// PromptContext is the JSON document sent as the user message.
type PromptContext struct {
	Instruction  string         `json:"instruction"`
	Schema       responseSchema `json:"schema"`
	Incident     incidentView   `json:"incident"`
	AlertsSample []alertView    `json:"alerts_sample"`
	RAGContext   []ragPassage   `json:"rag_context"`
	Constraints  []string       `json:"constraints"`
	ScenarioHint string         `json:"scenario_hint,omitempty"`
}

type responseSchema struct {
	IncidentSummary  string             `json:"incident_summary"`
	Hypotheses       []string           `json:"hypotheses"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Evidence         map[string]string  `json:"evidence"`
}

type incidentView struct {
	ID          string          `json:"id"`
	Tag         string          `json:"tag"`
	Summary     string          `json:"summary"`
	Severity    models.Severity `json:"severity"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	ImpactScope []string        `json:"impact_scope,omitempty"`
	Evidence    models.Fields   `json:"evidence"`
}

type alertView struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Host      string          `json:"host"`
	Service   string          `json:"service"`
	Severity  models.Severity `json:"severity"`
	AlertType string          `json:"alert_type"`
	Message   string          `json:"message,omitempty"`
	Tags      models.Fields   `json:"tags"`
}

type ragPassage struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// BuildQuery derives the retrieval query from the incident summary, its sorted alert
// types and the grouping tag.
func BuildQuery(incident models.Incident) string {
	types := append([]string(nil), incident.AlertTypes()...)
	sort.Strings(types)
	parts := []string{strings.TrimSpace(incident.Summary)}
	if len(types) > 0 {
		parts = append(parts, strings.Join(types, " "))
	}
	if incident.Tag != "" {
		parts = append(parts, "tag "+incident.Tag)
	}
	return strings.Join(parts, " ")
}

// sampleAlerts returns at most limit alerts in timestamp order.
func sampleAlerts(alerts []models.Alert, limit int) []models.Alert {
	sorted := append([]models.Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func newPromptContext(incident models.Incident, sample []models.Alert, hits []corpus.Hit, maxDocBytes int, hint string) PromptContext {
	pc := PromptContext{
		Instruction: promptInstruction,
		Schema: responseSchema{
			IncidentSummary:  "string",
			Hypotheses:       []string{"string"},
			ConfidenceScores: map[string]float64{"hypothesis": 0.0},
			Evidence:         map[string]string{"key": "value"},
		},
		Incident: incidentView{
			ID:          incident.ID,
			Tag:         incident.Tag,
			Summary:     incident.Summary,
			Severity:    incident.Severity,
			StartTime:   incident.StartTime.UTC().Format(time.RFC3339),
			EndTime:     incident.EndTime.UTC().Format(time.RFC3339),
			ImpactScope: incident.ImpactScope,
			Evidence:    incident.Evidence,
		},
		AlertsSample: make([]alertView, 0, len(sample)),
		RAGContext:   make([]ragPassage, 0, len(hits)),
		Constraints:  promptConstraints,
		ScenarioHint: hint,
	}
	for _, a := range sample {
		pc.AlertsSample = append(pc.AlertsSample, alertView{
			ID:        a.ID,
			Timestamp: a.Timestamp.UTC().Format(time.RFC3339Nano),
			Host:      a.Host,
			Service:   a.Service,
			Severity:  a.Severity,
			AlertType: a.AlertType,
			Message:   a.Message,
			Tags:      a.Tags,
		})
	}
	for _, h := range hits {
		pc.RAGContext = append(pc.RAGContext, ragPassage{
			ID:    h.Document.ID,
			Title: h.Document.Title,
			Text:  corpus.Truncate(h.Document.Text, maxDocBytes),
		})
	}
	return pc
}

// Render encodes the prompt context as indented JSON.
func (pc PromptContext) Render() (string, error) {
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
