package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/teleops-rca/internal/corpus"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/provider"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

const (
	defaultTopK             = 4
	defaultMaxSampledAlerts = 20
	defaultMaxDocBytes      = 2000
)

// Completer is the provider surface the grounded reasoner depends on.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (provider.Response, error)
}

// Hinter proposes a scenario hint for an incident. BaselineReasoner satisfies it.
type Hinter interface {
	Hint(incident models.Incident) string
}

// GroundedConfig tunes retrieval and prompt bounds.
type GroundedConfig struct {
	Model            string
	Timeout          time.Duration
	Temperature      float64
	TopK             int
	MaxSampledAlerts int
	MaxDocBytes      int
}

// GroundedReasoner asks a language model for hypotheses, grounding the prompt in
// retrieved corpus passages.
type GroundedReasoner struct {
	cfg       GroundedConfig
	retriever corpus.Retriever
	provider  Completer
	hinter    Hinter
	logger    *slog.Logger
}

// NewGroundedReasoner wires a reasoner. hinter may be nil.
func NewGroundedReasoner(cfg GroundedConfig, retriever corpus.Retriever, completer Completer, hinter Hinter, logger *slog.Logger) (*GroundedReasoner, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("grounded reasoner requires a model identifier")
	}
	if cfg.Model == models.BaselineReasonerID {
		return nil, fmt.Errorf("model identifier %q is reserved for the baseline reasoner", cfg.Model)
	}
	if retriever == nil || completer == nil {
		return nil, errors.New("grounded reasoner requires a retriever and a provider")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxSampledAlerts <= 0 {
		cfg.MaxSampledAlerts = defaultMaxSampledAlerts
	}
	if cfg.MaxDocBytes <= 0 {
		cfg.MaxDocBytes = defaultMaxDocBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GroundedReasoner{
		cfg:       cfg,
		retriever: retriever,
		provider:  completer,
		hinter:    hinter,
		logger:    utils.Component(logger, "grounded"),
	}, nil
}

// Name returns the model identifier recorded on artifacts.
func (g *GroundedReasoner) Name() string { return g.cfg.Model }

// Evaluate runs retrieval, one provider call and strict validation. Every failure is
// an UPSTREAM_FAILURE and no partial result is returned.
func (g *GroundedReasoner) Evaluate(ctx context.Context, incident models.Incident, alerts []models.Alert) (models.RankedHypotheses, error) {
	const op = "grounded.Evaluate"

	query := BuildQuery(incident)
	hits, err := g.retriever.TopK(ctx, query, g.cfg.TopK)
	if err != nil {
		return models.RankedHypotheses{}, utils.UpstreamError(op, "corpus retrieval failed", err)
	}

	hint := ""
	if g.hinter != nil {
		hint = g.hinter.Hint(incident)
	}
	sample := sampleAlerts(alerts, g.cfg.MaxSampledAlerts)
	prompt, err := newPromptContext(incident, sample, hits, g.cfg.MaxDocBytes, hint).Render()
	if err != nil {
		return models.RankedHypotheses{}, utils.UpstreamError(op, "render prompt", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	resp, err := g.provider.Complete(callCtx, provider.Request{
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return models.RankedHypotheses{}, utils.UpstreamError(op, fmt.Sprintf("provider call timed out after %s", g.cfg.Timeout), err)
		}
		return models.RankedHypotheses{}, utils.UpstreamError(op, "provider call failed", err)
	}

	answer, err := parseAnswer(resp.Content)
	if err != nil {
		g.logger.Warn("provider returned malformed output",
			slog.String("incident_id", incident.ID),
			slog.Int("content_bytes", len(resp.Content)),
			slog.Any("error", err))
		return models.RankedHypotheses{}, utils.UpstreamError(op, "malformed provider output", err)
	}
	ranked, err := answer.rank()
	if err != nil {
		return models.RankedHypotheses{}, utils.UpstreamError(op, "invalid hypotheses", err)
	}

	docIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		docIDs = append(docIDs, h.Document.ID)
	}
	sampledIDs := make([]string, 0, len(sample))
	for _, a := range sample {
		sampledIDs = append(sampledIDs, a.ID)
	}
	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}

	ranked.Evidence = models.NewFields(
		"llm_evidence", answer.evidenceFields(),
		"retrieval", models.NewFields(
			"query", query,
			"top_k", g.cfg.TopK,
			"doc_ids", docIDs,
		),
		"llm_request", models.NewFields(
			"sampled_alert_ids", sampledIDs,
			"alert_count", len(alerts),
			"prompt_bytes", len(prompt),
			"scenario_hint", hint,
			"temperature", g.cfg.Temperature,
		),
		"llm_response", models.NewFields(
			"model", model,
			"content_bytes", len(resp.Content),
			"finish_reason", resp.FinishReason,
			"prompt_tokens", resp.PromptTokens,
			"completion_tokens", resp.CompletionTokens,
			"incident_summary", answer.IncidentSummary,
		),
	)
	return ranked, nil
}
