package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/teleops-rca/internal/engine"
	"github.com/miradorstack/teleops-rca/internal/metrics"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/store"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

// RequestState is the lifecycle position of one generation request.
type RequestState string

const (
	StateRequested       RequestState = "requested"
	StateCallingProvider RequestState = "calling-provider"
	StateSucceeded       RequestState = "succeeded"
	StateFailed          RequestState = "failed"
)

var allowedTransitions = map[RequestState][]RequestState{
	StateRequested:       {StateCallingProvider, StateSucceeded, StateFailed},
	StateCallingProvider: {StateSucceeded, StateFailed},
}

func (s RequestState) terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// GenerationRequest is a snapshot of an in-flight generation.
type GenerationRequest struct {
	ID         string              `json:"id"`
	IncidentID string              `json:"incident_id"`
	Kind       models.ReasonerKind `json:"kind"`
	State      RequestState        `json:"state"`
	StartedAt  time.Time           `json:"started_at"`
}

// GroundedEvaluator is the model-backed reasoner surface.
type GroundedEvaluator interface {
	Name() string
	Evaluate(ctx context.Context, incident models.Incident, alerts []models.Alert) (models.RankedHypotheses, error)
}

// OrchestratorStore is the persistence the orchestrator reads and writes.
type OrchestratorStore interface {
	store.AlertStore
	store.IncidentStore
	store.ArtifactStore
}

// LatestFilter narrows latest-artifact resolution. Empty values match everything;
// Reasoner accepts any, baseline, grounded or llm.
type LatestFilter struct {
	Reasoner string
	Status   string
}

// BatchResult is the outcome of one incident in a batch run.
type BatchResult struct {
	IncidentID string
	Artifact   models.Artifact
	Err        error
}

// Orchestrator runs reasoners against stored incidents and persists their artifacts.
type Orchestrator struct {
	store     OrchestratorStore
	baseline  *engine.BaselineReasoner
	grounded  GroundedEvaluator
	clock     utils.Clock
	newID     func() string
	newReqID  func() string
	logger    *slog.Logger
	latencies *utils.LatencyTracker

	mu       sync.Mutex
	inflight map[string]*GenerationRequest
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorClock pins artifact timestamps.
func WithOrchestratorClock(c utils.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithArtifactIDs overrides artifact id generation.
func WithArtifactIDs(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithRequestIDs overrides generation request id generation.
func WithRequestIDs(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newReqID = fn }
}

// NewOrchestrator wires the reasoners. grounded may be nil when no provider is configured.
func NewOrchestrator(st OrchestratorStore, baseline *engine.BaselineReasoner, grounded GroundedEvaluator, logger *slog.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("orchestrator requires a store")
	}
	if baseline == nil {
		var err error
		if baseline, err = engine.NewBaselineReasoner(nil); err != nil {
			return nil, err
		}
	}
	o := &Orchestrator{
		store:     st,
		baseline:  baseline,
		grounded:  grounded,
		clock:     utils.SystemClock,
		newID:     uuid.NewString,
		newReqID:  uuid.NewString,
		logger:    utils.Component(logger, "orchestrator"),
		latencies: utils.NewLatencyTracker(1024),
		inflight:  make(map[string]*GenerationRequest),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// GroundedEnabled reports whether a grounded reasoner is wired.
func (o *Orchestrator) GroundedEnabled() bool { return o.grounded != nil }

// GenerateBaseline runs the rule catalog. It fails only for unknown incidents or store
// faults.
func (o *Orchestrator) GenerateBaseline(ctx context.Context, incidentID string) (models.Artifact, error) {
	const op = "orchestrator.GenerateBaseline"
	incident, err := o.incident(ctx, op, incidentID)
	if err != nil {
		return models.Artifact{}, err
	}

	req := o.begin(incident.ID, models.ReasonerBaseline)
	start := time.Now()
	ranked := o.baseline.Evaluate(incident)
	artifact, err := o.persist(ctx, incident, models.ReasonerBaseline, o.baseline.Name(), ranked, time.Since(start))
	if err != nil {
		o.finish(req, StateFailed)
		metrics.ObserveGeneration(string(models.ReasonerBaseline), time.Since(start), metrics.OutcomeError)
		return models.Artifact{}, utils.NewAppError(op, "persist artifact", err)
	}
	o.finish(req, StateSucceeded)
	metrics.ObserveGeneration(string(models.ReasonerBaseline), artifact.Duration, metrics.OutcomeSuccess)
	o.logger.Info("baseline rca generated",
		slog.String("incident_id", incident.ID),
		slog.String("artifact_id", artifact.ID),
		slog.String("top_hypothesis", artifact.Hypotheses[0]))
	return artifact, nil
}

// GenerateGrounded makes one grounded attempt. Failures are reported as
// UPSTREAM_FAILURE; no baseline artifact is substituted.
func (o *Orchestrator) GenerateGrounded(ctx context.Context, incidentID string) (models.Artifact, error) {
	const op = "orchestrator.GenerateGrounded"
	incident, err := o.incident(ctx, op, incidentID)
	if err != nil {
		return models.Artifact{}, err
	}
	if o.grounded == nil {
		return models.Artifact{}, utils.UpstreamError(op, "grounded reasoner is not configured", nil)
	}

	req := o.begin(incident.ID, models.ReasonerGrounded)
	start := time.Now()
	fail := func(err error) (models.Artifact, error) {
		o.finish(req, StateFailed)
		metrics.ObserveGeneration(string(models.ReasonerGrounded), time.Since(start), metrics.OutcomeError)
		o.logger.Warn("grounded rca failed",
			slog.String("incident_id", incident.ID),
			slog.String("request_id", req),
			slog.Any("error", err))
		return models.Artifact{}, err
	}

	alerts, err := o.store.QueryAlerts(ctx, store.AlertQuery{IDs: incident.AlertIDs})
	if err != nil {
		return fail(utils.NewAppError(op, "load incident alerts", err))
	}

	o.advance(req, StateCallingProvider)
	ranked, err := o.grounded.Evaluate(ctx, incident, alerts)
	if err != nil {
		if !utils.IsKind(err, utils.KindUpstream) {
			err = utils.UpstreamError(op, "grounded reasoning failed", err)
		}
		return fail(err)
	}

	artifact, err := o.persist(ctx, incident, models.ReasonerGrounded, o.grounded.Name(), ranked, time.Since(start))
	if err != nil {
		return fail(utils.NewAppError(op, "persist artifact", err))
	}
	o.finish(req, StateSucceeded)
	metrics.ObserveGeneration(string(models.ReasonerGrounded), artifact.Duration, metrics.OutcomeSuccess)

	o.latencies.Observe(artifact.Duration)
	if total := o.latencies.Total(); total >= 20 && total%20 == 0 {
		o.logger.Info("grounded rca latency",
			slog.Duration("p95", o.latencies.Percentile(95)),
			slog.Int("samples", o.latencies.Count()))
	}
	o.logger.Info("grounded rca generated",
		slog.String("incident_id", incident.ID),
		slog.String("artifact_id", artifact.ID),
		slog.String("model", artifact.Reasoner),
		slog.Duration("duration", artifact.Duration))
	return artifact, nil
}

// Generate dispatches on kind.
func (o *Orchestrator) Generate(ctx context.Context, incidentID string, kind models.ReasonerKind) (models.Artifact, error) {
	if kind == models.ReasonerGrounded {
		return o.GenerateGrounded(ctx, incidentID)
	}
	return o.GenerateBaseline(ctx, incidentID)
}

// GenerateBatch runs one reasoner over many incidents with bounded parallelism. Each
// incident gets its own result; one failure does not cancel the others.
func (o *Orchestrator) GenerateBatch(ctx context.Context, incidentIDs []string, kind models.ReasonerKind, parallelism int) []BatchResult {
	if parallelism <= 0 {
		parallelism = 4
	}
	results := make([]BatchResult, len(incidentIDs))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, id := range incidentIDs {
		i, id := i, id
		g.Go(func() error {
			artifact, err := o.Generate(ctx, id, kind)
			results[i] = BatchResult{IncidentID: id, Artifact: artifact, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Latest resolves the most recent artifact for an incident. Simultaneous artifacts are
// ordered grounded before baseline, then by reasoner name, then by id.
func (o *Orchestrator) Latest(ctx context.Context, incidentID string, filter LatestFilter) (models.Artifact, error) {
	const op = "orchestrator.Latest"
	var kind models.ReasonerKind
	switch r := strings.ToLower(strings.TrimSpace(filter.Reasoner)); r {
	case "", "any":
	default:
		parsed, err := models.ParseReasonerKind(r)
		if err != nil {
			return models.Artifact{}, utils.ValidationError(op, err.Error())
		}
		kind = parsed
	}
	var status models.ReviewStatus
	if strings.TrimSpace(filter.Status) != "" {
		parsed, err := models.ParseReviewStatus(filter.Status)
		if err != nil {
			return models.Artifact{}, utils.ValidationError(op, err.Error())
		}
		status = parsed
	}

	incident, err := o.incident(ctx, op, incidentID)
	if err != nil {
		return models.Artifact{}, err
	}
	artifacts, err := o.store.ListArtifacts(ctx, incident.ID)
	if err != nil {
		return models.Artifact{}, utils.NewAppError(op, "list artifacts", err)
	}

	candidates := artifacts[:0]
	for _, a := range artifacts {
		if kind != "" && a.Kind != kind {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return models.Artifact{}, utils.NotFoundError(op, fmt.Sprintf("no artifact for incident %s matches the filter", incident.ID))
	}
	sort.SliceStable(candidates, func(i, j int) bool { return newerArtifact(candidates[i], candidates[j]) })
	return candidates[0], nil
}

func newerArtifact(a, b models.Artifact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Kind != b.Kind {
		return a.Kind == models.ReasonerGrounded
	}
	if a.Reasoner != b.Reasoner {
		return a.Reasoner < b.Reasoner
	}
	return a.ID < b.ID
}

// InFlight lists generation requests that have not reached a terminal state, oldest first.
func (o *Orchestrator) InFlight() []GenerationRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]GenerationRequest, 0, len(o.inflight))
	for _, req := range o.inflight {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LatencyP95 returns the current p95 grounded generation latency.
func (o *Orchestrator) LatencyP95() time.Duration {
	return o.latencies.Percentile(95)
}

func (o *Orchestrator) incident(ctx context.Context, op, incidentID string) (models.Incident, error) {
	id := strings.TrimSpace(incidentID)
	if id == "" {
		return models.Incident{}, utils.ValidationError(op, "incident id is required")
	}
	incident, err := o.store.GetIncident(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Incident{}, utils.NotFoundError(op, fmt.Sprintf("incident %s not found", id))
	}
	if err != nil {
		return models.Incident{}, utils.NewAppError(op, "load incident", err)
	}
	return incident, nil
}

func (o *Orchestrator) persist(ctx context.Context, incident models.Incident, kind models.ReasonerKind, reasoner string, ranked models.RankedHypotheses, duration time.Duration) (models.Artifact, error) {
	if err := ranked.Validate(); err != nil {
		return models.Artifact{}, err
	}
	artifact := models.Artifact{
		ID:         o.newID(),
		IncidentID: incident.ID,
		Kind:       kind,
		Reasoner:   reasoner,
		Hypotheses: ranked.Hypotheses,
		Confidence: ranked.Confidence,
		Evidence:   ranked.Evidence,
		Duration:   duration,
		Status:     models.StatusPendingReview,
		CreatedAt:  o.clock(),
	}
	if err := o.store.CreateArtifact(ctx, artifact); err != nil {
		return models.Artifact{}, err
	}
	return artifact, nil
}

func (o *Orchestrator) begin(incidentID string, kind models.ReasonerKind) string {
	req := &GenerationRequest{
		ID:         o.newReqID(),
		IncidentID: incidentID,
		Kind:       kind,
		State:      StateRequested,
		StartedAt:  o.clock(),
	}
	o.mu.Lock()
	o.inflight[req.ID] = req
	o.mu.Unlock()
	return req.ID
}

func (o *Orchestrator) advance(id string, next RequestState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.inflight[id]
	if !ok {
		panic(fmt.Sprintf("generation request %s is not in flight", id))
	}
	allowed := false
	for _, s := range allowedTransitions[req.State] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		panic(fmt.Sprintf("generation request %s: invalid transition %s -> %s", id, req.State, next))
	}
	req.State = next
	if next.terminal() {
		delete(o.inflight, id)
	}
}

func (o *Orchestrator) finish(id string, state RequestState) {
	o.advance(id, state)
}
