package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/teleops-rca/internal/correlation"
	"github.com/miradorstack/teleops-rca/internal/metrics"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/review"
	"github.com/miradorstack/teleops-rca/internal/store"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	TagKey   string
	TagValue string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status string
	Tag    string
	Limit  int
}

// Overview summarises stored state and in-flight work.
type Overview struct {
	store.Counts
	GroundedEnabled bool                `json:"grounded_enabled"`
	InFlight        []GenerationRequest `json:"in_flight"`
	GroundedP95     time.Duration       `json:"grounded_p95_ns"`
}

// RCAService is the control-plane facade used by the gRPC server and the CLI.
type RCAService struct {
	logger       *slog.Logger
	store        store.Store
	correlator   *correlation.Engine
	orchestrator *Orchestrator
	gate         *review.Gate
	newAlertID   func() string
}

// NewRCAService constructs the RCA service facade.
func NewRCAService(logger *slog.Logger, st store.Store, correlator *correlation.Engine, orchestrator *Orchestrator, gate *review.Gate) *RCAService {
	return &RCAService{
		logger:       utils.Component(logger, "rca-service"),
		store:        st,
		correlator:   correlator,
		orchestrator: orchestrator,
		gate:         gate,
		newAlertID:   uuid.NewString,
	}
}

// Orchestrator exposes the generation orchestrator for batch use.
func (s *RCAService) Orchestrator() *Orchestrator { return s.orchestrator }

// Correlate validates and stores a batch of alerts, groups them and persists new
// incidents. Alerts already owned by an open incident, and windows whose group key
// names an open incident, do not produce duplicates.
func (s *RCAService) Correlate(ctx context.Context, alerts []models.Alert) (correlation.Result, error) {
	const op = "RCAService.Correlate"
	if len(alerts) == 0 {
		return correlation.Result{}, utils.ValidationError(op, "alert batch is empty")
	}

	batch := make([]models.Alert, len(alerts))
	seen := make(map[string]struct{}, len(alerts))
	for i, alert := range alerts {
		severity, err := models.ParseSeverity(string(alert.Severity))
		if err != nil {
			return correlation.Result{}, utils.ValidationError(op, fmt.Sprintf("alert %d: %v", i, err))
		}
		alert.Severity = severity
		alert.ID = strings.TrimSpace(alert.ID)
		if alert.ID == "" {
			alert.ID = s.newAlertID()
		}
		if err := alert.Validate(); err != nil {
			return correlation.Result{}, utils.ValidationError(op, fmt.Sprintf("alert %d: %v", i, err))
		}
		if _, dup := seen[alert.ID]; dup {
			return correlation.Result{}, utils.ValidationError(op, fmt.Sprintf("alert id %s appears twice in the batch", alert.ID))
		}
		seen[alert.ID] = struct{}{}
		alert.Timestamp = alert.Timestamp.UTC()
		batch[i] = alert
	}

	if err := s.store.AppendAlerts(ctx, batch); err != nil {
		return correlation.Result{}, utils.NewAppError(op, "store alerts", err)
	}

	ids := make([]string, len(batch))
	for i, a := range batch {
		ids[i] = a.ID
	}
	assigned, err := s.store.OpenAssignments(ctx, ids)
	if err != nil {
		return correlation.Result{}, utils.NewAppError(op, "load open assignments", err)
	}

	result := s.correlator.Correlate(batch, assigned)

	keys := make([]string, 0, len(result.Incidents))
	for _, inc := range result.Incidents {
		keys = append(keys, inc.GroupKey)
	}
	existing, err := s.store.OpenGroupKeys(ctx, keys)
	if err != nil {
		return correlation.Result{}, utils.NewAppError(op, "load open group keys", err)
	}
	if len(existing) > 0 {
		result = reassignExisting(result, existing)
	}

	if len(result.Incidents) > 0 {
		if err := s.store.CreateIncidents(ctx, result.Incidents); err != nil {
			return correlation.Result{}, utils.NewAppError(op, "store incidents", err)
		}
	}

	dispositions := result.Dispositions()
	metrics.ObserveCorrelation(dispositions)
	s.logger.Info("alert batch correlated",
		slog.Int("alerts", len(batch)),
		slog.Int("groups", len(result.Groups)),
		slog.Int("incidents", len(result.Incidents)),
		slog.Bool("noise_filtered", result.Filtered),
		slog.Float64("noise_threshold", result.Threshold),
		slog.Any("dispositions", dispositions))
	return result, nil
}

// reassignExisting drops incidents whose group key is already open and points their
// groups at the existing incident.
func reassignExisting(result correlation.Result, existing map[string]string) correlation.Result {
	kept := result.Incidents[:0]
	byNewID := make(map[string]string)
	for _, inc := range result.Incidents {
		if openID, ok := existing[inc.GroupKey]; ok {
			byNewID[inc.ID] = openID
			continue
		}
		kept = append(kept, inc)
	}
	for i := range result.Groups {
		if openID, ok := byNewID[result.Groups[i].IncidentID]; ok {
			result.Groups[i].Disposition = correlation.DispositionAssigned
			result.Groups[i].IncidentID = openID
		}
	}
	result.Incidents = kept
	return result
}

// GenerateBaselineRCA produces a rule-based artifact.
func (s *RCAService) GenerateBaselineRCA(ctx context.Context, incidentID string) (models.Artifact, error) {
	return s.orchestrator.GenerateBaseline(ctx, incidentID)
}

// GenerateGroundedRCA produces a model-backed artifact or an UPSTREAM_FAILURE.
func (s *RCAService) GenerateGroundedRCA(ctx context.Context, incidentID string) (models.Artifact, error) {
	return s.orchestrator.GenerateGrounded(ctx, incidentID)
}

// GetLatestArtifact resolves the newest artifact matching the filters.
func (s *RCAService) GetLatestArtifact(ctx context.Context, incidentID, reasoner, status string) (models.Artifact, error) {
	return s.orchestrator.Latest(ctx, incidentID, LatestFilter{Reasoner: reasoner, Status: status})
}

// ListArtifacts returns every artifact of an incident in creation order.
func (s *RCAService) ListArtifacts(ctx context.Context, incidentID string) ([]models.Artifact, error) {
	const op = "RCAService.ListArtifacts"
	incident, err := s.orchestrator.incident(ctx, op, incidentID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, incident.ID)
	if err != nil {
		return nil, utils.NewAppError(op, "list artifacts", err)
	}
	return artifacts, nil
}

// ReviewArtifact applies a reviewer decision through the review gate.
func (s *RCAService) ReviewArtifact(ctx context.Context, req review.Request) (models.AuditEntry, error) {
	return s.gate.Review(ctx, req)
}

// QueryAudit returns audit entries matching the filters.
func (s *RCAService) QueryAudit(ctx context.Context, q review.Query) ([]models.AuditEntry, error) {
	return s.gate.QueryAudit(ctx, q)
}

// ListAlerts returns stored alerts in timestamp order.
func (s *RCAService) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	const op = "RCAService.ListAlerts"
	if f.Limit < 0 {
		return nil, utils.ValidationError(op, "limit must not be negative")
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, utils.ValidationError(op, "until must not precede since")
	}
	alerts, err := s.store.QueryAlerts(ctx, store.AlertQuery{
		TagKey:   strings.TrimSpace(f.TagKey),
		TagValue: f.TagValue,
		Since:    f.Since,
		Until:    f.Until,
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, utils.NewAppError(op, "query alerts", err)
	}
	return alerts, nil
}

// ListIncidents returns stored incidents, optionally filtered by status and tag.
func (s *RCAService) ListIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	const op = "RCAService.ListIncidents"
	if f.Limit < 0 {
		return nil, utils.ValidationError(op, "limit must not be negative")
	}
	q := store.IncidentQuery{Tag: strings.TrimSpace(f.Tag), Limit: f.Limit}
	switch status := models.IncidentStatus(strings.ToLower(strings.TrimSpace(f.Status))); status {
	case "":
	case models.IncidentOpen, models.IncidentClosed:
		q.Status = status
	default:
		return nil, utils.ValidationError(op, fmt.Sprintf("unknown incident status %q", f.Status))
	}
	incidents, err := s.store.ListIncidents(ctx, q)
	if err != nil {
		return nil, utils.NewAppError(op, "list incidents", err)
	}
	return incidents, nil
}

// CloseIncident marks an incident closed so later batches may open a new one for the
// same alerts.
func (s *RCAService) CloseIncident(ctx context.Context, incidentID string) error {
	const op = "RCAService.CloseIncident"
	id := strings.TrimSpace(incidentID)
	if id == "" {
		return utils.ValidationError(op, "incident id is required")
	}
	err := s.store.SetIncidentStatus(ctx, id, models.IncidentClosed)
	if errors.Is(err, store.ErrNotFound) {
		return utils.NotFoundError(op, fmt.Sprintf("incident %s not found", id))
	}
	if err != nil {
		return utils.NewAppError(op, "close incident", err)
	}
	s.logger.Info("incident closed", slog.String("incident_id", id))
	return nil
}

// Overview reports record counts and generation activity.
func (s *RCAService) Overview(ctx context.Context) (Overview, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return Overview{}, utils.NewAppError("RCAService.Overview", "count records", err)
	}
	return Overview{
		Counts:          counts,
		GroundedEnabled: s.orchestrator.GroundedEnabled(),
		InFlight:        s.orchestrator.InFlight(),
		GroundedP95:     s.orchestrator.LatencyP95(),
	}, nil
}
