// Package review applies human review decisions to RCA artifacts and keeps the audit
// trail.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/miradorstack/teleops-rca/internal/metrics"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/store"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

const maxNoteLength = 4096

// Request is a reviewer's decision on one artifact.
type Request struct {
	ArtifactID string
	Decision   string
	ReviewerID string
	Note       string
}

// Query filters the audit trail. Empty fields match everything.
type Query struct {
	IncidentID string
	ArtifactID string
	Decision   string
	ReviewerID string
	Limit      int
}

// Gate serialises review decisions per artifact. The store applies each transition
// and its audit entry atomically; the gate adds validation and error classification.
type Gate struct {
	store  store.ArtifactStore
	locks  *keyedMutex
	clock  utils.Clock
	newID  func() string
	logger *slog.Logger
}

// Option customises a Gate.
type Option func(*Gate)

// WithClock overrides the time source used for audit timestamps.
func WithClock(c utils.Clock) Option { return func(g *Gate) { g.clock = c } }

// WithIDGenerator overrides audit entry id generation.
func WithIDGenerator(fn func() string) Option { return func(g *Gate) { g.newID = fn } }

// NewGate constructs a review gate over st.
func NewGate(st store.ArtifactStore, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:  st,
		locks:  newKeyedMutex(),
		clock:  utils.SystemClock,
		newID:  uuid.NewString,
		logger: utils.Component(logger, "review"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Review records a decision. It succeeds at most once per artifact: later attempts get
// a CONFLICT error and leave the audit trail untouched.
func (g *Gate) Review(ctx context.Context, req Request) (models.AuditEntry, error) {
	const op = "review.Review"

	artifactID := strings.TrimSpace(req.ArtifactID)
	if artifactID == "" {
		return models.AuditEntry{}, utils.ValidationError(op, "artifact id is required")
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		return models.AuditEntry{}, utils.ValidationError(op, err.Error())
	}
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		return models.AuditEntry{}, utils.ValidationError(op, "reviewer id is required")
	}
	if len(req.Note) > maxNoteLength {
		return models.AuditEntry{}, utils.ValidationError(op, fmt.Sprintf("note exceeds %d bytes", maxNoteLength))
	}

	unlock := g.locks.Lock(artifactID)
	defer unlock()

	entry, err := g.store.ReviewArtifact(ctx, store.ReviewTransition{
		EntryID:    g.newID(),
		ArtifactID: artifactID,
		Decision:   decision,
		ReviewerID: reviewer,
		Note:       req.Note,
		At:         g.clock(),
	})
	switch {
	case err == nil:
		metrics.ObserveReview(string(decision), metrics.OutcomeSuccess)
		g.logger.Info("artifact reviewed",
			slog.String("artifact_id", artifactID),
			slog.String("incident_id", entry.IncidentID),
			slog.String("decision", string(decision)),
			slog.String("reviewer_id", reviewer))
		return entry, nil
	case errors.Is(err, store.ErrNotFound):
		metrics.ObserveReview(string(decision), metrics.OutcomeError)
		return models.AuditEntry{}, utils.NotFoundError(op, fmt.Sprintf("artifact %s not found", artifactID))
	case errors.Is(err, store.ErrAlreadyReviewed):
		metrics.ObserveReview(string(decision), metrics.OutcomeConflict)
		msg := fmt.Sprintf("ALREADY_REVIEWED: artifact %s is no longer pending review", artifactID)
		if current, getErr := g.store.GetArtifact(ctx, artifactID); getErr == nil {
			msg = fmt.Sprintf("ALREADY_REVIEWED: artifact %s was %s by %s", artifactID, current.Status, current.ReviewedBy)
		}
		g.logger.Warn("duplicate review rejected",
			slog.String("artifact_id", artifactID),
			slog.String("reviewer_id", reviewer))
		return models.AuditEntry{}, utils.ConflictError(op, msg, err)
	default:
		metrics.ObserveReview(string(decision), metrics.OutcomeError)
		return models.AuditEntry{}, utils.NewAppError(op, "apply review", err)
	}
}

// QueryAudit returns audit entries ordered by timestamp then id.
func (g *Gate) QueryAudit(ctx context.Context, q Query) ([]models.AuditEntry, error) {
	const op = "review.QueryAudit"
	if q.Limit < 0 {
		return nil, utils.ValidationError(op, "limit must not be negative")
	}
	filter := store.AuditQuery{
		IncidentID: strings.TrimSpace(q.IncidentID),
		ArtifactID: strings.TrimSpace(q.ArtifactID),
		ReviewerID: strings.TrimSpace(q.ReviewerID),
		Limit:      q.Limit,
	}
	if strings.TrimSpace(q.Decision) != "" {
		decision, err := models.ParseDecision(q.Decision)
		if err != nil {
			return nil, utils.ValidationError(op, err.Error())
		}
		filter.Decision = decision
	}
	entries, err := g.store.QueryAudit(ctx, filter)
	if err != nil {
		return nil, utils.NewAppError(op, "query audit", err)
	}
	return entries, nil
}
