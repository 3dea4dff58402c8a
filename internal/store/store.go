// Package store persists alerts, incidents, RCA artifacts and the review audit log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/teleops-rca/internal/models"
)

var (
	// ErrNotFound signals an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReviewed signals an artifact that has left pending_review.
	ErrAlreadyReviewed = errors.New("artifact already reviewed")
)

// AlertQuery filters stored alerts. Zero values disable a filter.
type AlertQuery struct {
	IDs      []string
	TagKey   string
	TagValue string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// IncidentQuery filters stored incidents.
type IncidentQuery struct {
	Status models.IncidentStatus
	Tag    string
	Limit  int
}

// AuditQuery filters audit entries.
type AuditQuery struct {
	IncidentID string
	ArtifactID string
	Decision   models.Decision
	ReviewerID string
	Limit      int
}

// ReviewTransition moves an artifact out of pending_review and records the decision.
type ReviewTransition struct {
	EntryID    string
	ArtifactID string
	Decision   models.Decision
	ReviewerID string
	Note       string
	At         time.Time
}

// Counts summarises stored records for the overview endpoint.
type Counts struct {
	Alerts              int            `json:"alerts"`
	Incidents           int            `json:"incidents"`
	OpenIncidents       int            `json:"open_incidents"`
	Artifacts           int            `json:"artifacts"`
	ArtifactsByReasoner map[string]int `json:"artifacts_by_reasoner"`
	ArtifactsByStatus   map[string]int `json:"artifacts_by_status"`
	ReviewsByDecision   map[string]int `json:"reviews_by_decision"`
}

func newCounts() Counts {
	return Counts{
		ArtifactsByReasoner: make(map[string]int),
		ArtifactsByStatus:   make(map[string]int),
		ReviewsByDecision:   make(map[string]int),
	}
}

// AlertStore is the append + query surface over alert records.
type AlertStore interface {
	AppendAlerts(ctx context.Context, alerts []models.Alert) error
	QueryAlerts(ctx context.Context, q AlertQuery) ([]models.Alert, error)
}

// IncidentStore persists correlation output.
type IncidentStore interface {
	CreateIncidents(ctx context.Context, incidents []models.Incident) error
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	ListIncidents(ctx context.Context, q IncidentQuery) ([]models.Incident, error)
	// OpenAssignments maps each given alert id that belongs to an open incident onto that incident.
	OpenAssignments(ctx context.Context, alertIDs []string) (map[string]string, error)
	// OpenGroupKeys maps each given group key that names an open incident onto that incident.
	OpenGroupKeys(ctx context.Context, keys []string) (map[string]string, error)
	SetIncidentStatus(ctx context.Context, id string, status models.IncidentStatus) error
}

// ArtifactStore persists RCA artifacts and applies review transitions.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact models.Artifact) error
	GetArtifact(ctx context.Context, id string) (models.Artifact, error)
	ListArtifacts(ctx context.Context, incidentID string) ([]models.Artifact, error)
	// ReviewArtifact changes the artifact status and appends the audit entry atomically.
	// It returns ErrNotFound or ErrAlreadyReviewed without writing anything.
	ReviewArtifact(ctx context.Context, t ReviewTransition) (models.AuditEntry, error)
	QueryAudit(ctx context.Context, q AuditQuery) ([]models.AuditEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	AlertStore
	IncidentStore
	ArtifactStore
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

func auditEntryFor(t ReviewTransition, incidentID string) models.AuditEntry {
	return models.AuditEntry{
		ID:         t.EntryID,
		ArtifactID: t.ArtifactID,
		IncidentID: incidentID,
		Timestamp:  t.At,
		Decision:   t.Decision,
		ReviewerID: t.ReviewerID,
		Note:       t.Note,
	}
}

func matchesAudit(e models.AuditEntry, q AuditQuery) bool {
	if q.IncidentID != "" && e.IncidentID != q.IncidentID {
		return false
	}
	if q.ArtifactID != "" && e.ArtifactID != q.ArtifactID {
		return false
	}
	if q.Decision != "" && e.Decision != q.Decision {
		return false
	}
	if q.ReviewerID != "" && e.ReviewerID != q.ReviewerID {
		return false
	}
	return true
}

func matchesAlert(a models.Alert, q AlertQuery, ids map[string]struct{}) bool {
	if len(ids) > 0 {
		if _, ok := ids[a.ID]; !ok {
			return false
		}
	}
	if q.TagKey != "" {
		value, ok := a.Tags.GetString(q.TagKey)
		if !ok || (q.TagValue != "" && value != q.TagValue) {
			return false
		}
	}
	if !q.Since.IsZero() && a.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && a.Timestamp.After(q.Until) {
		return false
	}
	return true
}
