package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miradorstack/teleops-rca/internal/models"
)

// artifactSlot owns one artifact. Its mutex serialises status transitions per id.
type artifactSlot struct {
	mu       sync.Mutex
	artifact models.Artifact
}

// MemoryStore is an in-process arena keyed by generated identifiers. Collections sit
// behind a read/write lock; each artifact additionally carries its own lock so review
// transitions on different artifacts never contend.
type MemoryStore struct {
	mu sync.RWMutex

	alerts     map[string]models.Alert
	alertOrder []string

	incidents     map[string]models.Incident
	incidentOrder []string

	artifacts  map[string]*artifactSlot
	byIncident map[string][]string

	audit []models.AuditEntry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:     make(map[string]models.Alert),
		incidents:  make(map[string]models.Incident),
		artifacts:  make(map[string]*artifactSlot),
		byIncident: make(map[string][]string),
	}
}

// AppendAlerts stores alerts; ids already present keep their original record.
func (s *MemoryStore) AppendAlerts(_ context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range alerts {
		if a.ID == "" {
			return fmt.Errorf("alert id is required")
		}
		if _, exists := s.alerts[a.ID]; exists {
			continue
		}
		s.alerts[a.ID] = cloneAlert(a)
		s.alertOrder = append(s.alertOrder, a.ID)
	}
	return nil
}

// QueryAlerts returns alerts matching q in timestamp order.
func (s *MemoryStore) QueryAlerts(_ context.Context, q AlertQuery) ([]models.Alert, error) {
	ids := make(map[string]struct{}, len(q.IDs))
	for _, id := range q.IDs {
		ids[id] = struct{}{}
	}

	s.mu.RLock()
	var out []models.Alert
	for _, id := range s.alertOrder {
		a := s.alerts[id]
		if matchesAlert(a, q, ids) {
			out = append(out, cloneAlert(a))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreateIncidents stores new incidents.
func (s *MemoryStore) CreateIncidents(_ context.Context, incidents []models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range incidents {
		if _, exists := s.incidents[inc.ID]; exists {
			return fmt.Errorf("incident %s already exists", inc.ID)
		}
	}
	for _, inc := range incidents {
		s.incidents[inc.ID] = cloneIncident(inc)
		s.incidentOrder = append(s.incidentOrder, inc.ID)
	}
	return nil
}

// GetIncident returns the incident with id.
func (s *MemoryStore) GetIncident(_ context.Context, id string) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, ErrNotFound
	}
	return cloneIncident(inc), nil
}

// ListIncidents returns incidents newest first.
func (s *MemoryStore) ListIncidents(_ context.Context, q IncidentQuery) ([]models.Incident, error) {
	s.mu.RLock()
	var out []models.Incident
	for _, id := range s.incidentOrder {
		inc := s.incidents[id]
		if q.Status != "" && inc.Status != q.Status {
			continue
		}
		if q.Tag != "" && inc.Tag != q.Tag {
			continue
		}
		out = append(out, cloneIncident(inc))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// OpenAssignments maps alert ids to the open incident containing them.
func (s *MemoryStore) OpenAssignments(_ context.Context, alertIDs []string) (map[string]string, error) {
	wanted := make(map[string]struct{}, len(alertIDs))
	for _, id := range alertIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for _, id := range s.incidentOrder {
		inc := s.incidents[id]
		if inc.Status != models.IncidentOpen {
			continue
		}
		for _, alertID := range inc.AlertIDs {
			if _, ok := wanted[alertID]; ok {
				out[alertID] = inc.ID
			}
		}
	}
	return out, nil
}

// OpenGroupKeys maps group keys to open incidents carrying them.
func (s *MemoryStore) OpenGroupKeys(_ context.Context, keys []string) (map[string]string, error) {
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for _, id := range s.incidentOrder {
		inc := s.incidents[id]
		if inc.Status != models.IncidentOpen {
			continue
		}
		if _, ok := wanted[inc.GroupKey]; ok {
			out[inc.GroupKey] = inc.ID
		}
	}
	return out, nil
}

// SetIncidentStatus applies an operator-driven status change.
func (s *MemoryStore) SetIncidentStatus(_ context.Context, id string, status models.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.Status = status
	s.incidents[id] = inc
	return nil
}

// CreateArtifact stores a new artifact.
func (s *MemoryStore) CreateArtifact(_ context.Context, artifact models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[artifact.ID]; exists {
		return fmt.Errorf("artifact %s already exists", artifact.ID)
	}
	if _, ok := s.incidents[artifact.IncidentID]; !ok {
		return ErrNotFound
	}
	s.artifacts[artifact.ID] = &artifactSlot{artifact: cloneArtifact(artifact)}
	s.byIncident[artifact.IncidentID] = append(s.byIncident[artifact.IncidentID], artifact.ID)
	return nil
}

// GetArtifact returns the artifact with id.
func (s *MemoryStore) GetArtifact(_ context.Context, id string) (models.Artifact, error) {
	s.mu.RLock()
	slot, ok := s.artifacts[id]
	s.mu.RUnlock()
	if !ok {
		return models.Artifact{}, ErrNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return cloneArtifact(slot.artifact), nil
}

// ListArtifacts returns every artifact generated for an incident in creation order.
func (s *MemoryStore) ListArtifacts(_ context.Context, incidentID string) ([]models.Artifact, error) {
	s.mu.RLock()
	ids := s.byIncident[incidentID]
	slots := make([]*artifactSlot, 0, len(ids))
	for _, id := range ids {
		slots = append(slots, s.artifacts[id])
	}
	s.mu.RUnlock()

	out := make([]models.Artifact, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		out = append(out, cloneArtifact(slot.artifact))
		slot.mu.Unlock()
	}
	return out, nil
}

// ReviewArtifact applies the transition under the artifact's own lock. The status
// change and the audit append happen together while the collection lock is held, so
// readers observe both or neither.
func (s *MemoryStore) ReviewArtifact(_ context.Context, t ReviewTransition) (models.AuditEntry, error) {
	s.mu.RLock()
	slot, ok := s.artifacts[t.ArtifactID]
	s.mu.RUnlock()
	if !ok {
		return models.AuditEntry{}, ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.artifact.Status != models.StatusPendingReview {
		return models.AuditEntry{}, ErrAlreadyReviewed
	}

	entry := auditEntryFor(t, slot.artifact.IncidentID)

	s.mu.Lock()
	s.audit = append(s.audit, entry)
	slot.artifact.Status = t.Decision.Status()
	slot.artifact.ReviewedBy = t.ReviewerID
	slot.artifact.ReviewedAt = t.At
	s.mu.Unlock()

	return entry, nil
}

// QueryAudit returns matching entries ordered by timestamp then id.
func (s *MemoryStore) QueryAudit(_ context.Context, q AuditQuery) ([]models.AuditEntry, error) {
	s.mu.RLock()
	var out []models.AuditEntry
	for _, e := range s.audit {
		if matchesAudit(e, q) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Counts summarises the arena contents.
func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	counts := newCounts()

	s.mu.RLock()
	counts.Alerts = len(s.alerts)
	counts.Incidents = len(s.incidents)
	for _, inc := range s.incidents {
		if inc.Status == models.IncidentOpen {
			counts.OpenIncidents++
		}
	}
	for _, e := range s.audit {
		counts.ReviewsByDecision[string(e.Decision)]++
	}
	slots := make([]*artifactSlot, 0, len(s.artifacts))
	for _, slot := range s.artifacts {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	counts.Artifacts = len(slots)
	for _, slot := range slots {
		slot.mu.Lock()
		counts.ArtifactsByReasoner[slot.artifact.Reasoner]++
		counts.ArtifactsByStatus[string(slot.artifact.Status)]++
		slot.mu.Unlock()
	}
	return counts, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func cloneAlert(a models.Alert) models.Alert {
	a.Tags = a.Tags.Clone()
	a.Raw = a.Raw.Clone()
	return a
}

func cloneIncident(inc models.Incident) models.Incident {
	inc.AlertIDs = append([]string(nil), inc.AlertIDs...)
	inc.ImpactScope = append([]string(nil), inc.ImpactScope...)
	inc.Evidence = inc.Evidence.Clone()
	return inc
}

func cloneArtifact(a models.Artifact) models.Artifact {
	a.Hypotheses = append([]string(nil), a.Hypotheses...)
	confidence := make(map[string]float64, len(a.Confidence))
	for k, v := range a.Confidence {
		confidence[k] = v
	}
	a.Confidence = confidence
	a.Evidence = a.Evidence.Clone()
	return a
}
