package api

import (
	"time"

	"github.com/miradorstack/teleops-rca/internal/correlation"
	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/services"
)

// CorrelateRequest carries one alert batch.
type CorrelateRequest struct {
	Alerts []models.Alert `json:"alerts"`
}

// GroupSummary describes one group formed during correlation.
type GroupSummary struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	AlertCount  int       `json:"alert_count"`
	Disposition string    `json:"disposition"`
	IncidentID  string    `json:"incident_id,omitempty"`
}

// CorrelateResponse lists the new incidents and the fate of every group.
type CorrelateResponse struct {
	Incidents      []models.Incident `json:"incidents"`
	Groups         []GroupSummary    `json:"groups"`
	NoiseThreshold float64           `json:"noise_threshold"`
	NoiseFiltered  bool              `json:"noise_filtered"`
}

// IncidentRequest names one incident.
type IncidentRequest struct {
	IncidentID string `json:"incident_id"`
}

// LatestArtifactRequest resolves the newest artifact of an incident.
type LatestArtifactRequest struct {
	IncidentID string `json:"incident_id"`
	Reasoner   string `json:"reasoner,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ArtifactResponse wraps one artifact.
type ArtifactResponse struct {
	Artifact models.Artifact `json:"artifact"`
}

// ReviewRequest records a reviewer decision.
type ReviewRequest struct {
	ArtifactID string `json:"artifact_id"`
	Decision   string `json:"decision"`
	ReviewerID string `json:"reviewer_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

// ReviewResponse returns the audit entry written for the decision.
type ReviewResponse struct {
	Entry models.AuditEntry `json:"entry"`
}

// AuditRequest filters the audit trail.
type AuditRequest struct {
	IncidentID string `json:"incident_id,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	Decision   string `json:"decision,omitempty"`
	ReviewerID string `json:"reviewer_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AuditResponse lists matching audit entries.
type AuditResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

// ListArtifactsResponse lists every artifact of one incident in creation order.
type ListArtifactsResponse struct {
	Artifacts []models.Artifact `json:"artifacts"`
}

// ListIncidentsRequest filters stored incidents.
type ListIncidentsRequest struct {
	Status string `json:"status,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListIncidentsResponse lists incidents, newest first.
type ListIncidentsResponse struct {
	Incidents []models.Incident `json:"incidents"`
}

// OverviewRequest is empty.
type OverviewRequest struct{}

// OverviewResponse reports record counts and generation activity.
type OverviewResponse struct {
	Overview services.Overview `json:"overview"`
}

func toCorrelateResponse(result correlation.Result) *CorrelateResponse {
	resp := &CorrelateResponse{
		Incidents:      result.Incidents,
		Groups:         make([]GroupSummary, 0, len(result.Groups)),
		NoiseThreshold: result.Threshold,
		NoiseFiltered:  result.Filtered,
	}
	if resp.Incidents == nil {
		resp.Incidents = []models.Incident{}
	}
	for _, g := range result.Groups {
		resp.Groups = append(resp.Groups, GroupSummary{
			Key:         g.Key,
			WindowStart: g.WindowStart,
			AlertCount:  len(g.Alerts),
			Disposition: string(g.Disposition),
			IncidentID:  g.IncidentID,
		})
	}
	return resp
}
