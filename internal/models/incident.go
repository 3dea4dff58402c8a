package models

import "time"

// IncidentStatus tracks the operator-facing lifecycle of an incident.
type IncidentStatus string

const (
	IncidentOpen   IncidentStatus = "open"
	IncidentClosed IncidentStatus = "closed"
)

// CreatedByCorrelator marks incidents produced by the correlation engine.
const CreatedByCorrelator = "correlator"

// Incident is a correlated cluster of alerts believed to share one root cause.
type Incident struct {
	ID          string         `json:"id"`
	GroupKey    string         `json:"group_key"`
	Tag         string         `json:"tag"`
	AlertIDs    []string       `json:"alert_ids"`
	Summary     string         `json:"summary"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	ImpactScope []string       `json:"impact_scope,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	CreatedBy   string         `json:"created_by"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Evidence    Fields         `json:"evidence"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AlertTypes returns the distinct alert types recorded in the incident evidence, in
// evidence order.
func (i Incident) AlertTypes() []string {
	counts, ok := i.Evidence.Get("alert_type_counts")
	if !ok {
		return nil
	}
	fields, ok := counts.AsFields()
	if !ok {
		return nil
	}
	return fields.Keys()
}
