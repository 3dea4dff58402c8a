package models

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the outcome a reviewer records for an artifact.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// ParseDecision accepts only the two terminal review decisions.
func ParseDecision(value string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(value))) {
	case DecisionAccepted:
		return DecisionAccepted, nil
	case DecisionRejected:
		return DecisionRejected, nil
	default:
		return "", fmt.Errorf("decision must be accepted or rejected, got %q", value)
	}
}

// Status maps the decision onto the artifact lifecycle.
func (d Decision) Status() ReviewStatus {
	if d == DecisionAccepted {
		return StatusAccepted
	}
	return StatusRejected
}

// AuditEntry records one review decision. Entries are never modified once written.
type AuditEntry struct {
	ID         string    `json:"id"`
	ArtifactID string    `json:"artifact_id"`
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Decision   Decision  `json:"decision"`
	ReviewerID string    `json:"reviewer_id"`
	Note       string    `json:"note,omitempty"`
}
