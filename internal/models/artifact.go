package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BaselineReasonerID identifies artifacts produced by the rule catalog.
const BaselineReasonerID = "baseline-rules"

// ReasonerKind distinguishes the two reasoning paths.
type ReasonerKind string

const (
	ReasonerBaseline ReasonerKind = "baseline"
	ReasonerGrounded ReasonerKind = "grounded"
)

// ParseReasonerKind accepts "baseline", "grounded" and the "llm" alias.
func ParseReasonerKind(value string) (ReasonerKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "baseline":
		return ReasonerBaseline, nil
	case "grounded", "llm":
		return ReasonerGrounded, nil
	default:
		return "", fmt.Errorf("unknown reasoner %q", value)
	}
}

// ReviewStatus is the review lifecycle state of an artifact.
type ReviewStatus string

const (
	StatusPendingReview ReviewStatus = "pending_review"
	StatusAccepted      ReviewStatus = "accepted"
	StatusRejected      ReviewStatus = "rejected"
)

// ParseReviewStatus validates a status filter value.
func ParseReviewStatus(value string) (ReviewStatus, error) {
	switch ReviewStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPendingReview:
		return StatusPendingReview, nil
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown review status %q", value)
	}
}

// RankedHypotheses is the output of a single reasoning pass.
type RankedHypotheses struct {
	Hypotheses []string           `json:"hypotheses"`
	Confidence map[string]float64 `json:"confidence_scores"`
	Evidence   Fields             `json:"evidence"`
}

// Validate enforces matching keys, unique non-empty hypotheses and scores within [0,1].
func (r RankedHypotheses) Validate() error {
	if len(r.Hypotheses) == 0 {
		return fmt.Errorf("no hypotheses")
	}
	if len(r.Hypotheses) != len(r.Confidence) {
		return fmt.Errorf("hypotheses (%d) and confidence scores (%d) differ in size", len(r.Hypotheses), len(r.Confidence))
	}
	seen := make(map[string]struct{}, len(r.Hypotheses))
	for _, h := range r.Hypotheses {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("empty hypothesis")
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("duplicate hypothesis %q", h)
		}
		seen[h] = struct{}{}
		score, ok := r.Confidence[h]
		if !ok {
			return fmt.Errorf("missing confidence for %q", h)
		}
		if math.IsNaN(score) || score < 0 || score > 1 {
			return fmt.Errorf("confidence %v for %q outside [0,1]", score, h)
		}
	}
	return nil
}

// Artifact is one persisted RCA output from one reasoner run.
type Artifact struct {
	ID         string             `json:"id"`
	IncidentID string             `json:"incident_id"`
	Kind       ReasonerKind       `json:"kind"`
	Reasoner   string             `json:"reasoner"`
	Hypotheses []string           `json:"hypotheses"`
	Confidence map[string]float64 `json:"confidence_scores"`
	Evidence   Fields             `json:"evidence"`
	Duration   time.Duration      `json:"duration_ns"`
	Status     ReviewStatus       `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	ReviewedBy string             `json:"reviewed_by,omitempty"`
	ReviewedAt time.Time          `json:"reviewed_at"`
}

// Ranked returns the hypothesis payload of the artifact.
func (a Artifact) Ranked() RankedHypotheses {
	return RankedHypotheses{Hypotheses: a.Hypotheses, Confidence: a.Confidence, Evidence: a.Evidence}
}

// TopHypothesis returns the highest ranked hypothesis and its score.
func (a Artifact) TopHypothesis() (string, float64) {
	if len(a.Hypotheses) == 0 {
		return "", 0
	}
	return a.Hypotheses[0], a.Confidence[a.Hypotheses[0]]
}
