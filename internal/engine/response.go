package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/miradorstack/teleops-rca/internal/models"
)

// MaxHypotheses bounds the number of hypotheses accepted from a provider.
const MaxHypotheses = 5

// modelAnswer is the subset of the provider document the reasoner consumes.
type modelAnswer struct {
	IncidentSummary  string             `json:"incident_summary"`
	Hypotheses       []string           `json:"hypotheses"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Evidence         models.Value       `json:"evidence"`
}

// parseAnswer accepts exactly one JSON object, optionally surrounded by whitespace.
// Fenced blocks, leading prose and trailing data are rejected.
func parseAnswer(content string) (modelAnswer, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return modelAnswer{}, errors.New("empty response")
	}
	if strings.HasPrefix(trimmed, "```") {
		return modelAnswer{}, errors.New("response is wrapped in a code fence")
	}
	if trimmed[0] != '{' {
		return modelAnswer{}, errors.New("response is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return modelAnswer{}, fmt.Errorf("decode response: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return modelAnswer{}, errors.New("trailing data after JSON object")
	}

	var answer modelAnswer
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&answer); err != nil {
		return modelAnswer{}, fmt.Errorf("response does not match schema: %w", err)
	}
	return answer, nil
}

// rank validates the answer and orders hypotheses by confidence, keeping model order
// among equal scores.
func (a modelAnswer) rank() (models.RankedHypotheses, error) {
	if len(a.Hypotheses) > MaxHypotheses {
		return models.RankedHypotheses{}, fmt.Errorf("%d hypotheses exceeds the limit of %d", len(a.Hypotheses), MaxHypotheses)
	}
	ranked := models.RankedHypotheses{
		Hypotheses: append([]string(nil), a.Hypotheses...),
		Confidence: a.ConfidenceScores,
	}
	if ranked.Confidence == nil {
		ranked.Confidence = map[string]float64{}
	}
	if err := ranked.Validate(); err != nil {
		return models.RankedHypotheses{}, err
	}
	sort.SliceStable(ranked.Hypotheses, func(i, j int) bool {
		return ranked.Confidence[ranked.Hypotheses[i]] > ranked.Confidence[ranked.Hypotheses[j]]
	})
	return ranked, nil
}

// evidenceFields normalises the model evidence into Fields. Non-object evidence is
// kept under a single "value" key.
func (a modelAnswer) evidenceFields() models.Fields {
	if fields, ok := a.Evidence.AsFields(); ok {
		return fields
	}
	var f models.Fields
	if a.Evidence.Kind() != models.KindNull {
		f.Set("value", a.Evidence)
	}
	return f
}
