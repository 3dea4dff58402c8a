package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity captures alert and incident impact levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalises a severity string. Empty input defaults to info.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown severity %q", value)
	}
}

// MaxSeverity returns the highest ranked severity of the inputs.
func MaxSeverity(values ...Severity) Severity {
	best := Severity("")
	for _, v := range values {
		if v.Rank() > best.Rank() {
			best = v
		}
	}
	if best == "" {
		return SeverityInfo
	}
	return best
}

// Alert is a discrete infrastructure observation.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Host      string    `json:"host"`
	Service   string    `json:"service"`
	Severity  Severity  `json:"severity"`
	AlertType string    `json:"alert_type"`
	Message   string    `json:"message"`
	Tags      Fields    `json:"tags"`
	Raw       Fields    `json:"raw"`
	TenantID  string    `json:"tenant_id,omitempty"`
}

// Tag returns a non-blank string tag value.
func (a Alert) Tag(key string) (string, bool) {
	value, ok := a.Tags.GetString(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// Validate checks the fields required before an alert is stored.
func (a Alert) Validate() error {
	if a.Timestamp.IsZero() {
		return fmt.Errorf("alert %q: timestamp is required", a.ID)
	}
	if strings.TrimSpace(a.AlertType) == "" {
		return fmt.Errorf("alert %q: alert_type is required", a.ID)
	}
	if a.Severity != "" && a.Severity.Rank() == 0 {
		return fmt.Errorf("alert %q: unknown severity %q", a.ID, a.Severity)
	}
	return nil
}
