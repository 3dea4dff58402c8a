package correlation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

// UnclassifiedKey groups alerts whose grouping tag is missing or malformed.
const UnclassifiedKey = "unclassified"

// Disposition records what happened to a group of alerts.
type Disposition string

const (
	DispositionIncident   Disposition = "incident"
	DispositionBelowFloor Disposition = "below_floor"
	DispositionNoise      Disposition = "noise"
	DispositionIgnored    Disposition = "ignored"
	DispositionAssigned   Disposition = "assigned"
)

// Config holds the grouping parameters.
type Config struct {
	Window          time.Duration
	MinAlerts       int
	NoisePercentile float64
	GroupingTag     string
	IgnoredTags     []string
	SampleSize      int
}

// DefaultConfig mirrors the reference calibration: 15 minute windows, a floor of ten
// alerts and a 25th percentile noise cut.
func DefaultConfig() Config {
	return Config{
		Window:          15 * time.Minute,
		MinAlerts:       10,
		NoisePercentile: 25,
		GroupingTag:     "incident",
		IgnoredTags:     []string{"noise"},
		SampleSize:      5,
	}
}

// Validate rejects parameter combinations the engine cannot run with.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.MinAlerts < 1 {
		return fmt.Errorf("min_alerts must be at least 1")
	}
	if c.NoisePercentile < 0 || c.NoisePercentile > 100 {
		return fmt.Errorf("noise_percentile must be within [0,100]")
	}
	if strings.TrimSpace(c.GroupingTag) == "" {
		return fmt.Errorf("grouping tag is required")
	}
	return nil
}

// Group is a set of alerts sharing a grouping key within one window.
type Group struct {
	Key         string
	WindowStart time.Time
	Alerts      []models.Alert
	Disposition Disposition
	IncidentID  string
}

// Result lists every group formed from the batch and the incidents created from it.
// Every input alert belongs to exactly one group.
type Result struct {
	Groups    []Group
	Incidents []models.Incident
	Threshold float64
	Filtered  bool
}

// Dispositions counts groups by disposition.
func (r Result) Dispositions() map[string]int {
	counts := make(map[string]int)
	for _, g := range r.Groups {
		counts[string(g.Disposition)]++
	}
	return counts
}

// Engine groups alert batches into incidents. It holds no state between batches.
type Engine struct {
	cfg     Config
	ignored map[string]struct{}
	now     utils.Clock
	newID   func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source used for CreatedAt.
func WithClock(clock utils.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithIDGenerator overrides incident identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine validates cfg and constructs an Engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	ignored := make(map[string]struct{}, len(cfg.IgnoredTags))
	for _, tag := range cfg.IgnoredTags {
		ignored[tag] = struct{}{}
	}
	e := &Engine{cfg: cfg, ignored: ignored, now: utils.SystemClock, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// Correlate groups alerts and emits incidents for groups that pass the floor and the
// percentile noise filter. assigned maps alert ids to the open incident that already
// owns them; those alerts are reported in an assigned group and never seed a new incident.
func (e *Engine) Correlate(alerts []models.Alert, assigned map[string]string) Result {
	var result Result

	byIncident := make(map[string][]models.Alert)
	var incidentOrder []string
	byKey := make(map[string][]models.Alert)
	var keyOrder []string

	for _, alert := range alerts {
		if incidentID, ok := assigned[alert.ID]; ok && alert.ID != "" {
			if _, seen := byIncident[incidentID]; !seen {
				incidentOrder = append(incidentOrder, incidentID)
			}
			byIncident[incidentID] = append(byIncident[incidentID], alert)
			continue
		}
		key := e.groupKey(alert)
		if _, seen := byKey[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		byKey[key] = append(byKey[key], alert)
	}

	for _, incidentID := range incidentOrder {
		members := byIncident[incidentID]
		result.Groups = append(result.Groups, Group{
			Key:         "assigned:" + incidentID,
			WindowStart: earliest(members),
			Alerts:      members,
			Disposition: DispositionAssigned,
			IncidentID:  incidentID,
		})
	}

	sort.Strings(keyOrder)
	var candidates []int
	for _, key := range keyOrder {
		for _, window := range splitWindows(byKey[key], e.cfg.Window) {
			group := Group{Key: key, WindowStart: window[0].Timestamp, Alerts: window}
			switch {
			case e.isIgnored(key):
				group.Disposition = DispositionIgnored
			case len(window) < e.cfg.MinAlerts:
				group.Disposition = DispositionBelowFloor
			default:
				group.Disposition = DispositionIncident
				candidates = append(candidates, len(result.Groups))
			}
			result.Groups = append(result.Groups, group)
		}
	}

	counts := make([]int, len(candidates))
	values := make([]float64, len(candidates))
	for i, idx := range candidates {
		counts[i] = len(result.Groups[idx].Alerts)
		values[i] = float64(counts[i])
	}
	if len(candidates) > 0 && !utils.AllEqual(counts) {
		result.Filtered = true
		result.Threshold = utils.Percentile(values, e.cfg.NoisePercentile)
		for _, idx := range candidates {
			if float64(len(result.Groups[idx].Alerts)) <= result.Threshold {
				result.Groups[idx].Disposition = DispositionNoise
			}
		}
	}

	for i := range result.Groups {
		group := &result.Groups[i]
		if group.Disposition != DispositionIncident {
			continue
		}
		incident := e.buildIncident(*group)
		group.IncidentID = incident.ID
		result.Incidents = append(result.Incidents, incident)
	}
	return result
}

// GroupKey returns the key an incident for this window would carry. Callers use it to
// detect open incidents created from an earlier run over the same alerts.
func GroupKey(tag string, windowStart time.Time) string {
	return tag + "@" + windowStart.UTC().Format(time.RFC3339Nano)
}

func (e *Engine) groupKey(alert models.Alert) string {
	tag, ok := alert.Tag(e.cfg.GroupingTag)
	if !ok {
		return UnclassifiedKey
	}
	return tag
}

func (e *Engine) isIgnored(key string) bool {
	_, ok := e.ignored[key]
	return ok
}

// splitWindows orders alerts chronologically and cuts a new window whenever an alert
// falls more than window after the first alert of the current one.
func splitWindows(alerts []models.Alert, window time.Duration) [][]models.Alert {
	sorted := append([]models.Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var windows [][]models.Alert
	var current []models.Alert
	for _, alert := range sorted {
		if len(current) > 0 && alert.Timestamp.Sub(current[0].Timestamp) > window {
			windows = append(windows, current)
			current = nil
		}
		current = append(current, alert)
	}
	if len(current) > 0 {
		windows = append(windows, current)
	}
	return windows
}

func earliest(alerts []models.Alert) time.Time {
	var first time.Time
	for _, a := range alerts {
		if first.IsZero() || a.Timestamp.Before(first) {
			first = a.Timestamp
		}
	}
	return first
}

func (e *Engine) buildIncident(group Group) models.Incident {
	alerts := group.Alerts
	ids := make([]string, 0, len(alerts))
	severities := make([]models.Severity, 0, len(alerts))
	services := make(map[string]struct{})
	for _, a := range alerts {
		ids = append(ids, a.ID)
		severities = append(severities, a.Severity)
		if a.Service != "" {
			services[a.Service] = struct{}{}
		}
	}

	scope := make([]string, 0, len(services))
	for s := range services {
		scope = append(scope, s)
	}
	sort.Strings(scope)

	return models.Incident{
		ID:          e.newID(),
		GroupKey:    GroupKey(group.Key, group.WindowStart),
		Tag:         group.Key,
		AlertIDs:    ids,
		Summary:     Summarize(group.Key, alerts),
		Severity:    models.MaxSeverity(severities...),
		Status:      models.IncidentOpen,
		StartTime:   alerts[0].Timestamp,
		EndTime:     alerts[len(alerts)-1].Timestamp,
		ImpactScope: scope,
		CreatedBy:   models.CreatedByCorrelator,
		TenantID:    alerts[0].TenantID,
		Evidence:    e.evidence(alerts),
		CreatedAt:   e.now(),
	}
}
