package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/teleops-rca/internal/models"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

// GenericConfidence scores the fallback hypothesis emitted when no rule matches.
const GenericConfidence = 0.30

// GenericHypothesis is the fallback hypothesis.
const GenericHypothesis = "undetermined fault; correlated alerts share a grouping tag but match no known failure pattern"

// Rule maps alert evidence onto one root-cause hypothesis.
type Rule struct {
	ID         string    `yaml:"id"`
	Hypothesis string    `yaml:"hypothesis"`
	Confidence float64   `yaml:"confidence"`
	Match      RuleMatch `yaml:"match"`
}

// RuleMatch lists the triggers of a rule. Either list matching is sufficient.
type RuleMatch struct {
	AlertTypes      []string `yaml:"alert_types"`
	SummaryContains []string `yaml:"summary_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules is the compiled-in telecom catalog.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "fiber-cut", Hypothesis: "fiber cut on a metro ring segment", Confidence: 0.70,
			Match: RuleMatch{AlertTypes: []string{"link_down", "loss_of_signal"}, SummaryContains: []string{"fiber", "optical"}}},
		{ID: "dns-outage", Hypothesis: "authoritative DNS cluster outage", Confidence: 0.68,
			Match: RuleMatch{AlertTypes: []string{"dns_timeout", "servfail_spike", "nx_domain_spike"}, SummaryContains: []string{"dns"}}},
		{ID: "ddos-edge", Hypothesis: "volumetric DDoS targeting the network edge", Confidence: 0.67,
			Match: RuleMatch{AlertTypes: []string{"traffic_spike", "syn_flood"}, SummaryContains: []string{"ddos", "scrubbing"}}},
		{ID: "bgp-flap", Hypothesis: "unstable BGP session with an upstream peer", Confidence: 0.66,
			Match: RuleMatch{AlertTypes: []string{"bgp_session_flap", "route_withdrawal"}, SummaryContains: []string{"bgp"}}},
		{ID: "mpls-vpn-leak", Hypothesis: "VRF misconfiguration causing MPLS/L3VPN route leak", Confidence: 0.65,
			Match: RuleMatch{AlertTypes: []string{"route_leak_detected", "vrf_mismatch"}, SummaryContains: []string{"vrf", "mpls"}}},
		{ID: "router-freeze", Hypothesis: "control plane freeze on the affected core router", Confidence: 0.64,
			Match: RuleMatch{AlertTypes: []string{"control_plane_hang", "cpu_spike"}}},
		{ID: "firewall-misconfig", Hypothesis: "firewall rule misconfiguration blocking a critical port", Confidence: 0.63,
			Match: RuleMatch{AlertTypes: []string{"blocked_port", "policy_violation"}, SummaryContains: []string{"fw-"}}},
		{ID: "cdn-cache-stampede", Hypothesis: "CDN cache stampede due to misconfigured TTLs", Confidence: 0.62,
			Match: RuleMatch{AlertTypes: []string{"cache_miss_spike", "origin_latency"}, SummaryContains: []string{"cdn"}}},
		{ID: "isp-peering-congestion", Hypothesis: "congestion on an ISP peering link", Confidence: 0.60,
			Match: RuleMatch{SummaryContains: []string{"peering"}}},
		{ID: "database-latency", Hypothesis: "database contention causing latency spike on hosted applications", Confidence: 0.58,
			Match: RuleMatch{AlertTypes: []string{"query_latency", "lock_waits"}, SummaryContains: []string{"db-"}}},
		{ID: "link-congestion", Hypothesis: "link congestion on a core router causing packet loss", Confidence: 0.52,
			Match: RuleMatch{AlertTypes: []string{"packet_loss", "high_latency"}}},
	}
}

// ValidateRules rejects catalogs the reasoner cannot evaluate deterministically.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
		if strings.TrimSpace(r.Hypothesis) == "" {
			return fmt.Errorf("rule %s: hypothesis is required", r.ID)
		}
		if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %s: confidence %v outside [0,1]", r.ID, r.Confidence)
		}
		if len(r.Match.AlertTypes) == 0 && len(r.Match.SummaryContains) == 0 {
			return fmt.Errorf("rule %s: no match criteria", r.ID)
		}
	}
	return nil
}

// BaselineReasoner evaluates an ordered rule catalog. It does no I/O after
// construction and is safe for concurrent use.
type BaselineReasoner struct {
	rules   []Rule
	catalog string
}

// NewBaselineReasoner builds a reasoner over rules; nil rules select the default catalog.
func NewBaselineReasoner(rules []Rule) (*BaselineReasoner, error) {
	catalog := "custom"
	if rules == nil {
		rules = DefaultRules()
		catalog = "builtin"
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return &BaselineReasoner{rules: append([]Rule(nil), rules...), catalog: catalog}, nil
}

// LoadBaselineReasoner reads a YAML catalog from path. An empty path or a missing file
// falls back to the default catalog.
func LoadBaselineReasoner(path string, logger *slog.Logger) (*BaselineReasoner, error) {
	if path == "" {
		return NewBaselineReasoner(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			utils.Component(logger, "baseline").Warn("rule catalog not found, using builtin rules", slog.String("path", path))
			return NewBaselineReasoner(nil)
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule catalog %s: %w", path, err)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("rule catalog %s has no rules", path)
	}
	r, err := NewBaselineReasoner(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule catalog %s: %w", path, err)
	}
	r.catalog = path
	return r, nil
}

// Name returns the reasoner identity recorded on artifacts.
func (b *BaselineReasoner) Name() string { return models.BaselineReasonerID }

type ruleMatch struct {
	rule  Rule
	order int
}

// Evaluate ranks every matching rule by confidence, ties by catalog order. A
// hypothesis produced by several rules keeps its first (highest ranked) occurrence.
func (b *BaselineReasoner) Evaluate(incident models.Incident) models.RankedHypotheses {
	alertTypes := incident.AlertTypes()
	typeSet := make(map[string]struct{}, len(alertTypes))
	for _, t := range alertTypes {
		typeSet[strings.ToLower(t)] = struct{}{}
	}
	summary := strings.ToLower(incident.Summary)

	var matched []ruleMatch
	for i, rule := range b.rules {
		if ruleMatches(rule.Match, typeSet, summary) {
			matched = append(matched, ruleMatch{rule: rule, order: i})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].rule.Confidence != matched[j].rule.Confidence {
			return matched[i].rule.Confidence > matched[j].rule.Confidence
		}
		return matched[i].order < matched[j].order
	})

	out := models.RankedHypotheses{Confidence: make(map[string]float64)}
	ruleIDs := make([]string, 0, len(matched))
	for _, m := range matched {
		ruleIDs = append(ruleIDs, m.rule.ID)
		if _, dup := out.Confidence[m.rule.Hypothesis]; dup {
			continue
		}
		out.Hypotheses = append(out.Hypotheses, m.rule.Hypothesis)
		out.Confidence[m.rule.Hypothesis] = m.rule.Confidence
	}
	if len(out.Hypotheses) == 0 {
		out.Hypotheses = []string{GenericHypothesis}
		out.Confidence[GenericHypothesis] = GenericConfidence
	}

	sortedTypes := append([]string(nil), alertTypes...)
	sort.Strings(sortedTypes)
	out.Evidence = models.NewFields(
		"matched_rules", ruleIDs,
		"alert_types", sortedTypes,
		"incident_summary", incident.Summary,
		"catalog", b.catalog,
	)
	return out
}

// Hint returns the top rule hypothesis for an incident, or "" when only the generic
// fallback applies. The grounded reasoner forwards it to the model as a scenario hint.
func (b *BaselineReasoner) Hint(incident models.Incident) string {
	ranked := b.Evaluate(incident)
	if ranked.Hypotheses[0] == GenericHypothesis {
		return ""
	}
	return ranked.Hypotheses[0]
}

func ruleMatches(m RuleMatch, alertTypes map[string]struct{}, summary string) bool {
	for _, t := range m.AlertTypes {
		if _, ok := alertTypes[strings.ToLower(t)]; ok {
			return true
		}
	}
	for _, kw := range m.SummaryContains {
		if kw != "" && strings.Contains(summary, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
