package correlation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/teleops-rca/internal/models"
)

type tally struct {
	key   string
	count int
}

// countBy tallies keys and returns them ordered by count desc, then key asc.
func countBy(alerts []models.Alert, key func(models.Alert) string) []tally {
	counts := make(map[string]int)
	for _, a := range alerts {
		k := key(a)
		if k == "" {
			continue
		}
		counts[k]++
	}
	out := make([]tally, 0, len(counts))
	for k, c := range counts {
		out = append(out, tally{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// Summarize derives a deterministic one-line description from the dominant alert type
// and the host pattern of a group.
func Summarize(tag string, alerts []models.Alert) string {
	types := countBy(alerts, func(a models.Alert) string { return a.AlertType })
	hosts := countBy(alerts, func(a models.Alert) string { return a.Host })

	dominant := "alert"
	if len(types) > 0 {
		dominant = types[0].key
	}
	return fmt.Sprintf("%s on %s (%d alerts, tag %s)", dominant, hostPattern(hosts), len(alerts), tag)
}

func hostPattern(hosts []tally) string {
	switch len(hosts) {
	case 0:
		return "unknown hosts"
	case 1:
		return hosts[0].key
	}
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.key
	}
	if prefix := sharedPrefix(names); prefix != "" {
		return prefix + "-*"
	}
	return fmt.Sprintf("%s +%d hosts", hosts[0].key, len(hosts)-1)
}

// sharedPrefix returns the longest dash-delimited leading segment run common to all names.
func sharedPrefix(names []string) string {
	parts := strings.Split(names[0], "-")
	common := len(parts) - 1
	for _, name := range names[1:] {
		other := strings.Split(name, "-")
		n := 0
		for n < common && n < len(other)-1 && other[n] == parts[n] {
			n++
		}
		common = n
	}
	if common <= 0 {
		return ""
	}
	return strings.Join(parts[:common], "-")
}

func (e *Engine) evidence(alerts []models.Alert) models.Fields {
	var evidence models.Fields
	evidence.Set("alert_count", models.Int(len(alerts)))

	var tagCounts models.Fields
	for _, t := range tagTallies(alerts) {
		tagCounts.Set(t.key, models.Int(t.count))
	}
	evidence.Set("tag_counts", models.Map(tagCounts))

	var typeCounts models.Fields
	for _, t := range countBy(alerts, func(a models.Alert) string { return a.AlertType }) {
		typeCounts.Set(t.key, models.Int(t.count))
	}
	evidence.Set("alert_type_counts", models.Map(typeCounts))

	hosts := countBy(alerts, func(a models.Alert) string { return a.Host })
	hostNames := make([]string, len(hosts))
	for i, h := range hosts {
		hostNames[i] = h.key
	}
	evidence.Set("hosts", models.StringList(hostNames))

	limit := min(e.cfg.SampleSize, len(alerts))
	sample := make([]models.Value, 0, limit)
	for _, a := range alerts[:limit] {
		sample = append(sample, models.Map(models.NewFields(
			"id", a.ID,
			"timestamp", a.Timestamp.UTC().Format(time.RFC3339),
			"host", a.Host,
			"alert_type", a.AlertType,
			"severity", string(a.Severity),
			"message", a.Message,
		)))
	}
	evidence.Set("sample_alerts", models.List(sample...))
	return evidence
}

// tagTallies counts string-valued tag pairs as "key=value".
func tagTallies(alerts []models.Alert) []tally {
	counts := make(map[string]int)
	for _, a := range alerts {
		for _, key := range a.Tags.Keys() {
			value, ok := a.Tags.GetString(key)
			if !ok {
				continue
			}
			counts[key+"="+value]++
		}
	}
	out := make([]tally, 0, len(counts))
	for k, c := range counts {
		out = append(out, tally{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
