package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (validation, dependency or store issues).
	OutcomeError = "error"
	// OutcomeConflict labels review attempts that lost the first-writer race.
	OutcomeConflict = "conflict"
)

const namespace = "teleops_rca"

var (
	correlationBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_batches_total",
			Help:      "Number of alert batches correlated.",
		},
	)

	correlationGroupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_groups_total",
			Help:      "Alert groups formed during correlation, partitioned by disposition.",
		},
		[]string{"disposition"},
	)

	rcaGenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rca_generations_total",
			Help:      "RCA generation requests, partitioned by reasoner kind and outcome.",
		},
		[]string{"reasoner", "outcome"},
	)

	rcaDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rca_generation_seconds",
			Help:      "End-to-end RCA generation latency in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"reasoner"},
	)

	providerCallsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_calls_in_flight",
			Help:      "Reasoning provider calls currently awaiting a response.",
		},
	)

	reviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Review decisions, partitioned by decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)
)

// Register attaches teleops-rca collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		correlationBatchesTotal,
		correlationGroupsTotal,
		rcaGenerationsTotal,
		rcaDurationSeconds,
		providerCallsInFlight,
		reviewsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCorrelation records one correlated batch and the disposition of each group.
func ObserveCorrelation(dispositions map[string]int) {
	correlationBatchesTotal.Inc()
	for disposition, count := range dispositions {
		correlationGroupsTotal.WithLabelValues(disposition).Add(float64(count))
	}
}

// ObserveGeneration records an RCA generation duration and outcome label.
func ObserveGeneration(reasoner string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	rcaGenerationsTotal.WithLabelValues(reasoner, label).Inc()
	if duration < 0 {
		duration = 0
	}
	rcaDurationSeconds.WithLabelValues(reasoner).Observe(duration.Seconds())
}

// ProviderCallStarted increments the in-flight gauge and returns the matching decrement.
func ProviderCallStarted() func() {
	providerCallsInFlight.Inc()
	return providerCallsInFlight.Dec
}

// ObserveReview records a review attempt.
func ObserveReview(decision, outcome string) {
	reviewsTotal.WithLabelValues(decision, outcome).Inc()
}
