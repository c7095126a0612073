package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeComplete labels correlations that ran to completion.
	OutcomeComplete = "complete"
	// OutcomeDegraded labels correlations that ran with degraded inputs
	// or a partial candidate set.
	OutcomeDegraded = "degraded"
	// OutcomeSuperseded labels correlations cancelled by a newer, more
	// severe trigger.
	OutcomeSuperseded = "superseded"
)

var (
	triggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "triggers_total",
			Help:      "Trigger alerts received, partitioned by disposition.",
		},
		[]string{"disposition"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "correlations_total",
			Help:      "Correlations finished, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	correlationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "correlation_seconds",
			Help:      "Trigger-to-report latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
	)

	candidateSignals = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "candidate_signals",
			Help:      "Candidate set size per incident.",
			Buckets:   []float64{0, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	signalsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "signals_ingested_total",
			Help:      "Signals accepted by the store, partitioned by kind.",
		},
		[]string{"kind"},
	)

	signalsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected at ingestion.",
		},
	)

	signalsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "signals_evicted_total",
			Help:      "Signals removed by the retention sweep.",
		},
	)
)

// Register attaches the correlator collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		triggersTotal,
		correlationsTotal,
		correlationSeconds,
		candidateSignals,
		signalsIngestedTotal,
		signalsRejectedTotal,
		signalsEvictedTotal,
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

// ObserveTrigger counts one received trigger by disposition
// (accepted/debounced).
func ObserveTrigger(disposition string) {
	triggersTotal.WithLabelValues(disposition).Inc()
}

// ObserveCorrelation records one finished correlation.
func ObserveCorrelation(duration time.Duration, outcome string, candidates int) {
	correlationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	correlationSeconds.Observe(duration.Seconds())
	candidateSignals.Observe(float64(candidates))
}

// ObserveIngest counts one accepted signal.
func ObserveIngest(kind string) {
	signalsIngestedTotal.WithLabelValues(kind).Inc()
}

// ObserveRejected counts one rejected signal.
func ObserveRejected() {
	signalsRejectedTotal.Inc()
}

// ObserveEvicted counts signals removed by a sweep.
func ObserveEvicted(n int) {
	signalsEvictedTotal.Add(float64(n))
}
