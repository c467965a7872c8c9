package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal       *prometheus.CounterVec
	TriageDuration     *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec
	ReputationLookups  *prometheus.CounterVec
	ReputationDuration *prometheus.HistogramVec
	IOCsChecked        prometheus.Histogram
	SubmitsTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triages_total",
			Help: "Total triage pipeline runs by verdict and conclusion.",
		}, []string{"verdict", "conclusion"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Duration of triage pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"verdict"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_stage_failures_total",
			Help: "Total absorbed stage failures by stage name.",
		}, []string{"stage"}),
		ReputationLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reputation_lookups_total",
			Help: "Total reputation lookups by indicator kind and outcome.",
		}, []string{"kind", "outcome"}),
		ReputationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_reputation_lookup_duration_seconds",
			Help:    "Duration of individual reputation lookups in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s .. ~12.8s
		}, []string{"kind"}),
		IOCsChecked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_iocs_checked",
			Help:    "Indicators checked against the reputation service per run.",
			Buckets: prometheus.LinearBuckets(0, 2, 16), // 0 .. 30
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.StageFailures,
		m.ReputationLookups,
		m.ReputationDuration,
		m.IOCsChecked,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns a PipelineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() PipelineHooks {
	return PipelineHooks{
		OnStageFailure: func(stage string) {
			m.StageFailures.WithLabelValues(stage).Inc()
		},
		OnReputationLookup: func(kind, outcome string, seconds float64) {
			m.ReputationLookups.WithLabelValues(kind, outcome).Inc()
			m.ReputationDuration.WithLabelValues(kind).Observe(seconds)
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(e.Verdict, e.Conclusion).Inc()
			m.TriageDuration.WithLabelValues(e.Verdict).Observe(e.Seconds)
			m.IOCsChecked.Observe(float64(e.TotalChecked))
		},
	}
}
