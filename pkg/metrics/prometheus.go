package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder publishes pipeline metrics to the default registry.
type PrometheusRecorder struct {
	transitions *prometheus.CounterVec
	runSeconds  *prometheus.HistogramVec
}

func NewPrometheusRecorder() Recorder {
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stablepay",
			Name:      "pipeline_transitions_total",
			Help:      "Pipeline state transitions",
		},
		[]string{"state"},
	)

	runSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stablepay",
			Name:      "pipeline_run_seconds",
			Help:      "End-to-end pipeline run duration",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"outcome"},
	)

	prometheus.MustRegister(transitions, runSeconds)

	return &PrometheusRecorder{
		transitions: transitions,
		runSeconds:  runSeconds,
	}
}

func (p *PrometheusRecorder) IncTransition(state string) {
	p.transitions.With(prometheus.Labels{"state": state}).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(outcome string, duration time.Duration) {
	p.runSeconds.With(prometheus.Labels{"outcome": outcome}).Observe(duration.Seconds())
}
