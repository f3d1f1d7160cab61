package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sandbox runtime.
// All methods are safe on a nil receiver so instrumentation can be optional.
type Metrics struct {
	// Evaluation metrics
	Evaluations  *prometheus.CounterVec
	EvalDuration prometheus.Histogram

	// Host-call metrics
	AsyncInflight prometheus.Gauge
	AsyncCalls    *prometheus.CounterVec

	// Resource accounting
	HostBytes    prometheus.Gauge
	TimersActive prometheus.Gauge
}

// New creates a metrics collector registered against reg.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidejs_evaluations_total",
				Help: "Total evaluations by terminal outcome",
			},
			[]string{"outcome"},
		),
		EvalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sidejs_evaluation_duration_seconds",
				Help:    "Wall-clock duration of evaluations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		AsyncInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidejs_async_calls_inflight",
				Help: "Pending async host calls currently outstanding",
			},
		),
		AsyncCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidejs_async_calls_total",
				Help: "Completed async host calls by result",
			},
			[]string{"result"},
		),
		HostBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidejs_host_buffer_bytes",
				Help: "Host-side bytes attributed to live sandboxes",
			},
		),
		TimersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidejs_timers_active",
				Help: "Active timers across live sandboxes",
			},
		),
	}
}

// ObserveEvaluation records a finished evaluation.
func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvalDuration.Observe(d.Seconds())
}

// AsyncStarted records dispatch of an async host call.
func (m *Metrics) AsyncStarted() {
	if m == nil {
		return
	}
	m.AsyncInflight.Inc()
}

// AsyncFinished records completion of an async host call.
// result is "delivered" or "detached".
func (m *Metrics) AsyncFinished(result string) {
	if m == nil {
		return
	}
	m.AsyncInflight.Dec()
	m.AsyncCalls.WithLabelValues(result).Inc()
}

// AddHostBytes adjusts the host buffer accounting gauge.
func (m *Metrics) AddHostBytes(n int64) {
	if m == nil {
		return
	}
	m.HostBytes.Add(float64(n))
}

// TimerScheduled records a newly scheduled timer.
func (m *Metrics) TimerScheduled() {
	if m == nil {
		return
	}
	m.TimersActive.Inc()
}

// TimerDone records a fired one-shot or cancelled timer.
func (m *Metrics) TimerDone() {
	if m == nil {
		return
	}
	m.TimersActive.Dec()
}
