// Package metrics exposes Prometheus instrumentation for the spawn
// scheduler. All methods are nil-safe so the library can run unmetered:
// a nil *Metrics is a valid no-op sink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spawngate"

// Metrics bundles the scheduler's Prometheus collectors.
type Metrics struct {
	submitted  prometheus.Counter
	rejected   *prometheus.CounterVec
	completed  *prometheus.CounterVec
	inFlight   prometheus.Gauge
	queueLen   prometheus.Gauge
	multiplier prometheus.Gauge
	execTime   prometheus.Histogram
}

// New registers the scheduler collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Spawn requests offered to the admission queue.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Spawn requests rejected at admission, by reason.",
		}, []string{"reason"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Admitted spawn requests reaching a terminal state, by state.",
		}, []string{"state"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Dispatched spawn operations not yet completed.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Requests currently waiting in the admission queue.",
		}),
		multiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throttle_multiplier",
			Help:      "Current effective throughput multiplier.",
		}),
		execTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Wall time of individual spawn executions.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(m.submitted, m.rejected, m.completed, m.inFlight,
		m.queueLen, m.multiplier, m.execTime)
	return m
}

// Submitted counts a submission attempt.
func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

// Rejected counts an admission rejection with its reason label.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Completed counts a terminal state for an admitted request.
func (m *Metrics) Completed(state string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(state).Inc()
}

// SetInFlight records the current in-flight count.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// SetQueueLength records the current queue depth.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLen.Set(float64(n))
}

// SetMultiplier records the current throttle multiplier.
func (m *Metrics) SetMultiplier(v float64) {
	if m == nil {
		return
	}
	m.multiplier.Set(v)
}

// ObserveExecution records one execution's wall time in seconds.
func (m *Metrics) ObserveExecution(seconds float64) {
	if m == nil {
		return
	}
	m.execTime.Observe(seconds)
}
