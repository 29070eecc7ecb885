// Package metrics exposes the process's Prometheus instrumentation: admission
// decisions, store round-trip latency, and the adaptive guard's current throttle
// factor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this service registers.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreLatency   *prometheus.HistogramVec
	ThrottleFactor prometheus.Gauge
}

// New registers and returns the collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by outcome and, for rejections, the metric that triggered it.",
		}, []string{"outcome", "metric"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatgate",
			Name:      "store_round_trip_seconds",
			Help:      "Latency of a single counter-store round trip.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ThrottleFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatgate",
			Name:      "adaptive_throttle_factor",
			Help:      "Current multiplier on the adaptive concurrency guard's base rate, in [0.1, 1.0].",
		}),
	}

	reg.MustRegister(m.Decisions, m.StoreLatency, m.ThrottleFactor)
	return m
}

// ObserveStoreLatency records how long one counter-store round trip took, labeled
// by operation (e.g. "hmget", "record_batch"). Satisfies store.LatencyRecorder.
func (m *Metrics) ObserveStoreLatency(op string, seconds float64) {
	m.StoreLatency.WithLabelValues(op).Observe(seconds)
}

// Outcome labels for Decisions.
const (
	OutcomeAdmitted  = "admitted"
	OutcomeRejected  = "rejected"
	OutcomeOverload  = "overloaded"
	OutcomeAuthError = "auth_error"
	OutcomeStoreErr  = "store_error"
)

// NoMetric labels a Decisions increment that isn't attributable to one of the
// three quota metrics (auth errors, overload, store failures).
const NoMetric = "none"
