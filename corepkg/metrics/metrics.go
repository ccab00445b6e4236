// Package metrics exposes Prometheus instrumentation for the engine's
// hot path: advance latency and outcome, gaps recorded under
// autonomy, validation engine latency, and session-lock contention.
// Grounded on the teacher's graph.PrometheusMetrics (gauge/histogram/
// counter trio registered via promauto against a caller-supplied
// registry), renamed to the "durableflow" namespace and relabeled for
// this engine's own hot-path operations rather than node scheduling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the engine records.
// Thread-safe: every exported method delegates directly to a
// Prometheus collector, which are themselves concurrency-safe.
type Metrics struct {
	advanceLatency    *prometheus.HistogramVec
	advanceOutcomes   *prometheus.CounterVec
	gapsRecorded      *prometheus.CounterVec
	validationLatency *prometheus.HistogramVec
	lockWaitMs        prometheus.Histogram
	sessionsActive    prometheus.Gauge
	bundleExports     prometheus.Counter
	bundleImports     *prometheus.CounterVec

	enabled bool
}

// New registers and returns a Metrics collector against registry. A
// nil registry uses prometheus.DefaultRegisterer, matching the
// teacher's NewPrometheusMetrics convenience default.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,

		advanceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durableflow",
			Name:      "advance_latency_ms",
			Help:      "Duration of one advance call, from request to append result.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"outcome"}), // outcome: advanced, blocked, failed

		advanceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "advance_outcomes_total",
			Help:      "Advance calls by outcome and cause kind.",
		}, []string{"outcome", "cause_kind"}),

		gapsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "gaps_recorded_total",
			Help:      "Gaps recorded when autonomy chose to continue past a blocking reason.",
		}, []string{"reason_kind", "severity"}),

		validationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durableflow",
			Name:      "validation_latency_ms",
			Help:      "Duration of one validation engine call.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"outcome"}), // outcome: ok, issues, timeout, error

		lockWaitMs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "durableflow",
			Name:      "session_lock_wait_ms",
			Help:      "Time spent waiting to acquire a session's process-wide gate.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "durableflow",
			Name:      "sessions_active",
			Help:      "Sessions currently holding their process-wide gate.",
		}),

		bundleExports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "bundle_exports_total",
			Help:      "Sessions exported to a bundle.",
		}),

		bundleImports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "bundle_imports_total",
			Help:      "Bundle import attempts by outcome.",
		}, []string{"outcome"}), // outcome: ok, invalid_format, integrity_failed, ...
	}
}

// RecordAdvance records one advance call's latency and outcome.
func (m *Metrics) RecordAdvance(latency time.Duration, outcome, causeKind string) {
	if !m.enabled {
		return
	}
	m.advanceLatency.WithLabelValues(outcome).Observe(float64(latency.Milliseconds()))
	m.advanceOutcomes.WithLabelValues(outcome, causeKind).Inc()
}

// RecordGap increments the gap counter for one recorded gap.
func (m *Metrics) RecordGap(reasonKind, severity string) {
	if !m.enabled {
		return
	}
	m.gapsRecorded.WithLabelValues(reasonKind, severity).Inc()
}

// RecordValidation records one validation engine call's latency and
// outcome.
func (m *Metrics) RecordValidation(latency time.Duration, outcome string) {
	if !m.enabled {
		return
	}
	m.validationLatency.WithLabelValues(outcome).Observe(float64(latency.Milliseconds()))
}

// RecordLockWait records how long a caller waited to acquire a
// session's gate.
func (m *Metrics) RecordLockWait(wait time.Duration) {
	if !m.enabled {
		return
	}
	m.lockWaitMs.Observe(float64(wait.Milliseconds()))
}

// SetSessionsActive sets the current count of sessions holding their
// gate.
func (m *Metrics) SetSessionsActive(count int) {
	if !m.enabled {
		return
	}
	m.sessionsActive.Set(float64(count))
}

// RecordBundleExport increments the export counter.
func (m *Metrics) RecordBundleExport() {
	if !m.enabled {
		return
	}
	m.bundleExports.Inc()
}

// RecordBundleImport increments the import counter for outcome (the
// bundle error code, or "ok").
func (m *Metrics) RecordBundleImport(outcome string) {
	if !m.enabled {
		return
	}
	m.bundleImports.WithLabelValues(outcome).Inc()
}
