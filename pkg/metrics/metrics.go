// Package metrics provides the Prometheus collectors the module registry
// reports phase execution against, and the advisory lock manager reports
// wait/contention against, plus a dynamic Recorder for module-defined
// metrics (see recorder.go).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default registry modules register collectors against when
// no explicit prometheus.Registerer is supplied.
var Registry = prometheus.NewRegistry()

// Metrics holds the collectors the orchestrator and lock manager report
// against. A nil *Metrics is safe to call every method on (see the nil
// receiver checks below) so wiring metrics is always optional.
type Metrics struct {
	PhaseDuration  *prometheus.HistogramVec
	PhaseFailures  *prometheus.CounterVec
	LockWait       *prometheus.HistogramVec
	LockContention *prometheus.CounterVec
	DbHandlesOpen  prometheus.Gauge
}

// New creates collectors registered against registerer. A nil registerer is
// accepted and simply skips registration.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modkit",
				Subsystem: "registry",
				Name:      "phase_duration_seconds",
				Help:      "Duration of a registry lifecycle phase per module",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase", "module"},
		),
		PhaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modkit",
				Subsystem: "registry",
				Name:      "phase_failures_total",
				Help:      "Total phase failures per module",
			},
			[]string{"phase", "module"},
		),
		LockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modkit",
				Subsystem: "advisorylock",
				Name:      "wait_seconds",
				Help:      "Time spent waiting to acquire an advisory lock",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"module"},
		),
		LockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modkit",
				Subsystem: "advisorylock",
				Name:      "contention_total",
				Help:      "Total advisory lock acquisitions that found the lock already held",
			},
			[]string{"module"},
		),
		DbHandlesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "modkit",
				Subsystem: "dbmanager",
				Name:      "handles_open",
				Help:      "Current number of cached database handles",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.PhaseDuration,
			m.PhaseFailures,
			m.LockWait,
			m.LockContention,
			m.DbHandlesOpen,
		)
	}

	return m
}

// ObservePhase records a phase's duration and, if err is non-nil, bumps the
// failure counter for that phase/module pair.
func (m *Metrics) ObservePhase(phase, module string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, module).Observe(d.Seconds())
	if err != nil {
		m.PhaseFailures.WithLabelValues(phase, module).Inc()
	}
}

// ObserveLockWait records time spent waiting for an advisory lock and, when
// contended is true, bumps the contention counter.
func (m *Metrics) ObserveLockWait(module string, d time.Duration, contended bool) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(module).Observe(d.Seconds())
	if contended {
		m.LockContention.WithLabelValues(module).Inc()
	}
}

// SetDbHandlesOpen reports the current cached-handle count.
func (m *Metrics) SetDbHandlesOpen(n int) {
	if m == nil {
		return
	}
	m.DbHandlesOpen.Set(float64(n))
}
