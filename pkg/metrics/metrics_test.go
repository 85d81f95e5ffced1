package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePhase_RecordsDurationAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePhase("init", "orders", 10*time.Millisecond, nil)
	if got := testutil.ToFloat64(m.PhaseFailures.WithLabelValues("init", "orders")); got != 0 {
		t.Fatalf("PhaseFailures = %v, want 0 on success", got)
	}

	m.ObservePhase("init", "orders", 5*time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(m.PhaseFailures.WithLabelValues("init", "orders")); got != 1 {
		t.Fatalf("PhaseFailures = %v, want 1 after one failure", got)
	}
}

func TestObserveLockWait_RecordsContention(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLockWait("orders", time.Millisecond, false)
	if got := testutil.ToFloat64(m.LockContention.WithLabelValues("orders")); got != 0 {
		t.Fatalf("LockContention = %v, want 0", got)
	}

	m.ObserveLockWait("orders", time.Millisecond, true)
	if got := testutil.ToFloat64(m.LockContention.WithLabelValues("orders")); got != 1 {
		t.Fatalf("LockContention = %v, want 1", got)
	}
}

func TestSetDbHandlesOpen_ReportsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetDbHandlesOpen(3)
	if got := testutil.ToFloat64(m.DbHandlesOpen); got != 3 {
		t.Fatalf("DbHandlesOpen = %v, want 3", got)
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePhase("init", "orders", time.Millisecond, nil)
	m.ObserveLockWait("orders", time.Millisecond, true)
	m.SetDbHandlesOpen(1)
}

func TestRecorder_CounterAccumulatesAcrossCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Counter("users_created_total", nil, 1)
	r.Counter("users_created_total", nil, 1)

	got := testutil.ToFloat64(r.counters["svc_users_created_total"].vec.WithLabelValues())
	if got != 2 {
		t.Fatalf("users_created_total = %v, want 2", got)
	}
}
