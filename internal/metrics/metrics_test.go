package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Received("flowsensor")
	m.Received("flowsensor")
	m.Received("valve")
	if got := testutil.ToFloat64(m.received.WithLabelValues("flowsensor")); got != 2 {
		t.Fatalf("expected 2 flow receipts, got %f", got)
	}

	m.QueueDropped()
	if got := testutil.ToFloat64(m.queueDropped); got != 1 {
		t.Fatalf("expected queue drop counter 1, got %f", got)
	}

	m.QueueLength(7)
	if got := testutil.ToFloat64(m.queueLength); got != 7 {
		t.Fatalf("expected queue length 7, got %f", got)
	}

	m.Applied("pressuresensor", 3*time.Millisecond)
	if got := testutil.ToFloat64(m.applied.WithLabelValues("pressuresensor")); got != 1 {
		t.Fatalf("expected 1 applied, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.applyLatency); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	m.Transition("Running")
	m.Transition("Completed")
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("Completed")); got != 1 {
		t.Fatalf("expected 1 completed transition, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Received("valve")
	m.DecodeError()
	m.Duplicate()
	m.QueueDropped()
	m.QueueLength(3)
	m.Applied("valve", time.Second)
	m.ApplyError()
	m.CounterReset()
	m.Transition("Running")
	m.HistoryError()
	m.Reconnect()
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
