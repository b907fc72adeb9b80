// Package metrics holds the engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	received      *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	duplicates    prometheus.Counter
	queueDropped  prometheus.Counter
	queueLength   prometheus.Gauge
	applied       *prometheus.CounterVec
	applyErrors   prometheus.Counter
	counterResets prometheus.Counter
	applyLatency  prometheus.Histogram
	transitions   *prometheus.CounterVec
	historyErrors prometheus.Counter
	reconnects    prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waternet_telemetry_received_total",
			Help: "Telemetry messages decoded and handed to the reconciler, by sensor kind.",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_decode_errors_total",
			Help: "Bus messages dropped because topic or payload could not be decoded.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_duplicates_suppressed_total",
			Help: "Bus messages identical to the previous one on the same topic.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_reconcile_queue_dropped_total",
			Help: "Telemetry events lost because a partition queue was full.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waternet_reconcile_queue_length",
			Help: "Events waiting in the reconciler partitions.",
		}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waternet_telemetry_applied_total",
			Help: "Telemetry events merged into the registry, by sensor kind.",
		}, []string{"kind"}),
		applyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_apply_errors_total",
			Help: "Telemetry events that failed to persist.",
		}),
		counterResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_flow_counter_resets_total",
			Help: "Flow sensor cumulative totals that went down.",
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "waternet_apply_latency_seconds",
			Help:    "Time spent merging and persisting one telemetry event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waternet_schedule_transitions_total",
			Help: "Schedule entries moved forward, by target progress.",
		}, []string{"to"}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_history_write_errors_total",
			Help: "Points that could not be written to InfluxDB.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waternet_bus_reconnects_total",
			Help: "Successful (re)connections to the MQTT broker.",
		}),
	}
	reg.MustRegister(m.received, m.decodeErrors, m.duplicates, m.queueDropped, m.queueLength,
		m.applied, m.applyErrors, m.counterResets, m.applyLatency, m.transitions,
		m.historyErrors, m.reconnects)
	return m
}

func (m *Metrics) Received(kind string) {
	if m != nil {
		m.received.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) Duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) QueueDropped() {
	if m != nil {
		m.queueDropped.Inc()
	}
}

func (m *Metrics) QueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}

func (m *Metrics) Applied(kind string, took time.Duration) {
	if m != nil {
		m.applied.WithLabelValues(kind).Inc()
		m.applyLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) ApplyError() {
	if m != nil {
		m.applyErrors.Inc()
	}
}

func (m *Metrics) CounterReset() {
	if m != nil {
		m.counterResets.Inc()
	}
}

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) HistoryError() {
	if m != nil {
		m.historyErrors.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}
