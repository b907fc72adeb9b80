// Package history keeps a time series of reconciled telemetry and schedule
// transitions in InfluxDB. Writes are queued and go through a circuit
// breaker so a slow or absent database never holds up ingestion.
package history

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/waternet/internal/metrics"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
	"github.com/LeonardoBeccarini/waternet/internal/schedule"
)

const (
	MeasurementFlow     = "flow"
	MeasurementPressure = "pressure"
	MeasurementValve    = "valve"
	MeasurementSchedule = "schedule_progress"
)

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Config struct {
	QueueSize    int
	BreakerFails int           // consecutive failures that open the breaker
	BreakerOpen  time.Duration // how long it stays open
}

type Writer struct {
	api     PointWriter
	cb      *gobreaker.CircuitBreaker
	queue   chan *write.Point
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
}

func NewWriter(w PointWriter, cfg Config, m *metrics.Metrics) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BreakerFails <= 0 {
		cfg.BreakerFails = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 10 * time.Second
	}
	return &Writer{
		api: w,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "influx",
			Timeout: cfg.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(cfg.BreakerFails)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("history: breaker %s %s -> %s", name, from, to)
			},
		}),
		queue:   make(chan *write.Point, cfg.QueueSize),
		metrics: m,
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
}

// RecordTelemetry queues the fields carried by t. It has the shape of a
// reconciler.AppliedFunc.
func (w *Writer) RecordTelemetry(_ context.Context, t messages.Telemetry, _ registry.Result) {
	if p := TelemetryPoint(t, w.now()); p != nil {
		w.enqueue(p)
	}
}

// Notify queues a schedule transition.
func (w *Writer) Notify(_ context.Context, tr schedule.Transition) {
	w.enqueue(TransitionPoint(tr))
}

func (w *Writer) enqueue(p *write.Point) {
	select {
	case w.queue <- p:
	default:
		w.failed(errors.New("queue full"))
	}
}

// Run writes queued points until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case p := <-w.queue:
			w.write(ctx, p)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case p := <-w.queue:
					w.write(flushCtx, p)
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) write(ctx context.Context, p *write.Point) {
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.api.WritePoint(ctx, p)
	})
	if err != nil {
		w.failed(err)
	}
}

func (w *Writer) failed(err error) {
	w.mu.Lock()
	w.lastErr = w.now()
	w.mu.Unlock()
	w.metrics.HistoryError()
	if !errors.Is(err, gobreaker.ErrOpenState) {
		log.Printf("history: write error: %v", err)
	}
}

// LastErrorAge is how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// TelemetryPoint maps a reading to a point. Readings that carry no field
// produce nil.
func TelemetryPoint(t messages.Telemetry, ts time.Time) *write.Point {
	tags := map[string]string{"source": t.Source(), "sensor": t.Sensor()}
	fields := map[string]interface{}{}
	var measurement string
	switch ev := t.(type) {
	case messages.FlowReading:
		measurement = MeasurementFlow
		if ev.FlowRate != nil {
			fields["flow_rate"] = *ev.FlowRate
		}
		if ev.TotalWaterFlown != nil {
			fields["total_water_flow"] = *ev.TotalWaterFlown
		}
	case messages.PressureReading:
		measurement = MeasurementPressure
		if ev.Pressure != nil {
			fields["pressure"] = *ev.Pressure
		}
	case messages.ValveReport:
		measurement = MeasurementValve
		fields["state"] = string(ev.State)
		fields["percentage_open"] = ev.PercentageOpen
	}
	if len(fields) == 0 {
		return nil
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}

func TransitionPoint(tr schedule.Transition) *write.Point {
	e := tr.Entry
	return influxdb2.NewPoint(MeasurementSchedule,
		map[string]string{"source": e.SourceName, "sensor": e.SensorName, "plan_id": e.PlanID},
		map[string]interface{}{
			"from":          string(tr.From),
			"to":            string(e.Progress),
			"volume_liters": e.VolumeLiters,
			"duration_min":  e.DurationMinutes,
		},
		tr.At)
}
