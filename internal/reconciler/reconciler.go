// Package reconciler moves decoded telemetry from the bus callbacks into the
// registry. Events are partitioned by source so that every event of one
// source is applied by the same worker, in arrival order.
package reconciler

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/waternet/internal/metrics"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
)

const (
	PolicyDrop  = "drop"
	PolicyBlock = "block"
)

// Applier is the write side of the registry.
type Applier interface {
	ApplyUpdate(ctx context.Context, t messages.Telemetry) (registry.Result, error)
}

// AppliedFunc observes every event that reached the registry.
type AppliedFunc func(ctx context.Context, t messages.Telemetry, res registry.Result)

// FailedFunc observes every event the registry rejected.
type FailedFunc func(ctx context.Context, t messages.Telemetry, err error)

type Config struct {
	Workers     int
	QueueSize   int    // per partition
	OnQueueFull string // "drop" or "block"
	OnApplied   AppliedFunc
}

type Reconciler struct {
	applier    Applier
	cfg        Config
	metrics    *metrics.Metrics
	partitions []chan messages.Telemetry
	pending    atomic.Int64
	failed     FailedFunc
}

func New(applier Applier, cfg Config, m *metrics.Metrics) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.OnQueueFull != PolicyBlock {
		cfg.OnQueueFull = PolicyDrop
	}
	r := &Reconciler{
		applier:    applier,
		cfg:        cfg,
		metrics:    m,
		partitions: make([]chan messages.Telemetry, cfg.Workers),
	}
	for i := range r.partitions {
		r.partitions[i] = make(chan messages.Telemetry, cfg.QueueSize)
	}
	return r
}

func (r *Reconciler) partition(source string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	return int(h.Sum32() % uint32(len(r.partitions)))
}

// OnFailed registers fn to be called for every event whose apply failed.
// It must be set before Run.
func (r *Reconciler) OnFailed(fn FailedFunc) { r.failed = fn }

// Submit enqueues t on its source's partition. It returns false when the
// event was not queued: the partition was full under the drop policy, or ctx
// ended while waiting under the block policy.
func (r *Reconciler) Submit(ctx context.Context, t messages.Telemetry) bool {
	ch := r.partitions[r.partition(t.Source())]
	// Counted before the send so a fast worker never takes pending below zero.
	n := r.pending.Add(1)
	if r.cfg.OnQueueFull == PolicyBlock {
		select {
		case ch <- t:
		case <-ctx.Done():
			r.pending.Add(-1)
			return false
		}
	} else {
		select {
		case ch <- t:
		default:
			r.pending.Add(-1)
			r.metrics.QueueDropped()
			log.Printf("reconciler: queue full, dropping %s %s/%s", t.Kind(), t.Source(), t.Sensor())
			return false
		}
	}
	r.metrics.QueueLength(int(n))
	return true
}

// Pending is the number of queued events not yet applied.
func (r *Reconciler) Pending() int { return int(r.pending.Load()) }

// Run starts one worker per partition. When ctx is done each worker applies
// what is left in its queue and Run returns.
func (r *Reconciler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.partitions {
		ch := r.partitions[i]
		g.Go(func() error { return r.work(gctx, ch) })
	}
	return g.Wait()
}

func (r *Reconciler) work(ctx context.Context, ch chan messages.Telemetry) error {
	for {
		select {
		case t := <-ch:
			r.dequeued()
			r.Apply(ctx, t)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case t := <-ch:
					r.dequeued()
					r.Apply(drainCtx, t)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Reconciler) dequeued() {
	r.metrics.QueueLength(int(r.pending.Add(-1)))
}

// Apply merges t into the registry synchronously. Store failures are logged,
// counted and passed to the OnFailed hook; the event is not retried here.
func (r *Reconciler) Apply(ctx context.Context, t messages.Telemetry) (registry.Result, error) {
	start := time.Now()
	res, err := r.applier.ApplyUpdate(ctx, t)
	if err != nil {
		r.metrics.ApplyError()
		if !errors.Is(err, context.Canceled) {
			log.Printf("reconciler: apply %s %s/%s: %v", t.Kind(), t.Source(), t.Sensor(), err)
		}
		if r.failed != nil {
			r.failed(ctx, t, err)
		}
		return res, err
	}
	r.metrics.Applied(string(t.Kind()), time.Since(start))
	if res.CounterReset {
		r.metrics.CounterReset()
		log.Printf("reconciler: flow counter reset on %s/%s", t.Source(), t.Sensor())
	}
	if r.cfg.OnApplied != nil {
		r.cfg.OnApplied(ctx, t, res)
	}
	return res, nil
}
