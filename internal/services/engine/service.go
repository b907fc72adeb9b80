// Package engine runs the ingestion and schedule pipelines of one process:
// bus messages are decoded, deduplicated and handed to the reconciler while
// the schedule runtime advances entries on a ticker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/waternet/internal/codec"
	"github.com/LeonardoBeccarini/waternet/internal/history"
	"github.com/LeonardoBeccarini/waternet/internal/metrics"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/reconciler"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
	"github.com/LeonardoBeccarini/waternet/internal/schedule"
	"github.com/LeonardoBeccarini/waternet/pkg/dedup"
	"github.com/LeonardoBeccarini/waternet/pkg/rabbitmq"
)

type Deps struct {
	Registry   *registry.Registry
	Book       *schedule.Book
	Runtime    *schedule.Runtime
	Reconciler *reconciler.Reconciler
	Dedup      *dedup.Deduper
	History    *history.Writer   // optional
	Consumer   rabbitmq.IConsumer // optional, nil when driven by Ingest directly
	Metrics    *metrics.Metrics
	Tick       time.Duration
}

type Service struct {
	Deps
	ctx    atomic.Pointer[context.Context]
	loaded atomic.Bool
}

func NewService(d Deps) *Service {
	s := &Service{Deps: d}
	if d.Consumer != nil {
		d.Consumer.SetHandler(s.Handle)
	}
	if d.Reconciler != nil && d.Dedup != nil {
		// A rejected event must not block an identical redelivery.
		d.Reconciler.OnFailed(func(_ context.Context, t messages.Telemetry, _ error) {
			d.Dedup.Forget(dedupKey(t))
		})
	}
	return s
}

// dedupKey is the canonical topic of t, so that topic spellings the codec
// treats as one sensor share a record.
func dedupKey(t messages.Telemetry) string {
	return codec.Topic(t.Source(), t.Kind(), t.Sensor())
}

// Load restores sources and schedules from the store.
func (s *Service) Load(ctx context.Context) error {
	if err := s.Registry.Load(ctx); err != nil {
		return err
	}
	if err := s.Book.Load(ctx); err != nil {
		return err
	}
	s.loaded.Store(true)
	log.Printf("engine: loaded %d sources, %d schedule entries", len(s.Registry.ListAll()), len(s.Book.List("")))
	return nil
}

// Loaded reports whether Load has completed.
func (s *Service) Loaded() bool { return s.loaded.Load() }

// Handle is the bus callback. It never blocks on the registry.
func (s *Service) Handle(topic string, msg mqtt.Message) error {
	s.Ingest(s.runCtx(), topic, msg.Payload())
	return nil
}

func (s *Service) runCtx() context.Context {
	if p := s.ctx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// Ingest decodes one raw message, drops it if it repeats the last payload
// seen for its sensor and queues it. It reports whether the message was
// queued.
func (s *Service) Ingest(ctx context.Context, topic string, payload []byte) bool {
	t, err := codec.Decode(topic, payload)
	if err != nil {
		s.Metrics.DecodeError()
		log.Printf("engine: %v", err)
		return false
	}
	key := dedupKey(t)
	if s.Dedup != nil && !s.Dedup.ShouldProcess(key, dedup.Fingerprint(payload)) {
		s.Metrics.Duplicate()
		return false
	}
	s.Metrics.Received(string(t.Kind()))
	if !s.Reconciler.Submit(ctx, t) {
		if s.Dedup != nil {
			s.Dedup.Forget(key)
		}
		return false
	}
	return true
}

// Run starts every loop and blocks until ctx is done and they have all
// returned.
func (s *Service) Run(ctx context.Context) error {
	s.ctx.Store(&ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Reconciler.Run(gctx) })
	g.Go(func() error { return s.Runtime.Run(gctx, s.Tick) })
	if s.History != nil {
		g.Go(func() error { return s.History.Run(gctx) })
	}
	if s.Consumer != nil {
		g.Go(func() error {
			if err := s.Consumer.ConsumeMessage(gctx); err != nil {
				return fmt.Errorf("engine: consume: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
