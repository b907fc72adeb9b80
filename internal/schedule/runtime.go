package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/store"
)

// Transition is one forward move of an entry. Entry carries the new progress.
type Transition struct {
	Entry entities.ScheduleEntry
	From  entities.Progress
	At    time.Time
}

func (t Transition) Event() messages.ScheduleProgressEvent {
	return messages.ScheduleProgressEvent{
		PlanID:     t.Entry.PlanID,
		SourceName: t.Entry.SourceName,
		SensorName: t.Entry.SensorName,
		From:       t.From,
		To:         t.Entry.Progress,
		StartTime:  t.Entry.StartTime,
		EndTime:    t.Entry.EndTime,
		VolumeL:    t.Entry.VolumeLiters,
		Timestamp:  t.At,
	}
}

// Notifier is told about every persisted transition.
type Notifier interface {
	Notify(ctx context.Context, tr Transition)
}

type NotifierFunc func(ctx context.Context, tr Transition)

func (f NotifierFunc) Notify(ctx context.Context, tr Transition) { f(ctx, tr) }

// Notifiers fans a transition out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, tr Transition) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, tr)
		}
	}
}

// Runtime recomputes entry progress from the wall clock. Progress only moves
// forward and Completed entries are left alone.
type Runtime struct {
	book     *Book
	store    store.ScheduleStore
	notifier Notifier
	onMove   func(to entities.Progress)
}

func NewRuntime(book *Book, n Notifier) *Runtime {
	return &Runtime{book: book, store: book.store, notifier: n}
}

// OnTransition registers a hook called for every move, used for metrics.
func (r *Runtime) OnTransition(fn func(to entities.Progress)) { r.onMove = fn }

// Advance brings every entry up to date with now. An entry whose new
// progress cannot be persisted keeps its old progress and is retried on the
// next call.
func (r *Runtime) Advance(ctx context.Context, now time.Time) ([]Transition, error) {
	var (
		moved []Transition
		errs  []error
	)
	for _, source := range r.book.sources() {
		r.book.update(source, func(list []entities.ScheduleEntry) []entities.ScheduleEntry {
			for i, e := range list {
				if e.Progress == entities.ProgressCompleted {
					continue
				}
				target := e.ProgressAt(now)
				if target.Rank() <= e.Progress.Rank() {
					continue
				}
				next := e
				next.Progress = target
				if err := r.store.SaveSchedule(ctx, next); err != nil {
					errs = append(errs, fmt.Errorf("schedule: advance %s/%s: %w", e.SourceName, e.SensorName, err))
					continue
				}
				list[i] = next
				moved = append(moved, Transition{Entry: next, From: e.Progress, At: now})
			}
			return list
		})
	}
	for _, tr := range moved {
		if r.onMove != nil {
			r.onMove(tr.Entry.Progress)
		}
		if r.notifier != nil {
			r.notifier.Notify(ctx, tr)
		}
	}
	return moved, errors.Join(errs...)
}

// Run calls Advance now and then on every tick until ctx is done.
func (r *Runtime) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Advance(ctx, time.Now()); err != nil && ctx.Err() == nil {
			log.Printf("schedule: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
