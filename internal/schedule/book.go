package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/store"
	"github.com/LeonardoBeccarini/waternet/pkg/keymutex"
)

// Book owns the schedule entries of every source. Replace, Remove and the
// runtime's updates of one source are mutually exclusive.
type Book struct {
	store store.ScheduleStore
	locks *keymutex.KeyMutex

	mu      sync.RWMutex
	entries map[string][]entities.ScheduleEntry // by source, ordered by start
}

func NewBook(st store.ScheduleStore) *Book {
	return &Book{
		store:   st,
		locks:   keymutex.New(),
		entries: make(map[string][]entities.ScheduleEntry),
	}
}

func (b *Book) Load(ctx context.Context) error {
	list, err := b.store.LoadAllSchedules(ctx)
	if err != nil {
		return fmt.Errorf("schedule: load: %w", err)
	}
	entries := make(map[string][]entities.ScheduleEntry)
	for _, e := range list {
		entries[e.SourceName] = append(entries[e.SourceName], e)
	}
	for _, list := range entries {
		sortByStart(list)
	}
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

// Replace discards every entry of source and stores next in its place. If
// next cannot be stored completely the previous entries are put back and
// the error is returned.
func (b *Book) Replace(ctx context.Context, source string, next []entities.ScheduleEntry) error {
	unlock := b.locks.Lock(source)
	defer unlock()

	b.mu.RLock()
	prev := append([]entities.ScheduleEntry(nil), b.entries[source]...)
	b.mu.RUnlock()

	if err := b.store.DeleteSchedules(ctx, source, ""); err != nil {
		return fmt.Errorf("schedule: replace %q: %w", source, err)
	}
	for _, e := range next {
		if err := b.store.SaveSchedule(ctx, e); err != nil {
			err = fmt.Errorf("schedule: replace %q: save %s: %w", source, e.SensorName, err)
			if rerr := b.rollback(ctx, source, prev); rerr != nil {
				log.Printf("schedule: %v", rerr)
				err = errors.Join(err, rerr)
			}
			return err
		}
	}
	b.set(source, append([]entities.ScheduleEntry(nil), next...))
	return nil
}

// rollback stores prev again after a failed Replace. Memory always ends up
// holding prev.
func (b *Book) rollback(ctx context.Context, source string, prev []entities.ScheduleEntry) error {
	defer b.set(source, prev)
	if err := b.store.DeleteSchedules(ctx, source, ""); err != nil {
		return fmt.Errorf("schedule: rollback %q: %w", source, err)
	}
	var errs []error
	for _, e := range prev {
		if err := b.store.SaveSchedule(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("schedule: rollback %q: save %s: %w", source, e.SensorName, err))
		}
	}
	return errors.Join(errs...)
}

// Remove deletes every entry of source whatever its progress and reports
// how many there were.
func (b *Book) Remove(ctx context.Context, source string) (int, error) {
	unlock := b.locks.Lock(source)
	defer unlock()

	if err := b.store.DeleteSchedules(ctx, source, ""); err != nil {
		return 0, fmt.Errorf("schedule: remove %q: %w", source, err)
	}
	b.mu.Lock()
	n := len(b.entries[source])
	delete(b.entries, source)
	b.mu.Unlock()
	return n, nil
}

// List returns the entries of source, or of every source when source is
// empty, ordered by source then start time.
func (b *Book) List(source string) []entities.ScheduleEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if source != "" {
		return append([]entities.ScheduleEntry{}, b.entries[source]...)
	}
	out := make([]entities.ScheduleEntry, 0)
	for _, name := range b.sourcesLocked() {
		out = append(out, b.entries[name]...)
	}
	return out
}

func (b *Book) sources() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sourcesLocked()
}

func (b *Book) sourcesLocked() []string {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// update runs fn over a copy of the source's entries under its lock. fn
// persists what it changes and returns the entries to publish.
func (b *Book) update(source string, fn func([]entities.ScheduleEntry) []entities.ScheduleEntry) {
	unlock := b.locks.Lock(source)
	defer unlock()

	b.mu.RLock()
	cur, ok := b.entries[source]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.set(source, fn(append([]entities.ScheduleEntry(nil), cur...)))
}

func (b *Book) set(source string, list []entities.ScheduleEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(list) == 0 {
		delete(b.entries, source)
		return
	}
	sortByStart(list)
	b.entries[source] = list
}

func sortByStart(list []entities.ScheduleEntry) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
}
