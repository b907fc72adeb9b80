package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/store"
)

type flakyScheduleStore struct {
	*store.Memory
	fail bool
}

func (s *flakyScheduleStore) SaveSchedule(ctx context.Context, e entities.ScheduleEntry) error {
	if s.fail {
		return errors.New("timeout")
	}
	return s.Memory.SaveSchedule(ctx, e)
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) Notify(_ context.Context, tr Transition) {
	r.mu.Lock()
	r.got = append(r.got, tr)
	r.mu.Unlock()
}

func TestAdvanceMorningScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.compiler.Compile(ctx, "source1", "06:00", map[string]float64{"flow1": 10, "flow2": 5})
	require.NoError(t, err)

	rec := &recorder{}
	rt := NewRuntime(f.book, rec)

	moved, err := rt.Advance(ctx, at(5, 59))
	require.NoError(t, err)
	assert.Empty(t, moved)

	moved, err = rt.Advance(ctx, at(6, 0))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "flow1", moved[0].Entry.SensorName)
	assert.Equal(t, entities.ProgressScheduled, moved[0].From)
	assert.Equal(t, entities.ProgressRunning, moved[0].Entry.Progress)

	moved, err = rt.Advance(ctx, at(6, 34))
	require.NoError(t, err)
	require.Len(t, moved, 2)
	assert.Equal(t, entities.ProgressCompleted, moved[0].Entry.Progress)
	assert.Equal(t, entities.ProgressRunning, moved[1].Entry.Progress)

	// Jumping past both windows at once goes straight to Completed.
	moved, err = rt.Advance(ctx, at(9, 0))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, entities.ProgressRunning, moved[0].From)
	assert.Equal(t, entities.ProgressCompleted, moved[0].Entry.Progress)

	assert.Len(t, rec.got, 4)
	ev := rec.got[3].Event()
	assert.Equal(t, "flow2", ev.SensorName)
	assert.Equal(t, entities.ProgressCompleted, ev.To)
	assert.Equal(t, at(9, 0), ev.Timestamp)

	stored, err := f.store.LoadAllSchedules(ctx)
	require.NoError(t, err)
	for _, e := range stored {
		assert.Equal(t, entities.ProgressCompleted, e.Progress)
	}
}

func TestAdvanceNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.compiler.Compile(ctx, "source1", "06:00", map[string]float64{"flow1": 10})
	require.NoError(t, err)
	rt := NewRuntime(f.book, nil)

	prev := entities.ProgressScheduled
	for ts := at(5, 0); ts.Before(at(8, 0)); ts = ts.Add(3 * time.Minute) {
		_, err := rt.Advance(ctx, ts)
		require.NoError(t, err)
		cur := f.book.List("source1")[0].Progress
		assert.GreaterOrEqual(t, cur.Rank(), prev.Rank(), "at %s", ts.Format("15:04"))
		prev = cur
	}
	require.Equal(t, entities.ProgressCompleted, prev)

	// A clock going backwards changes nothing.
	moved, err := rt.Advance(ctx, at(5, 0))
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.Equal(t, entities.ProgressCompleted, f.book.List("source1")[0].Progress)
}

func TestAdvanceKeepsProgressWhenSaveFails(t *testing.T) {
	st := &flakyScheduleStore{Memory: store.NewMemory()}
	book := NewBook(st)
	entry := entities.ScheduleEntry{
		PlanID: "p", SourceName: "s", SensorName: "flow1",
		StartTime: at(6, 0), EndTime: at(6, 10), DurationMinutes: 10, VolumeLiters: 3,
		Progress: entities.ProgressScheduled,
	}
	require.NoError(t, book.Replace(context.Background(), "s", []entities.ScheduleEntry{entry}))

	rt := NewRuntime(book, nil)
	st.fail = true
	moved, err := rt.Advance(context.Background(), at(6, 5))
	require.Error(t, err)
	assert.Empty(t, moved)
	assert.Equal(t, entities.ProgressScheduled, book.List("s")[0].Progress)

	st.fail = false
	moved, err = rt.Advance(context.Background(), at(6, 5))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, entities.ProgressRunning, book.List("s")[0].Progress)
}

func TestAdvanceDoesNotResurrectRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.compiler.Compile(ctx, "source1", "06:00", map[string]float64{"flow1": 10})
	require.NoError(t, err)
	_, err = f.compiler.Remove(ctx, "source1")
	require.NoError(t, err)

	moved, err := NewRuntime(f.book, nil).Advance(ctx, at(6, 5))
	require.NoError(t, err)
	assert.Empty(t, moved)
	stored, err := f.store.LoadAllSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestNotifiersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var hooked []entities.Progress
	ns := Notifiers{a, nil, NotifierFunc(b.Notify)}

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.compiler.Compile(ctx, "source1", "06:00", map[string]float64{"flow2": 1})
	require.NoError(t, err)
	rt := NewRuntime(f.book, ns)
	rt.OnTransition(func(to entities.Progress) { hooked = append(hooked, to) })

	_, err = rt.Advance(ctx, at(7, 0))
	require.NoError(t, err)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
	assert.Equal(t, []entities.Progress{entities.ProgressCompleted}, hooked)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRuntime(f.book, nil).Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runtime did not stop")
	}
}
