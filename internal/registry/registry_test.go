package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/waternet/internal/codec"
	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/store"
)

func f64(v float64) *float64 { return &v }

type failingStore struct {
	*store.Memory
	fail bool
}

func (f *failingStore) SaveSource(ctx context.Context, s entities.Source) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.SaveSource(ctx, s)
}

func TestUpsertSourceIdempotent(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()

	a, err := r.UpsertSource(ctx, "source1")
	require.NoError(t, err)
	b, err := r.UpsertSource(ctx, "source1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, r.ListAll(), 1)

	_, err = r.UpsertSource(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestApplyUpdateFlowLastWriteWins(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()

	res, err := r.ApplyUpdate(ctx, messages.FlowReading{SourceName: "source1", SensorName: "flow1", FlowRate: f64(0.2), TotalWaterFlown: f64(10)})
	require.NoError(t, err)
	assert.True(t, res.SourceCreated)
	assert.True(t, res.SensorCreated)

	res, err = r.ApplyUpdate(ctx, messages.FlowReading{SourceName: "source1", SensorName: "flow1", TotalWaterFlown: f64(12.5)})
	require.NoError(t, err)
	assert.False(t, res.SensorCreated)

	s, err := r.FindSensor("source1", entities.KindFlow, "flow1")
	require.NoError(t, err)
	flow := s.(entities.FlowSensor)
	assert.Equal(t, 12.5, flow.TotalWaterFlow)
	assert.Equal(t, 0.2, flow.FlowRate, "absent flowRate must be left untouched")
}

func TestApplyUpdateIdempotent(t *testing.T) {
	events := []messages.Telemetry{
		messages.FlowReading{SourceName: "s", SensorName: "flow1", FlowRate: f64(1), TotalWaterFlown: f64(4)},
		messages.PressureReading{SourceName: "s", SensorName: "pressure1", Pressure: f64(2.2)},
		messages.ValveReport{SourceName: "s", SensorName: "valve1", State: entities.ValveOpen, PercentageOpen: 50},
	}
	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			once := New(store.NewMemory())
			twice := New(store.NewMemory())
			ctx := context.Background()

			_, err := once.ApplyUpdate(ctx, ev)
			require.NoError(t, err)
			_, err = twice.ApplyUpdate(ctx, ev)
			require.NoError(t, err)
			res, err := twice.ApplyUpdate(ctx, ev)
			require.NoError(t, err)

			assert.False(t, res.Changed)
			assert.Equal(t, once.ListAll(), twice.ListAll())
		})
	}
}

func TestApplyUpdateTotalEqualsPayload(t *testing.T) {
	for _, total := range []float64{0, 0.001, 17, 1e6} {
		r := New(store.NewMemory())
		_, err := r.ApplyUpdate(context.Background(), messages.FlowReading{SourceName: "s", SensorName: "f", TotalWaterFlown: f64(total)})
		require.NoError(t, err)
		s, err := r.FindSensor("s", entities.KindFlow, "f")
		require.NoError(t, err)
		assert.Equal(t, total, s.(entities.FlowSensor).TotalWaterFlow)
	}
}

func TestApplyUpdateCounterReset(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()
	_, err := r.ApplyUpdate(ctx, messages.FlowReading{SourceName: "s", SensorName: "f", TotalWaterFlown: f64(100)})
	require.NoError(t, err)

	res, err := r.ApplyUpdate(ctx, messages.FlowReading{SourceName: "s", SensorName: "f", TotalWaterFlown: f64(3)})
	require.NoError(t, err)
	assert.True(t, res.CounterReset)
	assert.Equal(t, 3.0, res.Source.FlowSensors[0].TotalWaterFlow)
}

func TestApplyUpdateValveFromDecodedDefaults(t *testing.T) {
	r := New(store.NewMemory())
	ev, err := codec.Decode("source3/valve/valve2", []byte(`{}`))
	require.NoError(t, err)
	_, err = r.ApplyUpdate(context.Background(), ev)
	require.NoError(t, err)

	s, err := r.FindSensor("source3", entities.KindValve, "valve2")
	require.NoError(t, err)
	assert.Equal(t, entities.Valve{Name: "valve2", State: entities.ValveClosed, PercentageOpen: 0}, s)
}

func TestFindSensorNotFound(t *testing.T) {
	r := New(store.NewMemory())
	_, err := r.FindSensor("ghost", entities.KindFlow, "flow1")
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.Source)
	assert.Empty(t, nf.Sensor)

	_, err = r.UpsertSource(context.Background(), "source1")
	require.NoError(t, err)
	_, err = r.FindSensor("source1", entities.KindPressure, "pressure9")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, entities.KindPressure, nf.Kind)
	assert.Equal(t, "pressure9", nf.Sensor)
}

func TestLookupAcrossKinds(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()
	_, created, err := r.RegisterSource(ctx, "source1", []string{"flow1"}, []string{"pressure1"}, []string{"valve1"})
	require.NoError(t, err)
	require.True(t, created)

	s, err := r.Lookup("source1", "pressure1")
	require.NoError(t, err)
	assert.Equal(t, entities.KindPressure, s.SensorKind())

	_, err = r.Lookup("source1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterSource(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()

	src, created, err := r.RegisterSource(ctx, "source1", []string{"flow1", "flow2"}, nil, []string{"valve1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []entities.FlowSensor{{Name: "flow1"}, {Name: "flow2"}}, src.FlowSensors)
	assert.Equal(t, []entities.Valve{{Name: "valve1", State: entities.ValveClosed}}, src.Valves)

	again, created, err := r.RegisterSource(ctx, "source1", []string{"other"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, src, again)

	_, _, err = r.RegisterSource(ctx, "source2", []string{"flow1", "flow1"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, ok := r.Get("source2")
	assert.False(t, ok)
}

func TestConcurrentFindOrCreateNoDuplicates(t *testing.T) {
	r := New(store.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("source%d", i%3)
			sensor := fmt.Sprintf("flow%d", i%5)
			_, err := r.ApplyUpdate(ctx, messages.FlowReading{SourceName: src, SensorName: sensor, FlowRate: f64(float64(i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all := r.ListAll()
	require.Len(t, all, 3)
	for _, s := range all {
		assert.Len(t, s.FlowSensors, 5, s.Name)
		_, _, dup := s.Duplicate()
		assert.False(t, dup)
	}
}

func TestMutateDuplicatePanics(t *testing.T) {
	r := New(store.NewMemory())
	require.PanicsWithError(t, `registry: concurrency violation: duplicate flowsensor "flow1" in source "s"`, func() {
		_, _, _ = r.mutate(context.Background(), "s", func(src *entities.Source, _ bool) (bool, error) {
			src.FlowSensors = append(src.FlowSensors, entities.FlowSensor{Name: "flow1"}, entities.FlowSensor{Name: "flow1"})
			return true, nil
		})
	})
}

func TestStoreFailureLeavesStateUntouched(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory()}
	r := New(st)
	ctx := context.Background()

	_, err := r.ApplyUpdate(ctx, messages.PressureReading{SourceName: "s", SensorName: "p", Pressure: f64(1)})
	require.NoError(t, err)

	st.fail = true
	_, err = r.ApplyUpdate(ctx, messages.PressureReading{SourceName: "s", SensorName: "p", Pressure: f64(9)})
	require.Error(t, err)

	s, err := r.FindSensor("s", entities.KindPressure, "p")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.(entities.PressureSensor).Pressure)
}

func TestLoadAndListOrder(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SaveSource(ctx, entities.Source{Name: "zeta"}))
	require.NoError(t, st.SaveSource(ctx, entities.Source{Name: "alpha", Valves: []entities.Valve{{Name: "valve1", State: entities.ValveOpen, PercentageOpen: 100}}}))

	r := New(st)
	require.NoError(t, r.Load(ctx))
	all := r.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "zeta", all[0].Name)
	assert.Equal(t, "alpha", all[1].Name)

	_, err := r.ApplyUpdate(ctx, messages.ValveReport{SourceName: "beta", SensorName: "valve1", State: entities.ValveClosed})
	require.NoError(t, err)
	assert.Equal(t, "beta", r.ListAll()[2].Name)
}

func TestListAllReturnsCopies(t *testing.T) {
	r := New(store.NewMemory())
	_, err := r.ApplyUpdate(context.Background(), messages.PressureReading{SourceName: "s", SensorName: "p", Pressure: f64(1)})
	require.NoError(t, err)

	all := r.ListAll()
	all[0].PressureSensors[0].Pressure = 99

	s, _ := r.Get("s")
	assert.Equal(t, 1.0, s.PressureSensors[0].Pressure)
}
