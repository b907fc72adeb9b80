// Package registry holds the canonical state of every source. All writes to
// one source are serialized and persisted before readers can see them.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/internal/store"
	"github.com/LeonardoBeccarini/waternet/pkg/keymutex"
)

type Registry struct {
	store store.SourceStore
	locks *keymutex.KeyMutex

	mu      sync.RWMutex
	sources map[string]*entities.Source // published snapshots, never mutated in place
	order   []string
}

// Result describes what an update did.
type Result struct {
	Source        entities.Source
	Changed       bool
	SourceCreated bool
	SensorCreated bool
	// CounterReset is set when a flow sensor's cumulative total went down.
	CounterReset bool
}

func New(st store.SourceStore) *Registry {
	return &Registry{
		store:   st,
		locks:   keymutex.New(),
		sources: make(map[string]*entities.Source),
	}
}

// Load replaces the in-memory state with what the store holds.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.store.LoadAllSources(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	sources := make(map[string]*entities.Source, len(list))
	order := make([]string, 0, len(list))
	for i := range list {
		s := list[i]
		if k, name, dup := s.Duplicate(); dup {
			return fmt.Errorf("registry: load: source %q has duplicate %s %q", s.Name, k, name)
		}
		if _, ok := sources[s.Name]; !ok {
			order = append(order, s.Name)
		}
		sources[s.Name] = &s
	}
	r.mu.Lock()
	r.sources, r.order = sources, order
	r.mu.Unlock()
	return nil
}

// mutate runs fn on a private copy of the source under the source's lock,
// persists the copy and publishes it.
func (r *Registry) mutate(ctx context.Context, name string, fn func(src *entities.Source, existed bool) (bool, error)) (entities.Source, bool, error) {
	unlock := r.locks.Lock(name)
	defer unlock()

	r.mu.RLock()
	cur, existed := r.sources[name]
	r.mu.RUnlock()

	next := entities.Source{Name: name}
	if existed {
		next = cur.Clone()
	}
	changed, err := fn(&next, existed)
	if err != nil {
		return entities.Source{}, false, err
	}
	if existed && !changed {
		return next, false, nil
	}
	if k, dup, found := next.Duplicate(); found {
		panic(&ConcurrencyViolation{Source: name, Kind: k, Name: dup})
	}
	if err := r.store.SaveSource(ctx, next); err != nil {
		return entities.Source{}, false, fmt.Errorf("registry: save source %q: %w", name, err)
	}

	published := next.Clone()
	r.mu.Lock()
	if !existed {
		r.order = append(r.order, name)
	}
	r.sources[name] = &published
	r.mu.Unlock()
	return next, true, nil
}

// UpsertSource returns the named source, creating it empty if absent.
func (r *Registry) UpsertSource(ctx context.Context, name string) (entities.Source, error) {
	if name == "" {
		return entities.Source{}, fmt.Errorf("registry: upsert: %w: empty source name", ErrInvalidName)
	}
	src, _, err := r.mutate(ctx, name, func(*entities.Source, bool) (bool, error) { return false, nil })
	return src, err
}

// RegisterSource creates a source with zero-valued sensors. An existing
// source is returned untouched with created == false.
func (r *Registry) RegisterSource(ctx context.Context, name string, flows, pressures, valves []string) (entities.Source, bool, error) {
	if name == "" {
		return entities.Source{}, false, fmt.Errorf("registry: register: %w: empty source name", ErrInvalidName)
	}
	for _, list := range [][]string{flows, pressures, valves} {
		if err := checkNames(list); err != nil {
			return entities.Source{}, false, fmt.Errorf("registry: register %q: %w", name, err)
		}
	}

	created := false
	src, _, err := r.mutate(ctx, name, func(src *entities.Source, existed bool) (bool, error) {
		if existed {
			return false, nil
		}
		created = true
		for _, n := range flows {
			src.FlowSensors = append(src.FlowSensors, entities.FlowSensor{Name: n})
		}
		for _, n := range pressures {
			src.PressureSensors = append(src.PressureSensors, entities.PressureSensor{Name: n})
		}
		for _, n := range valves {
			src.Valves = append(src.Valves, entities.Valve{Name: n, State: entities.ValveClosed})
		}
		return true, nil
	})
	return src, created, err
}

func checkNames(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%w: empty sensor name", ErrInvalidName)
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: duplicate sensor name %q", ErrInvalidName, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// ApplyUpdate merges the fields present in t into the matching sensor,
// creating the source and the sensor when needed.
func (r *Registry) ApplyUpdate(ctx context.Context, t messages.Telemetry) (Result, error) {
	if t.Source() == "" || t.Sensor() == "" {
		return Result{}, fmt.Errorf("registry: apply: %w: empty source or sensor", ErrInvalidName)
	}
	var res Result
	src, changed, err := r.mutate(ctx, t.Source(), func(src *entities.Source, existed bool) (bool, error) {
		res.SourceCreated = !existed
		switch ev := t.(type) {
		case messages.FlowReading:
			return mergeFlow(src, ev, &res), nil
		case messages.PressureReading:
			return mergePressure(src, ev, &res), nil
		case messages.ValveReport:
			return mergeValve(src, ev, &res), nil
		default:
			return false, fmt.Errorf("registry: apply: unsupported telemetry %T", t)
		}
	})
	if err != nil {
		return Result{}, err
	}
	res.Source = src
	res.Changed = changed
	return res, nil
}

func mergeFlow(src *entities.Source, ev messages.FlowReading, res *Result) bool {
	changed := false
	fs := src.FlowSensor(ev.SensorName)
	if fs == nil {
		src.FlowSensors = append(src.FlowSensors, entities.FlowSensor{Name: ev.SensorName})
		fs = &src.FlowSensors[len(src.FlowSensors)-1]
		res.SensorCreated, changed = true, true
	}
	if ev.FlowRate != nil && fs.FlowRate != *ev.FlowRate {
		fs.FlowRate = *ev.FlowRate
		changed = true
	}
	if ev.TotalWaterFlown != nil && fs.TotalWaterFlow != *ev.TotalWaterFlown {
		if *ev.TotalWaterFlown < fs.TotalWaterFlow {
			res.CounterReset = true
		}
		fs.TotalWaterFlow = *ev.TotalWaterFlown
		changed = true
	}
	return changed
}

func mergePressure(src *entities.Source, ev messages.PressureReading, res *Result) bool {
	changed := false
	ps := src.PressureSensor(ev.SensorName)
	if ps == nil {
		src.PressureSensors = append(src.PressureSensors, entities.PressureSensor{Name: ev.SensorName})
		ps = &src.PressureSensors[len(src.PressureSensors)-1]
		res.SensorCreated, changed = true, true
	}
	if ev.Pressure != nil && ps.Pressure != *ev.Pressure {
		ps.Pressure = *ev.Pressure
		changed = true
	}
	return changed
}

func mergeValve(src *entities.Source, ev messages.ValveReport, res *Result) bool {
	v := src.Valve(ev.SensorName)
	if v == nil {
		src.Valves = append(src.Valves, entities.Valve{Name: ev.SensorName, State: ev.State, PercentageOpen: ev.PercentageOpen})
		res.SensorCreated = true
		return true
	}
	if v.State == ev.State && v.PercentageOpen == ev.PercentageOpen {
		return false
	}
	v.State, v.PercentageOpen = ev.State, ev.PercentageOpen
	return true
}

// Get returns a copy of the named source.
func (r *Registry) Get(name string) (entities.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return entities.Source{}, false
	}
	return s.Clone(), true
}

// FindSensor looks a sensor up by kind and name.
func (r *Registry) FindSensor(source string, kind entities.Kind, name string) (entities.Sensor, error) {
	src, ok := r.Get(source)
	if !ok {
		return nil, &NotFoundError{Source: source}
	}
	s, ok := src.Sensor(kind, name)
	if !ok {
		return nil, &NotFoundError{Source: source, Kind: kind, Sensor: name}
	}
	return s, nil
}

// Lookup finds a sensor by name across kinds, flow sensors first.
func (r *Registry) Lookup(source, name string) (entities.Sensor, error) {
	src, ok := r.Get(source)
	if !ok {
		return nil, &NotFoundError{Source: source}
	}
	for _, k := range entities.Kinds {
		if s, ok := src.Sensor(k, name); ok {
			return s, nil
		}
	}
	return nil, &NotFoundError{Source: source, Sensor: name}
}

// ListAll returns copies of all sources in creation order.
func (r *Registry) ListAll() []entities.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name].Clone())
	}
	return out
}
