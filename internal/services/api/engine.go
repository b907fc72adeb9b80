// Package api is the read/write surface offered to the UI and operators:
// source and sensor lookups, schedule requests and removal.
package api

import (
	"context"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
	"github.com/LeonardoBeccarini/waternet/internal/schedule"
)

// Engine groups the registry and the schedule compiler behind the calls
// the outer layers need.
type Engine struct {
	registry *registry.Registry
	compiler *schedule.Compiler
}

func NewEngine(reg *registry.Registry, comp *schedule.Compiler) *Engine {
	return &Engine{registry: reg, compiler: comp}
}

func (e *Engine) ListSources(_ context.Context) []entities.Source {
	return e.registry.ListAll()
}

// GetSensor finds a sensor by kind and name; an empty kind searches every
// kind.
func (e *Engine) GetSensor(_ context.Context, source string, kind entities.Kind, name string) (entities.Sensor, error) {
	if kind == "" {
		return e.registry.Lookup(source, name)
	}
	return e.registry.FindSensor(source, kind, name)
}

func (e *Engine) ListSchedules(_ context.Context, source string) []entities.ScheduleEntry {
	return e.compiler.List(source)
}

func (e *Engine) RequestSchedule(ctx context.Context, source, startTime string, volumes map[string]float64) ([]entities.ScheduleEntry, error) {
	return e.compiler.Compile(ctx, source, startTime, volumes)
}

func (e *Engine) RemoveSchedule(ctx context.Context, source string) (int, error) {
	return e.compiler.Remove(ctx, source)
}

func (e *Engine) RegisterSource(ctx context.Context, name string, flows, pressures, valves []string) (entities.Source, bool, error) {
	return e.registry.RegisterSource(ctx, name, flows, pressures, valves)
}
