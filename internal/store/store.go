// Package store is the storage boundary of the engine. The registry and the
// schedule book call these methods and assume nothing about the backend.
package store

import (
	"context"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

type SourceStore interface {
	// LoadAllSources returns sources in creation order.
	LoadAllSources(ctx context.Context) ([]entities.Source, error)
	SaveSource(ctx context.Context, s entities.Source) error
}

type ScheduleStore interface {
	LoadAllSchedules(ctx context.Context) ([]entities.ScheduleEntry, error)
	// SaveSchedule upserts the entry keyed by (SourceName, SensorName).
	SaveSchedule(ctx context.Context, e entities.ScheduleEntry) error
	// DeleteSchedules removes the entries of a source; a non-empty sensor
	// narrows it to that sensor's entry.
	DeleteSchedules(ctx context.Context, source, sensor string) error
}

type Store interface {
	SourceStore
	ScheduleStore
}
