package store

import (
	"context"
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

type scheduleKey struct{ source, sensor string }

// Memory keeps everything in process. Used when no DATABASE_URL is set and in tests.
type Memory struct {
	mu        sync.RWMutex
	sources   map[string]entities.Source
	order     []string
	schedules map[scheduleKey]entities.ScheduleEntry
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sources:   make(map[string]entities.Source),
		schedules: make(map[scheduleKey]entities.ScheduleEntry),
	}
}

func (m *Memory) LoadAllSources(_ context.Context) ([]entities.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entities.Source, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.sources[name].Clone())
	}
	return out, nil
}

func (m *Memory) SaveSource(_ context.Context, s entities.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[s.Name]; !ok {
		m.order = append(m.order, s.Name)
	}
	m.sources[s.Name] = s.Clone()
	return nil
}

func (m *Memory) LoadAllSchedules(_ context.Context) ([]entities.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entities.ScheduleEntry, 0, len(m.schedules))
	for _, e := range m.schedules {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceName != out[j].SourceName {
			return out[i].SourceName < out[j].SourceName
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (m *Memory) SaveSchedule(_ context.Context, e entities.ScheduleEntry) error {
	m.mu.Lock()
	m.schedules[scheduleKey{e.SourceName, e.SensorName}] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteSchedules(_ context.Context, source, sensor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.schedules {
		if k.source == source && (sensor == "" || k.sensor == sensor) {
			delete(m.schedules, k)
		}
	}
	return nil
}
