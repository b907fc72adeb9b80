package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

const (
	createSourcesTable = `CREATE TABLE IF NOT EXISTS sources (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	flow_sensors JSONB NOT NULL DEFAULT '[]',
	pressure_sensors JSONB NOT NULL DEFAULT '[]',
	valves JSONB NOT NULL DEFAULT '[]',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	createSchedulesTable = `CREATE TABLE IF NOT EXISTS schedules (
	source_name TEXT NOT NULL,
	sensor_name TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	duration_minutes INTEGER NOT NULL,
	volume_liters DOUBLE PRECISION NOT NULL,
	progress TEXT NOT NULL,
	PRIMARY KEY (source_name, sensor_name)
)`

	selectSources = `SELECT name, flow_sensors, pressure_sensors, valves FROM sources ORDER BY id`
	upsertSource  = `INSERT INTO sources (name, flow_sensors, pressure_sensors, valves, updated_at) VALUES ($1, $2, $3, $4, now()) ` +
		`ON CONFLICT (name) DO UPDATE SET flow_sensors = EXCLUDED.flow_sensors, pressure_sensors = EXCLUDED.pressure_sensors, valves = EXCLUDED.valves, updated_at = now()`

	selectSchedules = `SELECT plan_id, source_name, sensor_name, start_time, end_time, duration_minutes, volume_liters, progress FROM schedules ORDER BY source_name, start_time`
	upsertSchedule  = `INSERT INTO schedules (plan_id, source_name, sensor_name, start_time, end_time, duration_minutes, volume_liters, progress) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ` +
		`ON CONFLICT (source_name, sensor_name) DO UPDATE SET plan_id = EXCLUDED.plan_id, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, ` +
		`duration_minutes = EXCLUDED.duration_minutes, volume_liters = EXCLUDED.volume_liters, progress = EXCLUDED.progress`
	deleteSourceSchedules = `DELETE FROM schedules WHERE source_name = $1`
	deleteSensorSchedule  = `DELETE FROM schedules WHERE source_name = $1 AND sensor_name = $2`
)

// Postgres stores sources as one row each, with the sensor collections in
// JSONB columns, and schedules as one row per (source, sensor).
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createSourcesTable, createSchedulesTable} {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) LoadAllSources(ctx context.Context) ([]entities.Source, error) {
	rows, err := p.db.QueryContext(ctx, selectSources)
	if err != nil {
		return nil, fmt.Errorf("store: load sources: %w", err)
	}
	defer rows.Close()

	var out []entities.Source
	for rows.Next() {
		var (
			s                      entities.Source
			flows, pressures, vals []byte
		)
		if err := rows.Scan(&s.Name, &flows, &pressures, &vals); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		if err := json.Unmarshal(flows, &s.FlowSensors); err != nil {
			return nil, fmt.Errorf("store: source %q flow_sensors: %w", s.Name, err)
		}
		if err := json.Unmarshal(pressures, &s.PressureSensors); err != nil {
			return nil, fmt.Errorf("store: source %q pressure_sensors: %w", s.Name, err)
		}
		if err := json.Unmarshal(vals, &s.Valves); err != nil {
			return nil, fmt.Errorf("store: source %q valves: %w", s.Name, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load sources: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveSource(ctx context.Context, s entities.Source) error {
	flows, err := jsonList(s.FlowSensors)
	if err != nil {
		return err
	}
	pressures, err := jsonList(s.PressureSensors)
	if err != nil {
		return err
	}
	valves, err := jsonList(s.Valves)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, upsertSource, s.Name, flows, pressures, valves); err != nil {
		return fmt.Errorf("store: save source %q: %w", s.Name, err)
	}
	return nil
}

func (p *Postgres) LoadAllSchedules(ctx context.Context) ([]entities.ScheduleEntry, error) {
	rows, err := p.db.QueryContext(ctx, selectSchedules)
	if err != nil {
		return nil, fmt.Errorf("store: load schedules: %w", err)
	}
	defer rows.Close()

	var out []entities.ScheduleEntry
	for rows.Next() {
		var (
			e        entities.ScheduleEntry
			progress string
		)
		if err := rows.Scan(&e.PlanID, &e.SourceName, &e.SensorName, &e.StartTime, &e.EndTime,
			&e.DurationMinutes, &e.VolumeLiters, &progress); err != nil {
			return nil, fmt.Errorf("store: scan schedule: %w", err)
		}
		e.Progress = entities.Progress(progress)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load schedules: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveSchedule(ctx context.Context, e entities.ScheduleEntry) error {
	_, err := p.db.ExecContext(ctx, upsertSchedule, e.PlanID, e.SourceName, e.SensorName,
		e.StartTime, e.EndTime, e.DurationMinutes, e.VolumeLiters, string(e.Progress))
	if err != nil {
		return fmt.Errorf("store: save schedule %s/%s: %w", e.SourceName, e.SensorName, err)
	}
	return nil
}

func (p *Postgres) DeleteSchedules(ctx context.Context, source, sensor string) error {
	var err error
	if sensor == "" {
		_, err = p.db.ExecContext(ctx, deleteSourceSchedules, source)
	} else {
		_, err = p.db.ExecContext(ctx, deleteSensorSchedule, source, sensor)
	}
	if err != nil {
		return fmt.Errorf("store: delete schedules of %q: %w", source, err)
	}
	return nil
}

// jsonList encodes a collection, writing [] rather than null for nil slices.
func jsonList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("store: encode: %w", err)
	}
	return string(b), nil
}
