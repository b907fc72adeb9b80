// Package schedule turns an operator's volume request into a sequence of
// non-overlapping valve windows per source and walks each window through
// Scheduled, Running and Completed as time passes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

// DefaultEmissionRateLPS is the assumed flow of one open line in liters per second.
const DefaultEmissionRateLPS = 0.005

var ErrValidation = errors.New("invalid schedule request")

// ValidationError rejects a compile request. Nothing is mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schedule: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SourceReader is the read side of the registry.
type SourceReader interface {
	Get(name string) (entities.Source, bool)
}

type Config struct {
	EmissionRateLPS float64
	Location        *time.Location // anchors "HH:MM" start times
	Now             func() time.Time
}

type Compiler struct {
	book    *Book
	sources SourceReader
	cfg     Config
}

func NewCompiler(book *Book, sources SourceReader, cfg Config) *Compiler {
	if cfg.EmissionRateLPS <= 0 {
		cfg.EmissionRateLPS = DefaultEmissionRateLPS
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Compiler{book: book, sources: sources, cfg: cfg}
}

// Compile replaces the schedule of source with one built from volumes, in
// liters per flow sensor, starting at startTime.
func (c *Compiler) Compile(ctx context.Context, source, startTime string, volumes map[string]float64) ([]entities.ScheduleEntry, error) {
	start, err := ParseStart(startTime, c.cfg.Now(), c.cfg.Location)
	if err != nil {
		return nil, err
	}
	src, ok := c.sources.Get(source)
	if !ok {
		return nil, &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}
	entries, err := Plan(uuid.NewString(), src, start, volumes, c.cfg.EmissionRateLPS)
	if err != nil {
		return nil, err
	}
	if err := c.book.Replace(ctx, source, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Compiler) Remove(ctx context.Context, source string) (int, error) {
	return c.book.Remove(ctx, source)
}

func (c *Compiler) List(source string) []entities.ScheduleEntry {
	return c.book.List(source)
}

// Plan lays the flow sensors of src, in registration order, one after the
// other on a single timeline starting at start. Sensors with no volume get
// no entry.
func Plan(planID string, src entities.Source, start time.Time, volumes map[string]float64, rateLPS float64) ([]entities.ScheduleEntry, error) {
	for name, v := range volumes {
		if src.FlowSensor(name) == nil {
			return nil, &ValidationError{Field: "volumes", Reason: fmt.Sprintf("%q is not a flow sensor of %q", name, src.Name)}
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{Field: "volumes", Reason: fmt.Sprintf("volume for %q must be a finite number >= 0, got %v", name, v)}
		}
	}

	out := make([]entities.ScheduleEntry, 0, len(volumes))
	cursor := start
	for _, fs := range src.FlowSensors {
		v := volumes[fs.Name]
		if v == 0 {
			continue
		}
		minutes := Duration(v, rateLPS)
		end := cursor.Add(time.Duration(minutes) * time.Minute)
		out = append(out, entities.ScheduleEntry{
			PlanID:          planID,
			SourceName:      src.Name,
			SensorName:      fs.Name,
			StartTime:       cursor,
			EndTime:         end,
			DurationMinutes: minutes,
			VolumeLiters:    v,
			Progress:        entities.ProgressScheduled,
		})
		cursor = end
	}
	return out, nil
}

// Duration is the whole number of minutes needed to emit volume liters at
// rateLPS, rounded up. A positive volume always takes at least a minute.
func Duration(volume, rateLPS float64) int {
	if volume <= 0 {
		return 0
	}
	// 1e-9 absorbs float noise on exact multiples, e.g. 0.3 L at 0.005 L/s.
	m := int(math.Ceil(volume/rateLPS/60 - 1e-9))
	return max(m, 1)
}

// ParseStart accepts RFC 3339 timestamps or a wall-clock "HH:MM" on the
// day of now in loc.
func ParseStart(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("15:04", s); err == nil {
		y, mo, d := now.In(loc).Date()
		return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, loc), nil
	}
	return time.Time{}, &ValidationError{Field: "startTime", Reason: fmt.Sprintf("%q is neither RFC 3339 nor HH:MM", s)}
}
