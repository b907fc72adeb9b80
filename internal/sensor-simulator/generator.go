package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/codec"
	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
)

// ====== Tunables ======
const (
	// basePressure is the static line pressure in bar with every valve closed.
	basePressure = 4.0
	// dropPerOpenLine is the pressure lost for each line drawing water.
	dropPerOpenLine = 0.35
	// jitter is the relative noise applied to flow and pressure samples.
	jitter = 0.03
)

type line struct {
	open  bool
	total float64 // liters
}

// DataGenerator simulates one source: n irrigation lines, each with a flow
// sensor, a valve and a pressure tap named by index (flow1, valve1, pressure1).
type DataGenerator struct {
	mu        sync.Mutex
	source    string
	rateLPS   float64
	lines     []line
	pressures int
	last      time.Time
	rng       *rand.Rand
}

// NewDataGenerator builds a generator whose open lines deliver rateLPS.
func NewDataGenerator(source string, flows, pressures int, rateLPS float64, seed int64) *DataGenerator {
	return &DataGenerator{
		source:    source,
		rateLPS:   math.Max(0, rateLPS),
		lines:     make([]line, flows),
		pressures: pressures,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// SetOpen opens or closes the line whose flow sensor is named sensor. It
// reports whether such a line exists.
func (g *DataGenerator) SetOpen(sensor string, open bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.lines {
		if codec.SensorName(entities.KindFlow, i+1) == sensor {
			g.lines[i].open = open
			return true
		}
	}
	return false
}

func (g *DataGenerator) noisy(v float64) float64 {
	return v * (1 + jitter*(2*g.rng.Float64()-1))
}

// Next advances the simulation to now and returns one reading per sensor.
func (g *DataGenerator) Next(now time.Time) []messages.Telemetry {
	g.mu.Lock()
	defer g.mu.Unlock()

	dt := 0.0
	if !g.last.IsZero() {
		dt = math.Max(0, now.Sub(g.last).Seconds())
	}
	g.last = now

	out := make([]messages.Telemetry, 0, 2*len(g.lines)+g.pressures)
	openLines := 0
	for i := range g.lines {
		l := &g.lines[i]
		rate := 0.0
		if l.open {
			openLines++
			rate = g.noisy(g.rateLPS)
			l.total += rate * dt
		}
		total := l.total
		out = append(out, messages.FlowReading{
			SourceName:      g.source,
			SensorName:      codec.SensorName(entities.KindFlow, i+1),
			FlowRate:        &rate,
			TotalWaterFlown: &total,
		})
		state, pct := entities.ValveClosed, 0
		if l.open {
			state, pct = entities.ValveOpen, 100
		}
		out = append(out, messages.ValveReport{
			SourceName:     g.source,
			SensorName:     codec.SensorName(entities.KindValve, i+1),
			State:          state,
			PercentageOpen: pct,
		})
	}
	for i := 0; i < g.pressures; i++ {
		p := math.Max(0, g.noisy(basePressure-dropPerOpenLine*float64(openLines)))
		out = append(out, messages.PressureReading{
			SourceName: g.source,
			SensorName: codec.SensorName(entities.KindPressure, i+1),
			Pressure:   &p,
		})
	}
	return out
}
