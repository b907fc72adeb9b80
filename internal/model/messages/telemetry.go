package messages

import "github.com/LeonardoBeccarini/waternet/internal/model/entities"

// Telemetry is a decoded reading or actuator report. The set of
// implementations is closed: FlowReading, PressureReading, ValveReport.
type Telemetry interface {
	Source() string
	Sensor() string
	Kind() entities.Kind
	telemetry()
}

// FlowReading carries the fields present in a flow sensor message; nil
// pointers are fields the device did not send.
type FlowReading struct {
	SourceName      string
	SensorName      string
	FlowRate        *float64
	TotalWaterFlown *float64
}

func (f FlowReading) Source() string      { return f.SourceName }
func (f FlowReading) Sensor() string      { return f.SensorName }
func (f FlowReading) Kind() entities.Kind { return entities.KindFlow }
func (FlowReading) telemetry()            {}

type PressureReading struct {
	SourceName string
	SensorName string
	Pressure   *float64
}

func (p PressureReading) Source() string      { return p.SourceName }
func (p PressureReading) Sensor() string      { return p.SensorName }
func (p PressureReading) Kind() entities.Kind { return entities.KindPressure }
func (PressureReading) telemetry()            {}

// ValveReport always carries both fields: the codec substitutes defaults.
type ValveReport struct {
	SourceName     string
	SensorName     string
	State          entities.ValveState
	PercentageOpen int
}

func (v ValveReport) Source() string      { return v.SourceName }
func (v ValveReport) Sensor() string      { return v.SensorName }
func (v ValveReport) Kind() entities.Kind { return entities.KindValve }
func (ValveReport) telemetry()            {}

// Wire payloads as published by the field devices.

type FlowPayload struct {
	FlowRate        *float64 `json:"flowRate,omitempty"`
	TotalWaterFlown *float64 `json:"totalWaterFlown,omitempty"`
}

type PressurePayload struct {
	Pressure *float64 `json:"pressure,omitempty"`
}

type ValvePayload struct {
	State          string `json:"state"`
	PercentageOpen int    `json:"percentageOpen"`
}
