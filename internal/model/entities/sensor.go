package entities

// Kind classifies a sensor inside a source. The values double as the
// middle topic segment published by the field devices.
type Kind string

const (
	KindFlow     Kind = "flowsensor"
	KindPressure Kind = "pressuresensor"
	KindValve    Kind = "valve"
)

// Kinds lists the sensor kinds in the order they are matched against topics.
var Kinds = []Kind{KindFlow, KindPressure, KindValve}

func (k Kind) Valid() bool {
	return k == KindFlow || k == KindPressure || k == KindValve
}

// ValveState indicates whether a valve is open or closed.
type ValveState string

const (
	ValveClosed ValveState = "closed"
	ValveOpen   ValveState = "open"
)

// Sensor is any named member of a source's collections.
type Sensor interface {
	SensorName() string
	SensorKind() Kind
}

// FlowSensor reports instantaneous flow (l/s) and the cumulative volume (l).
type FlowSensor struct {
	Name           string  `json:"name"`
	FlowRate       float64 `json:"flowRate"`
	TotalWaterFlow float64 `json:"totalWaterFlow"`
}

func (f FlowSensor) SensorName() string { return f.Name }
func (f FlowSensor) SensorKind() Kind   { return KindFlow }

// PressureSensor reports line pressure.
type PressureSensor struct {
	Name     string  `json:"name"`
	Pressure float64 `json:"pressure"`
}

func (p PressureSensor) SensorName() string { return p.Name }
func (p PressureSensor) SensorKind() Kind   { return KindPressure }

// Valve reports its actuator state. A closed valve is expected to report
// PercentageOpen == 0 but nothing enforces it.
type Valve struct {
	Name           string     `json:"name"`
	State          ValveState `json:"state"`
	PercentageOpen int        `json:"percentageOpen"`
}

func (v Valve) SensorName() string { return v.Name }
func (v Valve) SensorKind() Kind   { return KindValve }
