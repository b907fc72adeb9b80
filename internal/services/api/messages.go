package api

import "github.com/LeonardoBeccarini/waternet/internal/model/entities"

type ListSourcesRequest struct{}

type ListSourcesResponse struct {
	Sources []entities.Source `json:"sources"`
}

type GetSensorRequest struct {
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"`
	Name   string `json:"name"`
}

// GetSensorResponse carries exactly one of the typed sensors.
type GetSensorResponse struct {
	Kind     string                   `json:"kind"`
	Flow     *entities.FlowSensor     `json:"flow,omitempty"`
	Pressure *entities.PressureSensor `json:"pressure,omitempty"`
	Valve    *entities.Valve          `json:"valve,omitempty"`
}

type ListSchedulesRequest struct {
	Source string `json:"source,omitempty"`
}

type ListSchedulesResponse struct {
	Entries []entities.ScheduleEntry `json:"entries"`
}

type RequestScheduleRequest struct {
	Source    string             `json:"source"`
	StartTime string             `json:"start_time"`
	Volumes   map[string]float64 `json:"volumes"`
}

type RequestScheduleResponse struct {
	PlanID  string                   `json:"plan_id,omitempty"`
	Entries []entities.ScheduleEntry `json:"entries"`
}

type RemoveScheduleRequest struct {
	Source string `json:"source"`
}

type RemoveScheduleResponse struct {
	Removed int `json:"removed"`
}

type RegisterSourceRequest struct {
	Name            string   `json:"name"`
	FlowSensors     []string `json:"flow_sensors"`
	PressureSensors []string `json:"pressure_sensors"`
	Valves          []string `json:"valves"`
}

type RegisterSourceResponse struct {
	Source  entities.Source `json:"source"`
	Created bool            `json:"created"`
}

func sensorResponse(s entities.Sensor) *GetSensorResponse {
	out := &GetSensorResponse{Kind: string(s.SensorKind())}
	switch v := s.(type) {
	case entities.FlowSensor:
		out.Flow = &v
	case entities.PressureSensor:
		out.Pressure = &v
	case entities.Valve:
		out.Valve = &v
	}
	return out
}
