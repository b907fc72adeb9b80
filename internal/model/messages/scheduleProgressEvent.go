package messages

import (
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

// ScheduleProgressEvent is published whenever a schedule entry moves forward
// in its lifecycle. Actuators and the simulator react to it.
type ScheduleProgressEvent struct {
	PlanID     string            `json:"plan_id"`
	SourceName string            `json:"source_name"`
	SensorName string            `json:"sensor_name"`
	From       entities.Progress `json:"from"`
	To         entities.Progress `json:"to"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	VolumeL    float64           `json:"volume_liters"`
	Timestamp  time.Time         `json:"timestamp"`
}
