package entities

import "time"

// Progress is the lifecycle state of a schedule entry.
type Progress string

const (
	ProgressScheduled Progress = "Scheduled"
	ProgressRunning   Progress = "Running"
	ProgressCompleted Progress = "Completed"
)

// Rank orders progress values; transitions only ever increase it.
func (p Progress) Rank() int {
	switch p {
	case ProgressRunning:
		return 1
	case ProgressCompleted:
		return 2
	default:
		return 0
	}
}

// ScheduleEntry is the window in which one flow sensor's line is expected
// to deliver VolumeLiters. Entries of one source never overlap.
type ScheduleEntry struct {
	PlanID          string    `json:"plan_id"`
	SourceName      string    `json:"source_name"`
	SensorName      string    `json:"sensor_name"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	VolumeLiters    float64   `json:"volume_liters"`
	Progress        Progress  `json:"progress"`
}

// ProgressAt is the progress the wall clock dictates at now.
func (e ScheduleEntry) ProgressAt(now time.Time) Progress {
	switch {
	case !now.Before(e.EndTime):
		return ProgressCompleted
	case !now.Before(e.StartTime):
		return ProgressRunning
	default:
		return ProgressScheduled
	}
}

// Overlaps reports whether the half-open windows [start, end) intersect.
func (e ScheduleEntry) Overlaps(o ScheduleEntry) bool {
	return e.StartTime.Before(o.EndTime) && o.StartTime.Before(e.EndTime)
}
