package app

import (
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ---------- HTTP payloads ----------

// SourceRequest registers a source with zero-initialised sensors.
type SourceRequest struct {
	Name            string   `json:"name"`
	FlowSensors     []string `json:"flowSensors"`
	PressureSensors []string `json:"pressureSensors"`
	Valves          []string `json:"valves"`
}

// ScheduleRequest asks for a watering plan. StartTime is RFC3339 or HH:MM.
type ScheduleRequest struct {
	Source    string             `json:"source"`
	StartTime string             `json:"startTime"`
	Volumes   map[string]float64 `json:"volumes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps an engine error onto the HTTP status the caller sees.
func httpStatus(err error) int {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return http.StatusServiceUnavailable
	}
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func errorMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}
