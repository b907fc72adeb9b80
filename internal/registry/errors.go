package registry

import (
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for empty or duplicated names in a request.
	ErrInvalidName = errors.New("invalid name")
)

// NotFoundError is a typed miss on a source or one of its sensors.
type NotFoundError struct {
	Source string
	Kind   entities.Kind // empty when the source itself is missing or the lookup spans kinds
	Sensor string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Sensor == "":
		return fmt.Sprintf("registry: source %q not found", e.Source)
	case e.Kind == "":
		return fmt.Sprintf("registry: sensor %q not found in source %q", e.Sensor, e.Source)
	default:
		return fmt.Sprintf("registry: %s %q not found in source %q", e.Kind, e.Sensor, e.Source)
	}
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConcurrencyViolation means two writers raced on one source and produced a
// duplicate sub-entity. It is raised with panic: it can only come from a bug
// in the locking discipline.
type ConcurrencyViolation struct {
	Source string
	Kind   entities.Kind
	Name   string
}

func (e *ConcurrencyViolation) Error() string {
	return fmt.Sprintf("registry: concurrency violation: duplicate %s %q in source %q", e.Kind, e.Name, e.Source)
}
