package app

import (
	"log"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewCircuitBreaker trips after failuresThreshold consecutive transport
// failures. Errors that carry a business status (not found, bad input) are
// answers from a healthy engine and do not count.
func NewCircuitBreaker(name string, failuresThreshold int, openFor time.Duration, logger *log.Logger) *gobreaker.CircuitBreaker {
	if failuresThreshold < 1 {
		failuresThreshold = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failuresThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transportFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("gateway: breaker %s %s -> %s", name, from, to)
		},
	})
}

func transportFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return true
	}
	return false
}
