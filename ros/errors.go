package ros

import (
	"errors"
	"fmt"
)

// Standard error variables for session and call failures.
var (
	// ErrConnectionFailed is returned when the transport refuses to open.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrConnectionLost fails every pending call when the transport
	// closes while operations are in flight.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotReady is returned by Run when the readiness wait expires.
	ErrNotReady = errors.New("connection not ready")
	// ErrTimeout is returned by blocking calls when their deadline elapses.
	ErrTimeout = errors.New("operation timed out")
	// ErrClosed is returned for operations on a terminally closed session.
	ErrClosed = errors.New("session closed")
)

// ServiceError is returned when the peer answers a service call with
// result=false. Values carries the error payload from the wire.
type ServiceError struct {
	Service string
	Values  Message
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s failed: %v", e.Service, map[string]interface{}(e.Values))
}
