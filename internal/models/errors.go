package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpec marks tunnel spec validation failures. Never retried.
	ErrInvalidSpec = errors.New("invalid tunnel spec")
	// ErrStartFailed marks a tunnel that didn't reach running within the
	// start grace period. A later ensure invocation may retry it.
	ErrStartFailed = errors.New("tunnel failed to start")
	// ErrSupervisorUnavailable marks environment errors talking to the
	// process supervisor (systemctl missing, permission denied). Fatal.
	ErrSupervisorUnavailable = errors.New("process supervisor unavailable")
	// ErrNotYetAvailable is the normal "endpoint not discoverable yet"
	// result of endpoint resolution. It is a state, not a failure.
	ErrNotYetAvailable = errors.New("endpoint not yet available")
	// ErrTunnelNotFound is returned when no record exists for a key.
	ErrTunnelNotFound = errors.New("tunnel not found")
)

// InvalidSpecError names the offending field of a rejected spec.
type InvalidSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid tunnel spec: field %q: %s", e.Field, e.Reason)
}

func (e *InvalidSpecError) Unwrap() error {
	return ErrInvalidSpec
}
