package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded indicates admission was refused, callers may retry later
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrPoolExhausted indicates an identifier pool was empty despite admission, it also matches ErrCapacityExceeded
	ErrPoolExhausted = fmt.Errorf("%w: pool exhausted", ErrCapacityExceeded)
	// ErrLaunchFailed indicates a session process did not start or never became ready
	ErrLaunchFailed = errors.New("launch failed")
	// ErrNotFound indicates no session exists for the id
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable indicates the mirror store could not be read or written
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrInvalidArgument indicates a malformed request
	ErrInvalidArgument = errors.New("invalid argument")
)

// Reason values reported to callers alongside failures.
const (
	ReasonCapacity = "capacity"
	ReasonLaunch   = "launch"
	ReasonStore    = "store"
	ReasonNotFound = "not_found"
	ReasonInvalid  = "invalid"
	ReasonInternal = "internal"
)

// Reason maps an error to the reason reported to callers so they can decide
// whether to retry immediately or back off.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return ReasonCapacity
	case errors.Is(err, ErrLaunchFailed):
		return ReasonLaunch
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStore
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInvalidArgument):
		return ReasonInvalid
	default:
		return ReasonInternal
	}
}
