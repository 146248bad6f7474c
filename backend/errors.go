package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable indicates the backend could not be reached or
	// answered a non-200 status.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrMissingInput indicates a required argument was empty. No request
	// is sent.
	ErrMissingInput = errors.New("missing input")
)

// StatusError is returned for a non-200 HTTP status or envelope code.
// It matches ErrBackendUnavailable under errors.Is.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Is reports whether target is ErrBackendUnavailable.
func (e *StatusError) Is(target error) bool {
	return target == ErrBackendUnavailable
}
