package model

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no identity candidate was available.
	ErrNotFound = errors.New("catalog: no matching candidate")

	// ErrUnavailable means an external fetch or parse failed. Transient.
	ErrUnavailable = errors.New("catalog: data unavailable")

	// ErrInvalid means the primary catalog confirmed the item does not exist.
	ErrInvalid = errors.New("catalog: item does not exist")

	// ErrMalformedCache means a stored record failed its structural checks.
	ErrMalformedCache = errors.New("catalog: malformed cache record")
)

// IsAborted reports whether err comes from the caller cancelling the work
// rather than from the upstream catalog.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled)
}
