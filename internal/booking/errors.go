package booking

import (
	"errors"
	"fmt"

	"scheduling-platform/internal/calendar"
)

var (
	// ErrInvalidRequest covers malformed input, including windows that are
	// not exactly one slot of the callee's grid.
	ErrInvalidRequest = errors.New("booking: invalid request")

	// ErrSlotUnavailable means the slot was busy or past at check time.
	ErrSlotUnavailable = errors.New("booking: slot unavailable")

	// ErrSlotConflict means a concurrent booking won the slot. The storage
	// uniqueness constraint is the arbiter, not the availability check.
	ErrSlotConflict = errors.New("booking: slot already taken")

	ErrNotFound  = errors.New("booking: not found")
	ErrForbidden = errors.New("booking: forbidden")

	// ErrAlreadyStarted rejects cancellation of a call whose start has
	// passed.
	ErrAlreadyStarted = errors.New("booking: call already started")
)

// UnavailableError wraps ErrSlotUnavailable with the status the availability
// check observed and, for busy slots, the interval the request collides with.
type UnavailableError struct {
	Reason   string
	Conflict *calendar.BusyInterval
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSlotUnavailable, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrSlotUnavailable }
