package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service wraps exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error is a classified domain error whose message is safe to show to callers.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func invalid(format string, args ...any) error {
	return newError(ErrInvalidArgument, format, args...)
}

var (
	ErrSlotAlreadyBooked   = &Error{Kind: ErrConflict, Msg: "this appointment slot is already booked"}
	ErrScheduleHasBookings = &Error{Kind: ErrConflict, Msg: "schedule has active appointments"}
	ErrDuplicateSchedule   = &Error{Kind: ErrInvalidArgument, Msg: "doctor already has a schedule on this date"}
	ErrConcurrentUpdate    = &Error{Kind: ErrConflict, Msg: "appointment was modified concurrently"}
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func isConflict(err error) bool { return errors.Is(err, ErrConflict) }
