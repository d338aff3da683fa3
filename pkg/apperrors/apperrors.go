// Package apperrors defines the error kinds shared by every service.
//
// Domain failures wrap one of the sentinels below with fmt.Errorf("%w: ...").
// Errors that wrap none of them are infrastructure failures.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
)

const (
	KindNotFound     = "not_found"
	KindInvalidState = "invalid_state"
	KindConflict     = "conflict"
	KindValidation   = "validation"
	KindInternal     = "internal"
)

// Kind returns the machine-checkable kind of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// NotFound reports that an entity of the given kind does not exist.
func NotFound(entity string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
