// Package errs holds the user-facing error type shared by the CLI and the
// chat engine.
package errs

import (
	"errors"
	"fmt"
)

// UserErrorf formats an error meant to be shown to the operator as is.
func UserErrorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// Error pairs a technical cause with a short, actionable reason.
type Error struct {
	Err    error
	Reason string
}

// Wrap attaches reason to err.
func Wrap(err error, reason string) Error {
	return Error{Err: err, Reason: reason}
}

// Wrapf attaches a formatted reason to err.
func Wrapf(err error, format string, a ...any) Error {
	return Error{Err: err, Reason: fmt.Sprintf(format, a...)}
}

func (e Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error { return e.Err }

// ReasonOf returns the reason of the first Error in err's chain.
func ReasonOf(err error) (string, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.Reason, true
	}
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Reason, true
	}
	return "", false
}
