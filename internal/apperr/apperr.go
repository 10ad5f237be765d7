// Package apperr defines the structured errors returned by the task core.
// Errors carry a machine-readable code and a human-readable message so the
// request layer can map them to transport statuses without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Error code constants — stable, uppercase, underscore-separated.
const (
	NotFound          = "TASK_NOT_FOUND"
	Forbidden         = "FORBIDDEN"
	InvalidArgument   = "INVALID_ARGUMENT"
	InvalidTransition = "INVALID_TRANSITION"
	StoreUnavailable  = "STORE_UNAVAILABLE"
)

// Error is a core error with a machine-readable code.
type Error struct {
	Code    string
	Message string

	// cause is the wrapped underlying error, if any.
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap marks err as a store availability failure, preserving the cause for
// errors.Is/As chains. A nil err returns nil.
func Wrap(code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf returns the code carried by err, or the empty string if err is not
// an apperr.Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
