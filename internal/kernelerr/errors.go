// Package kernelerr defines the kernel's error taxonomy. HTTP and JSON-RPC
// layers map a Kind to a status code / JSON-RPC code in one place instead
// of string-matching error text.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of transport-layer mapping.
type Kind string

const (
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Validation Kind = "validation"
	Internal   Kind = "internal"
)

// Error is a kernel error carrying a Kind plus a human-readable message
// and optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a kernel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kernel error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NotFoundf builds a Not-found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error with a formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a Validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to Internal for errors not
// produced by this package.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return Internal
}
