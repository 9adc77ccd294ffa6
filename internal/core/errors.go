package core

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification surfaced to callers of the
// engine alongside the message.
type Kind string

const (
	// KindValidation marks malformed input: unsupported types, missing
	// required options.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced backup or artifact file that does not
	// exist.
	KindNotFound Kind = "not_found"
	// KindIntegrity marks a checksum mismatch detected at restore time.
	KindIntegrity Kind = "integrity"
	// KindOperationFailed marks a failure during artifact production; it is
	// always also captured into the record's error message.
	KindOperationFailed Kind = "operation_failed"
)

// Error is the structured error type returned by the engine's caller-facing
// operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an Error with the given kind and message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsIntegrity(err error) bool  { return KindOf(err) == KindIntegrity }
