// Package enginerr defines the error taxonomy used across the data plane:
// transport, engine client, and store all return errors wrapped in Error so
// callers can switch on Kind and check IsTransient without string matching.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry and display purposes.
type Kind string

const (
	ConnectionFailed     Kind = "connection_failed"
	Unauthorized         Kind = "unauthorized"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	ServerError          Kind = "server_error"
	InvalidConfiguration Kind = "invalid_configuration"
	Timeout              Kind = "timeout"
	ProtocolError        Kind = "protocol_error"
	ParseError           Kind = "parse_error"
	Cancelled            Kind = "cancelled"
	NotImplemented       Kind = "not_implemented"
)

// transientKinds are the Kind values that the store's retry policy will
// retry; every other kind is surfaced immediately.
var transientKinds = map[Kind]bool{
	ConnectionFailed: true,
	Timeout:          true,
	ServerError:      true,
}

// Error is the concrete error type returned by transport, engineclient, and
// store operations.
type Error struct {
	Kind     Kind
	Message  string
	Resource string // populated for NotFound / NotImplemented
	Err      error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the store's retry policy should retry this
// error. ConnectionFailed, Timeout, and ServerError are transient; every
// other kind is not.
func (e *Error) IsTransient() bool {
	return transientKinds[e.Kind]
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithResource attaches a resource identifier (container id, feature name)
// to an Error, used by NotFound and NotImplemented.
func WithResource(kind Kind, message, resource string) *Error {
	return &Error{Kind: kind, Message: message, Resource: resource}
}

// Is reports whether err is an *Error of the given Kind, unwrapping as
// needed. Mirrors the errors.Is contract without requiring callers to
// import the "errors" package for the common case.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsTransient reports whether err is an *Error whose Kind is retryable.
// Non-*Error values are treated as non-transient.
func IsTransient(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.IsTransient()
}
