// Package apperror defines the error taxonomy shared by the domain services and
// the HTTP transport.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to branch on it.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindAuthorization   Kind = "authorization"
	KindUnauthenticated Kind = "unauthenticated"
	KindIdentity        Kind = "identity"
	KindProfile         Kind = "profile"
	KindRole            Kind = "role"
	KindStore           Kind = "store"
)

// Error carries a kind, a stable dotted code and the human readable message
// surfaced to API clients.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Message() string {
	return e.message
}

// New builds an Error whose code is "<operation>.<reason>".
func New(kind Kind, operation, reason, message string, cause error) *Error {
	return &Error{
		kind:    kind,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

func Validation(operation, reason, message string) *Error {
	return New(KindValidation, operation, reason, message, nil)
}

func Conflict(operation, reason, message string, cause error) *Error {
	return New(KindConflict, operation, reason, message, cause)
}

func NotFound(operation, reason, message string) *Error {
	return New(KindNotFound, operation, reason, message, nil)
}

func Authorization(operation, reason, message string) *Error {
	return New(KindAuthorization, operation, reason, message, nil)
}

func Unauthenticated(operation, reason, message string, cause error) *Error {
	return New(KindUnauthenticated, operation, reason, message, cause)
}

func Identity(operation, reason, message string, cause error) *Error {
	return New(KindIdentity, operation, reason, message, cause)
}

func Profile(operation, reason, message string, cause error) *Error {
	return New(KindProfile, operation, reason, message, cause)
}

func Role(operation, reason, message string, cause error) *Error {
	return New(KindRole, operation, reason, message, cause)
}

func Store(operation, reason, message string, cause error) *Error {
	return New(KindStore, operation, reason, message, cause)
}

// KindOf returns the kind of the first Error in err's chain, or KindStore when
// the chain holds none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindStore
}

// As extracts the first Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
