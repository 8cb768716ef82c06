// Package errs classifies domain failures so callers can react to the kind of
// failure without knowing every sentinel.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a failure category.
type Kind string

const (
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	ValidationFailed   Kind = "validation_failed"
	SignatureInvalid   Kind = "signature_invalid"
	GatewayUnavailable Kind = "gateway_unavailable"
)

func (k Kind) Error() string { return string(k) }

// Error is a sentinel carrying a Kind. errors.Is matches both the sentinel
// itself and its Kind.
type Error struct {
	kind Kind
	msg  string
}

// New creates a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the failure category.
func (e *Error) Kind() Kind { return e.kind }

// Is reports a match against the error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

// KindOf returns the Kind of the first classified error in err's chain, or ""
// when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Wrap annotates err with a message while keeping it matchable.
func Wrap(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
