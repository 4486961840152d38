// Package errors defines the error taxonomy shared by artifacts, transports
// and readers.
package errors

import (
	"errors"
	"fmt"
)

// promote standard library errors package functions.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
	New  = errors.New
)

// Kind classifies an error.
type Kind string

// Available error kinds.
const (
	KindAuthentication   Kind = "authentication"
	KindConnection       Kind = "connection"
	KindNodeCreation     Kind = "node-creation"
	KindPermissionDenied Kind = "permission-denied"
	KindDataSource       Kind = "data-source"
	KindCallback         Kind = "callback"
	KindTimeout          Kind = "timeout"
	KindState            Kind = "state"
	KindNotImplemented   Kind = "not-implemented"
)

// Error object.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "artifact.start".
	Op  string
	Err error
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that sentinel
// values built with E can be matched with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

// IsKind checks if the error is of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}
