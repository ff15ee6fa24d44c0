package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies store mutation failures
type Kind string

const (
	// KindUnauthenticated is returned when an identity-scoped mutation runs without an identity
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden is returned when the identity may not act on the target
	KindForbidden Kind = "forbidden"
	// KindRemoteRejected is returned when the backend rejected a write or query
	KindRemoteRejected Kind = "remote_rejected"
	// KindNotFound is returned when a referenced entity is absent
	KindNotFound Kind = "not_found"
	// KindAlreadyInProgress is returned when a mutation on the same key did not finish in time
	KindAlreadyInProgress Kind = "already_in_progress"
	// KindInconsistent is returned when a derived-aggregate precondition is violated
	KindInconsistent Kind = "inconsistent"
	// KindPartialFailure is returned when a later step of a compound create failed
	KindPartialFailure Kind = "partial_failure"
)

// Sentinel errors, one per kind. errors.Is matches an *Error against these.
var (
	ErrUnauthenticated   = errors.New("identity required")
	ErrForbidden         = errors.New("not allowed")
	ErrRemoteRejected    = errors.New("remote operation rejected")
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyInProgress = errors.New("mutation already in progress")
	ErrInconsistent      = errors.New("inconsistent state")
	ErrPartialFailure    = errors.New("compound operation partially failed")
)

var sentinels = map[Kind]error{
	KindUnauthenticated:   ErrUnauthenticated,
	KindForbidden:         ErrForbidden,
	KindRemoteRejected:    ErrRemoteRejected,
	KindNotFound:          ErrNotFound,
	KindAlreadyInProgress: ErrAlreadyInProgress,
	KindInconsistent:      ErrInconsistent,
	KindPartialFailure:    ErrPartialFailure,
}

// Error is the typed result of a failed store operation
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// Step and Completed are set for KindPartialFailure. Confirmed holds
	// the entity the completed steps persisted, when there is one.
	Step      string
	Completed []string
	Confirmed any

	Err error
}

// Error implements error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step %q)", msg, e.Step)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// New creates an Error of the given kind
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around a cause
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unauthenticated creates an Unauthenticated error for op
func Unauthenticated(op string) *Error {
	return New(KindUnauthenticated, op, "")
}

// Forbidden creates a Forbidden error with a message
func Forbidden(op, message string) *Error {
	return New(KindForbidden, op, message)
}

// NotFound creates a NotFound error with a message
func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

// Inconsistent creates an Inconsistent error with a message
func Inconsistent(op, message string) *Error {
	return New(KindInconsistent, op, message)
}

// RemoteRejected wraps a backend failure
func RemoteRejected(op string, err error) *Error {
	return Wrap(KindRemoteRejected, op, err)
}

// PartialFailure reports the failing step of a compound operation
func PartialFailure(op, step string, completed []string, err error) *Error {
	return &Error{
		Kind:      KindPartialFailure,
		Op:        op,
		Step:      step,
		Completed: completed,
		Err:       err,
	}
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is returns whether target matches any of the errors in errList
func Is(err, target error, errList ...error) bool {
	if errors.Is(err, target) {
		return true
	}

	for _, e := range errList {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}
