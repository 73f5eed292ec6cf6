package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures for the presentation boundary.
type Kind string

const (
	KindFetch             Kind = "fetch"
	KindPatch             Kind = "patch"
	KindPublish           Kind = "publish"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
)

var (
	ErrNotFound          = errors.New("event not found")
	ErrTerminalState     = errors.New("event is in a terminal state")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPostedImmutable   = errors.New("posted events cannot be rescheduled")
	ErrDragActive        = errors.New("a drag session is already active")
	ErrNoDrag            = errors.New("no active drag session")
	ErrOutsideWeek       = errors.New("slot outside the active week")
	ErrNoWeek            = errors.New("no week loaded")
	// ErrPublishAccepted means a publish was handed to an external worker and
	// will complete later.
	ErrPublishAccepted = errors.New("publish accepted for background delivery")
	ErrPatchInFlight   = errors.New("a reschedule for this event is still in flight")
)

// Error attaches a Kind and an operation name to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error; nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost kinded error in err's chain.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrPostedImmutable):
		return KindInvalidTransition
	case errors.Is(err, ErrDragActive), errors.Is(err, ErrNoDrag), errors.Is(err, ErrPatchInFlight):
		return KindConflict
	}
	return ""
}

// HTTPError is returned by backend calls that reached the server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend responded %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Body)
}
