package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse means a server payload is missing a required field.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrPreconditionSkipped means an operation was ignored, for example an
	// empty query or no active session. It is never shown to the user.
	ErrPreconditionSkipped = errors.New("precondition not met")

	// ErrNoPendingMessage signals a broken invariant: a terminal message
	// arrived with no pending placeholder to replace.
	ErrNoPendingMessage = errors.New("no pending message")

	// ErrNoActiveSession means no conversation is loaded.
	ErrNoActiveSession = errors.New("no active session")

	// ErrStaleSession means a write targeted a session that is no longer active.
	ErrStaleSession = errors.New("session is no longer active")
)

// TransportError reports a network or remote failure.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
