package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proxylens/chat/internal/model"
)

// ErrAbandoned is returned by Wait when a session switch cancelled the
// exchange before it settled.
var ErrAbandoned = errors.New("exchange abandoned")

// State is the lifecycle position of one exchange.
type State string

const (
	StateQueued           State = "queued"
	StateSending          State = "sending"
	StateAwaitingResponse State = "awaiting_response"
	StateSettled          State = "settled"
	StateFailed           State = "failed"
	StateAbandoned        State = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateAbandoned
}

// Exchange is one user query and its eventual answer.
type Exchange struct {
	id        string
	sessionID model.SessionID
	query     string
	queuedAt  time.Time

	mu      sync.Mutex
	state   State
	started time.Time
	result  model.Message
	cause   error
	done    chan struct{}
}

func newExchange(sessionID model.SessionID, query string) *Exchange {
	return &Exchange{
		id:        uuid.NewString(),
		sessionID: sessionID,
		query:     query,
		queuedAt:  time.Now(),
		state:     StateQueued,
		done:      make(chan struct{}),
	}
}

// ID returns a unique identifier for the exchange.
func (e *Exchange) ID() string { return e.id }

// SessionID returns the session the query was sent in.
func (e *Exchange) SessionID() model.SessionID { return e.sessionID }

// Query returns the text the user sent.
func (e *Exchange) Query() string { return e.query }

// State returns the current state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns why a failed exchange failed.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cause
}

// Done is closed once the exchange reaches a terminal state.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange is terminal and returns the message that
// replaced its pending placeholder.
func (e *Exchange) Wait(ctx context.Context) (model.Message, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateAbandoned {
		return model.Message{}, ErrAbandoned
	}
	return e.result, nil
}

func (e *Exchange) transition(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.state = s
	if s == StateSending {
		e.started = time.Now()
	}
}

func (e *Exchange) startedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// finish moves to a terminal state once; later calls are ignored.
func (e *Exchange) finish(s State, result model.Message, cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	e.state = s
	e.result = result
	e.cause = cause
	close(e.done)
	return true
}
