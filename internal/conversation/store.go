// Package conversation holds the active conversation shown by the UI.
package conversation

import (
	"fmt"
	"sync"

	"github.com/proxylens/chat/internal/model"
)

// Observer is called with a snapshot after every mutation. Observers run on
// the mutating goroutine, in Version order, and must not block for long.
type Observer func(model.Change)

// Ref names one load of a session. Reloading the same session yields a
// different Ref.
type Ref struct {
	SessionID model.SessionID
	Load      uint64
}

// Store owns the single active ConversationState.
type Store struct {
	mu    sync.Mutex
	state model.ConversationState
	loads uint64

	// deliverMu orders observer calls; delivered is the last Version sent.
	deliverMu sync.Mutex
	delivered uint64
	observers map[int]Observer
	nextObs   int
}

// NewStore creates an empty store with no active session.
func NewStore() *Store {
	return &Store{observers: make(map[int]Observer)}
}

// Load replaces the active conversation wholesale. Anything held for the
// previous session is discarded.
func (s *Store) Load(sessionID model.SessionID, messages []model.Message) {
	s.mu.Lock()
	s.loads++
	s.state = model.ConversationState{
		SessionID: sessionID,
		Messages:  append([]model.Message(nil), messages...),
		Version:   s.state.Version + 1,
	}
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(model.ChangeLoaded, snap)
}

// Hydrate installs fetched history for sessionID ahead of any messages
// appended since the session was loaded.
func (s *Store) Hydrate(sessionID model.SessionID, history []model.Message) error {
	s.mu.Lock()
	if s.state.SessionID != sessionID {
		s.mu.Unlock()
		return fmt.Errorf("hydrate %s: %w", sessionID, model.ErrStaleSession)
	}
	merged := make([]model.Message, 0, len(history)+len(s.state.Messages))
	merged = append(merged, history...)
	merged = append(merged, s.state.Messages...)
	s.state.Messages = merged
	s.state.Version++
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(model.ChangeHydrated, snap)
	return nil
}

// Append adds messages to the end of the active conversation.
func (s *Store) Append(msgs ...model.Message) error {
	s.mu.Lock()
	if s.state.SessionID.IsZero() {
		s.mu.Unlock()
		return model.ErrNoActiveSession
	}
	snap := s.appendLocked(msgs)
	s.mu.Unlock()

	s.notify(model.ChangeAppended, snap)
	return nil
}

// AppendTo appends only if sessionID is still the active session.
func (s *Store) AppendTo(sessionID model.SessionID, msgs ...model.Message) error {
	s.mu.Lock()
	if err := s.checkActiveLocked(sessionID); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.appendLocked(msgs)
	s.mu.Unlock()

	s.notify(model.ChangeAppended, snap)
	return nil
}

// AppendAt appends only while ref is still the active load.
func (s *Store) AppendAt(ref Ref, msgs ...model.Message) error {
	s.mu.Lock()
	if err := s.checkRefLocked(ref); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.appendLocked(msgs)
	s.mu.Unlock()

	s.notify(model.ChangeAppended, snap)
	return nil
}

// ReplacePending swaps the most recent pending placeholder for a terminal
// message. It fails with ErrNoPendingMessage when there is none.
func (s *Store) ReplacePending(final model.Message) error {
	s.mu.Lock()
	if s.state.SessionID.IsZero() {
		s.mu.Unlock()
		return model.ErrNoActiveSession
	}
	snap, err := s.replacePendingLocked(final)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(model.ChangeSettled, snap)
	return nil
}

// ReplacePendingFor is ReplacePending guarded by the active session.
func (s *Store) ReplacePendingFor(sessionID model.SessionID, final model.Message) error {
	s.mu.Lock()
	if err := s.checkActiveLocked(sessionID); err != nil {
		s.mu.Unlock()
		return err
	}
	snap, err := s.replacePendingLocked(final)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(model.ChangeSettled, snap)
	return nil
}

// ReplacePendingAt is ReplacePending guarded by the active load.
func (s *Store) ReplacePendingAt(ref Ref, final model.Message) error {
	s.mu.Lock()
	if err := s.checkRefLocked(ref); err != nil {
		s.mu.Unlock()
		return err
	}
	snap, err := s.replacePendingLocked(final)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(model.ChangeSettled, snap)
	return nil
}

// Snapshot returns a copy of the active conversation.
func (s *Store) Snapshot() model.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SessionID returns the active session, or "" when none is loaded.
func (s *Store) SessionID() model.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SessionID
}

// Active returns the current load, or a zero Ref when none is loaded.
func (s *Store) Active() Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ref{SessionID: s.state.SessionID, Load: s.loads}
}

// Subscribe registers an observer and returns a function removing it.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.deliverMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.deliverMu.Lock()
			delete(s.observers, id)
			s.deliverMu.Unlock()
		})
	}
}

func (s *Store) checkActiveLocked(sessionID model.SessionID) error {
	if s.state.SessionID.IsZero() {
		return model.ErrNoActiveSession
	}
	if s.state.SessionID != sessionID {
		return fmt.Errorf("%s: %w", sessionID, model.ErrStaleSession)
	}
	return nil
}

func (s *Store) checkRefLocked(ref Ref) error {
	if err := s.checkActiveLocked(ref.SessionID); err != nil {
		return err
	}
	if ref.Load != s.loads {
		return fmt.Errorf("%s reloaded: %w", ref.SessionID, model.ErrStaleSession)
	}
	return nil
}

func (s *Store) appendLocked(msgs []model.Message) model.ConversationState {
	s.state.Messages = append(s.state.Messages, msgs...)
	s.state.Version++
	return s.state.Clone()
}

func (s *Store) replacePendingLocked(final model.Message) (model.ConversationState, error) {
	if !final.IsTerminal() {
		return model.ConversationState{}, fmt.Errorf("replace pending with %q message", final.Kind)
	}
	for i := len(s.state.Messages) - 1; i >= 0; i-- {
		if s.state.Messages[i].Kind == model.KindPending {
			s.state.Messages[i] = final
			s.state.Version++
			return s.state.Clone(), nil
		}
	}
	return model.ConversationState{}, model.ErrNoPendingMessage
}

func (s *Store) notify(kind model.ChangeType, snap model.ConversationState) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	// A later mutation already delivered a newer snapshot.
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	for _, fn := range s.observers {
		fn(model.Change{Type: kind, State: snap})
	}
}
