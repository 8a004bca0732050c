// Package identity creates, persists and resolves session identifiers.
//
// The manager keeps two keys in a persisted store: the session the client
// should resume into, and the ordered list of sessions this client knows
// about (most recent first, no duplicates). It never talks to the network.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
)

// Persisted keys.
const (
	KeyCurrentSession = "current_session_id"
	KeyKnownSessions  = "known_session_ids"
)

// Manager owns the current-session pointer and the known-session list.
type Manager struct {
	store  kvstore.Store
	newID  func() model.SessionID
	logger *logger.Logger

	// mu serializes read-modify-write cycles within this process. Other
	// processes sharing the store are last-writer-wins.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator overrides how new session ids are synthesized.
func WithIDGenerator(fn func() model.SessionID) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) {
		m.logger = log
	}
}

// NewManager creates a manager backed by store.
func NewManager(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		newID: model.NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrGlobal(m.logger).Named("identity")
	return m
}

// ResolveCurrentSession returns the session to resume into. It prefers the
// persisted current id, then the most recent known id, and otherwise
// synthesizes a new one. Whatever it returns is persisted as current.
func (m *Manager) ResolveCurrentSession(ctx context.Context) (model.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.readCurrent(ctx)
	if err != nil {
		return "", err
	}
	if !current.IsZero() {
		return current, nil
	}

	known, err := m.readKnown(ctx)
	if err != nil {
		return "", err
	}
	if len(known) > 0 {
		if err := m.writeCurrent(ctx, known[0]); err != nil {
			return "", err
		}
		m.logger.Debug("adopted most recent session", zap.String("session_id", known[0].String()))
		return known[0], nil
	}

	id := m.newID()
	if err := m.writeKnown(ctx, pushFront(known, id)); err != nil {
		return "", err
	}
	if err := m.writeCurrent(ctx, id); err != nil {
		return "", err
	}
	m.logger.Info("synthesized session", zap.String("session_id", id.String()))
	return id, nil
}

// StartNewSession synthesizes a session id, makes it current and records it
// at the front of the known list.
func (m *Manager) StartNewSession(ctx context.Context) (model.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	if err := m.makeCurrentLocked(ctx, id, pushFront); err != nil {
		return "", err
	}
	m.logger.Info("started session", zap.String("session_id", id.String()))
	return id, nil
}

// SelectSession makes id current and ensures it is known. The order of an
// id already in the list is left alone.
func (m *Manager) SelectSession(ctx context.Context, id model.SessionID) error {
	if id.IsZero() {
		return fmt.Errorf("select session: %w", model.ErrPreconditionSkipped)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.makeCurrentLocked(ctx, id, pushBack)
}

// ClearCurrentSession forgets the current pointer. The known list is kept.
func (m *Manager) ClearCurrentSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, KeyCurrentSession); err != nil {
		return fmt.Errorf("failed to clear current session: %w", err)
	}
	return nil
}

// Remember appends ids the list does not contain yet. It is how the server's
// listing backfills the local cache; existing entries are never reordered.
func (m *Manager) Remember(ctx context.Context, ids ...model.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	known, err := m.readKnown(ctx)
	if err != nil {
		return err
	}

	updated := known
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		updated = pushBack(updated, id)
	}
	if len(updated) == len(known) {
		return nil
	}
	return m.writeKnown(ctx, updated)
}

// KnownSessions returns the known list, most recent first.
func (m *Manager) KnownSessions(ctx context.Context) ([]model.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.readKnown(ctx)
}

// CurrentSession returns the persisted current id without resolving one.
func (m *Manager) CurrentSession(ctx context.Context) (model.SessionID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.readCurrent(ctx)
	if err != nil {
		return "", false, err
	}
	return id, !id.IsZero(), nil
}

func (m *Manager) makeCurrentLocked(ctx context.Context, id model.SessionID, insert func([]model.SessionID, model.SessionID) []model.SessionID) error {
	known, err := m.readKnown(ctx)
	if err != nil {
		return err
	}
	if updated := insert(known, id); len(updated) != len(known) {
		if err := m.writeKnown(ctx, updated); err != nil {
			return err
		}
	}
	return m.writeCurrent(ctx, id)
}

func (m *Manager) readCurrent(ctx context.Context) (model.SessionID, error) {
	raw, err := m.store.Get(ctx, KeyCurrentSession)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current session: %w", err)
	}
	return model.SessionID(strings.TrimSpace(string(raw))), nil
}

func (m *Manager) writeCurrent(ctx context.Context, id model.SessionID) error {
	if err := m.store.Put(ctx, KeyCurrentSession, []byte(id)); err != nil {
		return fmt.Errorf("failed to write current session: %w", err)
	}
	return nil
}

func (m *Manager) readKnown(ctx context.Context) ([]model.SessionID, error) {
	raw, err := m.store.Get(ctx, KeyKnownSessions)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read known sessions: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		m.logger.Warn("discarding unreadable session list", zap.Error(err))
		return nil, nil
	}

	// Another writer may have left duplicates or blanks behind.
	var known []model.SessionID
	for _, id := range ids {
		sid := model.SessionID(strings.TrimSpace(id))
		if sid.IsZero() {
			continue
		}
		known = pushBack(known, sid)
	}
	return known, nil
}

func (m *Manager) writeKnown(ctx context.Context, known []model.SessionID) error {
	ids := make([]string, len(known))
	for i, id := range known {
		ids[i] = id.String()
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode known sessions: %w", err)
	}
	if err := m.store.Put(ctx, KeyKnownSessions, raw); err != nil {
		return fmt.Errorf("failed to write known sessions: %w", err)
	}
	return nil
}

func contains(list []model.SessionID, id model.SessionID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// pushFront inserts id at the front unless it is already present.
func pushFront(list []model.SessionID, id model.SessionID) []model.SessionID {
	if contains(list, id) {
		return list
	}
	return append([]model.SessionID{id}, list...)
}

// pushBack appends id unless it is already present.
func pushBack(list []model.SessionID, id model.SessionID) []model.SessionID {
	if contains(list, id) {
		return list
	}
	return append(list, id)
}
