// Package service provides the business logic of the reference answer
// service: a session archive and answer generation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
)

// ErrSessionNotFound is returned for sessions the archive has never seen.
var ErrSessionNotFound = errors.New("session not found")

const (
	indexKey      = "sessions"
	sessionPrefix = "session."

	maxTitleLength = 48
)

// Turn is one answered query.
type Turn struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an archived conversation.
type Session struct {
	ID        model.SessionID `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Turns     []Turn          `json:"turns"`
}

// Record returns the listing entry of s.
func (s *Session) Record() model.SessionRecord {
	return model.SessionRecord{ID: s.ID, Title: s.Title}
}

// Archive keeps sessions and their turns in a key-value store. The index
// lists session ids, most recently updated first.
type Archive struct {
	store  kvstore.Store
	logger *logger.Logger

	// mu serializes read-modify-write of the index and sessions.
	mu sync.Mutex
}

// NewArchive creates an archive over store.
func NewArchive(store kvstore.Store, log *logger.Logger) *Archive {
	return &Archive{
		store:  store,
		logger: logger.OrGlobal(log).Named("archive"),
	}
}

// List returns every archived session, most recently updated first.
func (a *Archive) List(ctx context.Context) ([]model.SessionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids, err := a.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]model.SessionRecord, 0, len(ids))
	for _, id := range ids {
		sess, err := a.readSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			a.logger.Warn("indexed session missing", zap.String("session_id", id.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, sess.Record())
	}
	return records, nil
}

// Get returns one session.
func (a *Archive) Get(ctx context.Context, id model.SessionID) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readSession(ctx, id)
}

// Append adds a turn to session id, creating the session if needed. A new
// session is titled after its first query. It reports whether the session
// was created.
func (a *Archive) Append(ctx context.Context, id model.SessionID, turn Turn) (*Session, bool, error) {
	if id.IsZero() {
		return nil, false, errors.New("session id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.readSession(ctx, id)
	created := false
	switch {
	case errors.Is(err, ErrSessionNotFound):
		created = true
		sess = &Session{
			ID:        id,
			Title:     TitleFromQuery(turn.Query),
			CreatedAt: turn.CreatedAt,
		}
	case err != nil:
		return nil, false, err
	}

	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = turn.CreatedAt
	if err := a.writeSession(ctx, sess); err != nil {
		return nil, false, err
	}

	ids, err := a.readIndex(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := a.writeIndex(ctx, moveToFront(ids, id)); err != nil {
		return nil, false, err
	}

	if created {
		a.logger.Info("session archived",
			zap.String("session_id", id.String()),
			zap.String("title", sess.Title),
		)
	}
	return sess, created, nil
}

func (a *Archive) readIndex(ctx context.Context) ([]model.SessionID, error) {
	raw, err := a.store.Get(ctx, indexKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	var ids []model.SessionID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode session index: %w", err)
	}
	return ids, nil
}

func (a *Archive) writeIndex(ctx context.Context, ids []model.SessionID) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode session index: %w", err)
	}
	if err := a.store.Put(ctx, indexKey, raw); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	return nil
}

func (a *Archive) readSession(ctx context.Context, id model.SessionID) (*Session, error) {
	raw, err := a.store.Get(ctx, sessionPrefix+id.String())
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (a *Archive) writeSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := a.store.Put(ctx, sessionPrefix+sess.ID.String(), raw); err != nil {
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	return nil
}

// TitleFromQuery derives a session title from its first query.
func TitleFromQuery(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if title == "" {
		return model.DefaultTitle
	}
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleLength])) + "..."
}

func moveToFront(ids []model.SessionID, id model.SessionID) []model.SessionID {
	out := make([]model.SessionID, 0, len(ids)+1)
	out = append(out, id)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
