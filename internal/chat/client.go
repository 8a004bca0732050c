// Package chat wires the session and conversation components into the
// surface a chat UI consumes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/conversation"
	"github.com/proxylens/chat/internal/exchange"
	"github.com/proxylens/chat/internal/identity"
	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/internal/normalize"
	"github.com/proxylens/chat/internal/remote"
	"github.com/proxylens/chat/internal/sessionlist"
	"github.com/proxylens/chat/pkg/logger"
)

// Options configures a Client.
type Options struct {
	Exchange    exchange.Config
	IDGenerator func() model.SessionID
	Logger      *logger.Logger
}

// Client is the chat core used by a UI. It is safe for concurrent use.
type Client struct {
	identity  *identity.Manager
	sessions  *sessionlist.Cache
	store     *conversation.Store
	exchanges *exchange.Coordinator
	remote    remote.Client
	logger    *logger.Logger

	// switchMu serializes session switches; loads numbers them so a
	// superseded load drops its history.
	switchMu sync.Mutex
	loads    atomic.Uint64
}

// New creates a client persisting session identity in kv and talking to rc.
// The caller keeps ownership of kv.
func New(kv kvstore.Store, rc remote.Client, opts Options) *Client {
	log := logger.OrGlobal(opts.Logger)

	idOpts := []identity.Option{identity.WithLogger(log)}
	if opts.IDGenerator != nil {
		idOpts = append(idOpts, identity.WithIDGenerator(opts.IDGenerator))
	}
	ids := identity.NewManager(kv, idOpts...)
	store := conversation.NewStore()

	return &Client{
		identity:  ids,
		sessions:  sessionlist.New(rc, ids, log),
		store:     store,
		exchanges: exchange.New(store, rc, opts.Exchange, log),
		remote:    rc,
		logger:    log.Named("chat"),
	}
}

// Start resolves the session to resume and loads it. The returned id is
// active even when loading its history fails.
func (c *Client) Start(ctx context.Context) (model.SessionID, error) {
	id, err := c.ResolveCurrentSession(ctx)
	if err != nil {
		return "", err
	}
	return id, c.LoadConversation(ctx, id)
}

// ResolveCurrentSession returns the session to resume into.
func (c *Client) ResolveCurrentSession(ctx context.Context) (model.SessionID, error) {
	id, err := c.identity.ResolveCurrentSession(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}
	c.sessions.AddLocalOnly(model.SessionRecord{ID: id})
	return id, nil
}

// StartNewSession creates a session, lists it first and makes it the
// active, empty conversation.
func (c *Client) StartNewSession(ctx context.Context) (model.SessionID, error) {
	id, err := c.identity.StartNewSession(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	c.switchMu.Lock()
	c.loads.Add(1)
	c.exchanges.AbandonExcept(id)
	c.sessions.AddLocalOnly(model.SessionRecord{ID: id, Title: model.DefaultTitle})
	c.store.Load(id, nil)
	c.switchMu.Unlock()

	c.logger.WithSession(id.String()).Info("started session")
	return id, nil
}

// ClearCurrentSession forgets which session is current. Known sessions and
// the loaded conversation are untouched.
func (c *Client) ClearCurrentSession(ctx context.Context) error {
	if err := c.identity.ClearCurrentSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// RefreshSessionList fetches the server's listing.
func (c *Client) RefreshSessionList(ctx context.Context) ([]model.SessionRecord, error) {
	return c.sessions.Refresh(ctx)
}

// LoadConversation switches to id and fills it with the server's history.
// Exchanges of the previous session are abandoned. The switch happens
// immediately; history arrives later and goes ahead of anything sent in
// the meantime. If another load starts first, this one's history is dropped.
func (c *Client) LoadConversation(ctx context.Context, id model.SessionID) error {
	if id.IsZero() {
		return fmt.Errorf("load conversation: %w", model.ErrPreconditionSkipped)
	}

	c.switchMu.Lock()
	seq := c.loads.Add(1)
	c.exchanges.AbandonAll()
	if err := c.identity.SelectSession(ctx, id); err != nil {
		c.switchMu.Unlock()
		return fmt.Errorf("failed to select session: %w", err)
	}
	c.sessions.AddLocalOnly(model.SessionRecord{ID: id})
	c.store.Load(id, nil)
	c.switchMu.Unlock()

	log := c.logger.WithSession(id.String())
	raw, err := c.remote.History(ctx, id)
	if c.loads.Load() != seq {
		log.Debug("history superseded by a later load")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	history := normalize.NormalizeJSON(raw)
	if err := c.store.Hydrate(id, history); err != nil {
		if errors.Is(err, model.ErrStaleSession) {
			return nil
		}
		return err
	}

	log.Debug("loaded conversation", zap.Int("messages", len(history)))
	return nil
}

// Send sends text in the active session.
func (c *Client) Send(ctx context.Context, text string) (*exchange.Exchange, error) {
	return c.exchanges.Send(ctx, text)
}

// Subscribe registers fn for every conversation change.
func (c *Client) Subscribe(fn conversation.Observer) (cancel func()) {
	return c.store.Subscribe(fn)
}

// Sessions returns the current session listing.
func (c *Client) Sessions() []model.SessionRecord {
	return c.sessions.Records()
}

// Title returns the listed title of id.
func (c *Client) Title(id model.SessionID) string {
	return c.sessions.Title(id)
}

// Snapshot returns the active conversation.
func (c *Client) Snapshot() model.ConversationState {
	return c.store.Snapshot()
}

// Close abandons in-flight exchanges and waits for them to stop.
func (c *Client) Close() {
	c.exchanges.Close()
}
