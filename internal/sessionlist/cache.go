// Package sessionlist merges the server's session listing with sessions the
// client created locally.
//
// The server is authoritative for which sessions exist and what they are
// called. The local cache only contributes sessions the server has not seen
// yet, so that a brand-new chat is selectable before its first round trip.
package sessionlist

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
	"github.com/proxylens/chat/pkg/metrics"
)

// Lister fetches the authoritative listing.
type Lister interface {
	ListSessions(ctx context.Context) ([]model.SessionRecord, error)
}

// Rememberer records ids in the persisted local cache.
type Rememberer interface {
	Remember(ctx context.Context, ids ...model.SessionID) error
}

// Cache is the in-memory session listing.
type Cache struct {
	lister   Lister
	identity Rememberer
	logger   *logger.Logger
	group    singleflight.Group

	mu     sync.RWMutex
	server []model.SessionRecord
	local  map[model.SessionID]model.SessionRecord

	// recent holds created or selected ids, most recent first.
	recent []model.SessionID
}

// New creates a cache reading from lister and backfilling identity.
func New(lister Lister, identity Rememberer, log *logger.Logger) *Cache {
	return &Cache{
		lister:   lister,
		identity: identity,
		logger:   logger.OrGlobal(log).Named("sessionlist"),
		local:    make(map[model.SessionID]model.SessionRecord),
	}
}

// Refresh fetches the server listing and returns it as the server sent it,
// with placeholder titles filled in. Every returned id is backfilled into the
// local cache. Concurrent calls share one fetch, which is not cancelled when
// one of its callers gives up; each caller stops waiting when its own ctx is
// done. On failure the previous listing is kept and the error is returned;
// no listing is fabricated.
func (c *Cache) Refresh(ctx context.Context) ([]model.SessionRecord, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRecords(res.Val.([]model.SessionRecord)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context) ([]model.SessionRecord, error) {
	fetched, err := c.lister.ListSessions(ctx)
	if err != nil {
		metrics.SessionRefreshTotal.WithLabelValues("error").Inc()
		c.logger.Warn("session refresh failed", zap.Error(err))
		return nil, fmt.Errorf("refresh sessions: %w", err)
	}
	metrics.SessionRefreshTotal.WithLabelValues("ok").Inc()

	records := make([]model.SessionRecord, 0, len(fetched))
	ids := make([]model.SessionID, 0, len(fetched))
	for _, r := range fetched {
		records = append(records, r.WithDefaultTitle())
		ids = append(ids, r.ID)
	}

	if c.identity != nil {
		if err := c.identity.Remember(ctx, ids...); err != nil {
			// The listing is still good; the local cache catches up next time.
			c.logger.Warn("failed to backfill local session cache", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.server = records
	for _, id := range ids {
		delete(c.local, id)
	}
	c.mu.Unlock()

	c.logger.Debug("sessions refreshed", zap.Int("count", len(records)))
	return cloneRecords(records), nil
}

// AddLocalOnly shows a session the server does not know yet at the front of
// the listing. It does not trigger a fetch.
func (c *Cache) AddLocalOnly(record model.SessionRecord) {
	if record.ID.IsZero() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if indexOf(c.server, record.ID) < 0 {
		c.local[record.ID] = record.WithDefaultTitle()
	}
	c.promoteLocked(record.ID)
}

// Promote moves a selected session to the front of the listing.
func (c *Cache) Promote(id model.SessionID) {
	if id.IsZero() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.promoteLocked(id)
}

// Records returns the listing to render: created or selected sessions first,
// most recent first, then the rest of the server listing in server order.
// Server titles win over local ones.
func (c *Cache) Records() []model.SessionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.SessionRecord, 0, len(c.server)+len(c.local))
	placed := make(map[model.SessionID]bool, len(c.recent))
	for _, id := range c.recent {
		rec, ok := c.lookupLocked(id)
		if !ok {
			continue
		}
		out = append(out, rec)
		placed[id] = true
	}
	for _, rec := range c.server {
		if !placed[rec.ID] {
			out = append(out, rec)
		}
	}
	return out
}

// Title returns the display title of id, or the placeholder when unknown.
func (c *Cache) Title(id model.SessionID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.lookupLocked(id); ok {
		return rec.Title
	}
	return model.DefaultTitle
}

func (c *Cache) lookupLocked(id model.SessionID) (model.SessionRecord, bool) {
	if i := indexOf(c.server, id); i >= 0 {
		return c.server[i], true
	}
	rec, ok := c.local[id]
	return rec, ok
}

func (c *Cache) promoteLocked(id model.SessionID) {
	recent := make([]model.SessionID, 0, len(c.recent)+1)
	recent = append(recent, id)
	for _, v := range c.recent {
		if v != id {
			recent = append(recent, v)
		}
	}
	c.recent = recent
}

func cloneRecords(in []model.SessionRecord) []model.SessionRecord {
	return append([]model.SessionRecord(nil), in...)
}

func indexOf(records []model.SessionRecord, id model.SessionID) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
