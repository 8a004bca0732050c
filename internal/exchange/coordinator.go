// Package exchange coordinates sending a query and settling its answer into
// the active conversation.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/conversation"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
	"github.com/proxylens/chat/pkg/metrics"
)

// DefaultMinLatency is how long the pending indicator stays visible at least.
const DefaultMinLatency = time.Second

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("exchange coordinator closed")

// Answerer obtains the agent's answer to a query.
type Answerer interface {
	Answer(ctx context.Context, query string, sessionID model.SessionID) (*model.Answer, error)
}

// Conversation is the part of the conversation store the coordinator writes.
// Writes are keyed by the load they were started in, so a session that was
// left and reopened never receives an answer meant for its earlier load.
type Conversation interface {
	Active() conversation.Ref
	AppendAt(ref conversation.Ref, msgs ...model.Message) error
	ReplacePendingAt(ref conversation.Ref, final model.Message) error
}

// Config holds coordinator settings.
type Config struct {
	// MinLatency is the minimum time between inserting the pending
	// placeholder and replacing it. Zero disables the wait.
	MinLatency time.Duration
	// Timeout bounds a single Answer call. Zero means no bound beyond
	// the remote client's own.
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{MinLatency: DefaultMinLatency}
}

// Coordinator runs at most one exchange per session at a time. Sends made
// while one is in flight are queued and started in order.
type Coordinator struct {
	conv   Conversation
	remote Answerer
	cfg    Config
	logger *logger.Logger

	mu     sync.Mutex
	lanes  map[model.SessionID]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	ref    conversation.Ref
	ctx    context.Context
	cancel context.CancelFunc
	busy   bool
	queue  []*Exchange
}

// New creates a coordinator writing into conv and asking remote.
func New(conv Conversation, remote Answerer, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MinLatency < 0 {
		cfg.MinLatency = 0
	}
	return &Coordinator{
		conv:   conv,
		remote: remote,
		cfg:    cfg,
		logger: logger.OrGlobal(log).Named("exchange"),
		lanes:  make(map[model.SessionID]*lane),
	}
}

// Send starts an exchange for text in the active session. When the session
// is idle the user message and the pending placeholder are appended before
// Send returns. Otherwise the exchange is queued and both are appended once
// the earlier exchange settles. ctx only bounds admission; the answer is
// awaited on the session's own context.
func (c *Coordinator) Send(ctx context.Context, text string) (*Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty query: %w", model.ErrPreconditionSkipped)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	ref := c.conv.Active()
	if ref.SessionID.IsZero() {
		c.mu.Unlock()
		return nil, fmt.Errorf("send: %w", model.ErrPreconditionSkipped)
	}
	sessionID := ref.SessionID

	ln := c.laneLocked(ref)
	ex := newExchange(sessionID, text)
	if ln.busy {
		ln.queue = append(ln.queue, ex)
		queued := len(ln.queue)
		metrics.ExchangesQueued.Inc()
		c.mu.Unlock()
		c.logger.WithSession(sessionID.String()).Debug("exchange queued",
			zap.String("exchange_id", ex.id),
			zap.Int("queue_len", queued),
		)
		return ex, nil
	}
	ln.busy = true
	c.wg.Add(1)
	c.mu.Unlock()

	err := c.begin(ln, ex)
	if err != nil {
		go c.drain(ln, nil)
		return nil, fmt.Errorf("send: %w", model.ErrPreconditionSkipped)
	}
	go c.drain(ln, ex)
	return ex, nil
}

// Abandon cancels the in-flight exchange of sessionID and drops its queue.
func (c *Coordinator) Abandon(sessionID model.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ln, ok := c.lanes[sessionID]; ok {
		c.abandonLocked(ln)
	}
}

// AbandonExcept abandons every session's exchanges except keep's.
func (c *Coordinator) AbandonExcept(keep model.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ln := range c.lanes {
		if id != keep {
			c.abandonLocked(ln)
		}
	}
}

// AbandonAll abandons the exchanges of every session.
func (c *Coordinator) AbandonAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ln := range c.lanes {
		c.abandonLocked(ln)
	}
}

// Close abandons everything and waits for in-flight work to stop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, ln := range c.lanes {
		c.abandonLocked(ln)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// laneLocked returns the lane for ref. A lane opened for an earlier load of
// the same session is abandoned first.
func (c *Coordinator) laneLocked(ref conversation.Ref) *lane {
	if ln, ok := c.lanes[ref.SessionID]; ok {
		if ln.ref == ref {
			return ln
		}
		c.abandonLocked(ln)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ln := &lane{ref: ref, ctx: ctx, cancel: cancel}
	c.lanes[ref.SessionID] = ln
	return ln
}

func (c *Coordinator) abandonLocked(ln *lane) {
	ln.cancel()
	for _, ex := range ln.queue {
		metrics.ExchangesQueued.Dec()
		c.abandon(ex)
	}
	ln.queue = nil
	if c.lanes[ln.ref.SessionID] == ln {
		delete(c.lanes, ln.ref.SessionID)
	}
}

// begin performs the optimistic insert.
func (c *Coordinator) begin(ln *lane, ex *Exchange) error {
	ex.transition(StateSending)
	err := c.conv.AppendAt(ln.ref, model.UserMessage(ex.query), model.PendingMessage())
	if err != nil {
		c.logger.WithSession(ex.sessionID.String()).Debug("optimistic insert skipped", zap.Error(err))
		c.abandon(ex)
		return err
	}
	ex.transition(StateAwaitingResponse)
	return nil
}

// drain runs first, then every queued exchange of the lane in order.
func (c *Coordinator) drain(ln *lane, first *Exchange) {
	defer c.wg.Done()

	next := first
	for {
		if next != nil {
			c.run(ln, next)
		}

		c.mu.Lock()
		if len(ln.queue) == 0 {
			ln.busy = false
			c.mu.Unlock()
			return
		}
		ex := ln.queue[0]
		ln.queue = ln.queue[1:]
		metrics.ExchangesQueued.Dec()
		c.mu.Unlock()

		next = nil
		if ln.ctx.Err() != nil {
			c.abandon(ex)
			continue
		}
		if err := c.begin(ln, ex); err == nil {
			next = ex
		}
	}
}

func (c *Coordinator) run(ln *lane, ex *Exchange) {
	log := c.logger.WithSession(ex.sessionID.String()).With(zap.String("exchange_id", ex.id))

	ctx := ln.ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	answer, err := c.remote.Answer(ctx, ex.query, ex.sessionID)
	if err == nil && answer == nil {
		err = model.ErrMalformedResponse
	}
	c.hold(ln.ctx, ex.startedAt())

	if ln.ctx.Err() != nil {
		metrics.StaleResponsesTotal.Inc()
		log.Debug("answer dropped after session switch")
		c.abandon(ex)
		return
	}

	final, state := settle(answer, err)
	if err != nil {
		log.Warn("answer failed", zap.Error(err))
	}

	if rerr := c.conv.ReplacePendingAt(ln.ref, final); rerr != nil {
		switch {
		case errors.Is(rerr, model.ErrStaleSession), errors.Is(rerr, model.ErrNoActiveSession):
			metrics.StaleResponsesTotal.Inc()
			log.Debug("answer dropped for inactive session", zap.Error(rerr))
			c.abandon(ex)
			return
		default:
			log.Error("failed to settle pending message", zap.Error(rerr))
			if err == nil {
				err = rerr
			}
			state = StateFailed
		}
	}

	if ex.finish(state, final, err) {
		metrics.RecordExchange(string(state), time.Since(ex.startedAt()).Seconds())
	}
}

// hold waits out what remains of the minimum pending latency.
func (c *Coordinator) hold(ctx context.Context, started time.Time) {
	remaining := c.cfg.MinLatency - time.Since(started)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Coordinator) abandon(ex *Exchange) {
	if ex.finish(StateAbandoned, model.Message{}, nil) {
		metrics.ExchangesTotal.WithLabelValues(string(StateAbandoned)).Inc()
	}
}

// settle turns an answer or a failure into the message replacing Pending.
func settle(answer *model.Answer, err error) (model.Message, State) {
	switch {
	case err != nil, answer == nil:
		return model.ErrorMessage(), StateFailed
	case strings.TrimSpace(answer.Response) == "":
		return model.AgentMessage(model.EmptyAnswerText), StateSettled
	default:
		return model.AgentMessage(answer.Response), StateSettled
	}
}
