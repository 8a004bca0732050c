package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/proxylens/chat/internal/conversation"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type answerFunc func(ctx context.Context, query string, sessionID model.SessionID) (*model.Answer, error)

func (f answerFunc) Answer(ctx context.Context, query string, sessionID model.SessionID) (*model.Answer, error) {
	return f(ctx, query, sessionID)
}

func echo(ctx context.Context, query string, _ model.SessionID) (*model.Answer, error) {
	return &model.Answer{Response: "re: " + query}, nil
}

func setup(t *testing.T, remote Answerer, cfg Config) (*Coordinator, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore()
	store.Load("s1", nil)
	c := New(store, remote, cfg, logger.NewNop())
	t.Cleanup(c.Close)
	return c, store
}

func wait(t *testing.T, ex *Exchange) (model.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ex.Wait(ctx)
}

func TestSendInsertsOptimisticallyThenSettles(t *testing.T) {
	release := make(chan struct{})
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		<-release
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", ex.Query())
	assert.Equal(t, model.SessionID("s1"), ex.SessionID())
	assert.Equal(t, StateAwaitingResponse, ex.State())

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, model.UserMessage("hello"), snap.Messages[0])
	assert.Equal(t, model.PendingMessage(), snap.Messages[1])

	close(release)
	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.AgentMessage("re: hello"), msg)
	assert.Equal(t, StateSettled, ex.State())

	assert.Equal(t, []model.Message{
		model.UserMessage("hello"),
		model.AgentMessage("re: hello"),
	}, store.Snapshot().Messages)
}

func TestSendKeepsTextVerbatim(t *testing.T) {
	var mu sync.Mutex
	var got string
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		mu.Lock()
		got = q
		mu.Unlock()
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	const text = "  indented\ncode  "
	ex, err := c.Send(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, text, ex.Query())
	_, err = wait(t, ex)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, text, got)
	mu.Unlock()
	assert.Equal(t, []model.Message{
		model.UserMessage(text),
		model.AgentMessage("re: " + text),
	}, store.Snapshot().Messages)
}

func TestSendPreconditions(t *testing.T) {
	for name, text := range map[string]string{
		"empty text": "",
		"blank text": " \n\t",
	} {
		t.Run(name, func(t *testing.T) {
			c, store := setup(t, answerFunc(echo), Config{})
			ex, err := c.Send(context.Background(), text)
			assert.Nil(t, ex)
			assert.ErrorIs(t, err, model.ErrPreconditionSkipped)
			assert.Empty(t, store.Snapshot().Messages)
			assert.Equal(t, uint64(1), store.Snapshot().Version)
		})
	}

	t.Run("no active session", func(t *testing.T) {
		store := conversation.NewStore()
		c := New(store, answerFunc(echo), Config{}, logger.NewNop())
		defer c.Close()

		ex, err := c.Send(context.Background(), "hello")
		assert.Nil(t, ex)
		assert.ErrorIs(t, err, model.ErrPreconditionSkipped)
	})

	t.Run("closed", func(t *testing.T) {
		c, _ := setup(t, answerFunc(echo), Config{})
		c.Close()
		_, err := c.Send(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSendFailureSettlesErrorMessage(t *testing.T) {
	cause := &model.TransportError{Op: "answer", Err: errors.New("connection refused")}
	var mu sync.Mutex
	calls := 0
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, cause
		}
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "X")
	require.NoError(t, err)

	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorMessage(), msg)
	assert.Equal(t, StateFailed, ex.State())
	assert.ErrorIs(t, ex.Err(), cause)
	assert.Equal(t, []model.Message{model.UserMessage("X"), model.ErrorMessage()}, store.Snapshot().Messages)

	// The next send is unaffected by the failure.
	next, err := c.Send(context.Background(), "Y")
	require.NoError(t, err)
	msg, err = wait(t, next)
	require.NoError(t, err)
	assert.Equal(t, model.AgentMessage("re: Y"), msg)
	assert.Equal(t, StateSettled, next.State())
	assert.NoError(t, next.Err())

	assert.Equal(t, []model.Message{
		model.UserMessage("X"),
		model.ErrorMessage(),
		model.UserMessage("Y"),
		model.AgentMessage("re: Y"),
	}, store.Snapshot().Messages)
}

func TestSendEmptyAnswer(t *testing.T) {
	remote := answerFunc(func(context.Context, string, model.SessionID) (*model.Answer, error) {
		return &model.Answer{Response: "   "}, nil
	})
	c, _ := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.AgentMessage(model.EmptyAnswerText), msg)
	assert.Equal(t, StateSettled, ex.State())
}

func TestSendNilAnswerIsMalformed(t *testing.T) {
	remote := answerFunc(func(context.Context, string, model.SessionID) (*model.Answer, error) {
		return nil, nil
	})
	c, _ := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorMessage(), msg)
	assert.ErrorIs(t, ex.Err(), model.ErrMalformedResponse)
}

func TestSendWhileBusyQueuesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gates := map[string]chan struct{}{
		"first":  make(chan struct{}),
		"second": make(chan struct{}),
	}
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		mu.Lock()
		order = append(order, q)
		mu.Unlock()
		<-gates[q]
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	first, err := c.Send(context.Background(), "first")
	require.NoError(t, err)
	second, err := c.Send(context.Background(), "second")
	require.NoError(t, err)

	assert.Equal(t, StateQueued, second.State())
	assert.Equal(t, []model.Message{
		model.UserMessage("first"),
		model.PendingMessage(),
	}, store.Snapshot().Messages)

	close(gates["first"])
	_, err = wait(t, first)
	require.NoError(t, err)

	close(gates["second"])
	_, err = wait(t, second)
	require.NoError(t, err)

	assert.Equal(t, []model.Message{
		model.UserMessage("first"),
		model.AgentMessage("re: first"),
		model.UserMessage("second"),
		model.AgentMessage("re: second"),
	}, store.Snapshot().Messages)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestAnswerForSwitchedSessionIsDropped(t *testing.T) {
	release := make(chan struct{})
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		<-release
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	other := []model.Message{model.UserMessage("elsewhere"), model.AgentMessage("reply")}
	store.Load("s2", other)
	close(release)

	_, err = wait(t, ex)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, StateAbandoned, ex.State())

	snap := store.Snapshot()
	assert.Equal(t, model.SessionID("s2"), snap.SessionID)
	assert.Equal(t, other, snap.Messages)
}

// reloadingConv reopens the active session just before the first pending
// replacement, as a user leaving and returning mid-answer would.
type reloadingConv struct {
	*conversation.Store
	once sync.Once
}

func (r *reloadingConv) ReplacePendingAt(ref conversation.Ref, final model.Message) error {
	r.once.Do(func() {
		r.Store.Load(ref.SessionID, []model.Message{model.UserMessage("reopened"), model.PendingMessage()})
	})
	return r.Store.ReplacePendingAt(ref, final)
}

func TestAnswerForEarlierLoadOfSameSessionIsDropped(t *testing.T) {
	store := conversation.NewStore()
	store.Load("s1", nil)
	c := New(&reloadingConv{Store: store}, answerFunc(echo), Config{}, logger.NewNop())
	defer c.Close()

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	_, err = wait(t, ex)
	assert.ErrorIs(t, err, ErrAbandoned)

	snap := store.Snapshot()
	assert.Equal(t, model.SessionID("s1"), snap.SessionID)
	assert.Equal(t, []model.Message{model.UserMessage("reopened"), model.PendingMessage()}, snap.Messages)
}

func TestReopenedSessionGetsFreshLane(t *testing.T) {
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		if q == "first" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return echo(ctx, q, sid)
	})
	c, store := setup(t, remote, Config{})

	first, err := c.Send(context.Background(), "first")
	require.NoError(t, err)

	store.Load("s2", nil)
	store.Load("s1", nil)

	second, err := c.Send(context.Background(), "second")
	require.NoError(t, err)
	assert.NotEqual(t, StateQueued, second.State())

	_, err = wait(t, first)
	assert.ErrorIs(t, err, ErrAbandoned)
	msg, err := wait(t, second)
	require.NoError(t, err)
	assert.Equal(t, model.AgentMessage("re: second"), msg)

	assert.Equal(t, []model.Message{
		model.UserMessage("second"),
		model.AgentMessage("re: second"),
	}, store.Snapshot().Messages)
}

func TestAbandonCancelsInFlightAndQueued(t *testing.T) {
	started := make(chan struct{}, 1)
	remote := answerFunc(func(ctx context.Context, _ string, _ model.SessionID) (*model.Answer, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, store := setup(t, remote, Config{MinLatency: time.Hour})

	first, err := c.Send(context.Background(), "first")
	require.NoError(t, err)
	second, err := c.Send(context.Background(), "second")
	require.NoError(t, err)
	<-started

	c.Abandon("s1")

	_, err = wait(t, first)
	assert.ErrorIs(t, err, ErrAbandoned)
	_, err = wait(t, second)
	assert.ErrorIs(t, err, ErrAbandoned)

	// The placeholder stays until the session is reloaded.
	assert.Equal(t, []model.Message{
		model.UserMessage("first"),
		model.PendingMessage(),
	}, store.Snapshot().Messages)
}

func TestAbandonExceptKeepsActiveSession(t *testing.T) {
	remote := answerFunc(echo)
	c, _ := setup(t, remote, Config{})

	c.AbandonExcept("s1")

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.AgentMessage("re: hello"), msg)
}

func TestMinLatencyHoldsPending(t *testing.T) {
	const minLatency = 80 * time.Millisecond
	c, _ := setup(t, answerFunc(echo), Config{MinLatency: minLatency})

	start := time.Now()
	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	_, err = wait(t, ex)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), minLatency)
}

func TestTimeoutFailsExchange(t *testing.T) {
	remote := answerFunc(func(ctx context.Context, _ string, _ model.SessionID) (*model.Answer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, _ := setup(t, remote, Config{Timeout: 20 * time.Millisecond})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	msg, err := wait(t, ex)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorMessage(), msg)
	assert.ErrorIs(t, ex.Err(), context.DeadlineExceeded)
}

func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	remote := answerFunc(func(ctx context.Context, q string, sid model.SessionID) (*model.Answer, error) {
		<-release
		return echo(ctx, q, sid)
	})
	c, _ := setup(t, remote, Config{})

	ex, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	_, err = wait(t, ex)
	require.NoError(t, err)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateSettled, StateFailed, StateAbandoned} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateQueued, StateSending, StateAwaitingResponse} {
		assert.False(t, s.Terminal(), s)
	}
}
