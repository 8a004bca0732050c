package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/proxylens/chat/internal/exchange"
	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRemote serves canned listings and histories.
type fakeRemote struct {
	mu        sync.Mutex
	sessions  []model.SessionRecord
	histories map[model.SessionID]string
	gates     map[model.SessionID]chan struct{}
	listErr   error
	answer    func(ctx context.Context, query string) (*model.Answer, error)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		histories: make(map[model.SessionID]string),
		gates:     make(map[model.SessionID]chan struct{}),
		answer: func(_ context.Context, query string) (*model.Answer, error) {
			return &model.Answer{Response: "re: " + query}, nil
		},
	}
}

func (f *fakeRemote) ListSessions(context.Context) ([]model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.SessionRecord(nil), f.sessions...), nil
}

func (f *fakeRemote) History(ctx context.Context, id model.SessionID) (json.RawMessage, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.histories[id]
	if !ok {
		return json.RawMessage("null"), nil
	}
	if raw == "error" {
		return nil, &model.TransportError{Op: "history", StatusCode: 500, Err: errors.New("boom")}
	}
	return json.RawMessage(raw), nil
}

func (f *fakeRemote) Answer(ctx context.Context, query string, _ model.SessionID) (*model.Answer, error) {
	return f.answer(ctx, query)
}

func (f *fakeRemote) gate(id model.SessionID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[id] = ch
	return ch
}

func sequentialIDs() func() model.SessionID {
	var mu sync.Mutex
	n := 0
	return func() model.SessionID {
		mu.Lock()
		defer mu.Unlock()
		n++
		return model.SessionID(fmt.Sprintf("session_%d", n))
	}
}

func newClient(t *testing.T, rc *fakeRemote) (*Client, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemory()
	c := New(kv, rc, Options{
		Exchange:    exchange.Config{},
		IDGenerator: sequentialIDs(),
		Logger:      logger.NewNop(),
	})
	t.Cleanup(c.Close)
	return c, kv
}

func settle(t *testing.T, ex *exchange.Exchange) model.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := ex.Wait(ctx)
	require.NoError(t, err)
	return msg
}

func TestStartOnFreshInstall(t *testing.T) {
	c, _ := newClient(t, newFakeRemote())
	ctx := context.Background()

	id, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SessionID("session_1"), id)

	snap := c.Snapshot()
	assert.Equal(t, id, snap.SessionID)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, []model.SessionRecord{{ID: id, Title: model.DefaultTitle}}, c.Sessions())

	again, err := c.ResolveCurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestStartNewSessionTwice(t *testing.T) {
	c, _ := newClient(t, newFakeRemote())
	ctx := context.Background()

	first, err := c.StartNewSession(ctx)
	require.NoError(t, err)
	second, err := c.StartNewSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	assert.Equal(t, []model.SessionRecord{
		{ID: second, Title: model.DefaultTitle},
		{ID: first, Title: model.DefaultTitle},
	}, c.Sessions())
	assert.Equal(t, second, c.Snapshot().SessionID)

	current, err := c.ResolveCurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, current)
}

func TestLoadConversationNormalizesEveryShape(t *testing.T) {
	rc := newFakeRemote()
	rc.histories["pairs"] = `[{"user":"hi","bot":"hello"}]`
	rc.histories["fragments"] = `[{"user":"hi","bot":[{"content":"hel"},{"content":"lo"}]}]`
	rc.histories["roles"] = `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`
	c, _ := newClient(t, rc)
	ctx := context.Background()

	tests := []struct {
		id   model.SessionID
		want []model.Message
	}{
		{"pairs", []model.Message{model.UserMessage("hi"), model.AgentMessage("hello")}},
		{"fragments", []model.Message{model.UserMessage("hi"), model.AgentMessage("hel"), model.AgentMessage("lo")}},
		{"roles", []model.Message{model.UserMessage("hi"), model.AgentMessage("hello")}},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			require.NoError(t, c.LoadConversation(ctx, tt.id))

			snap := c.Snapshot()
			assert.Equal(t, tt.id, snap.SessionID)
			if diff := cmp.Diff(tt.want, snap.Messages); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}

			current, err := c.ResolveCurrentSession(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.id, current)
			assert.Equal(t, tt.id, c.Sessions()[0].ID)
		})
	}
}

func TestLoadConversationFailureKeepsSwitch(t *testing.T) {
	rc := newFakeRemote()
	rc.histories["broken"] = "error"
	c, _ := newClient(t, rc)

	err := c.LoadConversation(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))

	snap := c.Snapshot()
	assert.Equal(t, model.SessionID("broken"), snap.SessionID)
	assert.Empty(t, snap.Messages)
}

func TestLoadConversationRejectsEmptyID(t *testing.T) {
	c, _ := newClient(t, newFakeRemote())
	err := c.LoadConversation(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrPreconditionSkipped)
}

func TestSupersededLoadIsDropped(t *testing.T) {
	rc := newFakeRemote()
	rc.histories["a"] = `[{"user":"from a","bot":"a"}]`
	rc.histories["b"] = `[{"user":"from b","bot":"b"}]`
	gate := rc.gate("a")
	c, _ := newClient(t, rc)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.LoadConversation(ctx, "a") }()

	require.Eventually(t, func() bool {
		return c.Snapshot().SessionID == "a"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.LoadConversation(ctx, "b"))
	close(gate)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, model.SessionID("b"), snap.SessionID)
	assert.Equal(t, []model.Message{model.UserMessage("from b"), model.AgentMessage("b")}, snap.Messages)
}

func TestSendDuringLoadKeepsHistoryFirst(t *testing.T) {
	rc := newFakeRemote()
	rc.histories["s"] = `[{"user":"old","bot":"answer"}]`
	gate := rc.gate("s")
	c, _ := newClient(t, rc)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.LoadConversation(ctx, "s") }()
	require.Eventually(t, func() bool {
		return c.Snapshot().SessionID == "s"
	}, time.Second, 5*time.Millisecond)

	ex, err := c.Send(ctx, "new")
	require.NoError(t, err)
	settle(t, ex)

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []model.Message{
		model.UserMessage("old"),
		model.AgentMessage("answer"),
		model.UserMessage("new"),
		model.AgentMessage("re: new"),
	}, c.Snapshot().Messages)
}

func TestSwitchDropsInFlightAnswer(t *testing.T) {
	rc := newFakeRemote()
	release := make(chan struct{})
	rc.answer = func(ctx context.Context, query string) (*model.Answer, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.Answer{Response: "late"}, nil
	}
	c, _ := newClient(t, rc)
	ctx := context.Background()

	first, err := c.StartNewSession(ctx)
	require.NoError(t, err)
	ex, err := c.Send(ctx, "hello")
	require.NoError(t, err)

	second, err := c.StartNewSession(ctx)
	require.NoError(t, err)
	close(release)

	_, err = ex.Wait(ctx)
	assert.ErrorIs(t, err, exchange.ErrAbandoned)
	assert.Equal(t, first, ex.SessionID())

	snap := c.Snapshot()
	assert.Equal(t, second, snap.SessionID)
	assert.Empty(t, snap.Messages)
}

func TestSubscribeSeesExchange(t *testing.T) {
	c, _ := newClient(t, newFakeRemote())
	ctx := context.Background()
	_, err := c.StartNewSession(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var versions []uint64
	cancel := c.Subscribe(func(ch model.Change) {
		mu.Lock()
		versions = append(versions, ch.State.Version)
		mu.Unlock()
	})
	defer cancel()

	ex, err := c.Send(ctx, "hello")
	require.NoError(t, err)
	settle(t, ex)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, 2)
	assert.Less(t, versions[0], versions[1])
}

func TestRefreshSessionListBackfillsIdentity(t *testing.T) {
	rc := newFakeRemote()
	rc.sessions = []model.SessionRecord{{ID: "s1", Title: "First"}, {ID: "s2"}}
	c, _ := newClient(t, rc)
	ctx := context.Background()

	local, err := c.StartNewSession(ctx)
	require.NoError(t, err)

	records, err := c.RefreshSessionList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SessionRecord{{ID: "s1", Title: "First"}, {ID: "s2", Title: model.DefaultTitle}}, records)

	assert.Equal(t, []model.SessionRecord{
		{ID: local, Title: model.DefaultTitle},
		{ID: "s1", Title: "First"},
		{ID: "s2", Title: model.DefaultTitle},
	}, c.Sessions())
	assert.Equal(t, "First", c.Title("s1"))

	require.NoError(t, c.ClearCurrentSession(ctx))
	resumed, err := c.ResolveCurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, local, resumed)
}

func TestRefreshSessionListFailure(t *testing.T) {
	rc := newFakeRemote()
	rc.listErr = &model.TransportError{Op: "list sessions", Err: errors.New("refused")}
	c, _ := newClient(t, rc)

	records, err := c.RefreshSessionList(context.Background())
	assert.Nil(t, records)
	assert.True(t, model.IsTransport(err))
	assert.Empty(t, c.Sessions())
}
