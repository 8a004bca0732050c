package chat

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxylens/chat/internal/exchange"
	"github.com/proxylens/chat/internal/handler"
	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/llm"
	"github.com/proxylens/chat/internal/model"
	"github.com/proxylens/chat/internal/remote"
	"github.com/proxylens/chat/internal/service"
	"github.com/proxylens/chat/pkg/logger"
)

func startAnswerService(t *testing.T, shape service.HistoryShape, legacy bool) *remote.HTTPClient {
	t.Helper()
	log := logger.NewNop()
	archive := service.NewArchive(kvstore.NewMemory(), log)
	answers := service.NewAnswerService(archive, llm.NewStaticClient(""), service.DefaultContextTurns, log)
	router := handler.NewRouter(handler.RouterConfig{}, handler.Handlers{
		Sessions: handler.NewSessionHandler(archive, shape, legacy, log),
		Generate: handler.NewGenerateHandler(answers, log),
		Health:   handler.NewHealthHandler(nil),
	}, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	rc, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:    srv.URL + handler.DefaultBasePath,
		HTTPClient: srv.Client(),
	}, log)
	require.NoError(t, err)
	return rc
}

func TestRoundTripThroughAnswerService(t *testing.T) {
	want := []model.Message{
		model.UserMessage("hello"),
		model.AgentMessage("You said: hello"),
		model.UserMessage("again"),
		model.AgentMessage("You said: again"),
	}

	for _, tc := range []struct {
		shape  service.HistoryShape
		legacy bool
	}{
		{service.ShapePairs, false},
		{service.ShapeFragments, false},
		{service.ShapeRoles, false},
		{service.ShapePairs, true},
	} {
		name := string(tc.shape)
		if tc.legacy {
			name += "/legacy"
		}
		t.Run(name, func(t *testing.T) {
			rc := startAnswerService(t, tc.shape, tc.legacy)
			kv := kvstore.NewMemory()
			ctx := context.Background()
			opts := Options{IDGenerator: sequentialIDs(), Logger: logger.NewNop(), Exchange: exchange.Config{}}

			c := New(kv, rc, opts)
			id, err := c.Start(ctx)
			require.NoError(t, err)

			for _, q := range []string{"hello", "again"} {
				ex, err := c.Send(ctx, q)
				require.NoError(t, err)
				settle(t, ex)
			}
			if diff := cmp.Diff(want, c.Snapshot().Messages); diff != "" {
				t.Fatalf("live conversation mismatch (-want +got):\n%s", diff)
			}

			records, err := c.RefreshSessionList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []model.SessionRecord{{ID: id, Title: "hello"}}, records)
			c.Close()

			// A restart resumes the same session from the persisted store.
			restarted := New(kv, rc, opts)
			defer restarted.Close()
			resumed, err := restarted.Start(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, resumed)
			if diff := cmp.Diff(want, restarted.Snapshot().Messages); diff != "" {
				t.Errorf("reloaded conversation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
