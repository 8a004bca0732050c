// Package remote talks to the answer-generation service.
package remote

import (
	"context"
	"encoding/json"

	"github.com/proxylens/chat/internal/model"
)

// Client is the remote service as seen by the chat core.
type Client interface {
	// ListSessions returns the server's authoritative session listing.
	ListSessions(ctx context.Context) ([]model.SessionRecord, error)

	// History returns the raw message payload of one session. Its shape
	// varies; see package normalize.
	History(ctx context.Context, sessionID model.SessionID) (json.RawMessage, error)

	// Answer asks the service to answer query within a session.
	Answer(ctx context.Context, query string, sessionID model.SessionID) (*model.Answer, error)
}

// Endpoint paths relative to the base URL.
const (
	PathSessions = "/chat-history"
	PathHistory  = "/chat-history/"
	PathAnswer   = "/generate"
)
