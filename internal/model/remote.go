package model

import (
	"encoding/json"
)

// SessionListResponse is the payload of the session listing endpoint.
type SessionListResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

// HistoryResponse is the payload of the history endpoint. Messages stay raw
// because the service uses several shapes for them.
type HistoryResponse struct {
	SessionID SessionID       `json:"session_id,omitempty"`
	Messages  json.RawMessage `json:"messages"`
}

// Answer is a decoded answer from the remote service.
type Answer struct {
	Response string         `json:"response"`
	Metadata map[string]any `json:"-"`
}
