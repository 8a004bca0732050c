// Package model defines data structures for the chat client core.
package model

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultTitle is shown for sessions the server has not titled yet.
const DefaultTitle = "New Chat"

// sessionPrefix marks identifiers synthesized on the client.
const sessionPrefix = "session_"

// SessionID identifies one conversation. It is the join key between the local
// cache and server records and never changes once assigned.
type SessionID string

// NewSessionID synthesizes a client-side session identifier.
//
// UUIDv7 packs a millisecond timestamp with 74 random bits, so two sessions
// created within the same timer tick still get distinct ids while ids keep
// sorting by creation time.
func NewSessionID() SessionID {
	return SessionID(sessionPrefix + uuid.Must(uuid.NewV7()).String())
}

// String returns the identifier as a plain string.
func (id SessionID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is empty.
func (id SessionID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// SessionRecord is one entry of the session listing.
type SessionRecord struct {
	ID    SessionID `json:"id"`
	Title string    `json:"title,omitempty"`
}

// WithDefaultTitle returns a copy carrying the placeholder title when the
// record has none.
func (r SessionRecord) WithDefaultTitle() SessionRecord {
	if strings.TrimSpace(r.Title) == "" {
		r.Title = DefaultTitle
	}
	return r
}
