package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxSessionIDLength = 128
	maxQueryLength     = 10000
)

// ValidateSessionID validates a session ID. Ids are opaque but must be safe
// to use as a storage key.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session_id is required")
	}
	if len(id) > maxSessionIDLength {
		return errors.New("session_id exceeds maximum length")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-':
		default:
			return errors.New("invalid session_id format")
		}
	}
	return nil
}

// ValidateQuery validates query text.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required")
	}
	if len(query) > maxQueryLength {
		return errors.New("query exceeds maximum length")
	}
	if !utf8.ValidString(query) {
		return errors.New("query must be valid UTF-8")
	}
	return nil
}
