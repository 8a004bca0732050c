// Package normalize converts conversation payloads from the remote service
// into the canonical message sequence.
//
// The service has returned history in three shapes over time:
//
//	pairs:     [{"user": "hi", "bot": "hello"}]
//	fragments: [{"user": "hi", "bot": [{"content": "a"}, {"content": "b"}]}]
//	roles:     [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]
//
// Shape is detected per entry, so mixed payloads normalize too. Every entry
// yields at least one message.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/proxylens/chat/internal/model"
)

// Shape names a payload entry layout.
type Shape string

const (
	ShapePair     Shape = "pair"
	ShapeFragment Shape = "fragment"
	ShapeRole     Shape = "role"
	ShapeUnknown  Shape = "unknown"
)

// Field names accepted on the wire.
var (
	userKeys    = []string{"user", "query"}
	agentKeys   = []string{"bot", "response"}
	roleKeys    = []string{"role", "sender"}
	textKeys    = []string{"content", "text"}
	userRoleSet = map[string]bool{"user": true, "human": true, "you": true}
)

// Normalize converts decoded JSON into messages. A payload that is not a
// sequence yields an empty, non-nil slice.
func Normalize(payload any) []model.Message {
	entries, ok := payload.([]any)
	if !ok {
		return []model.Message{}
	}

	out := make([]model.Message, 0, len(entries)*2)
	for _, entry := range entries {
		out = appendEntry(out, entry)
	}
	return out
}

// NormalizeJSON decodes raw JSON and normalizes it. Invalid JSON yields an
// empty slice.
func NormalizeJSON(raw []byte) []model.Message {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []model.Message{}
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return []model.Message{}
	}
	return Normalize(payload)
}

// Detect reports the shape of a single entry.
func Detect(entry any) Shape {
	obj, ok := entry.(map[string]any)
	if !ok {
		return ShapeUnknown
	}
	if _, ok := lookup(obj, roleKeys); ok {
		if _, hasUser := lookup(obj, userKeys); !hasUser {
			return ShapeRole
		}
	}
	if agent, ok := lookup(obj, agentKeys); ok {
		if _, isList := agent.([]any); isList {
			return ShapeFragment
		}
	}
	return ShapePair
}

func appendEntry(out []model.Message, entry any) []model.Message {
	obj, ok := entry.(map[string]any)
	if !ok {
		return append(out, model.UserMessage(model.MissingUserText))
	}

	if Detect(obj) == ShapeRole {
		return append(out, roleMessage(obj))
	}

	out = append(out, model.UserMessage(userText(obj)))

	agent, _ := lookup(obj, agentKeys)
	switch v := agent.(type) {
	case string:
		out = append(out, model.AgentMessage(v))
	case []any:
		for _, fragment := range v {
			out = append(out, model.AgentMessage(fragmentText(fragment)))
		}
	}
	return out
}

func userText(obj map[string]any) string {
	if v, ok := lookup(obj, userKeys); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return model.MissingUserText
}

func fragmentText(fragment any) string {
	switch v := fragment.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if text, ok := stringField(v, textKeys); ok && text != "" {
			return text
		}
	}
	return model.MissingAgentText
}

func roleMessage(obj map[string]any) model.Message {
	role, _ := stringField(obj, roleKeys)
	text, ok := stringField(obj, textKeys)

	if userRoleSet[strings.ToLower(strings.TrimSpace(role))] {
		if !ok {
			text = model.MissingUserText
		}
		return model.UserMessage(text)
	}

	if !ok || text == "" {
		text = model.MissingAgentText
	}
	return model.AgentMessage(text)
}

func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(obj map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s, true
		}
	}
	return "", false
}
