package service

import (
	"fmt"
	"strings"
)

// HistoryShape selects the layout history is served in.
type HistoryShape string

const (
	ShapePairs     HistoryShape = "pairs"
	ShapeFragments HistoryShape = "fragments"
	ShapeRoles     HistoryShape = "roles"
)

// ParseHistoryShape parses a shape name. Empty means pairs.
func ParseHistoryShape(s string) (HistoryShape, error) {
	switch HistoryShape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapePairs, "":
		return ShapePairs, nil
	case ShapeFragments:
		return ShapeFragments, nil
	case ShapeRoles:
		return ShapeRoles, nil
	default:
		return "", fmt.Errorf("unknown history shape %q", s)
	}
}

// RenderHistory lays turns out in shape, ready for JSON encoding.
//
//	pairs:     {"user": q, "bot": a}
//	fragments: {"user": q, "bot": [{"content": paragraph}, ...]}
//	roles:     {"role": "user", "content": q}, {"role": "assistant", "content": a}
func RenderHistory(turns []Turn, shape HistoryShape) []map[string]any {
	out := make([]map[string]any, 0, len(turns)*2)
	for _, t := range turns {
		switch shape {
		case ShapeFragments:
			out = append(out, map[string]any{"user": t.Query, "bot": fragments(t.Answer)})
		case ShapeRoles:
			out = append(out,
				map[string]any{"role": "user", "content": t.Query},
				map[string]any{"role": "assistant", "content": t.Answer},
			)
		default:
			out = append(out, map[string]any{"user": t.Query, "bot": t.Answer})
		}
	}
	return out
}

// fragments splits an answer into paragraphs.
func fragments(answer string) []map[string]string {
	var out []map[string]string
	for _, p := range strings.Split(answer, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, map[string]string{"content": p})
		}
	}
	if len(out) == 0 {
		out = append(out, map[string]string{"content": answer})
	}
	return out
}
