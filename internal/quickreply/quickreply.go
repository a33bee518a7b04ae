// Package quickreply matches shortcut-prefixed operator input against the
// tenant's canned reply catalog.
package quickreply

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/collectdesk/convo/internal/model"
)

// DefaultPrefix triggers quick-reply lookup when it starts the input.
const DefaultPrefix = "/"

// Query extracts the lower-cased query after prefix. ok is false when input
// does not start with prefix.
func Query(input, prefix string) (query string, ok bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(input, prefix) {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(input, prefix)), true
}

// Match returns the catalog entries whose shortcut or content contains the
// query, in catalog order. An empty query matches the whole catalog. Input
// without the prefix matches nothing.
func Match(input string, catalog []model.QuickReply) []model.QuickReply {
	return MatchWithPrefix(input, DefaultPrefix, catalog)
}

// MatchWithPrefix is Match with a custom trigger prefix.
func MatchWithPrefix(input, prefix string, catalog []model.QuickReply) []model.QuickReply {
	query, ok := Query(input, prefix)
	if !ok {
		return nil
	}
	out := make([]model.QuickReply, 0, len(catalog))
	for _, qr := range catalog {
		if query == "" ||
			strings.Contains(strings.ToLower(qr.Shortcut), query) ||
			strings.Contains(strings.ToLower(qr.Content), query) {
			out = append(out, qr)
		}
	}
	return out
}

type shortcutSource []model.QuickReply

func (s shortcutSource) String(i int) string { return strings.ToLower(s[i].Shortcut) }
func (s shortcutSource) Len() int            { return len(s) }

// Closest ranks shortcuts by fuzzy similarity to query, best first. It backs
// "did you mean" hints when Match finds nothing.
func Closest(query string, catalog []model.QuickReply, limit int) []model.QuickReply {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(catalog) == 0 || limit <= 0 {
		return nil
	}
	results := fuzzy.FindFrom(query, shortcutSource(catalog))
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]model.QuickReply, 0, len(results))
	for _, r := range results {
		out = append(out, catalog[r.Index])
	}
	return out
}
