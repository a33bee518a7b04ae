// Package dedup tracks which message identities have already been admitted
// into each loaded conversation, so that at-least-once delivery from the
// realtime feed renders every message exactly once.
package dedup

import "sync"

// Verdict is the outcome of Admit.
type Verdict int

const (
	// Accepted means the identity was new and is now recorded.
	Accepted Verdict = iota + 1
	// Duplicate means the identity was already recorded; nothing changed.
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Deduplicator holds one admitted-set per conversation. Sets live until
// Release is called for the conversation, so memory is bounded by the number
// of loaded conversations rather than by history.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]map[string]struct{})}
}

// Admit records messageID under conversationID.
func (d *Deduplicator) Admit(conversationID, messageID string) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.seen[conversationID]
	if !ok {
		set = make(map[string]struct{})
		d.seen[conversationID] = set
	}
	if _, dup := set[messageID]; dup {
		return Duplicate
	}
	set[messageID] = struct{}{}
	return Accepted
}

// Known reports whether messageID was admitted for conversationID.
func (d *Deduplicator) Known(conversationID, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[conversationID][messageID]
	return ok
}

// Len returns the number of identities admitted for conversationID.
func (d *Deduplicator) Len(conversationID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen[conversationID])
}

// Release drops the admitted-set of a conversation that is no longer loaded.
func (d *Deduplicator) Release(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, conversationID)
}

// Reset drops every admitted-set (tenant session teardown).
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]map[string]struct{})
}
