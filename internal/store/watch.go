package store

// ChangeKind names a committed mutation.
type ChangeKind string

const (
	ConversationUpserted ChangeKind = "conversation_upserted"
	ConversationRead     ChangeKind = "conversation_read"
	ConversationStatus   ChangeKind = "conversation_status"
	ConversationTags     ChangeKind = "conversation_tags"
	ConversationLink     ChangeKind = "conversation_link"
	ConversationReleased ChangeKind = "conversation_released"
	MessageAppended      ChangeKind = "message_appended"
	MessageUpdated       ChangeKind = "message_updated"
)

// Change is emitted to watchers after a mutation is committed. Watchers read
// current state back through the store.
type Change struct {
	Kind           ChangeKind `json:"kind"`
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id,omitempty"`
}

// Watch registers a watcher with the given channel buffer. Sends never block
// the mutator: a watcher whose buffer is full misses that change. The
// returned func unregisters the watcher and closes the channel.
func (s *Store) Watch(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.mu.Unlock()

	var stopped bool
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if stopped {
			return
		}
		stopped = true
		delete(s.watchers, id)
		close(ch)
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(c Change) {
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
