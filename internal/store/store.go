// Package store is the single point of mutation for the in-memory
// conversation and message projection. Every mutation runs under one lock,
// so readers see either the state before or after a mutation, never a torn
// write. Other components produce events and call into the store.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/collectdesk/convo/internal/dedup"
	"github.com/collectdesk/convo/internal/metrics"
	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/sla"
)

// Store holds loaded conversations and their ordered timelines.
type Store struct {
	mu       sync.RWMutex
	log      *slog.Logger
	convs    map[string]*model.Conversation
	timeline map[string][]*model.ChatMessage
	byID     map[string]*model.ChatMessage
	seen     *dedup.Deduplicator

	watchers    map[int]chan Change
	nextWatcher int
}

// New returns an empty store. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:      logger,
		convs:    make(map[string]*model.Conversation),
		timeline: make(map[string][]*model.ChatMessage),
		byID:     make(map[string]*model.ChatMessage),
		seen:     dedup.New(),
		watchers: make(map[int]chan Change),
	}
}

// UpsertConversation merges a partial row by identity. An unknown identity
// creates the conversation; for a known one every present field overwrites
// the stored value. The merged conversation is returned.
func (s *Store) UpsertConversation(p model.ConversationPatch) (model.Conversation, error) {
	if p.ID == "" {
		return model.Conversation{}, fmt.Errorf("conversation patch without id")
	}
	if p.Status.Set {
		if _, err := model.ParseConversationStatus(string(p.Status.Value)); err != nil {
			return model.Conversation{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[p.ID]
	if !ok {
		c = &model.Conversation{ID: p.ID, Status: model.StatusOpen}
		s.convs[p.ID] = c
	}
	if p.RemoteIdentity.Set {
		c.RemoteIdentity = p.RemoteIdentity.Value
	}
	if p.DisplayName.Set {
		c.DisplayName = p.DisplayName.Value
	}
	if p.Status.Set {
		c.Status = p.Status.Value
	}
	if p.LinkedEntityID.Set {
		c.LinkedEntityID = p.LinkedEntityID.Value
	}
	if p.LastActivityAt.Set {
		c.LastActivityAt = p.LastActivityAt.Value
	}
	if p.SLADeadlineAt.Set {
		c.SLADeadlineAt = p.SLADeadlineAt.Value
	}
	if p.CreatedAt.Set {
		c.CreatedAt = p.CreatedAt.Value
	}
	if p.UnreadCount.Set {
		c.UnreadCount = p.UnreadCount.Value
	}
	s.publish(Change{Kind: ConversationUpserted, ConversationID: c.ID})
	return c.Clone(), nil
}

// AppendMessage admits a message into its conversation's timeline at the
// position given by created_at, ties by identity. A re-delivered identity is
// a no-op reported as dedup.Duplicate, unless its immutable fields disagree
// with the admitted copy, which returns a *ConflictError and changes nothing.
// A message for a conversation not loaded yet creates a stub conversation.
// An admitted inbound non-internal message counts as unread unless an
// option says otherwise.
func (s *Store) AppendMessage(m model.ChatMessage, opts ...AppendOption) (dedup.Verdict, error) {
	if m.ID == "" || m.ConversationID == "" {
		return 0, fmt.Errorf("message without id or conversation_id")
	}
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[m.ID]; ok {
		if err := existing.SameImmutable(&m); err != nil {
			metrics.InvariantViolations.Inc()
			s.log.Error("conflicting message delivery", "message", m.ID, "conversation", m.ConversationID, "error", err)
			return 0, &ConflictError{MessageID: m.ID, Err: err}
		}
	}
	if s.seen.Admit(m.ConversationID, m.ID) == dedup.Duplicate {
		metrics.MessagesDuplicate.Inc()
		s.log.Debug("duplicate message dropped", "message", m.ID, "conversation", m.ConversationID)
		return dedup.Duplicate, nil
	}

	msg := m.Clone()
	c, ok := s.convs[msg.ConversationID]
	if !ok {
		c = &model.Conversation{
			ID:             msg.ConversationID,
			Status:         model.StatusOpen,
			CreatedAt:      msg.CreatedAt,
			LastActivityAt: msg.CreatedAt,
		}
		s.convs[c.ID] = c
		s.log.Debug("message for unloaded conversation, created stub", "conversation", c.ID)
	}

	list := s.timeline[msg.ConversationID]
	i := sort.Search(len(list), func(i int) bool { return msg.Before(list[i]) })
	list = slices.Insert(list, i, &msg)
	s.timeline[msg.ConversationID] = list
	s.byID[msg.ID] = &msg

	if msg.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = msg.CreatedAt
	}
	wasUnread := c.UnreadCount > 0
	switch {
	case o.markRead:
		c.UnreadCount = 0
	case o.fromSnapshot:
	case msg.Direction == model.Inbound && !msg.IsInternal:
		c.UnreadCount++
	}

	metrics.MessagesAdmitted.Inc()
	s.publish(Change{Kind: MessageAppended, ConversationID: msg.ConversationID, MessageID: msg.ID})
	if o.markRead && wasUnread {
		s.publish(Change{Kind: ConversationRead, ConversationID: msg.ConversationID})
	}
	return dedup.Accepted, nil
}

// AppendOption adjusts how AppendMessage counts an admitted message.
type AppendOption func(*appendOptions)

type appendOptions struct {
	fromSnapshot bool
	markRead     bool
}

// FromSnapshot admits a message without counting it as unread. A snapshot
// row's unread_count already includes its messages.
func FromSnapshot() AppendOption {
	return func(o *appendOptions) { o.fromSnapshot = true }
}

// MarkingRead clears the conversation's unread counter in the same update
// that admits the message, so no reader observes it unread.
func MarkingRead() AppendOption {
	return func(o *appendOptions) { o.markRead = true }
}

// ApplyMessageUpdate replaces the mutable fields of an admitted message.
// An unknown identity is dropped and reports false. Status only moves
// forward; a regression or a repeat leaves the status unchanged. Immutable
// fields present in the patch must match the admitted copy.
func (s *Store) ApplyMessageUpdate(id string, p model.MessagePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		metrics.UpdatesDropped.Inc()
		s.log.Debug("update for unknown message dropped", "message", id)
		return false, nil
	}
	if err := checkImmutable(msg, p); err != nil {
		metrics.InvariantViolations.Inc()
		s.log.Error("conflicting message update", "message", id, "conversation", msg.ConversationID, "error", err)
		return false, &ConflictError{MessageID: id, Err: err}
	}

	changed := false
	if p.Status.Set && msg.Status.CanAdvanceTo(p.Status.Value) {
		msg.Status = p.Status.Value
		changed = true
	}
	if p.ExternalRef.Set && !equalPtr(msg.ExternalRef, p.ExternalRef.Value) {
		msg.ExternalRef = clonePtr(p.ExternalRef.Value)
		changed = true
	}
	if p.MediaURL.Set && !equalPtr(msg.MediaURL, p.MediaURL.Value) {
		msg.MediaURL = clonePtr(p.MediaURL.Value)
		changed = true
	}
	if changed {
		s.publish(Change{Kind: MessageUpdated, ConversationID: msg.ConversationID, MessageID: id})
	}
	return true, nil
}

func checkImmutable(msg *model.ChatMessage, p model.MessagePatch) error {
	probe := msg.Clone()
	if p.ConversationID.Set {
		probe.ConversationID = p.ConversationID.Value
	}
	if p.Content.Set {
		probe.Content = p.Content.Value
	}
	if p.CreatedAt.Set {
		probe.CreatedAt = p.CreatedAt.Value
	}
	return msg.SameImmutable(&probe)
}

// MarkRead zeroes the unread counter. Message statuses are untouched.
func (s *Store) MarkRead(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrUnknownConversation
	}
	if c.UnreadCount == 0 {
		return nil
	}
	c.UnreadCount = 0
	s.publish(Change{Kind: ConversationRead, ConversationID: conversationID})
	return nil
}

// SetStatus overwrites the conversation status. Setting the current status
// again is a no-op.
func (s *Store) SetStatus(conversationID string, status model.ConversationStatus) error {
	if _, err := model.ParseConversationStatus(string(status)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrUnknownConversation
	}
	if c.Status == status {
		return nil
	}
	c.Status = status
	s.publish(Change{Kind: ConversationStatus, ConversationID: conversationID})
	return nil
}

// AssignTag adds a tag. Assigning a tag the conversation already carries
// reports false without error.
func (s *Store) AssignTag(conversationID, tagID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false, ErrUnknownConversation
	}
	if slices.Contains(c.Tags, tagID) {
		s.log.Debug("tag already assigned", "conversation", conversationID, "tag", tagID)
		return false, nil
	}
	c.Tags = append(c.Tags, tagID)
	s.publish(Change{Kind: ConversationTags, ConversationID: conversationID})
	return true, nil
}

// RemoveTag removes a tag if present.
func (s *Store) RemoveTag(conversationID, tagID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false, ErrUnknownConversation
	}
	i := slices.Index(c.Tags, tagID)
	if i < 0 {
		return false, nil
	}
	c.Tags = slices.Delete(c.Tags, i, i+1)
	s.publish(Change{Kind: ConversationTags, ConversationID: conversationID})
	return true, nil
}

// LinkEntity links the conversation to a client record. Relinking to the
// same record reports false without error.
func (s *Store) LinkEntity(conversationID, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false, ErrUnknownConversation
	}
	if c.LinkedEntityID != nil && *c.LinkedEntityID == entityID {
		s.log.Debug("conversation already linked", "conversation", conversationID, "entity", entityID)
		return false, nil
	}
	c.LinkedEntityID = &entityID
	s.publish(Change{Kind: ConversationLink, ConversationID: conversationID})
	return true, nil
}

// UnlinkEntity clears the client link.
func (s *Store) UnlinkEntity(conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false, ErrUnknownConversation
	}
	if c.LinkedEntityID == nil {
		return false, nil
	}
	c.LinkedEntityID = nil
	s.publish(Change{Kind: ConversationLink, ConversationID: conversationID})
	return true, nil
}

// Release unloads a conversation together with its timeline and dedup set.
func (s *Store) Release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.timeline[conversationID] {
		delete(s.byID, m.ID)
	}
	delete(s.timeline, conversationID)
	delete(s.convs, conversationID)
	s.seen.Release(conversationID)
	s.publish(Change{Kind: ConversationReleased, ConversationID: conversationID})
}

// Reset drops all state. Watchers stay registered.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*model.Conversation)
	s.timeline = make(map[string][]*model.ChatMessage)
	s.byID = make(map[string]*model.ChatMessage)
	s.seen.Reset()
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, false
	}
	return c.Clone(), true
}

// Conversations returns copies of all loaded conversations, most recent
// activity first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns the ordered timeline of a conversation.
func (s *Store) Messages(conversationID string) []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.timeline[conversationID]
	out := make([]model.ChatMessage, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// Message returns a copy of one admitted message.
func (s *Store) Message(id string) (model.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return model.ChatMessage{}, false
	}
	return m.Clone(), true
}

// SLA evaluates the SLA tier of a loaded conversation at now.
func (s *Store) SLA(conversationID string, now time.Time) (sla.Evaluation, error) {
	c, ok := s.Conversation(conversationID)
	if !ok {
		return sla.Evaluation{}, ErrUnknownConversation
	}
	return sla.Evaluate(c.CreatedAt, c.SLADeadlineAt, now), nil
}

// SLASummary counts loaded conversations per SLA tier at now and publishes
// the counts on the SLA gauge.
func (s *Store) SLASummary(now time.Time) map[sla.State]int {
	counts := map[sla.State]int{sla.None: 0, sla.OnTrack: 0, sla.AtRisk: 0, sla.Expired: 0}

	s.mu.RLock()
	for _, c := range s.convs {
		if c.Status == model.StatusClosed {
			continue
		}
		counts[sla.Evaluate(c.CreatedAt, c.SLADeadlineAt, now).State]++
	}
	s.mu.RUnlock()

	for state, n := range counts {
		metrics.SLATier.WithLabelValues(string(state)).Set(float64(n))
	}
	return counts
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
