package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/collectdesk/convo/internal/dedup"
	"github.com/collectdesk/convo/internal/metrics"
	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/notify"
	"github.com/collectdesk/convo/internal/store"
)

// sideEffectTimeout bounds notification and read-receipt calls made from the
// dispatcher loop.
const sideEffectTimeout = 5 * time.Second

// ReadMarker persists read state remotely. *api.Client implements it.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Client applies feed events to a store. It owns the active conversation and
// the set of conversations already notified as waiting; both live until
// Reset is called at the end of the tenant session.
type Client struct {
	store    *store.Store
	notifier notify.Notifier
	reads    ReadMarker
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	active   string
	notified map[string]struct{}
	hydrated bool
}

// Option configures a Client.
type Option func(*Client)

// WithReadMarker persists read state when the active conversation is read.
func WithReadMarker(r ReadMarker) Option {
	return func(c *Client) { c.reads = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client feeding st. A nil notifier logs notices instead.
func New(st *store.Store, notifier notify.Notifier, opts ...Option) *Client {
	c := &Client{
		store:    st,
		notifier: notifier,
		log:      slog.Default(),
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notify.LogNotifier{Log: c.log}
	}
	return c
}

// SetActive marks the conversation the operator is looking at and clears
// its unread counter.
func (c *Client) SetActive(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
	return c.markRead(ctx, conversationID)
}

// ClearActive forgets the active conversation.
func (c *Client) ClearActive() {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()
}

// Active returns the active conversation id, if any.
func (c *Client) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Reset clears session state. Call it when the tenant session ends.
func (c *Client) Reset() {
	c.mu.Lock()
	c.active = ""
	c.notified = make(map[string]struct{})
	c.hydrated = false
	c.mu.Unlock()
}

// Apply routes one event into the store. Domain no-ops are not errors;
// a *store.ConflictError is returned unchanged.
func (c *Client) Apply(ctx context.Context, ev Event) error {
	metrics.FeedEvents.WithLabelValues(string(ev.table()), string(ev.operation())).Inc()

	switch e := ev.(type) {
	case ConversationEvent:
		conv, err := c.store.UpsertConversation(e.Patch)
		if err != nil {
			return err
		}
		c.trackWaiting(ctx, conv, true)
		if tier := c.evaluateSLA(conv); tier != "" {
			c.log.Debug("conversation changed", "conversation", conv.ID, "status", conv.Status, "sla", tier)
		}
		c.store.SLASummary(c.now())
		return nil

	case MessageInsertEvent:
		m := e.Message
		viewing := m.Direction == model.Inbound && !m.IsInternal && m.ConversationID == c.Active()
		var opts []store.AppendOption
		if viewing {
			opts = append(opts, store.MarkingRead())
		}
		verdict, err := c.store.AppendMessage(m, opts...)
		if err != nil {
			return err
		}
		if viewing && verdict == dedup.Accepted {
			if err := c.markRemoteRead(ctx, m.ConversationID); err != nil {
				c.log.Warn("mark read failed", "conversation", m.ConversationID, "error", err)
			}
		}
		return nil

	case SnapshotEvent:
		if err := c.Hydrate(ctx, e.Snapshot); err != nil {
			return err
		}
		if e.Activate != "" {
			return c.SetActive(ctx, e.Activate)
		}
		return nil

	case MessageUpdateEvent:
		_, err := c.store.ApplyMessageUpdate(e.ID, e.Patch)
		return err

	default:
		return errors.New("unknown event type")
	}
}

// Run applies events until the channel closes or ctx is cancelled. Events
// that fail validation are logged and skipped; a store conflict stops the
// loop and is returned.
func (c *Client) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.Apply(ctx, ev); err != nil {
				if store.IsConflict(err) {
					return err
				}
				c.log.Warn("feed event skipped", "table", ev.table(), "operation", ev.operation(), "error", err)
			}
		}
	}
}

// Snapshot is a fresh read of conversations and their recent messages.
type Snapshot struct {
	Conversations []model.Conversation
	Messages      []model.ChatMessage
}

// Hydrate applies a snapshot through the same store paths as live events.
// Messages already admitted are deduplicated, and snapshot messages never
// raise unread counters: each row's unread_count already counts them.
//
// A conversation found waiting is announced only if this session saw it in
// another status before, or if it first appears after the initial snapshot.
// Waiting conversations in the initial snapshot are recorded without a
// notice: the episode started before this session began.
func (c *Client) Hydrate(ctx context.Context, snap Snapshot) error {
	c.mu.Lock()
	initial := !c.hydrated
	c.mu.Unlock()

	for _, conv := range snap.Conversations {
		_, known := c.store.Conversation(conv.ID)
		merged, err := c.store.UpsertConversation(model.PatchFromConversation(conv))
		if err != nil {
			return err
		}
		for _, tag := range conv.Tags {
			if _, err := c.store.AssignTag(conv.ID, tag); err != nil {
				return err
			}
		}
		c.trackWaiting(ctx, merged, known || !initial)
	}
	for _, m := range snap.Messages {
		if _, err := c.store.AppendMessage(m, store.FromSnapshot()); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.hydrated = true
	c.mu.Unlock()
	c.store.SLASummary(c.now())

	if active := c.Active(); active != "" {
		if _, ok := c.store.Conversation(active); ok {
			return c.markRead(ctx, active)
		}
	}
	return nil
}

// trackWaiting notifies once per waiting episode. An episode ends when the
// conversation is seen in any other status.
func (c *Client) trackWaiting(ctx context.Context, conv model.Conversation, notifyNew bool) {
	c.mu.Lock()
	_, seen := c.notified[conv.ID]
	if conv.Status != model.StatusWaiting {
		delete(c.notified, conv.ID)
		c.mu.Unlock()
		return
	}
	if seen {
		c.mu.Unlock()
		if notifyNew {
			metrics.WaitingNotifications.WithLabelValues("suppressed").Inc()
		}
		return
	}
	c.notified[conv.ID] = struct{}{}
	c.mu.Unlock()

	if !notifyNew {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	err := c.notifier.NotifyWaiting(nctx, notify.WaitingNotice{
		ConversationID: conv.ID,
		DisplayName:    conv.Label(),
		At:             c.now(),
	})
	if err != nil {
		metrics.WaitingNotifications.WithLabelValues("failed").Inc()
		c.log.Warn("waiting notification failed", "conversation", conv.ID, "error", err)
		return
	}
	metrics.WaitingNotifications.WithLabelValues("sent").Inc()
}

func (c *Client) markRead(ctx context.Context, conversationID string) error {
	if err := c.store.MarkRead(conversationID); err != nil {
		return err
	}
	return c.markRemoteRead(ctx, conversationID)
}

func (c *Client) markRemoteRead(ctx context.Context, conversationID string) error {
	if c.reads == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	return c.reads.MarkRead(rctx, conversationID)
}

func (c *Client) evaluateSLA(conv model.Conversation) string {
	ev, err := c.store.SLA(conv.ID, c.now())
	if err != nil || conv.SLADeadlineAt == nil {
		return ""
	}
	return ev.String()
}
