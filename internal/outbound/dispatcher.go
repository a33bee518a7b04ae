// Package outbound sequences operator actions into the store. A send is two
// phased: the message is appended as pending under a client generated id,
// then reconciled to sent or failed once the collaborator answers. The
// backend stores the message under the same id, so the realtime echo is
// deduplicated against the optimistic copy.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/metrics"
	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/store"
)

// Sender is the external collaborator surface. *api.Client implements it.
type Sender interface {
	SendMessage(ctx context.Context, req api.SendRequest) (api.SendResult, error)
	SaveNote(ctx context.Context, req api.SendRequest) error
	UploadMedia(ctx context.Context, conversationID, filename, mimeType string, content []byte) (api.MediaUpload, error)
	UpdateConversationStatus(ctx context.Context, id string, status model.ConversationStatus) error
	LinkEntity(ctx context.Context, id, entityID string) error
	UnlinkEntity(ctx context.Context, id string) error
	AssignTag(ctx context.Context, id, tagID string) error
	RemoveTag(ctx context.Context, id, tagID string) error
}

// SendError is a failed send. The message it names was marked failed.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("message %s failed: %s", e.MessageID, api.Reason(e.Err))
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrEmptyMessage rejects sends without text or media.
var ErrEmptyMessage = errors.New("message is empty")

// Media is a file to upload and send.
type Media struct {
	Filename string
	MimeType string
	Content  []byte
	Caption  string
}

// Dispatcher runs outbound actions against a store and a sender.
type Dispatcher struct {
	store  *store.Store
	sender Sender
	log    *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New returns a dispatcher. A nil logger uses slog.Default.
func New(st *store.Store, sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  st,
		sender: sender,
		log:    logger,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SendText sends a text message to the remote party.
func (d *Dispatcher) SendText(ctx context.Context, conversationID, text string) (model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	msg := d.pending(conversationID, model.TypeText, false)
	msg.Content = &text
	return d.send(ctx, "text", msg)
}

// AcceptSuggestion sends accepted suggestion text through the text path.
func (d *Dispatcher) AcceptSuggestion(ctx context.Context, conversationID, text string) (model.ChatMessage, error) {
	return d.SendText(ctx, conversationID, text)
}

// SendMedia uploads a file, then sends it. The message is appended before
// the upload so it renders as pending while the upload runs.
func (d *Dispatcher) SendMedia(ctx context.Context, conversationID string, media Media) (model.ChatMessage, error) {
	if len(media.Content) == 0 {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	msg := d.pending(conversationID, model.MediaTypeFromMIME(mimeType), false)
	msg.MediaMimeType = &mimeType
	if media.Caption != "" {
		caption := media.Caption
		msg.Content = &caption
	}
	if _, err := d.store.AppendMessage(msg); err != nil {
		return msg, err
	}

	up, err := d.sender.UploadMedia(ctx, conversationID, media.Filename, mimeType, media.Content)
	if err != nil {
		return d.fail(ctx, "media", msg, err)
	}
	if _, err := d.store.ApplyMessageUpdate(msg.ID, model.MessagePatch{MediaURL: model.Some(model.String(up.URL))}); err != nil {
		return msg, err
	}
	msg.MediaURL = model.String(up.URL)
	return d.deliver(ctx, "media", msg)
}

// SendNote saves an internal note. Notes never reach the remote party but
// render in the same timeline.
func (d *Dispatcher) SendNote(ctx context.Context, conversationID, text string) (model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	msg := d.pending(conversationID, model.TypeText, true)
	msg.Content = &text
	if _, err := d.store.AppendMessage(msg); err != nil {
		return msg, err
	}
	if err := d.sender.SaveNote(ctx, requestFor(msg)); err != nil {
		return d.fail(ctx, "note", msg, err)
	}
	metrics.Sends.WithLabelValues("note", "sent").Inc()
	return d.settle(msg, model.MessagePatch{Status: model.Some(model.MessageSent)})
}

// Retry re-sends a failed message as a new message with a new id. The
// failed message stays failed.
func (d *Dispatcher) Retry(ctx context.Context, messageID string) (model.ChatMessage, error) {
	old, ok := d.store.Message(messageID)
	if !ok {
		return model.ChatMessage{}, fmt.Errorf("message %s is not loaded", messageID)
	}
	if old.Status != model.MessageFailed {
		return model.ChatMessage{}, fmt.Errorf("message %s is %s, only failed messages can be retried", messageID, old.Status)
	}
	if old.IsInternal {
		return d.SendNote(ctx, old.ConversationID, old.Text())
	}
	if old.Type != model.TypeText && old.MediaURL == nil {
		return model.ChatMessage{}, fmt.Errorf("message %s never finished uploading; attach the file again", messageID)
	}

	msg := d.pending(old.ConversationID, old.Type, false)
	msg.Content = old.Content
	msg.MediaURL = old.MediaURL
	msg.MediaMimeType = old.MediaMimeType
	return d.send(ctx, "retry", msg)
}

// ChangeStatus persists a status transition, then applies it locally.
func (d *Dispatcher) ChangeStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	if _, err := model.ParseConversationStatus(string(status)); err != nil {
		return err
	}
	if err := d.sender.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		metrics.Sends.WithLabelValues("status", "failed").Inc()
		return err
	}
	metrics.Sends.WithLabelValues("status", "sent").Inc()
	return ignoreUnloaded(d.store.SetStatus(conversationID, status))
}

// LinkClient links the conversation to a client record. A backend answer
// that the link already exists counts as success.
func (d *Dispatcher) LinkClient(ctx context.Context, conversationID, entityID string) error {
	if err := d.remote("link", d.sender.LinkEntity(ctx, conversationID, entityID)); err != nil {
		return err
	}
	_, err := d.store.LinkEntity(conversationID, entityID)
	return ignoreUnloaded(err)
}

// UnlinkClient removes the client link.
func (d *Dispatcher) UnlinkClient(ctx context.Context, conversationID string) error {
	if err := d.remote("unlink", d.sender.UnlinkEntity(ctx, conversationID)); err != nil {
		return err
	}
	_, err := d.store.UnlinkEntity(conversationID)
	return ignoreUnloaded(err)
}

// AssignTag tags the conversation. Assigning a tag twice is not an error.
func (d *Dispatcher) AssignTag(ctx context.Context, conversationID, tagID string) error {
	if err := d.remote("tag", d.sender.AssignTag(ctx, conversationID, tagID)); err != nil {
		return err
	}
	_, err := d.store.AssignTag(conversationID, tagID)
	return ignoreUnloaded(err)
}

// RemoveTag untags the conversation.
func (d *Dispatcher) RemoveTag(ctx context.Context, conversationID, tagID string) error {
	err := d.sender.RemoveTag(ctx, conversationID, tagID)
	if api.IsNotFoundError(err) {
		err = nil
	}
	if err := d.remote("untag", err); err != nil {
		return err
	}
	_, err = d.store.RemoveTag(conversationID, tagID)
	return ignoreUnloaded(err)
}

func (d *Dispatcher) remote(kind string, err error) error {
	switch {
	case err == nil:
		metrics.Sends.WithLabelValues(kind, "sent").Inc()
		return nil
	case api.IsAlreadyExists(err):
		metrics.Sends.WithLabelValues(kind, "noop").Inc()
		d.log.Debug("remote state already satisfied", "action", kind, "reason", api.Reason(err))
		return nil
	default:
		metrics.Sends.WithLabelValues(kind, "failed").Inc()
		return err
	}
}

func (d *Dispatcher) pending(conversationID string, typ model.MessageType, internal bool) model.ChatMessage {
	return model.ChatMessage{
		ID:             d.newID(),
		ConversationID: conversationID,
		Direction:      model.Outbound,
		IsInternal:     internal,
		Type:           typ,
		Status:         model.MessagePending,
		CreatedAt:      d.now(),
	}
}

func (d *Dispatcher) send(ctx context.Context, kind string, msg model.ChatMessage) (model.ChatMessage, error) {
	if _, err := d.store.AppendMessage(msg); err != nil {
		return msg, err
	}
	return d.deliver(ctx, kind, msg)
}

func (d *Dispatcher) deliver(ctx context.Context, kind string, msg model.ChatMessage) (model.ChatMessage, error) {
	res, err := d.sender.SendMessage(ctx, requestFor(msg))
	if err != nil {
		return d.fail(ctx, kind, msg, err)
	}
	metrics.Sends.WithLabelValues(kind, "sent").Inc()
	patch := model.MessagePatch{Status: model.Some(model.MessageSent)}
	if res.ExternalRef != "" {
		patch.ExternalRef = model.Some(model.String(res.ExternalRef))
	}
	return d.settle(msg, patch)
}

// fail marks the optimistic message failed. A cancelled send fails too, so
// nothing is left pending.
func (d *Dispatcher) fail(ctx context.Context, kind string, msg model.ChatMessage, cause error) (model.ChatMessage, error) {
	outcome := "failed"
	if ctx.Err() != nil {
		outcome = "canceled"
	}
	metrics.Sends.WithLabelValues(kind, outcome).Inc()
	d.log.Warn("send failed", "conversation", msg.ConversationID, "message", msg.ID, "kind", kind, "error", cause)

	settled, err := d.settle(msg, model.StatusPatch(model.MessageFailed))
	if err != nil {
		return settled, err
	}
	return settled, &SendError{MessageID: msg.ID, Err: cause}
}

func (d *Dispatcher) settle(msg model.ChatMessage, patch model.MessagePatch) (model.ChatMessage, error) {
	if _, err := d.store.ApplyMessageUpdate(msg.ID, patch); err != nil {
		return msg, err
	}
	if cur, ok := d.store.Message(msg.ID); ok {
		return cur, nil
	}
	return msg, nil
}

func requestFor(msg model.ChatMessage) api.SendRequest {
	return api.SendRequest{
		ClientMessageID: msg.ID,
		ConversationID:  msg.ConversationID,
		Type:            msg.Type,
		Content:         msg.Content,
		MediaURL:        msg.MediaURL,
		MediaMimeType:   msg.MediaMimeType,
		IsInternal:      msg.IsInternal,
		CreatedAt:       msg.CreatedAt,
	}
}

func ignoreUnloaded(err error) error {
	if errors.Is(err, store.ErrUnknownConversation) {
		return nil
	}
	return err
}
