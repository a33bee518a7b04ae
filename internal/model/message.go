package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction tells whether a message came from the remote party or the operator side.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
)

// MediaTypeFromMIME maps a MIME type to the closest message type.
func MediaTypeFromMIME(mime string) MessageType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "image/webp":
		return TypeSticker
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	default:
		return TypeDocument
	}
}

// MessageStatus is the delivery state of an outbound message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessagePending:
		return 1
	case MessageSent:
		return 2
	case MessageDelivered:
		return 3
	case MessageRead:
		return 4
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
// Delivery states only move forward; failed is reachable from pending and
// sent and nothing leaves it.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == next {
		return false
	}
	if s == MessageFailed {
		return false
	}
	if next == MessageFailed {
		return s == MessagePending || s == MessageSent || s == ""
	}
	if next.rank() == 0 {
		return false
	}
	return next.rank() > s.rank()
}

// ChatMessage is one unit of content in a conversation.
type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Direction      Direction     `json:"direction"`
	IsInternal     bool          `json:"is_internal"`
	Type           MessageType   `json:"message_type"`
	Content        *string       `json:"content,omitempty"`
	MediaURL       *string       `json:"media_url,omitempty"`
	MediaMimeType  *string       `json:"media_mime_type,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	ExternalRef    *string       `json:"external_ref,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Text returns the content or an empty string.
func (m *ChatMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Before orders messages by created_at, ties broken by identity.
func (m *ChatMessage) Before(other *ChatMessage) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SameImmutable reports whether two deliveries of one identity agree on the
// fields that never change after creation.
func (m *ChatMessage) SameImmutable(other *ChatMessage) error {
	if m.ConversationID != other.ConversationID {
		return fmt.Errorf("conversation_id %q != %q", m.ConversationID, other.ConversationID)
	}
	if !equalStringPtr(m.Content, other.Content) {
		return fmt.Errorf("content differs")
	}
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return fmt.Errorf("created_at %s != %s", m.CreatedAt.Format(time.RFC3339Nano), other.CreatedAt.Format(time.RFC3339Nano))
	}
	return nil
}

// Clone returns a deep copy.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Content = cloneString(m.Content)
	out.MediaURL = cloneString(m.MediaURL)
	out.MediaMimeType = cloneString(m.MediaMimeType)
	out.ExternalRef = cloneString(m.ExternalRef)
	return out
}

// MessagePatch is an update event for an already-known message. Status,
// ExternalRef and MediaURL are mutable; ConversationID, Content and CreatedAt
// are carried only to assert they did not change.
type MessagePatch struct {
	ConversationID Field[string]        `json:"conversation_id,omitzero"`
	Status         Field[MessageStatus] `json:"status,omitzero"`
	ExternalRef    Field[*string]       `json:"external_ref,omitzero"`
	MediaURL       Field[*string]       `json:"media_url,omitzero"`
	Content        Field[*string]       `json:"content,omitzero"`
	CreatedAt      Field[time.Time]     `json:"created_at,omitzero"`
}

// StatusPatch is a patch that only moves the delivery status.
func StatusPatch(status MessageStatus) MessagePatch {
	return MessagePatch{Status: Some(status)}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// String returns a pointer to s, for optional fields.
func String(s string) *string {
	return &s
}
