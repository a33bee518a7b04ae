// Package model defines the conversation and message records shared by the
// engine components, together with the partial-update shapes delivered by the
// realtime feed.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ConversationStatus is the operator-facing state of a conversation.
type ConversationStatus string

const (
	StatusOpen    ConversationStatus = "open"
	StatusWaiting ConversationStatus = "waiting"
	StatusClosed  ConversationStatus = "closed"
)

// ParseConversationStatus validates a status string.
func ParseConversationStatus(s string) (ConversationStatus, error) {
	switch ConversationStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusWaiting:
		return StatusWaiting, nil
	case StatusClosed:
		return StatusClosed, nil
	default:
		return "", fmt.Errorf("invalid conversation status %q (expected open, waiting or closed)", s)
	}
}

// Conversation is a thread with one external remote party.
type Conversation struct {
	ID             string             `json:"id"`
	RemoteIdentity string             `json:"remote_identity"`
	DisplayName    *string            `json:"display_name,omitempty"`
	Status         ConversationStatus `json:"status"`
	LinkedEntityID *string            `json:"linked_entity_id,omitempty"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	SLADeadlineAt  *time.Time         `json:"sla_deadline_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UnreadCount    int                `json:"unread_count"`
	Tags           []string           `json:"tags,omitempty"`
}

// Label returns the display name, falling back to the remote identity.
func (c *Conversation) Label() string {
	if c.DisplayName != nil && strings.TrimSpace(*c.DisplayName) != "" {
		return *c.DisplayName
	}
	return c.RemoteIdentity
}

// Clone returns a deep copy safe to hand to readers.
func (c Conversation) Clone() Conversation {
	out := c
	if c.DisplayName != nil {
		v := *c.DisplayName
		out.DisplayName = &v
	}
	if c.LinkedEntityID != nil {
		v := *c.LinkedEntityID
		out.LinkedEntityID = &v
	}
	if c.SLADeadlineAt != nil {
		v := *c.SLADeadlineAt
		out.SLADeadlineAt = &v
	}
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	return out
}

// ConversationPatch is a partial conversation row. Only fields with Set=true
// are merged into the stored conversation.
type ConversationPatch struct {
	ID             string                    `json:"id"`
	RemoteIdentity Field[string]             `json:"remote_identity,omitzero"`
	DisplayName    Field[*string]            `json:"display_name,omitzero"`
	Status         Field[ConversationStatus] `json:"status,omitzero"`
	LinkedEntityID Field[*string]            `json:"linked_entity_id,omitzero"`
	LastActivityAt Field[time.Time]          `json:"last_activity_at,omitzero"`
	SLADeadlineAt  Field[*time.Time]         `json:"sla_deadline_at,omitzero"`
	CreatedAt      Field[time.Time]          `json:"created_at,omitzero"`
	UnreadCount    Field[int]                `json:"unread_count,omitzero"`
}

// PatchFromConversation builds a patch carrying every field of c.
func PatchFromConversation(c Conversation) ConversationPatch {
	return ConversationPatch{
		ID:             c.ID,
		RemoteIdentity: Some(c.RemoteIdentity),
		DisplayName:    Some(c.DisplayName),
		Status:         Some(c.Status),
		LinkedEntityID: Some(c.LinkedEntityID),
		LastActivityAt: Some(c.LastActivityAt),
		SLADeadlineAt:  Some(c.SLADeadlineAt),
		CreatedAt:      Some(c.CreatedAt),
		UnreadCount:    Some(c.UnreadCount),
	}
}

// Tag is a conversation label from the tenant catalog.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// QuickReply is a canned response template.
type QuickReply struct {
	ID       string `json:"id"`
	Shortcut string `json:"shortcut"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}
