package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/collectdesk/convo/internal/model"
)

// ListConversations fetches the conversation snapshot used to hydrate the
// store. An empty status lists every non-deleted conversation.
func (c *Client) ListConversations(ctx context.Context, status model.ConversationStatus) ([]model.Conversation, error) {
	path := "/conversations"
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}
	var result struct {
		Payload []model.Conversation `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, c.tenantPath(path), nil, &result); err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var result model.Conversation
	if err := c.do(ctx, http.MethodGet, c.tenantPath("/conversations/"+url.PathEscape(id)), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateConversationStatus persists a status transition.
func (c *Client) UpdateConversationStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	path := fmt.Sprintf("/conversations/%s/status", url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, c.tenantPath(path), map[string]string{"status": string(status)}, nil)
}

// LinkEntity links a conversation to a client record.
func (c *Client) LinkEntity(ctx context.Context, id, entityID string) error {
	path := fmt.Sprintf("/conversations/%s/link", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, c.tenantPath(path), map[string]string{"linked_entity_id": entityID}, nil)
}

// UnlinkEntity removes the client link.
func (c *Client) UnlinkEntity(ctx context.Context, id string) error {
	path := fmt.Sprintf("/conversations/%s/link", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, c.tenantPath(path), nil, nil)
}

// AssignTag assigns a tag to a conversation.
func (c *Client) AssignTag(ctx context.Context, id, tagID string) error {
	path := fmt.Sprintf("/conversations/%s/tags", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, c.tenantPath(path), map[string]string{"tag_id": tagID}, nil)
}

// RemoveTag removes a tag from a conversation.
func (c *Client) RemoveTag(ctx context.Context, id, tagID string) error {
	path := fmt.Sprintf("/conversations/%s/tags/%s", url.PathEscape(id), url.PathEscape(tagID))
	return c.do(ctx, http.MethodDelete, c.tenantPath(path), nil, nil)
}

// MarkRead resets the persisted unread counter.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, c.tenantPath(path), nil, nil)
}
