package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/collectdesk/convo/internal/model"
)

// ListMessages fetches the most recent messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var result struct {
		Payload []model.ChatMessage `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, c.tenantPath(path), nil, &result); err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// SendMessage hands an outbound message to the external transport. It is
// never retried here.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(req.ConversationID))
	var result SendResult
	if err := c.do(ctx, http.MethodPost, c.tenantPath(path), req, &result); err != nil {
		return SendResult{}, err
	}
	return result, nil
}

// SaveNote persists an internal note. Notes never reach the remote party.
func (c *Client) SaveNote(ctx context.Context, req SendRequest) error {
	req.IsInternal = true
	path := fmt.Sprintf("/conversations/%s/notes", url.PathEscape(req.ConversationID))
	return c.do(ctx, http.MethodPost, c.tenantPath(path), req, nil)
}

// UploadMedia stores a file in the object store and returns its public URL.
func (c *Client) UploadMedia(ctx context.Context, conversationID, filename, mimeType string, content []byte) (MediaUpload, error) {
	var result MediaUpload
	fields := map[string]string{"conversation_id": conversationID}
	if err := c.postMultipart(ctx, "/media", fields, filename, mimeType, content, &result); err != nil {
		return MediaUpload{}, err
	}
	if result.URL == "" {
		return MediaUpload{}, fmt.Errorf("media upload returned no URL")
	}
	return result, nil
}
