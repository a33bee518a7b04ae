package api

import (
	"context"
	"net/http"

	"github.com/collectdesk/convo/internal/model"
)

// ListQuickReplies fetches the tenant's canned reply catalog.
func (c *Client) ListQuickReplies(ctx context.Context) ([]model.QuickReply, error) {
	var result []model.QuickReply
	if err := c.do(ctx, http.MethodGet, c.tenantPath("/quick_replies"), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTags fetches the tenant's conversation tag catalog.
func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	var result []model.Tag
	if err := c.do(ctx, http.MethodGet, c.tenantPath("/tags"), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
