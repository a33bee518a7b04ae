package ingest

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/collectdesk/convo/internal/model"
)

// snapshotConcurrency bounds parallel message fetches during hydration.
const snapshotConcurrency = 4

// SnapshotSource reads conversations and messages. *api.Client implements it.
type SnapshotSource interface {
	ListConversations(ctx context.Context, status model.ConversationStatus) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error)
}

// FetchSnapshot reads every conversation and, for those not closed, up to
// messageLimit recent messages.
func FetchSnapshot(ctx context.Context, src SnapshotSource, messageLimit int) (Snapshot, error) {
	convs, err := src.ListConversations(ctx, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("list conversations: %w", err)
	}

	var (
		mu   sync.Mutex
		msgs []model.ChatMessage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for _, conv := range convs {
		if conv.Status == model.StatusClosed {
			continue
		}
		id := conv.ID
		g.Go(func() error {
			page, err := src.ListMessages(gctx, id, messageLimit)
			if err != nil {
				return fmt.Errorf("list messages for %s: %w", id, err)
			}
			mu.Lock()
			msgs = append(msgs, page...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Conversations: convs, Messages: msgs}, nil
}
