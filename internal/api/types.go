package api

import (
	"time"

	"github.com/collectdesk/convo/internal/model"
)

// SendRequest is an outbound message handed to the transport. ClientMessageID
// is the local correlation id; the backend stores the message under it so
// that the realtime echo deduplicates against the optimistic copy.
type SendRequest struct {
	ClientMessageID string            `json:"client_message_id"`
	ConversationID  string            `json:"conversation_id"`
	Type            model.MessageType `json:"message_type"`
	Content         *string           `json:"content,omitempty"`
	MediaURL        *string           `json:"media_url,omitempty"`
	MediaMimeType   *string           `json:"media_mime_type,omitempty"`
	IsInternal      bool              `json:"is_internal,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// SendResult is the transport acknowledgement.
type SendResult struct {
	ExternalRef string `json:"external_ref"`
}

// MediaUpload is the object-store answer for an uploaded file.
type MediaUpload struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// SuggestionTurn is one history entry sent to the suggestion endpoint.
type SuggestionTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SuggestionContext is optional debtor context for the suggestion prompt.
type SuggestionContext struct {
	ClientName string   `json:"client_name,omitempty"`
	DebtAmount *float64 `json:"debt_amount,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// SuggestionRequest asks for a streamed reply suggestion.
type SuggestionRequest struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []SuggestionTurn   `json:"messages"`
	Context        *SuggestionContext `json:"context,omitempty"`
}

// HistoryFromMessages converts a rendered timeline into suggestion turns.
// Internal notes and media-only messages are left out.
func HistoryFromMessages(msgs []model.ChatMessage) []SuggestionTurn {
	turns := make([]SuggestionTurn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsInternal || m.Text() == "" {
			continue
		}
		role := "user"
		if m.Direction == model.Outbound {
			role = "assistant"
		}
		turns = append(turns, SuggestionTurn{Role: role, Content: m.Text()})
	}
	return turns
}
