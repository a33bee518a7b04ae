package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collectdesk/convo/internal/model"
)

func TestListConversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tenants/t1/conversations" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("status") != "waiting" {
			t.Errorf("Expected status filter, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"payload":[{"id":"c1","remote_identity":"+551100","status":"waiting","created_at":"2026-01-01T10:00:00Z","last_activity_at":"2026-01-01T10:05:00Z","unread_count":2}]}`))
	}))
	defer server.Close()

	convs, err := newTestClient(server.URL).ListConversations(context.Background(), model.StatusWaiting)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" || convs[0].UnreadCount != 2 {
		t.Fatalf("Unexpected conversations %+v", convs)
	}
}

func TestSendMessage(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tenants/t1/conversations/c1/messages" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ClientMessageID != "m1" || req.Content == nil || *req.Content != "olá" || !req.CreatedAt.Equal(created) {
			t.Errorf("Unexpected send request %+v", req)
		}
		_, _ = w.Write([]byte(`{"external_ref":"wamid.123"}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).SendMessage(context.Background(), SendRequest{
		ClientMessageID: "m1",
		ConversationID:  "c1",
		Type:            model.TypeText,
		Content:         model.String("olá"),
		CreatedAt:       created,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.ExternalRef != "wamid.123" {
		t.Errorf("Unexpected ref %q", res.ExternalRef)
	}
}

func TestSaveNoteMarksInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tenants/t1/conversations/c1/notes" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.IsInternal {
			t.Error("Expected is_internal=true")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SaveNote(context.Background(), SendRequest{ConversationID: "c1", ClientMessageID: "n1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestUploadMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Fatalf("Unexpected content type %q", r.Header.Get("Content-Type"))
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		var gotFile, gotConv bool
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "conversation_id":
				gotConv = string(data) == "c1"
			case "file":
				gotFile = part.FileName() == "boleto.pdf" && string(data) == "%PDF"
			}
		}
		if !gotFile || !gotConv {
			t.Errorf("Missing multipart parts file=%v conv=%v", gotFile, gotConv)
		}
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/boleto.pdf","mime_type":"application/pdf"}`))
	}))
	defer server.Close()

	up, err := newTestClient(server.URL).UploadMedia(context.Background(), "c1", "boleto.pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if up.URL != "https://cdn.example.com/boleto.pdf" {
		t.Errorf("Unexpected URL %q", up.URL)
	}
}

func TestUploadMediaWithoutURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).UploadMedia(context.Background(), "c1", "a.png", "image/png", []byte{1}); err == nil {
		t.Fatal("Expected error for missing URL")
	}
}

func TestConversationMutations(t *testing.T) {
	type call struct{ method, path string }
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx := context.Background()
	client := newTestClient(server.URL)
	_ = client.UpdateConversationStatus(ctx, "c1", model.StatusClosed)
	_ = client.LinkEntity(ctx, "c1", "client-9")
	_ = client.UnlinkEntity(ctx, "c1")
	_ = client.AssignTag(ctx, "c1", "vip")
	_ = client.RemoveTag(ctx, "c1", "vip")

	want := []call{
		{http.MethodPatch, "/api/v1/tenants/t1/conversations/c1/status"},
		{http.MethodPut, "/api/v1/tenants/t1/conversations/c1/link"},
		{http.MethodDelete, "/api/v1/tenants/t1/conversations/c1/link"},
		{http.MethodPost, "/api/v1/tenants/t1/conversations/c1/tags"},
		{http.MethodDelete, "/api/v1/tenants/t1/conversations/c1/tags/vip"},
	}
	if len(calls) != len(want) {
		t.Fatalf("Expected %d calls, got %d: %+v", len(want), len(calls), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestHistoryFromMessages(t *testing.T) {
	msgs := []model.ChatMessage{
		{ID: "1", Direction: model.Inbound, Content: model.String("Oi")},
		{ID: "2", Direction: model.Outbound, Content: model.String("Olá!")},
		{ID: "3", Direction: model.Outbound, IsInternal: true, Content: model.String("cliente difícil")},
		{ID: "4", Direction: model.Inbound, Type: model.TypeImage},
	}
	turns := HistoryFromMessages(msgs)
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %+v", turns)
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("Unexpected roles %+v", turns)
	}
}
