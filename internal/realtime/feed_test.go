package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/collectdesk/convo/internal/ingest"
	"github.com/collectdesk/convo/internal/model"
)

// mockFeed is a minimal cable server for testing.
func mockFeed(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"actioncable-v1-json"},
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		handler(r.Context(), conn, r)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// handshake plays welcome + confirm and returns the quoted identifier.
func handshake(ctx context.Context, conn *websocket.Conn) string {
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
	_, data, _ := conn.Read(ctx)
	var f frame
	_ = json.Unmarshal(data, &f)
	id, _ := json.Marshal(f.Identifier)
	_ = conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf(`{"type":"confirm_subscription","identifier":%s}`, id)))
	return string(id)
}

func broadcast(ctx context.Context, conn *websocket.Conn, id, payload string) {
	_ = conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf(`{"identifier":%s,"message":%s}`, id, payload)))
}

func TestConnectSendsBearerToken(t *testing.T) {
	var auth atomic.Value
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()
	if got := auth.Load(); got != "Bearer tok" {
		t.Errorf("Authorization = %v", got)
	}
}

func TestConnectRejectsNoWelcome(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"disconnect","reason":"unauthorized"}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, wsURL(srv), ""); err == nil {
		t.Fatal("expected error for non-welcome frame")
	}
}

func TestSubscribeSendsTenantIdentifier(t *testing.T) {
	got := make(chan ChannelID, 1)
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		var f frame
		_ = json.Unmarshal(data, &f)
		var id ChannelID
		_ = json.Unmarshal([]byte(f.Identifier), &id)
		got <- id
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping","message":1}`))
		quoted, _ := json.Marshal(f.Identifier)
		_ = conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf(`{"type":"confirm_subscription","identifier":%s}`, quoted)))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Subscribe(ctx, ChannelID{TenantID: "acme", OperatorID: "op-1"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	id := <-got
	if id.Channel != FeedChannel || id.TenantID != "acme" || id.OperatorID != "op-1" {
		t.Errorf("identifier = %+v", id)
	}
}

func TestSubscribeReject(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
		_, _, _ = conn.Read(ctx)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"reject_subscription"}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Subscribe(ctx, ChannelID{TenantID: "acme"}); err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestListenDecodesFeedEvents(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		id := handshake(ctx, conn)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping","message":1234}`))
		broadcast(ctx, conn, id, `{"table":"contacts","operation":"insert","row":{"id":"x"}}`)
		broadcast(ctx, conn, id, `{"table":"messages","operation":"update","row":{"id":"m1","status":"delivered"}}`)
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _ := Connect(ctx, wsURL(srv), "")
	defer func() { _ = c.Close() }()
	_ = c.Subscribe(ctx, ChannelID{TenantID: "acme"})

	select {
	case d := <-c.Listen(ctx, DefaultPingTimeout):
		if d.Err != nil {
			t.Fatalf("delivery error: %v", d.Err)
		}
		upd, ok := d.Event.(ingest.MessageUpdateEvent)
		if !ok {
			t.Fatalf("event = %#v, want MessageUpdateEvent", d.Event)
		}
		if upd.ID != "m1" || upd.Patch.Status.Value != model.MessageDelivered {
			t.Errorf("unexpected update %+v", upd)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestListenHandlesDisconnect(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		handshake(ctx, conn)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"disconnect","reason":"server_restart","reconnect":true}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _ := Connect(ctx, wsURL(srv), "")
	defer func() { _ = c.Close() }()
	_ = c.Subscribe(ctx, ChannelID{TenantID: "acme"})

	select {
	case d := <-c.Listen(ctx, DefaultPingTimeout):
		if d.Err == nil || !strings.Contains(d.Err.Error(), "server_restart") {
			t.Fatalf("expected disconnect error, got %v", d.Err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for disconnect")
	}
}

func TestListenPingTimeoutOnSilence(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		handshake(ctx, conn)
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _ := Connect(ctx, wsURL(srv), "")
	defer func() { _ = c.Close() }()
	_ = c.Subscribe(ctx, ChannelID{TenantID: "acme"})

	select {
	case d := <-c.Listen(ctx, 200*time.Millisecond):
		if !errors.Is(d.Err, ErrPingTimeout) {
			t.Fatalf("expected ErrPingTimeout, got: %v", d.Err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for ping timeout")
	}
}

func TestPresenceKeepalive(t *testing.T) {
	var presence int32
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		handshake(ctx, conn)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f frame
			_ = json.Unmarshal(data, &f)
			if f.Command == "message" && strings.Contains(f.Data, "update_presence") {
				atomic.AddInt32(&presence, 1)
			}
		}
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	c, _ := Connect(ctx, wsURL(srv), "")
	defer func() { _ = c.Close() }()
	_ = c.Subscribe(ctx, ChannelID{TenantID: "acme"})
	c.StartPresence(ctx, 100*time.Millisecond, nil)

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&presence); n < 2 {
		t.Errorf("expected at least 2 presence frames, got %d", n)
	}
}

func TestFollowReconnectsAndRehydrates(t *testing.T) {
	var conns int32
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		id := handshake(ctx, conn)
		row := fmt.Sprintf(`{"table":"messages","operation":"insert","row":{"id":"m%d","conversation_id":"c1","direction":"inbound","created_at":"2026-01-01T00:00:00Z"}}`, n)
		broadcast(ctx, conn, id, row)
		if n == 1 {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"disconnect","reason":"restart"}`))
			return
		}
		time.Sleep(time.Second)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var hydrations int32
	out := make(chan ingest.Event, 8)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, Options{
			URL:        wsURL(srv),
			Channel:    ChannelID{TenantID: "acme"},
			MinBackoff: 10 * time.Millisecond,
			MaxBackoff: 20 * time.Millisecond,
			OnConnect: func(context.Context) error {
				atomic.AddInt32(&hydrations, 1)
				return nil
			},
		}, out)
	}()

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-out:
			got = append(got, ev.(ingest.MessageInsertEvent).Message.ID)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if got[0] != "m1" || got[1] != "m2" {
		t.Errorf("events = %v", got)
	}
	if atomic.LoadInt32(&hydrations) < 2 {
		t.Errorf("expected a snapshot per connection, got %d", hydrations)
	}
}

func TestFollowStopsWhenOnConnectFails(t *testing.T) {
	srv := mockFeed(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		handshake(ctx, conn)
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	want := errors.New("snapshot conflict")
	err := Follow(ctx, Options{
		URL:       wsURL(srv),
		Channel:   ChannelID{TenantID: "acme"},
		OnConnect: func(context.Context) error { return want },
	}, make(chan ingest.Event))
	if !errors.Is(err, want) {
		t.Fatalf("Follow = %v, want %v", err, want)
	}
}

func TestCableURL(t *testing.T) {
	tests := map[string]string{
		"https://crm.example.com/api": "wss://crm.example.com/cable",
		"http://localhost:3000":       "ws://localhost:3000/cable",
	}
	for in, want := range tests {
		if got := CableURL(in); got != want {
			t.Errorf("CableURL(%q) = %q, want %q", in, got, want)
		}
	}
}
