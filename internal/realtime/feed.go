// Package realtime is the websocket transport for the tenant feed. It speaks
// the ActionCable handshake (welcome, subscribe, confirm, pings) and decodes
// each broadcast into an ingest event.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/collectdesk/convo/internal/ingest"
)

// DefaultPingTimeout is how long a connection may stay silent, server pings
// included, before it is treated as dead. Servers ping every ~3s.
const DefaultPingTimeout = 15 * time.Second

// FeedChannel is the server-side channel broadcasting tenant row changes.
const FeedChannel = "TenantFeedChannel"

// ErrPingTimeout is returned when no frames arrive within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// maxReadSize caps a single websocket frame.
const maxReadSize = 1 << 20

type frame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Command    string          `json:"command,omitempty"`
	Data       string          `json:"data,omitempty"`
	Reconnect  *bool           `json:"reconnect,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// ChannelID identifies the subscription. It is JSON encoded into the
// identifier string.
type ChannelID struct {
	Channel    string `json:"channel"`
	TenantID   string `json:"tenant_id"`
	OperatorID string `json:"operator_id,omitempty"`
}

// Delivery is one decoded feed event or a terminal error.
type Delivery struct {
	Event ingest.Event
	Err   error
}

// Conn is a subscribed feed connection.
type Conn struct {
	conn       *websocket.Conn
	identifier string
	log        *slog.Logger
}

// Connect dials the feed endpoint with a bearer token and waits for the
// welcome frame.
func Connect(ctx context.Context, cableURL, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, cableURL, &websocket.DialOptions{
		Subprotocols: []string{"actioncable-v1-json"},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("parse welcome: %w", err)
	}
	if f.Type != "welcome" {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("expected welcome, got %q (reason: %s)", f.Type, f.Reason)
	}
	return &Conn{conn: conn, log: slog.Default()}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Subscribe subscribes to the feed channel and waits for confirmation.
func (c *Conn) Subscribe(ctx context.Context, id ChannelID) error {
	if id.Channel == "" {
		id.Channel = FeedChannel
	}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identifier: %w", err)
	}
	data, _ := json.Marshal(frame{Command: "subscribe", Identifier: string(idJSON)})
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	for {
		_, resp, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read subscription response: %w", err)
		}
		var f frame
		if err := json.Unmarshal(resp, &f); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		switch f.Type {
		case "confirm_subscription":
			c.identifier = string(idJSON)
			return nil
		case "reject_subscription":
			return fmt.Errorf("subscription rejected for tenant %s", id.TenantID)
		case "ping":
			continue
		default:
			return fmt.Errorf("unexpected response type: %q", f.Type)
		}
	}
}

// StartPresence announces the operator as online every interval until ctx
// is cancelled. onError is called once on the first write failure.
func (c *Conn) StartPresence(ctx context.Context, interval time.Duration, onError func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, _ := json.Marshal(frame{
					Command:    "message",
					Identifier: c.identifier,
					Data:       `{"action":"update_presence"}`,
				})
				if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
					if onError != nil && ctx.Err() == nil {
						onError(fmt.Errorf("presence write: %w", err))
					}
					return
				}
			}
		}
	}()
}

// Listen starts the read loop. Pings and control frames are handled
// silently; broadcasts that do not decode into a feed event are logged and
// skipped. The channel closes after a terminal Delivery with Err set, or
// when ctx is cancelled. A pingTimeout of 0 disables silence detection.
func (c *Conn) Listen(ctx context.Context, pingTimeout time.Duration) <-chan Delivery {
	ch := make(chan Delivery, 64)
	go func() {
		defer close(ch)
		for {
			readCtx := ctx
			var readCancel context.CancelFunc
			if pingTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, pingTimeout)
			}
			_, data, err := c.conn.Read(readCtx)
			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				if pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
					err = ErrPingTimeout
				}
				select {
				case ch <- Delivery{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				c.log.Debug("malformed feed frame skipped", "error", err)
				continue
			}

			switch {
			case f.Type == "ping", f.Type == "confirm_subscription", f.Type == "reject_subscription":
				continue
			case f.Type == "disconnect":
				reconnect := f.Reconnect != nil && *f.Reconnect
				select {
				case ch <- Delivery{Err: fmt.Errorf("disconnect (reason=%s, reconnect=%v)", f.Reason, reconnect)}:
				case <-ctx.Done():
				}
				return
			case len(f.Message) > 0:
				var wire ingest.Frame
				if err := json.Unmarshal(f.Message, &wire); err != nil {
					c.log.Debug("feed broadcast skipped", "error", err)
					continue
				}
				ev, err := ingest.Decode(wire)
				if err != nil {
					c.log.Debug("feed broadcast skipped", "table", wire.Table, "operation", wire.Operation, "error", err)
					continue
				}
				select {
				case ch <- Delivery{Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// CableURL derives the websocket endpoint from the API base URL.
func CableURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/cable"
	u.RawQuery = ""
	return u.String()
}
