// Package ingest normalizes realtime feed events into store mutations. One
// dispatcher loop applies events in arrival order, so the store has a single
// logical mutator for the feed.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/collectdesk/convo/internal/model"
)

// Table names a feed event family.
type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableSnapshot      Table = "snapshot"
)

// Operation is the row change carried by an event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpLoad   Operation = "load"
)

// Event is one of ConversationEvent, MessageInsertEvent, MessageUpdateEvent
// or SnapshotEvent.
type Event interface {
	table() Table
	operation() Operation
}

// ConversationEvent carries a partial conversation row.
type ConversationEvent struct {
	Op    Operation
	Patch model.ConversationPatch
}

// MessageInsertEvent carries a full message row.
type MessageInsertEvent struct {
	Message model.ChatMessage
}

// MessageUpdateEvent carries a partial message row for an existing identity.
type MessageUpdateEvent struct {
	ID    string
	Patch model.MessagePatch
}

// SnapshotEvent carries a fresh snapshot read after a (re)connect. It is
// queued behind the events already delivered, so the dispatcher loop stays
// the only writer. Activate, when set, becomes the active conversation once
// the snapshot is applied.
type SnapshotEvent struct {
	Snapshot Snapshot
	Activate string
}

func (ConversationEvent) table() Table           { return TableConversations }
func (e ConversationEvent) operation() Operation { return e.Op }
func (MessageInsertEvent) table() Table          { return TableMessages }
func (MessageInsertEvent) operation() Operation  { return OpInsert }
func (MessageUpdateEvent) table() Table          { return TableMessages }
func (MessageUpdateEvent) operation() Operation  { return OpUpdate }
func (SnapshotEvent) table() Table               { return TableSnapshot }
func (SnapshotEvent) operation() Operation       { return OpLoad }

// Frame is the wire shape of a feed event.
type Frame struct {
	Table     string          `json:"table"`
	Operation string          `json:"operation"`
	Row       json.RawMessage `json:"row"`
}

// Decode turns a wire frame into a typed event.
func Decode(f Frame) (Event, error) {
	if len(f.Row) == 0 || string(f.Row) == "null" {
		return nil, fmt.Errorf("%s %s event without row", f.Table, f.Operation)
	}
	op := Operation(f.Operation)
	if op != OpInsert && op != OpUpdate {
		return nil, fmt.Errorf("unsupported operation %q", f.Operation)
	}

	switch Table(f.Table) {
	case TableConversations:
		var p model.ConversationPatch
		if err := json.Unmarshal(f.Row, &p); err != nil {
			return nil, fmt.Errorf("decode conversation row: %w", err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("conversation row without id")
		}
		return ConversationEvent{Op: op, Patch: p}, nil

	case TableMessages:
		if op == OpInsert {
			var m model.ChatMessage
			if err := json.Unmarshal(f.Row, &m); err != nil {
				return nil, fmt.Errorf("decode message row: %w", err)
			}
			if m.ID == "" || m.ConversationID == "" {
				return nil, fmt.Errorf("message row without id or conversation_id")
			}
			return MessageInsertEvent{Message: m}, nil
		}
		var id struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(f.Row, &id); err != nil {
			return nil, fmt.Errorf("decode message row: %w", err)
		}
		if id.ID == "" {
			return nil, fmt.Errorf("message row without id")
		}
		var p model.MessagePatch
		if err := json.Unmarshal(f.Row, &p); err != nil {
			return nil, fmt.Errorf("decode message row: %w", err)
		}
		return MessageUpdateEvent{ID: id.ID, Patch: p}, nil

	default:
		return nil, fmt.Errorf("unsupported table %q", f.Table)
	}
}
