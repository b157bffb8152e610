// Package chatlog is a lifecycle.Gateway that only logs. It stands in for a
// homeserver during local runs and keeps a transcript for inspection.
package chatlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// Entry is one gateway call as seen by the log.
type Entry struct {
	Op        string // send, edit or react
	RoomID    string
	MessageID string
	Body      string
	Key       string
}

// Gateway logs each call and returns ULID message ids.
type Gateway struct {
	logger log.Logger

	mu       sync.Mutex
	messages map[string]string // message id -> room id
	entries  []Entry
}

// New creates a dry-run gateway.
func New(logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{
		logger:   logger,
		messages: make(map[string]string),
	}
}

// Send records msg and returns a fresh message id.
func (g *Gateway) Send(ctx context.Context, roomID string, msg alert.Message) (string, error) {
	msgID := "$" + ulid.Make().String()

	g.mu.Lock()
	g.messages[msgID] = roomID
	g.entries = append(g.entries, Entry{Op: "send", RoomID: roomID, MessageID: msgID, Body: msg.Body})
	g.mu.Unlock()

	g.logger.Info(ctx, "chat send", "room_id", roomID, "message_id", msgID, "body", msg.Body)
	return msgID, nil
}

// Edit records msg for messageID. Unknown ids fail like a homeserver would.
func (g *Gateway) Edit(ctx context.Context, roomID, messageID string, msg alert.Message) error {
	if err := g.record(Entry{Op: "edit", RoomID: roomID, MessageID: messageID, Body: msg.Body}); err != nil {
		return err
	}
	g.logger.Info(ctx, "chat edit", "room_id", roomID, "message_id", messageID, "body", msg.Body)
	return nil
}

// React records key on messageID.
func (g *Gateway) React(ctx context.Context, roomID, messageID, key string) error {
	if err := g.record(Entry{Op: "react", RoomID: roomID, MessageID: messageID, Key: key}); err != nil {
		return err
	}
	g.logger.Info(ctx, "chat react", "room_id", roomID, "message_id", messageID, "key", key)
	return nil
}

func (g *Gateway) record(e Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.messages[e.MessageID]; !ok || room != e.RoomID {
		return fmt.Errorf("chatlog %s %s in %s: %w", e.Op, e.MessageID, e.RoomID, lifecycle.ErrMessageNotFound)
	}
	g.entries = append(g.entries, e)
	return nil
}

// Entries returns a copy of the transcript.
func (g *Gateway) Entries() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Entry(nil), g.entries...)
}
