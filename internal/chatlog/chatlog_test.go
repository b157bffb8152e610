package chatlog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/lifecycle/memstore"
)

var _ lifecycle.Gateway = (*Gateway)(nil)

func TestGateway_Transcript(t *testing.T) {
	t.Parallel()

	g := New(nil)
	ctx := context.Background()

	id1, err := g.Send(ctx, "!a", alert.Message{Body: "FIRING: x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	id2, _ := g.Send(ctx, "!a", alert.Message{Body: "FIRING: y"})
	if id1 == id2 || !strings.HasPrefix(id1, "$") {
		t.Errorf("message ids = %q, %q; want distinct $-prefixed ids", id1, id2)
	}

	if err := g.Edit(ctx, "!a", id1, alert.Message{Body: "RESOLVED: x"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := g.React(ctx, "!a", id1, lifecycle.ResolvedMarker); err != nil {
		t.Fatalf("React: %v", err)
	}

	want := []Entry{
		{Op: "send", RoomID: "!a", Body: "FIRING: x"},
		{Op: "send", RoomID: "!a", Body: "FIRING: y"},
		{Op: "edit", RoomID: "!a", Body: "RESOLVED: x"},
		{Op: "react", RoomID: "!a", Key: lifecycle.ResolvedMarker},
	}
	if diff := cmp.Diff(want, g.Entries(), cmpopts.IgnoreFields(Entry{}, "MessageID")); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestGateway_UnknownMessage(t *testing.T) {
	t.Parallel()

	g := New(log.Nop())
	ctx := context.Background()
	id, _ := g.Send(ctx, "!a", alert.Message{Body: "x"})

	if err := g.Edit(ctx, "!a", "$nope", alert.Message{}); !errors.Is(err, lifecycle.ErrMessageNotFound) {
		t.Errorf("Edit unknown = %v, want ErrMessageNotFound", err)
	}
	if err := g.React(ctx, "!other", id, "x"); !errors.Is(err, lifecycle.ErrMessageNotFound) {
		t.Errorf("React wrong room = %v, want ErrMessageNotFound", err)
	}
	if n := len(g.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

// a full firing -> acknowledge -> resolve run through the engine
func TestGateway_WithEngine(t *testing.T) {
	t.Parallel()

	g := New(nil)
	store := memstore.New()
	e := lifecycle.NewEngine(store, g, nil, lifecycle.Config{BotUserID: "@bot:x"})
	ctx := context.Background()

	fire, err := alert.DecodeWebhook(strings.NewReader(
		`{"alerts":[{"fingerprint":"fp","status":"firing","annotations":{"description":"disk full"}}]}`))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if _, err := e.HandleBatch(ctx, "!a", fire.Alerts); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}
	rec, ok, _ := store.Get(ctx, "fp")
	if !ok {
		t.Fatal("no row after firing")
	}

	if _, err := e.HandleReaction(ctx, lifecycle.Reaction{RoomID: "!a", MessageID: rec.MessageID, Key: "\U0001f44d", Sender: "@alice:x"}); err != nil {
		t.Fatalf("HandleReaction: %v", err)
	}

	resolve, _ := alert.DecodeWebhook(strings.NewReader(
		`{"alerts":[{"fingerprint":"fp","status":"resolved","annotations":{"description":"disk full"}}]}`))
	if _, err := e.HandleBatch(ctx, "!a", resolve.Alerts); err != nil {
		t.Fatalf("HandleBatch resolve: %v", err)
	}

	var bodies []string
	for _, en := range g.Entries() {
		if en.Body != "" {
			bodies = append(bodies, en.Body)
		}
	}
	want := []string{"FIRING: disk full", "ACKNOWLEDGED by @alice:x: disk full", "RESOLVED: disk full"}
	if diff := cmp.Diff(want, bodies); diff != "" {
		t.Errorf("bodies mismatch (-want +got):\n%s", diff)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d rows, want 0", store.Len())
	}
}
