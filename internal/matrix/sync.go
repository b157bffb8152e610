package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"

	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

const pingCommand = "!ping"

// Run long-polls the homeserver and forwards reactions to out until ctx is
// done. Events from before the gateway was created are skipped so a restart
// does not replay old reactions.
func (g *Gateway) Run(ctx context.Context, out chan<- lifecycle.Reaction) error {
	syncer, ok := g.cli.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return fmt.Errorf("matrix syncer %T cannot register handlers", g.cli.Syncer)
	}
	syncer.OnEventType(event.EventReaction, func(ctx context.Context, evt *event.Event) {
		g.handleReaction(ctx, evt, out)
	})
	syncer.OnEventType(event.EventMessage, g.handleMessage)

	g.logger.Info(ctx, "matrix sync starting", "user_id", g.self.String())
	err := g.cli.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("matrix sync: %w", err)
	}
	return nil
}

func (g *Gateway) stale(evt *event.Event) bool {
	return evt.Timestamp < g.started.UnixMilli()
}

func (g *Gateway) handleReaction(ctx context.Context, evt *event.Event, out chan<- lifecycle.Reaction) {
	if g.stale(evt) || evt.Sender == g.self {
		return
	}
	content := evt.Content.AsReaction()
	rel := content.RelatesTo
	if rel.EventID == "" || rel.Key == "" {
		return
	}

	r := lifecycle.Reaction{
		RoomID:    evt.RoomID.String(),
		MessageID: rel.EventID.String(),
		Key:       rel.Key,
		Sender:    evt.Sender.String(),
	}
	select {
	case out <- r:
	case <-ctx.Done():
	}
}

func (g *Gateway) handleMessage(ctx context.Context, evt *event.Event) {
	if g.stale(evt) || evt.Sender == g.self {
		return
	}
	if strings.TrimSpace(evt.Content.AsMessage().Body) != pingCommand {
		return
	}

	pong := &event.MessageEventContent{MsgType: event.MsgNotice, Body: "pong"}
	if _, err := g.cli.SendMessageEvent(ctx, evt.RoomID, event.EventMessage, pong); err != nil {
		g.logger.Error(ctx, err, "failed to answer ping", "room_id", evt.RoomID.String())
	}
}
