// Package matrix is the chat gateway for a Matrix homeserver: it posts and
// edits alert messages and turns reaction events into lifecycle.Reaction.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
)

// Config holds the bot account credentials.
type Config struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
}

// Gateway implements lifecycle.Gateway on top of a mautrix client.
type Gateway struct {
	cli     *mautrix.Client
	self    id.UserID
	started time.Time
	logger  log.Logger
}

// New creates a gateway logged in with the given access token.
func New(c Config, logger log.Logger) (*Gateway, error) {
	if c.HomeserverURL == "" || c.UserID == "" || c.AccessToken == "" {
		return nil, xerrors.New("matrix homeserver, user id and access token are required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	cli, err := mautrix.NewClient(c.HomeserverURL, id.UserID(c.UserID), c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}
	return &Gateway{
		cli:     cli,
		self:    id.UserID(c.UserID),
		started: time.Now(),
		logger:  logger,
	}, nil
}

// Self returns the bot's own user id.
func (g *Gateway) Self() string {
	return g.self.String()
}

func htmlContent(msg alert.Message) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          msg.Body,
		Format:        event.FormatHTML,
		FormattedBody: msg.HTML,
	}
}

// Send posts msg to roomID and returns the new event id.
func (g *Gateway) Send(ctx context.Context, roomID string, msg alert.Message) (string, error) {
	resp, err := g.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, htmlContent(msg))
	if err != nil {
		return "", mapError("send", roomID, err)
	}
	return resp.EventID.String(), nil
}

// Edit replaces the content of messageID with msg.
func (g *Gateway) Edit(ctx context.Context, roomID, messageID string, msg alert.Message) error {
	if _, err := g.cli.GetEvent(ctx, id.RoomID(roomID), id.EventID(messageID)); err != nil {
		return mapError("fetch for edit", roomID, err)
	}

	content := htmlContent(msg)
	content.SetEdit(id.EventID(messageID))
	if _, err := g.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return mapError("edit", roomID, err)
	}
	return nil
}

// React annotates messageID with key.
func (g *Gateway) React(ctx context.Context, roomID, messageID, key string) error {
	if _, err := g.cli.GetEvent(ctx, id.RoomID(roomID), id.EventID(messageID)); err != nil {
		return mapError("fetch for react", roomID, err)
	}
	if _, err := g.cli.SendReaction(ctx, id.RoomID(roomID), id.EventID(messageID), key); err != nil {
		return mapError("react", roomID, err)
	}
	return nil
}

func mapError(op, roomID string, err error) error {
	switch {
	case errors.Is(err, mautrix.MForbidden):
		return fmt.Errorf("matrix %s in %s: %w: %w", op, roomID, lifecycle.ErrAccessDenied, err)
	case errors.Is(err, mautrix.MNotFound):
		return fmt.Errorf("matrix %s in %s: %w: %w", op, roomID, lifecycle.ErrMessageNotFound, err)
	default:
		return fmt.Errorf("matrix %s in %s: %w", op, roomID, err)
	}
}
