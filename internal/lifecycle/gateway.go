package lifecycle

import (
	"context"
	"errors"

	"github.com/linnemanlabs/alertbot/internal/alert"
)

var (
	// ErrAccessDenied means the bot may not post to the room, usually because
	// it was never invited.
	ErrAccessDenied = errors.New("chat access denied")

	// ErrMessageNotFound means the message to edit or react to is gone.
	ErrMessageNotFound = errors.New("chat message not found")

	// ErrGateway wraps any other chat failure that aborts an operation.
	ErrGateway = errors.New("chat gateway error")

	// ErrStorage wraps store and lock failures.
	ErrStorage = errors.New("alert storage error")
)

// Gateway is the chat room the engine renders alerts into. Implementations
// wrap ErrAccessDenied and ErrMessageNotFound where they apply.
type Gateway interface {
	Send(ctx context.Context, roomID string, msg alert.Message) (messageID string, err error)
	Edit(ctx context.Context, roomID, messageID string, msg alert.Message) error
	React(ctx context.Context, roomID, messageID, key string) error
}
