package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/alertbot/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/alertbot/internal/lifecycle")

// event sources, used for metrics and logging
const (
	SourceWebhook  = "webhook"
	SourceReaction = "reaction"
	SourceKafka    = "kafka"
)

// EngineHooks lets callers observe engine decisions without coupling the
// engine to a metrics backend. Nil funcs are skipped.
type EngineHooks struct {
	OnOutcome      func(source string, o Outcome)
	OnTransition   func(from, to alert.Status)
	OnGatewayError func(op string, err error)
}

// Config carries optional engine settings.
type Config struct {
	// BotUserID is the chat identity of the bot; its own reactions are ignored.
	BotUserID string

	// Locker serializes work per fingerprint, defaults to an in-process KeyedMutex.
	Locker Locker

	Hooks EngineHooks
}

// Engine applies webhook alerts and reactions to open alerts.
type Engine struct {
	store   Store
	gateway Gateway
	locker  Locker
	self    string
	hooks   EngineHooks
	logger  log.Logger
}

// NewEngine creates an engine over the given store and chat gateway.
func NewEngine(store Store, gateway Gateway, logger log.Logger, c Config) *Engine {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if gateway == nil {
		panic(xerrors.New("chat gateway is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	locker := c.Locker
	if locker == nil {
		locker = &KeyedMutex{}
	}
	return &Engine{
		store:   store,
		gateway: gateway,
		locker:  locker,
		self:    c.BotUserID,
		hooks:   c.Hooks,
		logger:  logger,
	}
}

// HandleBatch applies a webhook batch to roomID. Items are processed in order
// and independently; the first fatal error stops the batch and earlier items
// keep their effects.
func (e *Engine) HandleBatch(ctx context.Context, roomID string, alerts []*alert.Alert) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.HandleBatch", trace.WithAttributes(
		attribute.String("alertbot.room_id", roomID),
		attribute.Int("alertbot.batch_size", len(alerts)),
	))
	defer span.End()

	res := &BatchResult{Outcomes: make([]Outcome, 0, len(alerts))}
	for _, al := range alerts {
		o, err := e.handleAlert(ctx, roomID, al)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		e.outcome(SourceWebhook, o)
		res.Outcomes = append(res.Outcomes, o)
	}
	return res, nil
}

func (e *Engine) handleAlert(ctx context.Context, roomID string, al *alert.Alert) (Outcome, error) {
	L := e.logger.With("fingerprint", al.Fingerprint, "status", al.Status, "room_id", roomID)

	unlock, err := e.locker.Lock(ctx, al.Fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: lock %s: %w", ErrStorage, al.Fingerprint, err)
	}
	defer unlock()

	rec, open, err := e.store.Get(ctx, al.Fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrStorage, al.Fingerprint, err)
	}

	switch al.Status {
	case alert.StatusFiring:
		if open {
			// repeated notification for an open alert, the message already exists
			L.Info(ctx, "alert already open, ignoring re-fire", "message_id", rec.MessageID, "open_status", rec.Status)
			return OutcomeRefired, nil
		}
		return e.create(ctx, L, roomID, al)

	case alert.StatusResolved:
		if !open {
			L.Warn(ctx, "received resolve for unknown alert")
			return OutcomeIgnored, nil
		}
		// the resolved payload carries the current annotations
		rec.LastActor = ""
		return e.close(ctx, L, roomID, rec, alert.Render(alert.StatusResolved, al, ""), alert.StatusResolved, ResolvedMarker)

	default:
		return "", fmt.Errorf("%w: unknown status %q", alert.ErrMalformed, al.Status)
	}
}

func (e *Engine) create(ctx context.Context, L log.Logger, roomID string, al *alert.Alert) (Outcome, error) {
	msgID, err := e.gateway.Send(ctx, roomID, alert.Render(alert.StatusFiring, al, ""))
	if err != nil {
		e.gatewayError("send", err)
		if errors.Is(err, ErrAccessDenied) {
			return "", fmt.Errorf("send %s: %w", al.Fingerprint, err)
		}
		return "", fmt.Errorf("%w: send %s: %w", ErrGateway, al.Fingerprint, err)
	}

	rec := &Record{
		Fingerprint: al.Fingerprint,
		MessageID:   msgID,
		Status:      alert.StatusFiring,
		Payload:     al.Raw,
	}
	if err := e.store.Upsert(ctx, rec); err != nil {
		L.Error(ctx, err, "message sent but alert not stored", "message_id", msgID)
		return "", fmt.Errorf("%w: upsert %s: %w", ErrStorage, al.Fingerprint, err)
	}

	L.Info(ctx, "new alert", "message_id", msgID)
	e.transition("", alert.StatusFiring)
	return OutcomeCreated, nil
}

// close edits the message to msg, marks it with key and deletes the row.
// The row is kept when the edit fails for any reason other than the message
// being gone, so a later resolve can still reconcile it.
func (e *Engine) close(ctx context.Context, L log.Logger, roomID string, rec *Record, msg alert.Message, status alert.Status, key string) (Outcome, error) {
	L = L.With("message_id", rec.MessageID)
	if err := e.gateway.Edit(ctx, roomID, rec.MessageID, msg); err != nil {
		e.gatewayError("edit", err)
		if !errors.Is(err, ErrMessageNotFound) {
			L.Error(ctx, err, "could not edit alert message, keeping alert open")
			return OutcomeKept, nil
		}
		// rows do not record their room, so a resolve sent to another room
		// than the one the alert fired in also ends up here
		L.Error(ctx, err, "alert message not found in room, dropping alert")
	} else if err := e.gateway.React(ctx, roomID, rec.MessageID, key); err != nil {
		e.gatewayError("react", err)
		L.Error(ctx, err, "could not react to alert message")
	}

	if err := e.store.Delete(ctx, rec.Fingerprint); err != nil {
		return "", fmt.Errorf("%w: delete %s: %w", ErrStorage, rec.Fingerprint, err)
	}

	L.Info(ctx, "alert closed", "closed_as", status, "actor", rec.LastActor)
	e.transition(rec.Status, status)
	return OutcomeClosed, nil
}

// HandleReaction applies a chat reaction to the alert owning the annotated message.
func (e *Engine) HandleReaction(ctx context.Context, r Reaction) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.HandleReaction", trace.WithAttributes(
		attribute.String("alertbot.room_id", r.RoomID),
		attribute.String("alertbot.message_id", r.MessageID),
	))
	defer span.End()

	o, err := e.handleReaction(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o, err
	}
	e.outcome(SourceReaction, o)
	return o, nil
}

func (e *Engine) handleReaction(ctx context.Context, r Reaction) (Outcome, error) {
	if e.self != "" && r.Sender == e.self {
		return OutcomeIgnored, nil
	}
	action := Classify(r.Key)
	if action == ActionNone {
		return OutcomeIgnored, nil
	}

	found, ok, err := e.store.GetByMessage(ctx, r.MessageID)
	if err != nil {
		return "", fmt.Errorf("%w: get by message %s: %w", ErrStorage, r.MessageID, err)
	}
	if !ok {
		return OutcomeIgnored, nil
	}

	unlock, err := e.locker.Lock(ctx, found.Fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: lock %s: %w", ErrStorage, found.Fingerprint, err)
	}
	defer unlock()

	// re-read under the lock, a webhook may have closed the alert meanwhile
	rec, ok, err := e.store.Get(ctx, found.Fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrStorage, found.Fingerprint, err)
	}
	if !ok || rec.MessageID != r.MessageID {
		return OutcomeIgnored, nil
	}

	L := e.logger.With("fingerprint", rec.Fingerprint, "message_id", rec.MessageID, "room_id", r.RoomID, "actor", r.Sender)

	if action == ActionResolve {
		rec.LastActor = r.Sender
		return e.close(ctx, L, r.RoomID, rec, e.renderStored(ctx, L, rec, alert.StatusManuallyResolved), alert.StatusManuallyResolved, r.Key)
	}

	if rec.Status == alert.StatusAcknowledged && rec.LastActor == r.Sender {
		return OutcomeIgnored, nil
	}

	from := rec.Status
	rec.Status = alert.StatusAcknowledged
	rec.LastActor = r.Sender
	if err := e.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: upsert %s: %w", ErrStorage, rec.Fingerprint, err)
	}

	msg := e.renderStored(ctx, L, rec, alert.StatusAcknowledged)
	if err := e.gateway.Edit(ctx, r.RoomID, rec.MessageID, msg); err != nil {
		e.gatewayError("edit", err)
		L.Error(ctx, err, "could not edit alert message")
	}
	if err := e.gateway.React(ctx, r.RoomID, rec.MessageID, r.Key); err != nil {
		e.gatewayError("react", err)
		L.Error(ctx, err, "could not mirror reaction")
	}

	L.Info(ctx, "alert acknowledged")
	e.transition(from, alert.StatusAcknowledged)
	return OutcomeAcknowledged, nil
}

// renderStored renders rec from its stored payload, falling back to a
// fingerprint-only message for rows whose payload cannot be decoded.
func (e *Engine) renderStored(ctx context.Context, L log.Logger, rec *Record, status alert.Status) alert.Message {
	al, ok := rec.Alert()
	if !ok {
		L.Warn(ctx, "stored alert payload unreadable, rendering without description", "payload_bytes", len(rec.Payload))
	}
	return alert.Render(status, al, rec.LastActor)
}

// ConsumeReactions feeds reactions from ch into HandleReaction one at a time
// until ch is closed or ctx is done. Failures are logged, not returned.
func (e *Engine) ConsumeReactions(ctx context.Context, ch <-chan Reaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			if _, err := e.HandleReaction(ctx, r); err != nil {
				e.logger.Error(ctx, err, "failed to apply reaction",
					"room_id", r.RoomID, "message_id", r.MessageID, "key", r.Key, "sender", r.Sender)
			}
		}
	}
}

func (e *Engine) outcome(source string, o Outcome) {
	if e.hooks.OnOutcome != nil {
		e.hooks.OnOutcome(source, o)
	}
}

func (e *Engine) transition(from, to alert.Status) {
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(from, to)
	}
}

func (e *Engine) gatewayError(op string, err error) {
	if e.hooks.OnGatewayError != nil {
		e.hooks.OnGatewayError(op, err)
	}
}
