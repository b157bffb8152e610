// Package kafkaingest consumes Alertmanager webhook payloads from a Kafka
// topic and applies them like the HTTP endpoint does.
package kafkaingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/alertbot/internal/alert"
	"github.com/linnemanlabs/alertbot/internal/lifecycle"
	"github.com/linnemanlabs/alertbot/internal/postgres"
)

// RoomHeader carries the target room when the message key is empty.
const RoomHeader = "room_id"

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// ErrNoRoom is returned for messages with neither a key nor a room header.
var ErrNoRoom = errors.New("message has no room id")

// BatchHandler applies a decoded webhook batch to a room.
type BatchHandler interface {
	HandleBatch(ctx context.Context, roomID string, alerts []*alert.Alert) (*lifecycle.BatchResult, error)
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the topic and consumer group.
type Config struct {
	Brokers string // comma separated
	Topic   string
	GroupID string
}

// Consumer reads webhook payloads and feeds them to a BatchHandler, one
// message at a time. Offsets are committed after each message is handled.
type Consumer struct {
	reader   MessageReader
	handler  BatchHandler
	logger   log.Logger
	attempts int
	backoff  time.Duration
}

// ParseBrokers splits a comma-separated broker list and trims whitespace.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// New creates a consumer group reader for c.
func New(c Config, handler BatchHandler, logger log.Logger) (*Consumer, error) {
	brokers := ParseBrokers(c.Brokers)
	var errs []error
	if len(brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers cannot be empty"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("kafka topic cannot be empty"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("kafka group id cannot be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       c.Topic,
		GroupID:     c.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return NewWithReader(reader, handler, logger), nil
}

// NewWithReader wraps an existing reader.
func NewWithReader(reader MessageReader, handler BatchHandler, logger log.Logger) *Consumer {
	if reader == nil {
		panic(xerrors.New("kafka reader is required"))
	}
	if handler == nil {
		panic(xerrors.New("batch handler is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		reader:   reader,
		handler:  handler,
		logger:   logger,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run consumes until ctx is done or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handle applies one message. Bad payloads are logged and skipped; gateway
// and storage failures are retried, replaying a batch is harmless since
// re-fires and unknown resolves are no-ops.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	L := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	roomID, err := RoomID(msg)
	if err != nil {
		L.Warn(ctx, "skipping kafka message", "error", err)
		return
	}
	wh, err := alert.DecodeWebhook(bytes.NewReader(msg.Value))
	if err != nil {
		L.Warn(ctx, "skipping malformed webhook payload", "room_id", roomID, "error", err)
		return
	}

	ctx = postgres.WithSource(ctx, lifecycle.SourceKafka)
	for attempt := 1; ; attempt++ {
		res, err := c.handler.HandleBatch(ctx, roomID, wh.Alerts)
		if err == nil {
			L.Info(ctx, "kafka batch applied", "room_id", roomID, "alerts", len(wh.Alerts),
				"created", res.Count(lifecycle.OutcomeCreated), "closed", res.Count(lifecycle.OutcomeClosed))
			return
		}

		retryable := errors.Is(err, lifecycle.ErrGateway) || errors.Is(err, lifecycle.ErrStorage)
		if !retryable || attempt >= c.attempts {
			L.Error(ctx, err, "dropping kafka batch", "room_id", roomID, "attempt", attempt)
			return
		}
		L.Warn(ctx, "kafka batch failed, retrying", "room_id", roomID, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

// RoomID returns the target room from the message key or the room_id header.
func RoomID(msg kafka.Message) (string, error) {
	if k := strings.TrimSpace(string(msg.Key)); k != "" {
		return k, nil
	}
	for _, h := range msg.Headers {
		if h.Key == RoomHeader && len(h.Value) > 0 {
			return string(h.Value), nil
		}
	}
	return "", ErrNoRoom
}
