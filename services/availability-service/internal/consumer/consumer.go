package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindery/booking/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const forgetTimeout = 5 * time.Second

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox deduplicates deliveries by event id.
type Inbox interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	inbox      Inbox
	handler    Handler
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

type Config struct {
	Brokers  string
	GroupID  string
	Topic    string
	Attempts int
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:     reader,
		logger:     logger,
		inbox:      inbox,
		handler:    handler,
		attempts:   cfg.Attempts,
		backoff:    500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run fetches, processes and commits messages one at a time until ctx ends.
// A message is committed only once it has been handled (or recognised as a
// duplicate); until then it is redelivered in place and the partition waits.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !c.wait(ctx, 1) {
				return
			}
			continue
		}

		if !c.deliver(ctx, msg) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// deliver retries process until it succeeds. It reports false when ctx ended
// first, in which case the message must not be committed.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) bool {
	for round := 1; ; round++ {
		err := c.process(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("event not processed, redelivering", "err", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "round", round)
		if !c.wait(ctx, round) {
			return false
		}
	}
}

// wait sleeps for the n-th backoff step, capped at maxBackoff.
func (c *Consumer) wait(ctx context.Context, n int) bool {
	d := c.backoff * time.Duration(n)
	if c.maxBackoff > 0 && d > c.maxBackoff {
		d = c.maxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox record %s: %w", meta.EventID, err)
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	for attempt := 1; ; attempt++ {
		err = c.handler(ctxSpan, msg)
		if err == nil {
			return nil
		}
		c.logger.Warn("handler error", "err", err, "event_id", meta.EventID, "attempt", attempt)
		if attempt >= c.attempts || !c.wait(ctx, attempt) {
			break
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	// The id must leave the inbox before the message is redelivered, or the
	// next round would skip it as a duplicate. Forget ignores shutdown since
	// an uncommitted message comes back after a restart.
	for n := 1; ; n++ {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctxSpan), forgetTimeout)
		ferr := c.inbox.Forget(fctx, meta.EventID)
		cancel()
		if ferr == nil {
			break
		}
		c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		if !c.wait(ctx, n) {
			return errors.Join(err, ferr)
		}
	}
	return fmt.Errorf("handle %s: %w", meta.EventID, err)
}
