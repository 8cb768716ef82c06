package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is how often a message is handed to the handler before
// it is skipped.
const DefaultMaxAttempts = 3

type MessageHandler func(ctx context.Context, key, value []byte) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader      MessageReader
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:      r,
		logger:      logger.Named("kafka-consumer"),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  500 * time.Millisecond,
	}
}

// Consume runs until ctx is cancelled. A message is committed once the
// handler succeeds or its attempts run out.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("error reading message", zap.Error(err))
			continue
		}

		c.handle(ctx, msg, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler MessageHandler) {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("giving up on message",
				zap.ByteString("key", msg.Key),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		c.logger.Warn("error handling message, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
