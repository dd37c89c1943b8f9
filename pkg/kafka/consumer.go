// Package kafka wraps segmentio/kafka-go for the JSON events the index
// services exchange: document-ingest into the indexer, index.complete out of
// it.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/resilience"
)

// MessageHandler processes one message. A returned error leaves the message
// uncommitted; errors wrapped with Permanent are not retried.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying the same message cannot fix.
// The consumer stops on it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// handlerRetry bounds how long one message may keep failing before the
// consumer gives up and returns.
var handlerRetry = resilience.RetryConfig{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Retryable:    func(err error) bool { return !IsPermanent(err) },
}

type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10 << 20,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		}),
		handler: handler,
		retry:   handlerRetry,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, committing each message after its
// handler succeeds. A message whose handler keeps failing stops the
// consumer with an error, so ordering is never broken by skipping it.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
		log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

		if err := c.handle(ctx, msg.Key, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("commit failed", "error", err)
		}
	}
}

// handle runs the handler until it succeeds, fails permanently, or runs out
// of attempts.
func (c *Consumer) handle(ctx context.Context, key, value []byte) error {
	return resilience.Retry(ctx, "handle message", c.retry, func() error {
		return c.handler(ctx, key, value)
	})
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding kafka message: %w", err)
	}
	return v, nil
}
