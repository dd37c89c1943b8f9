package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
)

const publishTimeout = 5 * time.Second

// Event is one message to publish. Key picks the partition; Value is sent
// as JSON.
type Event struct {
	Key   string
	Value any
}

type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer returns a synchronous producer for topic. Messages with the
// same key land on the same partition.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish blocks until the broker acknowledges event or publishTimeout
// passes.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", event.Key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.Key), Value: value})
	if err != nil {
		return fmt.Errorf("publishing event %s: %w", event.Key, err)
	}
	p.logger.Debug("event published", "key", event.Key, "bytes", len(value), "took", time.Since(start))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
