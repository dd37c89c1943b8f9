// Package publisher records incoming documents in the catalog and publishes
// them to the document-ingest topic the indexer consumes.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/postgres"
)

// Catalog is satisfied by *postgres.Client.
type Catalog interface {
	CreatePending(ctx context.Context, title, contentHash string, size int, idempotencyKey string) (string, error)
	FindByIdempotencyKey(ctx context.Context, key string) (id, status string, found bool, err error)
}

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	catalog  Catalog
	producer Producer
	logger   *slog.Logger
}

func New(catalog Catalog, producer Producer) *Publisher {
	return &Publisher{
		catalog:  catalog,
		producer: producer,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Ingest stores the document as PENDING and publishes it for indexing. A
// repeated idempotency key returns the existing document; if that document
// is still PENDING it is published again, since the first publish may have
// failed.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	if req.IdempotencyKey != "" {
		id, status, found, err := p.catalog.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if found {
			p.logger.Info("duplicate ingestion detected",
				"idempotency_key", req.IdempotencyKey,
				"doc_id", id,
				"status", status,
			)
			if status == postgres.StatusPending {
				if err := p.publish(ctx, id, req); err != nil {
					return nil, err
				}
			}
			return &ingestion.IngestResponse{DocumentID: id, Status: status, Duplicate: true}, nil
		}
	}

	sum := sha256.Sum256([]byte(req.Body))
	id, err := p.catalog.CreatePending(ctx, req.Title, hex.EncodeToString(sum[:]), len(req.Body), req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := p.publish(ctx, id, req); err != nil {
		return nil, err
	}
	return &ingestion.IngestResponse{DocumentID: id, Status: postgres.StatusPending}, nil
}

func (p *Publisher) publish(ctx context.Context, id string, req *ingestion.IngestRequest) error {
	event := kafka.Event{
		Key: id,
		Value: consumer.IngestEvent{
			DocumentID: id,
			Title:      req.Title,
			Body:       req.Body,
			IngestedAt: time.Now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("publish failed, document left PENDING", "doc_id", id, "error", err)
		return fmt.Errorf("publishing document %s: %w", id, err)
	}
	return nil
}
