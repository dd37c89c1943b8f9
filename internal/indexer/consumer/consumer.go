// Package consumer connects the index to the rest of the platform: it feeds
// Kafka ingest events to the document indexer, records each document's
// status in the catalog, and announces finished compactions.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/compaction"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/kafka"
)

// Catalog is the subset of the document catalog the consumer updates. A nil
// Catalog disables status tracking.
type Catalog interface {
	SetIndexed(ctx context.Context, externalID string, indexID int) error
	SetFailed(ctx context.Context, externalID string) error
	SetSearchable(ctx context.Context, indexIDs []int) error
}

// Publisher sends events to Kafka.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// HandleMessage returns a Kafka MessageHandler that indexes each ingest event
// through ix. Undecodable messages are logged and skipped. A document the
// indexer rejects is marked failed and skipped. Any other failure leaves the
// message uncommitted and the document pending; failures caused by the
// engine itself are marked permanent so the consumer stops instead of
// retrying.
func HandleMessage(ix *indexer.Indexer, catalog Catalog) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.DocumentID == "" || strings.ContainsAny(event.DocumentID, ";\r\n") {
			logger.Error("ingest event with unusable document id",
				"doc_id", event.DocumentID,
				"key", string(key),
			)
			return nil
		}

		logger.Debug("processing ingest event", "doc_id", event.DocumentID)
		indexID, err := ix.IndexDocument(event.DocumentID, event.Title+" "+event.Body)
		if err != nil {
			err = fmt.Errorf("indexing document %s: %w", event.DocumentID, err)
			switch {
			case engineStopped(err):
				return kafka.Permanent(err)
			case errors.Is(err, apperrors.ErrInvalidInput):
				logger.Error("document rejected", "doc_id", event.DocumentID, "error", err)
				if catalog != nil {
					if cerr := catalog.SetFailed(ctx, event.DocumentID); cerr != nil {
						logger.Error("failed to update document status", "doc_id", event.DocumentID, "error", cerr)
					}
				}
				return nil
			default:
				return err
			}
		}
		if catalog != nil {
			if err := catalog.SetIndexed(ctx, event.DocumentID, indexID); err != nil {
				logger.Error("failed to update document status", "doc_id", event.DocumentID, "error", err)
			}
		}

		logger.Info("document indexed",
			"doc_id", event.DocumentID,
			"index_id", indexID,
			"lag", time.Since(event.IngestedAt).Round(time.Millisecond),
		)
		return nil
	}
}

// engineStopped reports errors after which the engine accepts no more writes.
func engineStopped(err error) bool {
	for _, target := range []error{
		apperrors.ErrEngineClosed,
		apperrors.ErrReadOnly,
		apperrors.ErrCompactionStopped,
		apperrors.ErrTableFull,
		apperrors.ErrDocOrder,
		apperrors.ErrCorruptRecord,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CompactionNotifier returns a compaction hook that marks the folded
// documents searchable and publishes an IndexCompleteEvent. Either
// collaborator may be nil.
func CompactionNotifier(pub Publisher, catalog Catalog) compaction.Hook {
	logger := slog.Default().With("component", "compaction-notifier")
	return func(ctx context.Context, res compaction.Result) {
		ids := make([]int, 0, len(res.Docs))
		for _, d := range res.Docs {
			ids = append(ids, d.DocID)
		}
		if catalog != nil {
			if err := catalog.SetSearchable(ctx, ids); err != nil {
				logger.Error("failed to mark documents searchable", "batch", res.Batch, "error", err)
			}
		}
		if pub == nil {
			return
		}
		event := IndexCompleteEvent{
			Batch:       res.Batch,
			DocIDs:      ids,
			Terms:       res.Terms,
			Collisions:  res.Collisions,
			DurationMS:  res.Duration.Milliseconds(),
			CompletedAt: time.Now().UTC(),
		}
		if err := pub.Publish(ctx, kafka.Event{Key: fmt.Sprintf("batch-%d", res.Batch), Value: event}); err != nil {
			logger.Error("failed to publish index.complete", "batch", res.Batch, "error", err)
		}
	}
}
