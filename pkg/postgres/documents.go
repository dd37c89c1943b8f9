package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

// Document statuses tracked in the catalog. A document is PENDING from
// ingestion until the indexer assigns it an index ID.
const (
	StatusPending    = "PENDING"
	StatusIndexed    = "INDEXED"
	StatusFailed     = "FAILED"
	StatusSearchable = "SEARCHABLE"
)

// CreatePending inserts a PENDING document and returns its catalog ID. An
// empty idempotencyKey is stored as NULL. It returns ErrIdempotencyConflict
// when another document already holds the key.
func (c *Client) CreatePending(ctx context.Context, title, contentHash string, size int, idempotencyKey string) (string, error) {
	var id string
	err := c.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO documents (title, content_hash, content_size, idempotency_key, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING id`,
			title, contentHash, size, nullableString(idempotencyKey), StatusPending,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrIdempotencyConflict, http.StatusConflict, "idempotency key already in use")
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

// FindByIdempotencyKey returns the ID and status of the document holding
// key. found is false when no document does.
func (c *Client) FindByIdempotencyKey(ctx context.Context, key string) (id, status string, found bool, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT id, status FROM documents WHERE idempotency_key = $1`, key,
	).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("querying by idempotency key: %w", err)
	}
	return id, status, true, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// SetIndexed records the index-assigned ID of an external document.
func (c *Client) SetIndexed(ctx context.Context, externalID string, indexID int) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, index_doc_id = $2, indexed_at = NOW() WHERE id = $3`,
		StatusIndexed, indexID, externalID,
	)
	if err != nil {
		return fmt.Errorf("marking document %s indexed: %w", externalID, err)
	}
	return nil
}

// SetFailed marks an external document as failed to index.
func (c *Client) SetFailed(ctx context.Context, externalID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2`,
		StatusFailed, externalID,
	)
	if err != nil {
		return fmt.Errorf("marking document %s failed: %w", externalID, err)
	}
	return nil
}

// SetSearchable marks every listed index ID as compacted into the base
// segment, in one transaction.
func (c *Client) SetSearchable(ctx context.Context, indexIDs []int) error {
	if len(indexIDs) == 0 {
		return nil
	}
	return c.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE documents SET status = $1 WHERE index_doc_id = $2`)
		if err != nil {
			return fmt.Errorf("preparing status update: %w", err)
		}
		defer stmt.Close()
		for _, id := range indexIDs {
			if _, err := stmt.ExecContext(ctx, StatusSearchable, id); err != nil {
				return fmt.Errorf("marking index doc %d searchable: %w", id, err)
			}
		}
		return nil
	})
}
