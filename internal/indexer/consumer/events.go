package consumer

import "time"

// IngestEvent is the Kafka payload for a document ready to be indexed.
type IngestEvent struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IndexCompleteEvent is published after a pending segment has been folded
// into the base segment. Readers caching postings invalidate on it.
type IndexCompleteEvent struct {
	Batch       int       `json:"batch"`
	DocIDs      []int     `json:"doc_ids"`
	Terms       int64     `json:"terms"`
	Collisions  int       `json:"collisions"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}
