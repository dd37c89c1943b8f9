// Package ingestion accepts documents over HTTP, records them in the catalog
// as PENDING and hands them to the indexer through the document-ingest topic.
package ingestion

// IngestRequest is the JSON body of POST /api/v1/documents.
type IngestRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IngestResponse is returned once a document is accepted. Status stays
// PENDING until the indexer picks the document up.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}
