// Package validator checks ingestion requests field by field.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/ingestion"
)

const (
	maxTitleLength = 1024
	maxBodyLength  = 1 << 20
	maxKeyLength   = 255
)

// ValidationError maps each rejected field to the reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = field + ": " + e.Fields[field]
	}
	return strings.Join(parts, "; ")
}

func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	title := strings.TrimSpace(req.Title)
	switch {
	case title == "":
		errs["title"] = "title is required"
	case len(title) > maxTitleLength:
		errs["title"] = fmt.Sprintf("title must be at most %d bytes", maxTitleLength)
	}

	body := strings.TrimSpace(req.Body)
	switch {
	case body == "":
		errs["body"] = "body is required"
	case len(body) > maxBodyLength:
		errs["body"] = fmt.Sprintf("body must be at most %d bytes", maxBodyLength)
	}

	if len(req.IdempotencyKey) > maxKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d bytes", maxKeyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
