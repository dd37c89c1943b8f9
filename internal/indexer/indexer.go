package indexer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/tokenizer"
)

// Inserter is the write side of the index the Indexer feeds.
type Inserter interface {
	Insert(token string, docID, offset int) error
	RecordDocument(docID int, path string, length int) error
}

// Indexer assigns document IDs from a strictly increasing counter and feeds
// each document's tokens to the index in order.
type Indexer struct {
	index  Inserter
	tok    *tokenizer.Tokenizer
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	partial *partialDoc
}

// partialDoc is a document whose indexing failed after some of its tokens
// were inserted.
type partialDoc struct {
	path string
	id   int
}

// NewIndexer returns an Indexer whose first document gets firstID.
func NewIndexer(idx Inserter, tok *tokenizer.Tokenizer, firstID int) *Indexer {
	return &Indexer{
		index:  idx,
		tok:    tok,
		logger: slog.Default().With("component", "document-indexer"),
		nextID: firstID,
	}
}

// IndexDocument tokenizes text and inserts every token at its offset. The
// document's length is its token count. It returns the assigned ID.
//
// When the previous call failed part way, indexing the same path again
// reuses that call's ID. Re-inserting a (token, doc, offset) triple is a
// no-op, so the retry completes the document instead of leaving a second
// copy behind.
func (ix *Indexer) IndexDocument(path, text string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var docID int
	switch {
	case ix.partial != nil && ix.partial.path == path:
		docID = ix.partial.id
	default:
		if ix.partial != nil {
			ix.logger.Warn("abandoning partially indexed document",
				"doc_id", ix.partial.id, "path", ix.partial.path)
		}
		docID = ix.nextID
		ix.nextID++
	}
	ix.partial = &partialDoc{path: path, id: docID}

	tokens := ix.tok.Tokenize(text)
	for _, t := range tokens {
		if err := ix.index.Insert(t.Term, docID, t.Position); err != nil {
			return docID, fmt.Errorf("indexing %s: %w", path, err)
		}
	}
	if err := ix.index.RecordDocument(docID, path, len(tokens)); err != nil {
		return docID, fmt.Errorf("recording %s: %w", path, err)
	}
	ix.partial = nil
	ix.logger.Debug("document indexed", "doc_id", docID, "path", path, "tokens", len(tokens))
	return docID, nil
}

// IndexReader indexes the full content of r under path.
func (ix *Indexer) IndexReader(path string, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return -1, fmt.Errorf("reading %s: %w", path, err)
	}
	return ix.IndexDocument(path, string(data))
}

// IndexFiles indexes every regular file under root in lexical walk order.
// Unreadable files are skipped with a warning; index errors stop the walk.
func (ix *Indexer) IndexFiles(ctx context.Context, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		if _, err := ix.IndexDocument(path, string(data)); err != nil {
			return err
		}
		count++
		if count%1000 == 0 {
			ix.logger.Info("indexing progress", "files", count)
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	ix.logger.Info("directory indexed", "root", root, "files", count)
	return count, nil
}
