package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/compaction"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/resilience"
)

// Engine is the persistent inverted index. Postings accumulate in an
// in-memory batch buffer; when the buffer holds FlushThreshold distinct
// tokens it is written out as a segment. The first segment becomes the base,
// later ones are pending until the compaction daemon folds them into it.
type Engine struct {
	cfg     config.IndexerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	hooks   []compaction.Hook

	// mu orders flushes against lookups so a lookup never sees a batch
	// both in the buffer and in its freshly written segment.
	mu        sync.RWMutex
	buffer    *index.MemoryIndex
	nextBatch int
	maxDocID  int
	onDisk    segment.DirState

	docsMu      sync.RWMutex
	docs        map[int]index.DocInfo
	totalTokens int64

	shared *compaction.Shared
	daemon *compaction.Daemon
	group  *errgroup.Group
	cancel context.CancelFunc

	closed atomic.Bool
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCompactionHook registers h to run after every compaction pass.
func WithCompactionHook(h compaction.Hook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// NewEngine opens (or creates) the index in cfg.DataDir. An existing base
// segment and any pending segments left by a previous run are reopened; the
// daemon folds the pending ones as soon as it starts. Read-only engines
// never start the daemon and reject writes.
func NewEngine(cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if !cfg.ReadOnly {
		if err := os.MkdirAll(segment.ScratchDir(cfg.DataDir), 0755); err != nil {
			return nil, fmt.Errorf("creating index data directory: %w", err)
		}
	}
	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
		buffer:   index.NewMemoryIndex(),
		maxDocID: -1,
		docs:     make(map[int]index.DocInfo),
		shared:   compaction.NewShared(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.load(); err != nil {
		e.shared.Close()
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	if !cfg.ReadOnly {
		e.startDaemon()
	}
	return e, nil
}

func (e *Engine) startDaemon() {
	e.daemon = compaction.NewDaemon(compaction.Config{
		Dir:          e.cfg.DataDir,
		TableSize:    e.cfg.TableSize,
		ChunkSize:    e.cfg.FlushThreshold,
		PollInterval: e.cfg.PollInterval,
		Swap: resilience.RetryConfig{
			MaxAttempts:  e.cfg.SwapAttempts,
			InitialDelay: e.cfg.SwapInitialDelay,
			MaxDelay:     e.cfg.SwapMaxDelay,
		},
	}, e.shared, e.daemonOptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.daemon.Run(gctx)
	})
	e.group = g
}

func (e *Engine) daemonOptions() []compaction.Option {
	opts := []compaction.Option{compaction.WithMetrics(e.metrics)}
	for _, h := range e.hooks {
		opts = append(opts, compaction.WithHook(h))
	}
	return opts
}

// load opens the segments found on disk.
func (e *Engine) load() error {
	state, err := segment.StatDir(e.cfg.DataDir)
	if err != nil {
		return err
	}
	base, segs, docs, err := openSegments(e.cfg.DataDir, e.cfg.TableSize)
	if err != nil {
		return err
	}
	if err := e.shared.Reset(base, segs); err != nil {
		return err
	}
	e.onDisk = state
	e.setDocs(docs)
	e.nextBatch = 0
	if base != nil {
		e.nextBatch = 1
	}
	if n := len(segs); n > 0 {
		e.nextBatch = segs[n-1].Batch + 1
	}
	e.metrics.SetPending(int64(len(segs)))
	e.logger.Info("index opened",
		"data_dir", e.cfg.DataDir,
		"base", base != nil,
		"pending", len(segs),
		"documents", len(docs),
		"read_only", e.cfg.ReadOnly,
	)
	return nil
}

// openSegments opens the base and the pending segments. Folded batches are
// retired in place, so the pending ones start at any number but must run
// without gaps because they are folded strictly in order.
func openSegments(dir string, tableSize int64) (*segment.Reader, []compaction.Segment, []index.DocInfo, error) {
	var (
		base *segment.Reader
		segs []compaction.Segment
		docs []index.DocInfo
	)
	closeAll := func() {
		if base != nil {
			base.Close()
		}
		for _, s := range segs {
			s.Reader.Close()
		}
	}

	basePaths := segment.BasePaths(dir)
	if basePaths.Exists() {
		r, err := segment.OpenReader(basePaths, tableSize)
		if err != nil {
			return nil, nil, nil, err
		}
		base = r
		d, err := segment.ReadDocInfo(basePaths.DocInfo)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		docs = append(docs, d...)
	}

	batches, err := segment.ListPending(dir)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	for i, batch := range batches {
		if want := batches[0] + i; batch != want {
			closeAll()
			return nil, nil, nil, fmt.Errorf("%w: pending segment %d found where %d was expected",
				apperrors.ErrCorruptRecord, batch, want)
		}
		paths := segment.PendingPaths(dir, batch)
		r, err := segment.OpenReader(paths, tableSize)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		segs = append(segs, compaction.Segment{Batch: batch, Reader: r})
		d, err := segment.ReadDocInfo(paths.DocInfo)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		docs = append(docs, d...)
	}
	return base, segs, docs, nil
}

func (e *Engine) setDocs(docs []index.DocInfo) {
	e.docsMu.Lock()
	defer e.docsMu.Unlock()
	e.docs = make(map[int]index.DocInfo, len(docs))
	e.totalTokens = 0
	for _, d := range docs {
		e.docs[d.DocID] = d
		e.totalTokens += int64(d.Length)
		if d.DocID > e.maxDocID {
			e.maxDocID = d.DocID
		}
	}
}

func (e *Engine) writable() error {
	if e.closed.Load() {
		return apperrors.ErrEngineClosed
	}
	if e.cfg.ReadOnly {
		return apperrors.ErrReadOnly
	}
	if err := e.daemon.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCompactionStopped, err)
	}
	return nil
}

// Insert adds offset to the postings of (token, docID). Document IDs must
// never decrease across calls. If token is new to the buffer and the buffer
// already holds FlushThreshold distinct tokens, the buffer is flushed first.
func (e *Engine) Insert(token string, docID, offset int) error {
	if err := e.writable(); err != nil {
		return err
	}
	if err := segment.ValidToken(token); err != nil {
		return err
	}
	if docID < 0 || offset < 0 {
		return fmt.Errorf("%w: negative doc id %d or offset %d", apperrors.ErrInvalidInput, docID, offset)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if docID < e.maxDocID {
		return fmt.Errorf("%w: doc %d inserted after doc %d", apperrors.ErrDocOrder, docID, e.maxDocID)
	}
	if e.shouldFlush(token) {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	e.buffer.Insert(token, docID, offset)
	e.maxDocID = docID
	return nil
}

// shouldFlush is true when inserting token would take the buffer past the
// threshold. A zero threshold never flushes.
func (e *Engine) shouldFlush(token string) bool {
	if e.cfg.FlushThreshold <= 0 {
		return false
	}
	return e.buffer.UniqueTerms() >= e.cfg.FlushThreshold && !e.buffer.Contains(token)
}

// RecordDocument stores a document's path and length. It goes to disk with
// the batch that is open when it is called.
func (e *Engine) RecordDocument(docID int, path string, length int) error {
	if err := e.writable(); err != nil {
		return err
	}
	d := index.DocInfo{DocID: docID, Path: path, Length: length}
	if docID < 0 || length < 0 {
		return fmt.Errorf("%w: document %+v", apperrors.ErrInvalidInput, d)
	}
	if err := segment.ValidDocPath(path); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if docID < e.maxDocID {
		return fmt.Errorf("%w: doc %d recorded after doc %d", apperrors.ErrDocOrder, docID, e.maxDocID)
	}
	e.maxDocID = docID
	e.buffer.SetDocument(docID, path, length)

	e.docsMu.Lock()
	if _, exists := e.docs[docID]; !exists {
		e.docs[docID] = d
		e.totalTokens += int64(length)
	}
	e.docsMu.Unlock()
	e.metrics.DocIndexed(length)
	return nil
}

// Flush writes the buffer out as the next segment, even below threshold.
func (e *Engine) Flush() error {
	if err := e.writable(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if e.buffer.Empty() {
		return nil
	}
	batch := e.nextBatch
	paths, target := segment.PendingPaths(e.cfg.DataDir, batch), "pending"
	if batch == 0 {
		paths, target = segment.BasePaths(e.cfg.DataDir), "base"
	}

	start := time.Now()
	snap := e.buffer.Snapshot()
	stats, err := segment.WriteBatch(paths, e.cfg.TableSize, snap, segment.RawTokensPath(e.cfg.DataDir, batch))
	e.metrics.ObserveFlush(target, time.Since(start), stats.Collisions, err)
	if err != nil {
		return fmt.Errorf("flushing batch %d: %w", batch, err)
	}
	reader, err := segment.OpenReader(paths, e.cfg.TableSize)
	if err != nil {
		return fmt.Errorf("opening batch %d: %w", batch, err)
	}
	if batch == 0 {
		if err := e.shared.SetBase(reader); err != nil {
			return err
		}
	} else {
		e.shared.AddPending(batch, reader)
		e.metrics.SetPending(e.shared.Pending())
	}
	e.buffer.Reset()
	e.nextBatch++

	e.logger.Info("batch flushed",
		"batch", batch,
		"target", target,
		"terms", stats.Terms,
		"docs", stats.Docs,
		"collisions", stats.Collisions,
		"bytes", stats.Bytes,
		"pending", e.shared.Pending(),
		"duration", time.Since(start),
	)
	return nil
}

// GetPostings returns the postings of token across the base segment, every
// pending segment and the buffer, or nil when no document contains it.
func (e *Engine) GetPostings(token string) (*index.PostingsList, error) {
	if e.closed.Load() {
		return nil, apperrors.ErrEngineClosed
	}
	if err := segment.ValidToken(token); err != nil {
		return nil, err
	}
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()
	// Cleanup closes the readers under the write lock.
	if e.closed.Load() {
		return nil, apperrors.ErrEngineClosed
	}
	var result *index.PostingsList
	err := e.shared.View(func(base *segment.Reader, pending []compaction.Segment) error {
		if base != nil {
			pl, err := base.Postings(token)
			if err != nil {
				return err
			}
			result = pl
		}
		for _, seg := range pending {
			pl, err := seg.Reader.Postings(token)
			if err != nil {
				return err
			}
			if result, err = index.Merge(result, pl); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		result, err = index.Merge(result, e.buffer.Search(token))
	}
	found := err == nil && result.Len() > 0
	e.metrics.ObserveLookup(found, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", token, err)
	}
	if !found {
		return nil, nil
	}
	return result, nil
}

// NextDocID is the lowest document ID the engine will still accept.
func (e *Engine) NextDocID() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxDocID + 1
}

// DocInfo returns the path and length recorded for docID.
func (e *Engine) DocInfo(docID int) (index.DocInfo, bool) {
	e.docsMu.RLock()
	defer e.docsMu.RUnlock()
	d, ok := e.docs[docID]
	return d, ok
}

// Drain blocks until the daemon has folded every pending segment.
func (e *Engine) Drain(ctx context.Context) error {
	if e.daemon == nil {
		return nil
	}
	return e.daemon.Wait(ctx)
}

// Err reports the error that stopped the compaction daemon, if any.
func (e *Engine) Err() error {
	if e.daemon == nil {
		return nil
	}
	return e.daemon.Err()
}

// Reload reopens the segments on disk if any of them changed since they were
// last opened, and reports whether it did. Only read-only engines may reload;
// they serve an index another process is writing.
func (e *Engine) Reload() (bool, error) {
	if !e.cfg.ReadOnly {
		return false, fmt.Errorf("%w: reload on a writable engine", apperrors.ErrInvalidInput)
	}
	if e.closed.Load() {
		return false, apperrors.ErrEngineClosed
	}
	state, err := segment.StatDir(e.cfg.DataDir)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return false, apperrors.ErrEngineClosed
	}
	if state.Equal(e.onDisk) {
		return false, nil
	}
	if err := e.load(); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup flushes the last partial batch, waits until every pending segment
// has been folded into the base, stops the daemon and removes all scratch
// files. It may be called once; the engine is unusable afterwards.
func (e *Engine) Cleanup(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return apperrors.ErrEngineClosed
	}
	if e.cfg.ReadOnly {
		return e.closeReaders()
	}

	e.mu.Lock()
	flushErr := e.flushLocked()
	e.mu.Unlock()

	drainErr := resilience.WithTimeout(ctx, e.cfg.DrainTimeout, "drain pending segments", e.daemon.Wait)
	e.cancel()
	runErr := e.group.Wait()

	errs := []error{flushErr, drainErr}
	if drainErr == nil {
		errs = append(errs, runErr)
	}
	if flushErr == nil && drainErr == nil && runErr == nil {
		errs = append(errs, e.removeScratch())
	} else {
		e.logger.Warn("scratch files kept after incomplete drain", "pending", e.shared.Pending())
	}
	errs = append(errs, e.closeReaders())

	err := errors.Join(errs...)
	e.logger.Info("index closed",
		"documents", e.Stats().Documents,
		"folded", e.daemon.Folded(),
		"error", err,
	)
	return err
}

// closeReaders waits out in-flight lookups before closing segment files.
func (e *Engine) closeReaders() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shared.Close()
}

func (e *Engine) removeScratch() error {
	var errs []error
	if err := os.RemoveAll(segment.ScratchDir(e.cfg.DataDir)); err != nil {
		errs = append(errs, fmt.Errorf("removing scratch directory: %w", err))
	}
	batches, err := segment.ListPending(e.cfg.DataDir)
	if err != nil {
		errs = append(errs, err)
	}
	for _, b := range batches {
		errs = append(errs, segment.PendingPaths(e.cfg.DataDir, b).Remove())
	}
	return errors.Join(errs...)
}
