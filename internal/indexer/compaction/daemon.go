// Package compaction folds pending segments into the base segment in the
// background. Each pass sorts the cumulative vocabulary, merges the base and
// the oldest pending segment token by token into a staging segment, renames
// it over the base and retires the pending files.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/extsort"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/tracing"
)

// Phase is the lifecycle state of the segment currently being folded.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSorting  Phase = "sorting"
	PhaseMerging  Phase = "merging"
	PhaseSwapping Phase = "swapping"
	PhaseRetired  Phase = "retired"
	PhaseFailed   Phase = "failed"
)

type Config struct {
	Dir          string
	TableSize    int64
	ChunkSize    int
	PollInterval time.Duration
	Swap         resilience.RetryConfig
}

// Result describes one completed pass.
type Result struct {
	Batch      int
	Tokens     int
	Terms      int64
	Collisions int
	Docs       []index.DocInfo
	Duration   time.Duration
}

// Hook runs after a segment is retired. Hooks must not block for long; the
// next pass waits for them.
type Hook func(ctx context.Context, res Result)

type Option func(*Daemon)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

func WithHook(h Hook) Option {
	return func(d *Daemon) { d.hooks = append(d.hooks, h) }
}

type Daemon struct {
	cfg     Config
	shared  *Shared
	sorter  *extsort.Sorter
	metrics *metrics.Metrics
	hooks   []Hook
	logger  *slog.Logger

	phase  atomic.Value
	folded atomic.Int64

	errOnce sync.Once
	err     error
	errs    chan error
	done    chan struct{}
}

func NewDaemon(cfg Config, shared *Shared, opts ...Option) *Daemon {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	tableSize := cfg.TableSize
	d := &Daemon{
		cfg:    cfg,
		shared: shared,
		sorter: extsort.New(segment.ScratchDir(cfg.Dir), cfg.ChunkSize, func(a, b string) int {
			return segment.Compare(a, b, tableSize)
		}),
		logger: slog.Default().With("component", "compaction"),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	d.phase.Store(PhaseIdle)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Phase is the step the daemon is currently in.
func (d *Daemon) Phase() Phase {
	return d.phase.Load().(Phase)
}

// Folded is the number of segments retired since the daemon started.
func (d *Daemon) Folded() int64 {
	return d.folded.Load()
}

// Err returns the error that stopped the daemon, if any.
func (d *Daemon) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Errors delivers the fatal error, at most once.
func (d *Daemon) Errors() <-chan error {
	return d.errs
}

// Done is closed when Run returns.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

func (d *Daemon) fail(err error) {
	d.errOnce.Do(func() {
		d.err = err
		d.phase.Store(PhaseFailed)
		d.errs <- err
	})
}

// Run folds pending segments until ctx is cancelled or a pass fails. A pass
// that has started always runs to completion; cancellation is only observed
// between passes.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("compaction daemon started", "poll_interval", d.cfg.PollInterval)
	for {
		for {
			if ctx.Err() != nil {
				d.logger.Info("compaction daemon stopped", "folded", d.Folded())
				return nil
			}
			seg, ok := d.shared.Oldest()
			if !ok {
				break
			}
			if err := d.fold(context.WithoutCancel(ctx), seg); err != nil {
				d.logger.Error("compaction failed", "batch", seg.Batch, "error", err)
				d.fail(err)
				return err
			}
		}
		select {
		case <-ctx.Done():
			d.logger.Info("compaction daemon stopped", "folded", d.Folded())
			return nil
		case <-d.shared.Wake():
		case <-ticker.C:
		}
	}
}

// Wait blocks until every pending segment has been retired, the daemon
// stops, or ctx expires.
func (d *Daemon) Wait(ctx context.Context) error {
	for {
		changed := d.shared.Changed()
		if d.shared.Pending() == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-d.done:
			if d.shared.Pending() == 0 {
				return nil
			}
			if err := d.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: daemon stopped with %d segments pending", apperrors.ErrEngineClosed, d.shared.Pending())
		case <-ctx.Done():
			return fmt.Errorf("%w: draining %d pending segments: %w", apperrors.ErrTimeout, d.shared.Pending(), ctx.Err())
		}
	}
}

func (d *Daemon) enter(ctx context.Context, batch int, phase Phase) (context.Context, func()) {
	d.phase.Store(phase)
	d.logger.Debug("compaction phase", "batch", batch, "phase", string(phase))
	ctx, span := tracing.StartChildSpan(ctx, string(phase))
	start := time.Now()
	return ctx, func() {
		span.End()
		d.metrics.ObservePhase(string(phase), time.Since(start))
	}
}

// fold runs FLUSHED -> SORTING -> MERGING -> SWAPPING -> RETIRED for seg.
func (d *Daemon) fold(ctx context.Context, seg Segment) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "compaction", fmt.Sprintf("batch-%d", seg.Batch))
	span.SetAttr("batch", seg.Batch)
	defer func() {
		span.End()
		if err != nil {
			span.SetAttr("error", err.Error())
		}
		span.Log(d.logger)
	}()

	pctx, end := d.enter(ctx, seg.Batch, PhaseSorting)
	tokens, err := d.sort(pctx, seg)
	end()
	if err != nil {
		d.metrics.ObserveCompaction(0, 0, err)
		return fmt.Errorf("sorting tokens for batch %d: %w", seg.Batch, err)
	}

	pctx, end = d.enter(ctx, seg.Batch, PhaseMerging)
	terms, collisions, err := d.merge(pctx, seg)
	end()
	if err != nil {
		d.metrics.ObserveCompaction(0, 0, err)
		return fmt.Errorf("merging batch %d: %w", seg.Batch, err)
	}

	_, end = d.enter(ctx, seg.Batch, PhaseSwapping)
	err = d.swap(ctx, seg)
	end()
	if err != nil {
		d.metrics.ObserveCompaction(0, 0, err)
		return err
	}

	docs, err := d.retire(seg)
	if err != nil {
		d.metrics.ObserveCompaction(0, 0, err)
		return fmt.Errorf("retiring batch %d: %w", seg.Batch, err)
	}
	d.phase.Store(PhaseRetired)
	remaining := d.shared.Retire()
	d.folded.Add(1)
	d.metrics.ObserveCompaction(collisions, terms, nil)
	d.metrics.SetPending(remaining)

	res := Result{
		Batch:      seg.Batch,
		Tokens:     tokens,
		Terms:      terms,
		Collisions: collisions,
		Docs:       docs,
		Duration:   time.Since(start),
	}
	span.SetAttr("terms", terms)
	span.SetAttr("collisions", collisions)
	d.logger.Info("segment compacted",
		"batch", res.Batch,
		"tokens", res.Tokens,
		"terms", res.Terms,
		"collisions", res.Collisions,
		"pending", remaining,
		"duration", res.Duration,
	)
	for _, h := range d.hooks {
		h(ctx, res)
	}
	d.phase.Store(PhaseIdle)
	return nil
}

// sort appends the batch's token list to the cumulative stream, seeding the
// stream with the base segment's list on the first pass, and writes the
// merged vocabulary to the sorted-token file.
func (d *Daemon) sort(ctx context.Context, seg Segment) (int, error) {
	if !d.sorter.HasStream() {
		raw0 := segment.RawTokensPath(d.cfg.Dir, 0)
		if base := d.shared.Base(); base != nil {
			if err := d.ensureTokenList(raw0, base); err != nil {
				return 0, err
			}
			if err := d.sorter.Append(raw0); err != nil {
				return 0, fmt.Errorf("seeding token stream: %w", err)
			}
		}
	}
	raw := segment.RawTokensPath(d.cfg.Dir, seg.Batch)
	if err := d.ensureTokenList(raw, seg.Reader); err != nil {
		return 0, err
	}
	if err := d.sorter.Append(raw); err != nil {
		return 0, err
	}
	stats, err := d.sorter.Sort(ctx, d.sorter.SortedPath())
	if err != nil {
		return 0, err
	}
	return stats.Unique, nil
}

// ensureTokenList rebuilds a missing token list from the segment itself,
// which happens when an index is reopened after its scratch directory was
// removed.
func (d *Daemon) ensureTokenList(path string, r *segment.Reader) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	n, err := segment.DumpTokens(r, path)
	if err != nil {
		return err
	}
	d.logger.Info("rebuilt token list", "path", path, "tokens", n)
	return nil
}

// merge writes the staging segment: every token of the sorted stream with
// the base and pending postings merged.
func (d *Daemon) merge(ctx context.Context, seg Segment) (int64, int, error) {
	base := d.shared.Base()
	w, err := segment.NewWriter(segment.StagingPaths(d.cfg.Dir), d.cfg.TableSize)
	if err != nil {
		return 0, 0, err
	}
	err = extsort.ReadLines(ctx, d.sorter.SortedPath(), func(token string) error {
		var older *index.PostingsList
		if base != nil {
			pl, err := base.Postings(token)
			if err != nil {
				return fmt.Errorf("reading base postings for %q: %w", token, err)
			}
			older = pl
		}
		newer, err := seg.Reader.Postings(token)
		if err != nil {
			return fmt.Errorf("reading pending postings for %q: %w", token, err)
		}
		merged, err := index.Merge(older, newer)
		if err != nil {
			return fmt.Errorf("token %q: %w", token, err)
		}
		if merged.Len() == 0 {
			d.logger.Warn("token in stream but in neither segment", "token", token, "batch", seg.Batch)
			return nil
		}
		return w.Put(token, merged)
	})
	if err != nil {
		w.Abort()
		return 0, 0, err
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}
	return w.Terms(), w.Collisions(), nil
}

// swap renames the staging files over the base under the write lock. Each
// rename is retried with backoff; exhaustion is fatal.
func (d *Daemon) swap(ctx context.Context, seg Segment) error {
	staging := segment.StagingPaths(d.cfg.Dir)
	base := segment.BasePaths(d.cfg.Dir)
	retry := d.cfg.Swap
	retry.Retryable = func(err error) bool { return !errors.Is(err, os.ErrNotExist) }
	retry.OnRetry = func(int, error) { d.metrics.SwapRetry() }

	err := d.shared.Replace(seg.Batch, base, d.cfg.TableSize, func() error {
		for _, mv := range [][2]string{
			{staging.Dictionary, base.Dictionary},
			{staging.Data, base.Data},
		} {
			src, dst := mv[0], mv[1]
			if err := resilience.Retry(ctx, "swap base segment", retry, func() error {
				return os.Rename(src, dst)
			}); err != nil {
				return fmt.Errorf("%w: %s -> %s: %w", apperrors.ErrSwapFailed, src, dst, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("swapping in base for batch %d: %w", seg.Batch, err)
	}
	return nil
}

// retire appends the folded segment's doc-info to the base and deletes its
// files together with its token list and the sorted stream.
func (d *Daemon) retire(seg Segment) ([]index.DocInfo, error) {
	paths := seg.Reader.Paths()
	docs, err := segment.ReadDocInfo(paths.DocInfo)
	if err != nil {
		return nil, err
	}
	if err := segment.AppendDocInfo(segment.BasePaths(d.cfg.Dir).DocInfo, paths.DocInfo); err != nil {
		return nil, err
	}
	var errs []error
	errs = append(errs, paths.Remove())
	for _, f := range []string{segment.RawTokensPath(d.cfg.Dir, seg.Batch), d.sorter.SortedPath()} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return docs, errors.Join(errs...)
}
