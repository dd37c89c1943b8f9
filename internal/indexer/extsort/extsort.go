// Package extsort produces the deduplicated, ordered vocabulary a compaction
// pass walks. The cumulative token stream can outgrow memory, so it is sorted
// in bounded chunks that are spilled to block files and k-way merged.
package extsort

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

const (
	StreamFile  = "raw_tokens"
	SortedFile  = "sorted_token"
	blockPrefix = "token_block"

	DefaultChunkSize = 150000
	maxLine          = 1 << 20
)

// Stats describes one Sort call.
type Stats struct {
	Lines  int
	Blocks int
	Unique int
}

// Sorter owns the cumulative raw-token stream inside a scratch directory.
type Sorter struct {
	dir       string
	chunkSize int
	compare   func(a, b string) int
	logger    *slog.Logger
}

// New returns a Sorter working in dir. Chunks hold at most chunkSize lines;
// a non-positive value selects DefaultChunkSize.
func New(dir string, chunkSize int, compare func(a, b string) int) *Sorter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Sorter{
		dir:       dir,
		chunkSize: chunkSize,
		compare:   compare,
		logger:    slog.Default().With("component", "extsort"),
	}
}

func (s *Sorter) StreamPath() string {
	return filepath.Join(s.dir, StreamFile)
}

func (s *Sorter) SortedPath() string {
	return filepath.Join(s.dir, SortedFile)
}

func (s *Sorter) blockPath(i int) string {
	return filepath.Join(s.dir, blockPrefix+strconv.Itoa(i))
}

// HasStream reports whether the cumulative stream has been seeded.
func (s *Sorter) HasStream() bool {
	_, err := os.Stat(s.StreamPath())
	return err == nil
}

// Append copies the token list at src onto the end of the cumulative stream.
// Tokens are never removed from the stream.
func (s *Sorter) Append(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening token list: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(s.StreamPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening token stream: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("appending %s to token stream: %w", filepath.Base(src), err)
	}
	return out.Close()
}

// Sort writes every distinct token of the stream to out exactly once, in
// compare order.
func (s *Sorter) Sort(ctx context.Context, out string) (Stats, error) {
	blocks, lines, err := s.divide(ctx)
	defer func() {
		for _, b := range blocks {
			os.Remove(b)
		}
	}()
	if err != nil {
		return Stats{}, err
	}
	unique, err := s.merge(ctx, blocks, out)
	if err != nil {
		os.Remove(out)
		return Stats{}, err
	}
	stats := Stats{Lines: lines, Blocks: len(blocks), Unique: unique}
	s.logger.Debug("token stream sorted",
		"lines", stats.Lines,
		"blocks", stats.Blocks,
		"unique", stats.Unique,
	)
	return stats, nil
}

// divide spills the stream into sorted, deduplicated blocks of at most
// chunkSize input lines each.
func (s *Sorter) divide(ctx context.Context) ([]string, int, error) {
	f, err := os.Open(s.StreamPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening token stream: %w", err)
	}
	defer f.Close()

	sc := newScanner(f)
	var blocks []string
	lines := 0
	chunk := make(map[string]struct{}, s.chunkSize)
	inChunk := 0
	spill := func() error {
		if inChunk == 0 {
			return nil
		}
		path := s.blockPath(len(blocks))
		blocks = append(blocks, path)
		if err := s.writeBlock(path, chunk); err != nil {
			return err
		}
		clear(chunk)
		inChunk = 0
		return ctx.Err()
	}
	for sc.Scan() {
		tok := sc.Text()
		if tok == "" {
			continue
		}
		lines++
		chunk[tok] = struct{}{}
		inChunk++
		if inChunk == s.chunkSize {
			if err := spill(); err != nil {
				return blocks, lines, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return blocks, lines, fmt.Errorf("reading token stream: %w", err)
	}
	if err := spill(); err != nil {
		return blocks, lines, err
	}
	return blocks, lines, nil
}

func (s *Sorter) writeBlock(path string, set map[string]struct{}) error {
	toks := make([]string, 0, len(set))
	for tok := range set {
		toks = append(toks, tok)
	}
	slices.SortFunc(toks, s.compare)
	return writeLines(path, toks)
}

// merge k-way merges the block files into out, dropping a token equal to the
// one written just before it.
func (s *Sorter) merge(ctx context.Context, blocks []string, out string) (int, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("creating sorted token file: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<16)

	h := &cursorHeap{compare: s.compare}
	defer h.close()
	for _, path := range blocks {
		c, err := openCursor(path)
		if err != nil {
			f.Close()
			return 0, err
		}
		if c == nil {
			continue
		}
		h.cursors = append(h.cursors, c)
	}
	heap.Init(h)

	unique := 0
	prev, wrote := "", false
	for h.Len() > 0 {
		c := h.cursors[0]
		tok := c.head
		if !wrote || tok != prev {
			bw.WriteString(tok)
			bw.WriteByte('\n')
			prev, wrote = tok, true
			unique++
			if unique%s.chunkSize == 0 {
				if err := ctx.Err(); err != nil {
					f.Close()
					return 0, err
				}
			}
		}
		ok, err := c.advance()
		if err != nil {
			f.Close()
			return 0, err
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			c.close()
			heap.Pop(h)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("writing sorted token file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing sorted token file: %w", err)
	}
	return unique, nil
}

// ReadLines calls fn with each non-empty line of the file at path.
func ReadLines(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	sc := newScanner(f)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return sc
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	bw := bufio.NewWriterSize(f, 1<<16)
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

type cursor struct {
	f    *os.File
	sc   *bufio.Scanner
	head string
}

// openCursor returns nil for an empty block.
func openCursor(path string) (*cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	c := &cursor{f: f, sc: newScanner(f)}
	ok, err := c.advance()
	if err != nil || !ok {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *cursor) advance() (bool, error) {
	for c.sc.Scan() {
		if line := c.sc.Text(); line != "" {
			c.head = line
			return true, nil
		}
	}
	if err := c.sc.Err(); err != nil {
		return false, fmt.Errorf("reading %s: %w", filepath.Base(c.f.Name()), err)
	}
	return false, nil
}

func (c *cursor) close() {
	if c.f != nil {
		c.f.Close()
		c.f = nil
	}
}

type cursorHeap struct {
	cursors []*cursor
	compare func(a, b string) int
}

func (h *cursorHeap) Len() int { return len(h.cursors) }
func (h *cursorHeap) Less(i, j int) bool {
	return h.compare(h.cursors[i].head, h.cursors[j].head) < 0
}
func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *cursorHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}

func (h *cursorHeap) close() {
	for _, c := range h.cursors {
		c.close()
	}
}

// Remove deletes the cumulative stream and the sorted output.
func (s *Sorter) Remove() error {
	var errs []error
	for _, p := range []string{s.StreamPath(), s.SortedPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
