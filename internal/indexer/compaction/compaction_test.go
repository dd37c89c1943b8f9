package compaction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/resilience"
)

const testTableSize = 31

type posting struct {
	token  string
	doc    int
	offset int
}

func buildBatch(docs []index.DocInfo, postings ...posting) index.Batch {
	mem := index.NewMemoryIndex()
	for _, p := range postings {
		mem.Insert(p.token, p.doc, p.offset)
	}
	for _, d := range docs {
		mem.SetDocument(d.DocID, d.Path, d.Length)
	}
	return mem.Snapshot()
}

type fixture struct {
	dir    string
	shared *Shared
	daemon *Daemon
	cancel context.CancelFunc
	runErr chan error
}

func newFixture(t *testing.T, base index.Batch, pending ...index.Batch) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(segment.ScratchDir(dir), 0755); err != nil {
		t.Fatal(err)
	}
	shared := NewShared()
	if _, err := segment.WriteBatch(segment.BasePaths(dir), testTableSize, base, segment.RawTokensPath(dir, 0)); err != nil {
		t.Fatalf("writing base: %v", err)
	}
	r, err := segment.OpenReader(segment.BasePaths(dir), testTableSize)
	if err != nil {
		t.Fatal(err)
	}
	shared.SetBase(r)
	for i, b := range pending {
		batch := i + 1
		paths := segment.PendingPaths(dir, batch)
		if _, err := segment.WriteBatch(paths, testTableSize, b, segment.RawTokensPath(dir, batch)); err != nil {
			t.Fatalf("writing batch %d: %v", batch, err)
		}
		pr, err := segment.OpenReader(paths, testTableSize)
		if err != nil {
			t.Fatal(err)
		}
		shared.AddPending(batch, pr)
	}
	t.Cleanup(func() { shared.Close() })
	return &fixture{dir: dir, shared: shared}
}

func (f *fixture) start(t *testing.T, opts ...Option) {
	t.Helper()
	f.daemon = NewDaemon(Config{
		Dir:          f.dir,
		TableSize:    testTableSize,
		ChunkSize:    2,
		PollInterval: 10 * time.Millisecond,
		Swap:         resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
	}, f.shared, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.runErr = make(chan error, 1)
	go func() { f.runErr <- f.daemon.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.runErr
	})
}

func (f *fixture) wait(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.daemon.Wait(ctx)
}

func basePostings(t *testing.T, f *fixture, token string) *index.PostingsList {
	t.Helper()
	var pl *index.PostingsList
	err := f.shared.View(func(base *segment.Reader, _ []Segment) error {
		var err error
		pl, err = base.Postings(token)
		return err
	})
	if err != nil {
		t.Fatalf("Postings(%q): %v", token, err)
	}
	return pl
}

func TestFoldMergesVocabulary(t *testing.T) {
	base := buildBatch(
		[]index.DocInfo{{DocID: 0, Path: "d0", Length: 3}},
		posting{"a", 0, 0}, posting{"b", 0, 1}, posting{"a", 0, 2},
	)
	pending := buildBatch(
		[]index.DocInfo{{DocID: 1, Path: "d1", Length: 2}},
		posting{"b", 1, 0}, posting{"c", 1, 1},
	)
	f := newFixture(t, base, pending)

	var mu sync.Mutex
	var results []Result
	f.start(t, WithHook(func(_ context.Context, res Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}))
	if err := f.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := map[string][]index.PostingsEntry{
		"a": {{DocID: 0, Offsets: []int{0, 2}}},
		"b": {{DocID: 0, Offsets: []int{1}}, {DocID: 1, Offsets: []int{0}}},
		"c": {{DocID: 1, Offsets: []int{1}}},
	}
	for token, entries := range want {
		pl := basePostings(t, f, token)
		if pl == nil {
			t.Fatalf("token %q lost after compaction", token)
		}
		if diff := cmp.Diff(entries, pl.Entries()); diff != "" {
			t.Errorf("%q (-want +got):\n%s", token, diff)
		}
	}

	if segment.PendingPaths(f.dir, 1).Exists() {
		t.Error("pending segment files not deleted")
	}
	for _, name := range []string{"raw1", "sorted_token"} {
		if _, err := os.Stat(filepath.Join(segment.ScratchDir(f.dir), name)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed, stat err = %v", name, err)
		}
	}

	docs, err := segment.ReadDocInfo(segment.BasePaths(f.dir).DocInfo)
	if err != nil {
		t.Fatal(err)
	}
	wantDocs := []index.DocInfo{{DocID: 0, Path: "d0", Length: 3}, {DocID: 1, Path: "d1", Length: 2}}
	if diff := cmp.Diff(wantDocs, docs); diff != "" {
		t.Errorf("base doc-info (-want +got):\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || results[0].Batch != 1 || results[0].Terms != 3 {
		t.Errorf("hook results = %+v", results)
	}
	if f.shared.Pending() != 0 {
		t.Errorf("pending = %d, want 0", f.shared.Pending())
	}
}

func TestFoldsInBatchOrder(t *testing.T) {
	base := buildBatch([]index.DocInfo{{DocID: 0, Path: "d0", Length: 1}}, posting{"x", 0, 0})
	p1 := buildBatch([]index.DocInfo{{DocID: 1, Path: "d1", Length: 1}}, posting{"x", 1, 0})
	p2 := buildBatch([]index.DocInfo{{DocID: 2, Path: "d2", Length: 2}}, posting{"x", 2, 0}, posting{"y", 2, 1})
	f := newFixture(t, base, p1, p2)

	var mu sync.Mutex
	var order []int
	f.start(t, WithHook(func(_ context.Context, res Result) {
		mu.Lock()
		order = append(order, res.Batch)
		mu.Unlock()
	}))
	if err := f.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, basePostings(t, f, "x").DocIDs()); diff != "" {
		t.Errorf("x docs (-want +got):\n%s", diff)
	}
	if basePostings(t, f, "y") == nil {
		t.Error("y missing from base")
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{1, 2}, order); diff != "" {
		t.Errorf("fold order (-want +got):\n%s", diff)
	}
	if f.daemon.Folded() != 2 {
		t.Errorf("Folded = %d, want 2", f.daemon.Folded())
	}
}

func TestBoundaryDocumentOffsetsUnion(t *testing.T) {
	base := buildBatch([]index.DocInfo{{DocID: 0, Path: "d0", Length: 4}},
		posting{"t", 0, 1}, posting{"t", 0, 3}, posting{"t", 0, 5})
	pending := buildBatch(nil, posting{"t", 0, 3}, posting{"t", 0, 6})
	f := newFixture(t, base, pending)
	f.start(t)
	if err := f.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := []index.PostingsEntry{{DocID: 0, Offsets: []int{1, 3, 5, 6}}}
	if diff := cmp.Diff(want, basePostings(t, f, "t").Entries()); diff != "" {
		t.Errorf("t (-want +got):\n%s", diff)
	}
}

func TestDocOrderViolationIsFatal(t *testing.T) {
	base := buildBatch(nil, posting{"t", 5, 0})
	pending := buildBatch(nil, posting{"t", 3, 0})
	f := newFixture(t, base, pending)
	f.start(t)

	err := f.wait(t)
	if !errors.Is(err, apperrors.ErrDocOrder) {
		t.Fatalf("Wait error = %v, want ErrDocOrder", err)
	}
	select {
	case got := <-f.daemon.Errors():
		if !errors.Is(got, apperrors.ErrDocOrder) {
			t.Errorf("Errors() delivered %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("fatal error not delivered on Errors()")
	}
	if f.daemon.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", f.daemon.Phase())
	}
	if f.shared.Pending() != 1 {
		t.Errorf("pending = %d, want 1", f.shared.Pending())
	}
}

func TestRebuildsMissingTokenLists(t *testing.T) {
	base := buildBatch(nil, posting{"a", 0, 0})
	pending := buildBatch(nil, posting{"b", 1, 0})
	f := newFixture(t, base, pending)
	for _, batch := range []int{0, 1} {
		if err := os.Remove(segment.RawTokensPath(f.dir, batch)); err != nil {
			t.Fatal(err)
		}
	}
	f.start(t)
	if err := f.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, tok := range []string{"a", "b"} {
		if basePostings(t, f, tok) == nil {
			t.Errorf("token %q missing after compaction", tok)
		}
	}
}

func TestWaitTimesOut(t *testing.T) {
	base := buildBatch(nil, posting{"a", 0, 0})
	pending := buildBatch(nil, posting{"b", 1, 0})
	f := newFixture(t, base, pending)
	f.daemon = NewDaemon(Config{Dir: f.dir, TableSize: testTableSize}, f.shared)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.daemon.Wait(ctx); !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("Wait error = %v, want ErrTimeout", err)
	}
}
