package extsort

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeList(t *testing.T, path string, tokens ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(tokens, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func readSorted(t *testing.T, path string) []string {
	t.Helper()
	var got []string
	err := ReadLines(context.Background(), path, func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	return got
}

func TestSortDeduplicatesAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 3, strings.Compare)
	writeList(t, filepath.Join(dir, "raw0"), "pear", "apple", "fig", "apple")
	writeList(t, filepath.Join(dir, "raw1"), "fig", "kiwi", "pear", "banana")
	for _, src := range []string{"raw0", "raw1"} {
		if err := s.Append(filepath.Join(dir, src)); err != nil {
			t.Fatalf("Append(%s): %v", src, err)
		}
	}

	stats, err := s.Sort(context.Background(), s.SortedPath())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	want := []string{"apple", "banana", "fig", "kiwi", "pear"}
	if diff := cmp.Diff(want, readSorted(t, s.SortedPath())); diff != "" {
		t.Errorf("sorted tokens (-want +got):\n%s", diff)
	}
	if stats.Lines != 8 || stats.Blocks != 3 || stats.Unique != 5 {
		t.Errorf("stats = %+v, want {Lines:8 Blocks:3 Unique:5}", stats)
	}

	blocks, _ := filepath.Glob(filepath.Join(dir, blockPrefix+"*"))
	if len(blocks) != 0 {
		t.Errorf("block files left behind: %v", blocks)
	}
}

func TestSortUsesComparator(t *testing.T) {
	dir := t.TempDir()
	byLength := func(a, b string) int {
		if d := len(a) - len(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	}
	s := New(dir, 2, byLength)
	writeList(t, filepath.Join(dir, "raw0"), "ccc", "a", "bb", "a", "dddd", "bb")
	if err := s.Append(filepath.Join(dir, "raw0")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sort(context.Background(), s.SortedPath()); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "bb", "ccc", "dddd"}
	if diff := cmp.Diff(want, readSorted(t, s.SortedPath())); diff != "" {
		t.Errorf("sorted tokens (-want +got):\n%s", diff)
	}
}

func TestStreamIsCumulative(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 100, strings.Compare)
	if s.HasStream() {
		t.Fatal("fresh sorter should have no stream")
	}
	writeList(t, filepath.Join(dir, "raw0"), "x", "y")
	writeList(t, filepath.Join(dir, "raw1"), "z")
	s.Append(filepath.Join(dir, "raw0"))
	if _, err := s.Sort(context.Background(), s.SortedPath()); err != nil {
		t.Fatal(err)
	}
	s.Append(filepath.Join(dir, "raw1"))
	if _, err := s.Sort(context.Background(), s.SortedPath()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"x", "y", "z"}, readSorted(t, s.SortedPath())); diff != "" {
		t.Errorf("second pass lost earlier tokens (-want +got):\n%s", diff)
	}
}

func TestSortManyChunks(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 7, strings.Compare)
	var toks []string
	for i := 0; i < 200; i++ {
		toks = append(toks, fmt.Sprintf("t%03d", i%50))
	}
	writeList(t, filepath.Join(dir, "raw0"), toks...)
	s.Append(filepath.Join(dir, "raw0"))
	stats, err := s.Sort(context.Background(), s.SortedPath())
	if err != nil {
		t.Fatal(err)
	}
	got := readSorted(t, s.SortedPath())
	if len(got) != 50 || stats.Unique != 50 {
		t.Fatalf("got %d unique tokens (stats %d), want 50", len(got), stats.Unique)
	}
	if !slices.IsSorted(got) {
		t.Error("output is not sorted")
	}
	if stats.Blocks != 29 {
		t.Errorf("blocks = %d, want ceil(200/7) = 29", stats.Blocks)
	}
}

func TestSortEmptyStream(t *testing.T) {
	s := New(t.TempDir(), 10, strings.Compare)
	stats, err := s.Sort(context.Background(), s.SortedPath())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Unique != 0 {
		t.Errorf("unique = %d, want 0", stats.Unique)
	}
	if got := readSorted(t, s.SortedPath()); len(got) != 0 {
		t.Errorf("expected empty output, got %v", got)
	}
}

func TestSortCancelled(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1, strings.Compare)
	writeList(t, filepath.Join(dir, "raw0"), "a", "b", "c")
	s.Append(filepath.Join(dir, "raw0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Sort(ctx, s.SortedPath()); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	blocks, _ := filepath.Glob(filepath.Join(dir, blockPrefix+"*"))
	if len(blocks) != 0 {
		t.Errorf("block files left behind: %v", blocks)
	}
}
