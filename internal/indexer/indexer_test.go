package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/tokenizer"
)

type recordedInsert struct {
	Token  string
	DocID  int
	Offset int
}

type fakeInserter struct {
	inserts []recordedInsert
	docs    map[int]int

	// failAt makes the insert at that position fail once. Zero disables it.
	failAt int
}

func (f *fakeInserter) Insert(token string, docID, offset int) error {
	if f.failAt > 0 && len(f.inserts) == f.failAt {
		f.failAt = 0
		return errors.New("disk full")
	}
	f.inserts = append(f.inserts, recordedInsert{token, docID, offset})
	return nil
}

func (f *fakeInserter) RecordDocument(docID int, path string, length int) error {
	if f.docs == nil {
		f.docs = make(map[int]int)
	}
	f.docs[docID] = length
	return nil
}

func TestIndexDocumentAssignsIncreasingIDs(t *testing.T) {
	fake := &fakeInserter{}
	ix := NewIndexer(fake, tokenizer.New(tokenizer.PlainOptions()), 7)

	first, err := ix.IndexDocument("one", "a b a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ix.IndexDocument("two", "b c")
	if err != nil {
		t.Fatal(err)
	}
	if first != 7 || second != 8 {
		t.Fatalf("ids = %d, %d; want 7, 8", first, second)
	}
	want := []recordedInsert{
		{"a", 7, 0}, {"b", 7, 1}, {"a", 7, 2},
		{"b", 8, 0}, {"c", 8, 1},
	}
	if diff := cmp.Diff(want, fake.inserts); diff != "" {
		t.Errorf("inserts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]int{7: 3, 8: 2}, fake.docs); diff != "" {
		t.Errorf("doc lengths (-want +got):\n%s", diff)
	}
}

func TestIndexDocumentRetryReusesID(t *testing.T) {
	fake := &fakeInserter{failAt: 1}
	ix := NewIndexer(fake, tokenizer.New(tokenizer.PlainOptions()), 3)

	if _, err := ix.IndexDocument("a.txt", "alpha beta"); err == nil {
		t.Fatal("expected the second insert to fail")
	}
	id, err := ix.IndexDocument("a.txt", "alpha beta")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if id != 3 {
		t.Errorf("retry id = %d, want 3", id)
	}
	next, err := ix.IndexDocument("b.txt", "gamma")
	if err != nil {
		t.Fatal(err)
	}
	if next != 4 {
		t.Errorf("next id = %d, want 4", next)
	}

	want := []recordedInsert{
		{"alpha", 3, 0},
		{"alpha", 3, 0},
		{"beta", 3, 1},
		{"gamma", 4, 0},
	}
	if diff := cmp.Diff(want, fake.inserts); diff != "" {
		t.Errorf("inserts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]int{3: 2, 4: 1}, fake.docs); diff != "" {
		t.Errorf("documents (-want +got):\n%s", diff)
	}
}

func TestIndexDocumentAbandonsPartialOnNewPath(t *testing.T) {
	fake := &fakeInserter{failAt: 1}
	ix := NewIndexer(fake, tokenizer.New(tokenizer.PlainOptions()), 0)

	if _, err := ix.IndexDocument("a.txt", "alpha beta"); err == nil {
		t.Fatal("expected the second insert to fail")
	}
	id, err := ix.IndexDocument("b.txt", "gamma")
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if _, ok := fake.docs[0]; ok {
		t.Error("abandoned document should not be recorded")
	}
}

func TestIndexFiles(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":        "segment merge",
		"sub/b.txt":    "merge sort",
		"sub/deep/c.t": "sort",
	}
	for name, body := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	e := openEngine(t, testConfig(t, 2))
	ix := NewIndexer(e, tokenizer.New(tokenizer.PlainOptions()), e.NextDocID())
	n, err := ix.IndexFiles(context.Background(), root)
	if err != nil {
		t.Fatalf("IndexFiles: %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d files, want 3", n)
	}
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	drain(t, e)

	// WalkDir visits a.txt, sub/b.txt, sub/deep/c.t in that order.
	if diff := cmp.Diff([]int{0, 1}, mustDocIDs(t, e, "merge")); diff != "" {
		t.Errorf("merge docs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, mustDocIDs(t, e, "sort")); diff != "" {
		t.Errorf("sort docs (-want +got):\n%s", diff)
	}
	d, ok := e.DocInfo(1)
	if !ok || d.Path != filepath.Join(root, "sub/b.txt") || d.Length != 2 {
		t.Errorf("DocInfo(1) = %+v, %v", d, ok)
	}
}
