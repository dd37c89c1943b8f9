// Package benchmark measures the index hot paths: buffering, segment
// lookups, engine ingestion with background compaction, and the external
// sort that feeds each merge.
package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/extsort"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/config"
)

const benchTableSize = 65537

func vocabulary(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("term%05d", i)
	}
	return words
}

func BenchmarkMemoryIndexInsert(b *testing.B) {
	words := vocabulary(5000)
	mi := index.NewMemoryIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mi.Insert(words[i%len(words)], i/len(words), i%64)
	}
}

func BenchmarkMemoryIndexSnapshot(b *testing.B) {
	words := vocabulary(5000)
	mi := index.NewMemoryIndex()
	for doc := 0; doc < 200; doc++ {
		for off := 0; off < 50; off++ {
			mi.Insert(words[(doc*31+off)%len(words)], doc, off)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mi.Snapshot()
	}
}

func BenchmarkSegmentPostings(b *testing.B) {
	dir := b.TempDir()
	words := vocabulary(20000)
	w, err := segment.NewWriter(segment.BasePaths(dir), benchTableSize)
	if err != nil {
		b.Fatal(err)
	}
	for i, word := range words {
		pl := index.NewPostingsList()
		pl.Add(i%100, i%7)
		pl.Add(i%100+100, 3)
		if err := w.Put(word, pl); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	r, err := segment.OpenReader(segment.BasePaths(dir), benchTableSize)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Postings(words[i%len(words)]); err != nil {
			b.Fatal(err)
		}
	}
}

func benchConfig(b *testing.B, threshold int) config.IndexerConfig {
	cfg := config.DefaultIndexerConfig(b.TempDir())
	cfg.TableSize = benchTableSize
	cfg.FlushThreshold = threshold
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

// BenchmarkEngineInsert indexes documents of 50 tokens drawn from a 10 000
// word vocabulary. Smaller thresholds mean more flushes and more compaction.
func BenchmarkEngineInsert(b *testing.B) {
	words := vocabulary(10000)
	for _, threshold := range []int{0, 500, 5000} {
		b.Run(fmt.Sprintf("threshold_%d", threshold), func(b *testing.B) {
			engine, err := indexer.NewEngine(benchConfig(b, threshold))
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for doc := 0; doc < b.N; doc++ {
				for off := 0; off < 50; off++ {
					if err := engine.Insert(words[(doc*53+off*7)%len(words)], doc, off); err != nil {
						b.Fatal(err)
					}
				}
				if err := engine.RecordDocument(doc, fmt.Sprintf("doc%d", doc), 50); err != nil {
					b.Fatal(err)
				}
			}
			b.StopTimer()
			if err := engine.Cleanup(context.Background()); err != nil {
				b.Fatal(err)
			}
		})
	}
}

func BenchmarkEngineGetPostings(b *testing.B) {
	words := vocabulary(2000)
	engine, err := indexer.NewEngine(benchConfig(b, 500))
	if err != nil {
		b.Fatal(err)
	}
	defer engine.Cleanup(context.Background())
	for doc := 0; doc < 2000; doc++ {
		for off := 0; off < 20; off++ {
			engine.Insert(words[(doc*17+off)%len(words)], doc, off)
		}
		engine.RecordDocument(doc, fmt.Sprintf("doc%d", doc), 20)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := engine.Drain(ctx); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := engine.GetPostings(words[i%len(words)]); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func BenchmarkExternalSort(b *testing.B) {
	words := vocabulary(50000)
	src := filepath.Join(b.TempDir(), "raw1")
	if err := segment.WriteTokenList(src, words); err != nil {
		b.Fatal(err)
	}
	compare := func(x, y string) int { return segment.Compare(x, y, benchTableSize) }

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dir := b.TempDir()
		s := extsort.New(dir, 10000, compare)
		if err := s.Append(src); err != nil {
			b.Fatal(err)
		}
		if _, err := s.Sort(context.Background(), filepath.Join(dir, extsort.SortedFile)); err != nil {
			b.Fatal(err)
		}
		os.RemoveAll(dir)
	}
}
