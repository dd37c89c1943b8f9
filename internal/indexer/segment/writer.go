package segment

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

// Writer builds one segment: a fixed-size open-addressed dictionary and an
// append-only data file. Collisions are resolved by linear probing among the
// slots this Writer has filled, which is enough because every segment is
// written from scratch.
type Writer struct {
	paths      Paths
	tableSize  int64
	dict       *os.File
	dataFile   *os.File
	data       *bufio.Writer
	free       int64
	used       []uint64
	terms      int64
	collisions int
	entryBuf   [EntrySize]byte
}

// NewWriter creates (or truncates) the dictionary and data files in paths.
func NewWriter(paths Paths, tableSize int64) (*Writer, error) {
	dict, err := os.OpenFile(paths.Dictionary, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating dictionary file: %w", err)
	}
	if err := dict.Truncate(tableSize * EntrySize); err != nil {
		dict.Close()
		return nil, fmt.Errorf("sizing dictionary file: %w", err)
	}
	dataFile, err := os.OpenFile(paths.Data, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		dict.Close()
		return nil, fmt.Errorf("creating data file: %w", err)
	}
	return &Writer{
		paths:     paths,
		tableSize: tableSize,
		dict:      dict,
		dataFile:  dataFile,
		data:      bufio.NewWriterSize(dataFile, 1<<16),
		used:      make([]uint64, (tableSize+63)/64),
	}, nil
}

func (w *Writer) isUsed(slot int64) bool {
	return w.used[slot/64]&(1<<(uint(slot)%64)) != 0
}

func (w *Writer) markUsed(slot int64) {
	w.used[slot/64] |= 1 << (uint(slot) % 64)
}

// Put appends the record for token and claims a dictionary slot for it.
func (w *Writer) Put(token string, pl *index.PostingsList) error {
	if err := ValidToken(token); err != nil {
		return err
	}
	if w.terms >= w.tableSize {
		return fmt.Errorf("%w: %d slots", apperrors.ErrTableFull, w.tableSize)
	}
	rec := encodeRecord(token, pl)
	if len(rec) > math.MaxInt32 {
		return fmt.Errorf("%w: record for %q is %d bytes", apperrors.ErrInvalidInput, token, len(rec))
	}
	slot := Hash(token, w.tableSize)
	if w.isUsed(slot) {
		w.collisions++
		for w.isUsed(slot) {
			slot = (slot + 1) % w.tableSize
		}
	}
	if _, err := w.data.Write(rec); err != nil {
		return fmt.Errorf("writing record for %q: %w", token, err)
	}
	DictEntry{Ptr: w.free, Size: int32(len(rec))}.encode(w.entryBuf[:])
	if _, err := w.dict.WriteAt(w.entryBuf[:], slot*EntrySize); err != nil {
		return fmt.Errorf("writing dictionary slot %d: %w", slot, err)
	}
	w.markUsed(slot)
	w.free += int64(len(rec))
	w.terms++
	return nil
}

func (w *Writer) Terms() int64 {
	return w.terms
}

// Collisions is the number of tokens that did not land in their home slot.
func (w *Writer) Collisions() int {
	return w.collisions
}

// Close flushes and syncs both files.
func (w *Writer) Close() error {
	if err := w.data.Flush(); err != nil {
		w.dict.Close()
		w.dataFile.Close()
		return fmt.Errorf("flushing data file: %w", err)
	}
	if err := w.dataFile.Sync(); err != nil {
		w.dict.Close()
		w.dataFile.Close()
		return fmt.Errorf("syncing data file: %w", err)
	}
	if err := w.dict.Sync(); err != nil {
		w.dict.Close()
		w.dataFile.Close()
		return fmt.Errorf("syncing dictionary file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		w.dict.Close()
		return fmt.Errorf("closing data file: %w", err)
	}
	if err := w.dict.Close(); err != nil {
		return fmt.Errorf("closing dictionary file: %w", err)
	}
	return nil
}

// Abort closes the files and removes them.
func (w *Writer) Abort() {
	w.dict.Close()
	w.dataFile.Close()
	os.Remove(w.paths.Dictionary)
	os.Remove(w.paths.Data)
}

// BatchStats summarises a written batch.
type BatchStats struct {
	Terms      int64
	Docs       int
	Collisions int
	Bytes      int64
}

// WriteBatch writes batch as a complete segment at paths, together with its
// doc-info file and the raw token list at rawPath. Files are written under a
// .tmp suffix and renamed into place, dictionary last, so a segment is never
// discovered half written.
func WriteBatch(paths Paths, tableSize int64, batch index.Batch, rawPath string) (BatchStats, error) {
	tmp := Paths{
		Dictionary: paths.Dictionary + ".tmp",
		Data:       paths.Data + ".tmp",
		DocInfo:    paths.DocInfo + ".tmp",
	}
	w, err := NewWriter(tmp, tableSize)
	if err != nil {
		return BatchStats{}, err
	}
	tokens := make([]string, 0, len(batch.Terms))
	for _, term := range batch.Terms {
		if err := w.Put(term.Term, term.Postings); err != nil {
			w.Abort()
			return BatchStats{}, err
		}
		tokens = append(tokens, term.Term)
	}
	if err := w.Close(); err != nil {
		tmp.Remove()
		return BatchStats{}, err
	}
	if err := WriteDocInfo(tmp.DocInfo, batch.Docs); err != nil {
		tmp.Remove()
		return BatchStats{}, err
	}
	if err := WriteTokenList(rawPath, tokens); err != nil {
		tmp.Remove()
		return BatchStats{}, err
	}
	for _, mv := range [][2]string{
		{tmp.Data, paths.Data},
		{tmp.DocInfo, paths.DocInfo},
		{tmp.Dictionary, paths.Dictionary},
	} {
		if err := os.Rename(mv[0], mv[1]); err != nil {
			tmp.Remove()
			return BatchStats{}, fmt.Errorf("publishing segment file %s: %w", mv[1], err)
		}
	}
	return BatchStats{
		Terms:      w.Terms(),
		Docs:       len(batch.Docs),
		Collisions: w.Collisions(),
		Bytes:      w.free,
	}, nil
}
