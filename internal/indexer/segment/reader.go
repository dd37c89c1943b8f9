package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

// Reader looks tokens up in one segment by probing its dictionary the same
// way Writer filled it.
type Reader struct {
	paths     Paths
	tableSize int64
	dict      *os.File
	data      *os.File
}

func OpenReader(paths Paths, tableSize int64) (*Reader, error) {
	dict, err := os.Open(paths.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("opening dictionary file: %w", err)
	}
	data, err := os.Open(paths.Data)
	if err != nil {
		dict.Close()
		return nil, fmt.Errorf("opening data file: %w", err)
	}
	return &Reader{
		paths:     paths,
		tableSize: tableSize,
		dict:      dict,
		data:      data,
	}, nil
}

func (r *Reader) Paths() Paths {
	return r.paths
}

// entry reads slot. A slot past the end of a short dictionary reads as unused.
func (r *Reader) entry(slot int64) (DictEntry, error) {
	var buf [EntrySize]byte
	n, err := r.dict.ReadAt(buf[:], slot*EntrySize)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return DictEntry{}, nil
		}
		if errors.Is(err, io.EOF) {
			return DictEntry{}, fmt.Errorf("%w: truncated dictionary slot %d", apperrors.ErrCorruptRecord, slot)
		}
		return DictEntry{}, fmt.Errorf("reading dictionary slot %d: %w", slot, err)
	}
	return decodeEntry(buf[:]), nil
}

func (r *Reader) record(e DictEntry) (string, string, error) {
	if e.Size <= 0 || e.Ptr < 0 {
		return "", "", fmt.Errorf("%w: dictionary entry ptr=%d size=%d", apperrors.ErrCorruptRecord, e.Ptr, e.Size)
	}
	buf := make([]byte, e.Size)
	if _, err := r.data.ReadAt(buf, e.Ptr); err != nil {
		if errors.Is(err, io.EOF) {
			return "", "", fmt.Errorf("%w: record at %d overruns data file", apperrors.ErrCorruptRecord, e.Ptr)
		}
		return "", "", fmt.Errorf("reading record at %d: %w", e.Ptr, err)
	}
	return splitRecord(buf)
}

// Postings returns token's postings, or nil when the segment does not hold
// it. A record that cannot be decoded is reported as ErrCorruptRecord.
func (r *Reader) Postings(token string) (*index.PostingsList, error) {
	slot := Hash(token, r.tableSize)
	for attempt := int64(0); attempt < r.tableSize; attempt++ {
		e, err := r.entry(slot)
		if err != nil {
			return nil, err
		}
		if e.Unused() {
			return nil, nil
		}
		stored, postings, err := r.record(e)
		if err != nil {
			return nil, err
		}
		if stored == token {
			pl, err := index.ParsePostingsList(postings)
			if err != nil {
				return nil, fmt.Errorf("decoding postings for %q: %w", token, err)
			}
			return pl, nil
		}
		slot = (slot + 1) % r.tableSize
	}
	return nil, nil
}

// ForEachToken calls fn with every token stored in the segment, in slot
// order.
func (r *Reader) ForEachToken(fn func(token string) error) error {
	br := bufio.NewReaderSize(io.NewSectionReader(r.dict, 0, r.tableSize*EntrySize), 1<<16)
	var buf [EntrySize]byte
	for slot := int64(0); slot < r.tableSize; slot++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("scanning dictionary slot %d: %w", slot, err)
		}
		e := decodeEntry(buf[:])
		if e.Unused() {
			continue
		}
		token, _, err := r.record(e)
		if err != nil {
			return err
		}
		if err := fn(token); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) Close() error {
	return errors.Join(r.dict.Close(), r.data.Close())
}
