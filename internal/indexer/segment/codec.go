package segment

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

// EntrySize is the width of one dictionary slot: an 8-byte data pointer
// followed by a 4-byte record length, both big-endian.
const EntrySize = 12

const recordSep = '\t'

// DictEntry locates one record in a segment's data file. The zero value
// marks an unused slot.
type DictEntry struct {
	Ptr  int64
	Size int32
}

func (e DictEntry) Unused() bool {
	return e.Ptr == 0 && e.Size == 0
}

func (e DictEntry) encode(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Ptr))
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.Size))
}

func decodeEntry(buf []byte) DictEntry {
	return DictEntry{
		Ptr:  int64(binary.BigEndian.Uint64(buf[0:8])),
		Size: int32(binary.BigEndian.Uint32(buf[8:12])),
	}
}

// Hash maps token to its home slot in a table of tableSize slots.
func Hash(token string, tableSize int64) int64 {
	return int64(xxhash.Sum64String(token) % uint64(tableSize))
}

// Compare orders tokens the way they are laid out in the dictionary: by home
// slot first, then lexicographically.
func Compare(a, b string, tableSize int64) int {
	ha, hb := Hash(a, tableSize), Hash(b, tableSize)
	switch {
	case ha < hb:
		return -1
	case ha > hb:
		return 1
	}
	return strings.Compare(a, b)
}

// ValidToken reports whether token can be stored: it must be non-empty and
// must not contain the record or line separators.
func ValidToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", apperrors.ErrInvalidInput)
	}
	if strings.ContainsAny(token, "\t\n\r") {
		return fmt.Errorf("%w: token %q contains a separator", apperrors.ErrInvalidInput, token)
	}
	return nil
}

// encodeRecord renders "<token>\t<postings>".
func encodeRecord(token string, pl *index.PostingsList) []byte {
	return []byte(token + string(recordSep) + pl.String())
}

// splitRecord separates a data-file record into its token and postings text.
func splitRecord(rec []byte) (string, string, error) {
	token, postings, ok := strings.Cut(string(rec), string(recordSep))
	if !ok {
		return "", "", fmt.Errorf("%w: record without token separator", apperrors.ErrCorruptRecord)
	}
	return token, postings, nil
}
