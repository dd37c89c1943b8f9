package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

const (
	entrySep  = '.'
	docSep    = ':'
	offsetSep = ','
)

// PostingsEntry is one document's occurrences of a token. Offsets are kept
// sorted and free of duplicates.
type PostingsEntry struct {
	DocID   int     `json:"doc_id"`
	Offsets []int   `json:"offsets"`
	Score   float64 `json:"score,omitempty"`
}

// AddOffset inserts offset at its sorted position, ignoring duplicates.
func (e *PostingsEntry) AddOffset(offset int) {
	i := sort.SearchInts(e.Offsets, offset)
	if i < len(e.Offsets) && e.Offsets[i] == offset {
		return
	}
	e.Offsets = append(e.Offsets, 0)
	copy(e.Offsets[i+1:], e.Offsets[i:])
	e.Offsets[i] = offset
}

// MergeOffsets replaces the entry's offsets with the sorted union of its own
// and other.
func (e *PostingsEntry) MergeOffsets(other []int) {
	e.Offsets = unionOffsets(e.Offsets, other)
}

func (e PostingsEntry) clone() PostingsEntry {
	offsets := make([]int, len(e.Offsets))
	copy(offsets, e.Offsets)
	return PostingsEntry{DocID: e.DocID, Offsets: offsets, Score: e.Score}
}

func unionOffsets(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// PostingsList is the ordered set of entries for one token, strictly
// increasing by DocID, with constant-time lookup by DocID.
type PostingsList struct {
	entries []PostingsEntry
	byDoc   map[int]int
}

// NewPostingsList returns an empty list.
func NewPostingsList() *PostingsList {
	return &PostingsList{byDoc: make(map[int]int)}
}

func (l *PostingsList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// At returns the i-th entry in DocID order.
func (l *PostingsList) At(i int) *PostingsEntry {
	return &l.entries[i]
}

// Get returns the entry for docID, if present.
func (l *PostingsList) Get(docID int) (*PostingsEntry, bool) {
	i, ok := l.byDoc[docID]
	if !ok {
		return nil, false
	}
	return &l.entries[i], true
}

// Entries returns a copy of the entries in DocID order.
func (l *PostingsList) Entries() []PostingsEntry {
	if l == nil {
		return nil
	}
	out := make([]PostingsEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// DocIDs returns the list's document identifiers in increasing order.
func (l *PostingsList) DocIDs() []int {
	ids := make([]int, len(l.entries))
	for i, e := range l.entries {
		ids[i] = e.DocID
	}
	return ids
}

// Add records one occurrence of the token in docID at offset, creating the
// document's entry when needed.
func (l *PostingsList) Add(docID, offset int) {
	if e, ok := l.Get(docID); ok {
		e.AddOffset(offset)
		return
	}
	entry := PostingsEntry{DocID: docID, Offsets: []int{offset}}
	n := len(l.entries)
	if n == 0 || l.entries[n-1].DocID < docID {
		l.entries = append(l.entries, entry)
		l.byDoc[docID] = n
		return
	}
	i := sort.Search(n, func(i int) bool { return l.entries[i].DocID > docID })
	l.entries = append(l.entries, PostingsEntry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = entry
	l.reindex(i)
}

// Append adds entry after the current last entry. Its DocID must be greater
// than every DocID already in the list.
func (l *PostingsList) Append(entry PostingsEntry) error {
	n := len(l.entries)
	if n > 0 && l.entries[n-1].DocID >= entry.DocID {
		return fmt.Errorf("%w: appending doc %d after doc %d", apperrors.ErrDocOrder, entry.DocID, l.entries[n-1].DocID)
	}
	l.entries = append(l.entries, entry.clone())
	l.byDoc[entry.DocID] = n
	return nil
}

// Clone returns a deep copy.
func (l *PostingsList) Clone() *PostingsList {
	out := &PostingsList{
		entries: make([]PostingsEntry, len(l.entries)),
		byDoc:   make(map[int]int, len(l.entries)),
	}
	for i, e := range l.entries {
		out.entries[i] = e.clone()
		out.byDoc[e.DocID] = i
	}
	return out
}

func (l *PostingsList) reindex(from int) {
	for i := from; i < len(l.entries); i++ {
		l.byDoc[l.entries[i].DocID] = i
	}
}

// Merge folds newer into older. Every DocID in newer must be at least the
// last DocID of older: lists written by later batches only ever carry later
// documents. When the boundary document appears in both lists its offsets
// are unioned. Either argument may be nil.
func Merge(older, newer *PostingsList) (*PostingsList, error) {
	if older.Len() == 0 {
		if newer == nil {
			return nil, nil
		}
		return newer.Clone(), nil
	}
	merged := older.Clone()
	if newer.Len() == 0 {
		return merged, nil
	}
	last := merged.At(merged.Len() - 1)
	first := newer.At(0)
	rest := newer.entries
	switch {
	case last.DocID < first.DocID:
	case last.DocID == first.DocID:
		last.MergeOffsets(first.Offsets)
		rest = rest[1:]
	default:
		return nil, fmt.Errorf("%w: newer list starts at doc %d, older ends at doc %d",
			apperrors.ErrDocOrder, first.DocID, last.DocID)
	}
	for _, e := range rest {
		if err := merged.Append(e); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// String renders the list in its on-disk text form: every entry written as
// docID:offset,offset,... and terminated by a period.
func (l *PostingsList) String() string {
	var b strings.Builder
	for _, e := range l.entries {
		b.WriteString(strconv.Itoa(e.DocID))
		b.WriteByte(docSep)
		for i, off := range e.Offsets {
			if i > 0 {
				b.WriteByte(offsetSep)
			}
			b.WriteString(strconv.Itoa(off))
		}
		b.WriteByte(entrySep)
	}
	return b.String()
}

// ParsePostingsList decodes the text form produced by String.
func ParsePostingsList(s string) (*PostingsList, error) {
	l := NewPostingsList()
	for _, rep := range strings.Split(s, string(entrySep)) {
		if rep == "" {
			continue
		}
		docPart, offsetPart, ok := strings.Cut(rep, string(docSep))
		if !ok {
			return nil, fmt.Errorf("%w: postings entry %q has no doc separator", apperrors.ErrCorruptRecord, rep)
		}
		docID, err := strconv.Atoi(docPart)
		if err != nil || docID < 0 {
			return nil, fmt.Errorf("%w: bad doc id %q", apperrors.ErrCorruptRecord, docPart)
		}
		entry := PostingsEntry{DocID: docID}
		if offsetPart != "" {
			fields := strings.Split(offsetPart, string(offsetSep))
			entry.Offsets = make([]int, 0, len(fields))
			for _, f := range fields {
				off, err := strconv.Atoi(f)
				if err != nil {
					return nil, fmt.Errorf("%w: bad offset %q in doc %d", apperrors.ErrCorruptRecord, f, docID)
				}
				entry.Offsets = append(entry.Offsets, off)
			}
		}
		if err := l.Append(entry); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptRecord, err)
		}
	}
	return l, nil
}

// TermEntry pairs a token with its postings.
type TermEntry struct {
	Term     string
	Postings *PostingsList
}

// DocInfo is one line of a doc-info file.
type DocInfo struct {
	DocID  int
	Path   string
	Length int
}
