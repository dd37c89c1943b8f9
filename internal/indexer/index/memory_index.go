package index

import (
	"sort"
	"sync"
)

// MemoryIndex is the in-memory batch buffer: token to postings, plus the
// name and length of every document seen since the last reset.
type MemoryIndex struct {
	mu         sync.RWMutex
	index      map[string]*PostingsList
	docNames   map[int]string
	docLengths map[int]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:      make(map[string]*PostingsList),
		docNames:   make(map[int]string),
		docLengths: make(map[int]int),
	}
}

// Insert records token at offset within docID.
func (m *MemoryIndex) Insert(token string, docID, offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, exists := m.index[token]
	if !exists {
		pl = NewPostingsList()
		m.index[token] = pl
	}
	pl.Add(docID, offset)
}

// SetDocument records a document's name and length. Only the first call for
// a docID within one batch takes effect.
func (m *MemoryIndex) SetDocument(docID int, name string, length int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docNames[docID]; exists {
		return
	}
	m.docNames[docID] = name
	m.docLengths[docID] = length
}

// Contains reports whether token already has postings in the buffer.
func (m *MemoryIndex) Contains(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[token]
	return ok
}

// UniqueTerms is the exact number of distinct tokens buffered.
func (m *MemoryIndex) UniqueTerms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func (m *MemoryIndex) Search(token string) *PostingsList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pl, exists := m.index[token]
	if !exists {
		return nil
	}
	return pl.Clone()
}

// Batch is a frozen copy of the buffer, ready to be written as a segment.
type Batch struct {
	Terms []TermEntry
	Docs  []DocInfo
}

// Snapshot copies the buffer with terms sorted by token and documents sorted
// by DocID.
func (m *MemoryIndex) Snapshot() Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := make([]TermEntry, 0, len(m.index))
	for term, pl := range m.index {
		terms = append(terms, TermEntry{Term: term, Postings: pl.Clone()})
	}
	sort.Slice(terms, func(i, j int) bool {
		return terms[i].Term < terms[j].Term
	})
	docs := make([]DocInfo, 0, len(m.docNames))
	for docID, name := range m.docNames {
		docs = append(docs, DocInfo{DocID: docID, Path: name, Length: m.docLengths[docID]})
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DocID < docs[j].DocID
	})
	return Batch{Terms: terms, Docs: docs}
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docNames)
}

// Empty reports whether the buffer holds neither postings nor documents.
func (m *MemoryIndex) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index) == 0 && len(m.docNames) == 0
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]*PostingsList)
	m.docNames = make(map[int]string)
	m.docLengths = make(map[int]int)
}
