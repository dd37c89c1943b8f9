package compaction

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/segment"
)

// Segment is one flushed batch that has not been folded into the base yet.
type Segment struct {
	Batch  int
	Reader *segment.Reader
}

// Shared is the state the ingestion path and the daemon both touch: the
// pending-segment counter and the set of readers composing the on-disk index.
// Readers hold the read lock for the whole lookup; the swap holds the write
// lock, so a lookup never observes a half-renamed base.
type Shared struct {
	pending atomic.Int64

	mu       sync.RWMutex
	base     *segment.Reader
	segments []Segment
	changed  chan struct{}

	wake chan struct{}
}

func NewShared() *Shared {
	return &Shared{
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Pending is the number of flushed segments not yet retired.
func (s *Shared) Pending() int64 {
	return s.pending.Load()
}

// HasBase reports whether a base segment has been published.
func (s *Shared) HasBase() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base != nil
}

// SetBase installs r as the base segment, closing the previous one.
func (s *Shared) SetBase(r *segment.Reader) error {
	s.mu.Lock()
	old := s.base
	s.base = r
	s.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// AddPending publishes a freshly flushed segment and wakes the daemon.
func (s *Shared) AddPending(batch int, r *segment.Reader) {
	s.mu.Lock()
	s.segments = append(s.segments, Segment{Batch: batch, Reader: r})
	s.mu.Unlock()
	s.pending.Add(1)
	s.Notify()
}

// Notify wakes the daemon without blocking.
func (s *Shared) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Shared) Wake() <-chan struct{} {
	return s.wake
}

// Oldest returns the lowest-numbered pending segment.
func (s *Shared) Oldest() (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return Segment{}, false
	}
	return s.segments[0], true
}

func (s *Shared) Base() *segment.Reader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// View calls fn with the base reader (possibly nil) and the pending
// segments, oldest first, while holding the read lock.
func (s *Shared) View(fn func(base *segment.Reader, pending []Segment) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.base, s.segments)
}

// Replace runs publish under the write lock. publish moves the new base files
// into place; Replace then reopens the base at paths and drops the pending
// segment batch from the read set. The retired segment's reader is closed.
func (s *Shared) Replace(batch int, paths segment.Paths, tableSize int64, publish func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segments) == 0 || s.segments[0].Batch != batch {
		return fmt.Errorf("segment %d is not the oldest pending segment", batch)
	}
	if err := publish(); err != nil {
		return err
	}
	reader, err := segment.OpenReader(paths, tableSize)
	if err != nil {
		return fmt.Errorf("reopening base segment: %w", err)
	}
	var errs []error
	if s.base != nil {
		errs = append(errs, s.base.Close())
	}
	s.base = reader
	errs = append(errs, s.segments[0].Reader.Close())
	s.segments = s.segments[1:]
	return errors.Join(errs...)
}

// Retire decrements the pending counter once a folded segment's files are
// gone, and wakes anything waiting in Changed.
func (s *Shared) Retire() int64 {
	n := s.pending.Add(-1)
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	return n
}

// Changed returns a channel closed at the next Retire.
func (s *Shared) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Close closes every open reader.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.base != nil {
		errs = append(errs, s.base.Close())
		s.base = nil
	}
	for _, seg := range s.segments {
		errs = append(errs, seg.Reader.Close())
	}
	s.segments = nil
	return errors.Join(errs...)
}

// Reset replaces the whole read set, closing the previous readers. It is used
// by read-only engines that pick up segments written by another process.
func (s *Shared) Reset(base *segment.Reader, segments []Segment) error {
	s.mu.Lock()
	oldBase, oldSegs := s.base, s.segments
	s.base = base
	s.segments = segments
	s.mu.Unlock()
	s.pending.Store(int64(len(segments)))

	var errs []error
	if oldBase != nil {
		errs = append(errs, oldBase.Close())
	}
	for _, seg := range oldSegs {
		errs = append(errs, seg.Reader.Close())
	}
	return errors.Join(errs...)
}
