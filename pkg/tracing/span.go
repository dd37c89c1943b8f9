// Package tracing times nested operations through a context and logs each
// finished tree as a single structured record.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed step. Children started from its context are attached
// to it and reported with it.
type Span struct {
	Name    string
	TraceID string

	start    time.Time
	duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []slog.Attr
}

// StartSpan begins a root span identified by traceID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan begins a span under the one carried by ctx. Without a
// parent the span is detached and never logged unless Log is called on it.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Log writes the span and its children as one record, children grouped
// under their names.
func (s *Span) Log(logger *slog.Logger) {
	attrs := append([]slog.Attr{slog.String("trace_id", s.TraceID)}, s.group()...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "span "+s.Name, attrs...)
}

func (s *Span) group() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []slog.Attr{slog.Int64("duration_ms", s.duration.Milliseconds())}
	out = append(out, s.attrs...)
	for _, c := range s.children {
		out = append(out, slog.Attr{Key: c.Name, Value: slog.GroupValue(c.group()...)})
	}
	return out
}
