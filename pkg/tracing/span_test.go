package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSpanTreeLogsOneRecord(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "compaction", "batch-3")
	root.SetAttr("batch", 3)
	for _, phase := range []string{"sorting", "merging"} {
		_, child := StartChildSpan(ctx, phase)
		if child.TraceID != "batch-3" {
			t.Errorf("child trace id = %q", child.TraceID)
		}
		child.End()
	}
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewJSONHandler(&buf, nil)))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding %q: %v", buf.String(), err)
	}
	if rec["msg"] != "span compaction" || rec["trace_id"] != "batch-3" {
		t.Errorf("record = %v", rec)
	}
	if rec["batch"] != float64(3) {
		t.Errorf("batch attr = %v", rec["batch"])
	}
	for _, phase := range []string{"sorting", "merging"} {
		g, ok := rec[phase].(map[string]any)
		if !ok {
			t.Fatalf("missing %s group in %v", phase, rec)
		}
		if _, ok := g["duration_ms"]; !ok {
			t.Errorf("%s group has no duration", phase)
		}
	}
}

func TestChildWithoutParent(t *testing.T) {
	ctx, s := StartChildSpan(context.Background(), "orphan")
	if s.TraceID != "" {
		t.Errorf("orphan trace id = %q", s.TraceID)
	}
	if SpanFromContext(ctx) != s {
		t.Error("context does not carry the span")
	}
	if s.Duration() != 0 {
		t.Error("duration set before End")
	}
}
