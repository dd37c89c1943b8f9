package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func testConsumer(handler MessageHandler) *Consumer {
	retry := handlerRetry
	retry.InitialDelay = time.Millisecond
	retry.MaxDelay = time.Millisecond
	return &Consumer{handler: handler, retry: retry, logger: slog.Default()}
}

func TestHandleRetriesTransientErrors(t *testing.T) {
	calls := 0
	c := testConsumer(func(context.Context, []byte, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	if err := c.handle(context.Background(), nil, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHandleStopsOnPermanentError(t *testing.T) {
	cause := errors.New("engine closed")
	calls := 0
	c := testConsumer(func(context.Context, []byte, []byte) error {
		calls++
		return Permanent(fmt.Errorf("indexing doc-a: %w", cause))
	})
	err := c.handle(context.Background(), nil, nil)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want it to wrap %v", err, cause)
	}
	if !IsPermanent(err) {
		t.Errorf("err = %v, want it to stay permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(errors.New("x")) {
		t.Error("plain error reported as permanent")
	}
}
