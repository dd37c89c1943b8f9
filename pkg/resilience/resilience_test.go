package resilience

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange: func(_ string, _, to State) {
			transitions = append(transitions, to)
		},
	})
	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker: err=%v called=%v", err, called)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial request: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestFailedTrialReopens(t *testing.T) {
	cb := NewCircuitBreaker("flaky", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	cb.Execute(func() error { return errors.New("down") })
	time.Sleep(15 * time.Millisecond)
	cb.Execute(func() error { return errors.New("still down") })
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open", cb.GetState())
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "rename", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, os.ErrNotExist) },
	}, func() error {
		attempts++
		return os.ErrNotExist
	})
	if !errors.Is(err, os.ErrNotExist) || attempts != 1 {
		t.Errorf("err=%v attempts=%d, want ErrNotExist after 1", err, attempts)
	}
}

func TestRetryExhaustion(t *testing.T) {
	retries := 0
	attempts := 0
	err := Retry(context.Background(), "flaky", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		OnRetry:      func(int, error) { retries++ },
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || attempts != 3 || retries != 2 {
		t.Errorf("err=%v attempts=%d retries=%d", err, attempts, retries)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "drain", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, apperrors.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrTimeout and DeadlineExceeded", err)
	}
	if err := WithTimeout(context.Background(), 0, "unbounded", func(context.Context) error { return nil }); err != nil {
		t.Errorf("unbounded: %v", err)
	}
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("busy")
	attempts := 0
	err := Retry(context.Background(), "swap", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 2 {
		t.Errorf("err=%v attempts=%d, want busy after 2", err, attempts)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}.withDefaults()
	for attempt := 1; attempt <= 10; attempt++ {
		d := cfg.backoff(attempt)
		if d <= 0 || d > cfg.MaxDelay {
			t.Errorf("backoff(%d) = %v, want (0, %v]", attempt, d, cfg.MaxDelay)
		}
	}
	if d := cfg.backoff(1); d < 9*time.Millisecond || d > 11*time.Millisecond {
		t.Errorf("first backoff = %v, want 10ms ±10%%", d)
	}
}
