package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds a Retry loop. Retryable, when set, stops the loop early
// for errors it rejects; OnRetry is called after every failed attempt that
// will be retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	Retryable      func(error) bool
	OnRetry        func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// backoff is the wait after the given failed attempt (1-based), jittered by
// ±JitterFraction and capped at MaxDelay.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	d *= 1 + c.JitterFraction*(2*rand.Float64()-1)
	d = min(d, float64(c.MaxDelay))
	if d <= 0 {
		return c.InitialDelay
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns a non-retryable error, ctx ends
// or MaxAttempts is reached. The last error is wrapped in the result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		case cfg.Retryable != nil && !cfg.Retryable(err):
			return fmt.Errorf("%s: %w", name, err)
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("%s: gave up after %d attempts: %w", name, attempt, err)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		delay := cfg.backoff(attempt)
		logger.Warn("attempt failed", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", delay)

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%s: aborted after %d attempts: %w", name, attempt, ctx.Err())
		}
	}
}
