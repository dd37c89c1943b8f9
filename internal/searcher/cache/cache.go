// Package cache keeps recently read postings lists in Redis so repeated
// lookups of hot tokens skip the segment files.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/resilience"
)

const keyPrefix = "postings:"

const breakerName = "postings-cache"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ComputeFunc loads the postings of a token from the index. A nil list means
// the token is absent; absence is cached too.
type ComputeFunc func() (*index.PostingsList, error)

type PostingsCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. Store failures trip a circuit breaker;
// while it is open every lookup goes straight to the index.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *PostingsCache {
	m.SetBreakerState(breakerName, int(resilience.StateClosed))
	return &PostingsCache{
		store: store,
		ttl:   ttl,
		breaker: resilience.NewCircuitBreaker(breakerName, resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     15 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		metrics: m,
		logger:  slog.Default().With("component", "postings-cache"),
	}
}

// Get returns the cached entries of token. The second result reports a hit;
// a hit with nil entries means the token was cached as absent.
func (c *PostingsCache) Get(ctx context.Context, token string) ([]index.PostingsEntry, bool) {
	key := buildKey(token)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if data == "" {
		c.miss()
		return nil, false
	}
	var entries []index.PostingsEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheResult(true)
	return entries, true
}

// Set stores the entries of token. Failures are logged, not returned.
func (c *PostingsCache) Set(ctx context.Context, token string, entries []index.PostingsEntry) {
	key := buildKey(token)
	data, err := json.Marshal(entries)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached entries of token, computing and storing
// them on a miss. Concurrent misses for one token share a single compute.
func (c *PostingsCache) GetOrCompute(ctx context.Context, token string, compute ComputeFunc) ([]index.PostingsEntry, bool, error) {
	if entries, ok := c.Get(ctx, token); ok {
		return entries, true, nil
	}
	val, err, _ := c.group.Do(buildKey(token), func() (any, error) {
		pl, err := compute()
		if err != nil {
			return nil, err
		}
		var entries []index.PostingsEntry
		if pl != nil {
			entries = pl.Entries()
		}
		c.Set(ctx, token, entries)
		return entries, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]index.PostingsEntry), false, nil
}

// Invalidate drops every cached postings list.
func (c *PostingsCache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating postings cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *PostingsCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports whether the cache is currently bypassed.
func (c *PostingsCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *PostingsCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheResult(false)
}

func buildKey(token string) string {
	return keyPrefix + token
}
