// Package cache stores known lookup outcomes in Redis so repeated runs over
// overlapping number lists skip numbers that were already resolved.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrCacheMiss indicates no outcome is cached for the number.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL bounds how long a resolved outcome stays valid. Debt records
// change over time, so even a definitive answer eventually expires.
const DefaultTTL = 24 * time.Hour

// Entry is a cached lookup outcome.
type Entry struct {
	Outcome  fssp.Outcome `json:"outcome"`
	CachedAt time.Time    `json:"cached_at"`
}

// Key generates the Redis key for a number.
// Format: fssp:outcome:<number>
func Key(number string) string {
	return "fssp:outcome:" + number
}

// Store handles outcome caching with a Redis backend.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a store. A non-positive ttl falls back to DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the cached outcome for a number.
// Returns ErrCacheMiss if nothing is cached.
func (s *Store) Get(ctx context.Context, number string) (fssp.Outcome, error) {
	data, err := s.redis.Get(ctx, Key(number)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return fssp.Outcome{}, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return fssp.Outcome{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return fssp.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !entry.Outcome.Terminal() || entry.Outcome.Number != number {
		cacheErrors.WithLabelValues("get").Inc()
		return fssp.Outcome{}, fmt.Errorf("%w: outcome mismatch for %s", ErrInvalidEntry, number)
	}

	cacheHits.Inc()
	return entry.Outcome, nil
}

// Put caches a resolved outcome. Failed outcomes are not cached: a retry
// exhaustion today says nothing about tomorrow's run.
func (s *Store) Put(ctx context.Context, out fssp.Outcome) error {
	if out.Status != fssp.StatusFound && out.Status != fssp.StatusNoDebt {
		return nil
	}

	entry := Entry{Outcome: out, CachedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, Key(out.Number), data, s.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the cached outcome for a number.
func (s *Store) Delete(ctx context.Context, number string) error {
	if err := s.redis.Del(ctx, Key(number)).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
