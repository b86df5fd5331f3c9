// Package far defines the interface the hybrid cache consumes to talk to
// the shared remote tier, plus the failure classification used by the
// resilience pipeline. The concrete Redis adapter lives in far/redisstore.
package far

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGet/LPop when the requested entry does
// not exist in the far tier. It is a miss, not a failure: the resilience
// pipeline never retries it.
var ErrNotFound = errors.New("far: not found")

// ErrUnavailable marks a far-tier failure injected by test doubles and
// in-memory stores. IsTransient classifies it as retryable.
var ErrUnavailable = errors.New("far: unavailable")

// SlidingMetadataSuffix is appended to a primary key to form the sibling
// entry that stores the sliding duration (decimal seconds). The sibling
// always shares the primary key's TTL.
const SlidingMetadataSuffix = ":metadata:sliding"

// SlidingMetadataKey returns the sibling metadata key for a primary key.
func SlidingMetadataKey(key string) string { return key + SlidingMetadataSuffix }

// Subscription is an active pub/sub consumer. Closing it releases any
// transport resources the subscription owns.
type Subscription interface {
	Close() error
}

// Store is the byte-level contract over the remote shared tier.
// All methods honor ctx cancellation and deadlines; implementations share
// one multiplexed connection across all callers.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores key→value with a server-side TTL (0 = no expiration).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Remove deletes the given keys in one round trip. Missing keys are
	// not an error.
	Remove(ctx context.Context, keys ...string) error
	// Expire resets the TTL of an existing key. Returns false if the key
	// does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Hash operations.
	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// List operations. RPush appends to the tail, LPop removes from the
	// head: sequential RPush(a), RPush(b), LPop, LPop yields a then b.
	RPush(ctx context.Context, key string, values ...[]byte) error
	LPop(ctx context.Context, key string) ([]byte, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Set operations. SAdd is idempotent.
	SAdd(ctx context.Context, key string, members ...[]byte) error
	SRem(ctx context.Context, key string, members ...[]byte) error
	SMembers(ctx context.Context, key string) ([][]byte, error)

	// Sorted-set operations. ZRangeByScore returns members in ascending
	// score order.
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Pub/sub. Subscribe installs handler for every message on channel
	// and returns the handle that owns the consumer.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (Subscription, error)

	// Atomic primitives backing the distributed mutex.
	// SetIfAbsent stores key→value with ttl only if key is absent and
	// reports whether the set occurred.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if its current value equals
	// expected, atomically on the server. Returns true if a key was deleted.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// CompareAndExpire resets key's TTL only if its current value equals
	// expected, atomically on the server. Returns true if the TTL was set.
	CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying client.
	Close() error
}
