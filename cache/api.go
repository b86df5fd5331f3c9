package cache

import (
	"context"

	"github.com/heytom-labs/hybridcache/far"
)

// Cache is the hybrid two-tier cache. All methods are safe for concurrent
// use by any number of goroutines; operations complete on the calling
// goroutine. Every method that can touch the far tier takes a ctx whose
// cancellation aborts the in-flight attempt (already-performed far-tier
// effects are not rolled back).
type Cache interface {
	// Get returns the value for key. The near tier is consulted first;
	// on a near miss the far tier is read through the resilience pipeline
	// and, on a hit, the value is written through to the near tier with
	// the cache's default expiration (deliberately not the far-tier
	// remaining TTL). ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores key→value in the far tier first, then the near tier,
	// then broadcasts an Update invalidation to peers (fire-and-forget).
	// A zero Expiration applies the cache default.
	Set(ctx context.Context, key string, value []byte, exp Expiration) error

	// Remove deletes key from both tiers (far first, including its
	// sliding-metadata sibling) and broadcasts a Remove invalidation.
	Remove(ctx context.Context, key string) error

	// Refresh re-arms a sliding entry's TTL in both tiers. Best-effort:
	// a missing entry or missing sliding metadata returns quietly.
	Refresh(ctx context.Context, key string) error

	// GetOrCompute returns the cached value for key, or runs compute and
	// stores its result. Concurrent computes for the same key are
	// coalesced.
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, error)

	// Hash operations, delegated to the far tier.
	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) (value []byte, ok bool, err error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// List operations (FIFO: RPush appends to the tail, LPop removes
	// from the head), delegated to the far tier.
	RPush(ctx context.Context, key string, values ...[]byte) error
	LPop(ctx context.Context, key string) (value []byte, ok bool, err error)
	LLen(ctx context.Context, key string) (int64, error)

	// Set operations, delegated to the far tier. SAdd is idempotent.
	SAdd(ctx context.Context, key string, members ...[]byte) error
	SRem(ctx context.Context, key string, members ...[]byte) error
	SMembers(ctx context.Context, key string) ([][]byte, error)

	// Sorted-set operations, delegated to the far tier. ZRangeByScore
	// returns members in ascending score order.
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Pub/sub on named channels, delegated to the far tier. The returned
	// subscription owns its consumer; close it to stop delivery.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (far.Subscription, error)

	// Metrics returns the counter snapshot. Always succeeds, even after
	// Close or while the far tier is down.
	Metrics() Snapshot
	// ResetMetrics zeroes the counters.
	ResetMetrics()
	// NearCacheEnabled reports whether the in-process tier is active.
	NearCacheEnabled() bool

	// Close unsubscribes from invalidations, closes the far client, and
	// empties the near tier. Idempotent; subsequent operations fail with
	// ErrClosed.
	Close() error
}

// ComputeFunc produces a value (and its expiration) for GetOrCompute.
type ComputeFunc func(ctx context.Context) (value []byte, exp Expiration, err error)
