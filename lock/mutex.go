// Package lock provides a named advisory mutex on the far tier's atomic
// primitives. The lock key is "lock:<resource>"; the value is an opaque
// per-handle token that proves ownership for release and extend, both of
// which run as server-side compare-and-act scripts.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
)

// KeyPrefix is prepended to the resource name to form the far-tier key.
const KeyPrefix = "lock:"

// Options tunes a Mutex. Zero values are safe.
type Options struct {
	// TTL is how long the far tier holds the lock without an Extend.
	// Default 30s. A crashed holder frees the resource after at most TTL.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts in Acquire.
	// Default 100ms.
	RetryInterval time.Duration

	Logger *zap.Logger
}

// Mutex is one handle on a named lock. Handles are not shared: each owns a
// freshly generated token, and only the handle that acquired the lock can
// release or extend it. A Mutex is safe for concurrent use, but the usual
// pattern is one handle per worker.
type Mutex struct {
	store         far.Store
	key           string
	token         []byte
	ttl           time.Duration
	retryInterval time.Duration
	log           *zap.Logger

	mu   sync.Mutex
	held bool
}

// New builds a handle for resource with a fresh ownership token.
func New(store far.Store, resource string, opt Options) *Mutex {
	if opt.TTL <= 0 {
		opt.TTL = 30 * time.Second
	}
	if opt.RetryInterval <= 0 {
		opt.RetryInterval = 100 * time.Millisecond
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Mutex{
		store:         store,
		key:           KeyPrefix + resource,
		token:         []byte(uuid.NewString()),
		ttl:           opt.TTL,
		retryInterval: opt.RetryInterval,
		log:           opt.Logger,
	}
}

// TryAcquire attempts the lock once. Acquiring an already-held handle is a
// no-op returning true.
func (m *Mutex) TryAcquire(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return true, nil
	}
	ok, err := m.store.SetIfAbsent(ctx, m.key, m.token, m.ttl)
	if err != nil {
		return false, err
	}
	m.held = ok
	return ok, nil
}

// Acquire retries TryAcquire every RetryInterval until it succeeds or ctx
// is done (deadline or cancellation).
func (m *Mutex) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := m.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release gives the lock up. It returns (false, nil) when this handle does
// not hold the lock, or when the far tier reports nothing deleted (the
// lock expired and may belong to someone else now). Either way the handle
// no longer considers itself the owner.
func (m *Mutex) Release(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false, nil
	}
	m.held = false
	ok, err := m.store.CompareAndDelete(ctx, m.key, m.token)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Extend resets the lock's remaining TTL to ttl (this handle's default TTL
// when ttl <= 0). Returns (false, nil) when not held locally or when the far
// tier reports the token no longer matches.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false, nil
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	ok, err := m.store.CompareAndExpire(ctx, m.key, m.token, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		// Expired or taken over; stop pretending.
		m.held = false
	}
	return ok, nil
}

// Held reports whether this handle believes it owns the lock. The far tier
// is authoritative; a TTL expiry is only observed on the next Extend or
// Release.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Key returns the far-tier key backing this lock.
func (m *Mutex) Key() string { return m.key }

// Close releases the lock once if held, logging failures instead of
// returning them.
func (m *Mutex) Close(ctx context.Context) {
	if _, err := m.Release(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("lock release on close failed",
			zap.String("key", m.key),
			zap.Error(err),
		)
	}
}
