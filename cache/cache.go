package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
	"github.com/heytom-labs/hybridcache/internal/singleflight"
	"github.com/heytom-labs/hybridcache/invalidation"
	"github.com/heytom-labs/hybridcache/near"
	"github.com/heytom-labs/hybridcache/resilience"
)

// hybrid is the coordinator: near tier first, far tier through the
// resilience pipeline, invalidation fan-out to peers.
//
// Ordering: within one operation on one key, far-tier effects strictly
// precede near-tier effects. Across operations there is no coordinator-
// side serialization; the far tier is last-writer-wins and near tiers
// converge via invalidations or TTL expiry.
type hybrid struct {
	opt   Options
	farS  far.Store
	nearS *near.Store // nil when the near tier is disabled
	pipe  *resilience.Pipeline
	pub   invalidation.Publisher
	sub   invalidation.Subscriber
	log   *zap.Logger

	stats     counters
	metricsOn bool

	sf singleflight.Group[string, []byte]

	closed atomic.Bool
	bgCtx  context.Context
	stopBg context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a running hybrid cache from opt. Construction never blocks
// on the far tier: the invalidation subscription is established in the
// background (failures are logged and retried; the far tier remains the
// source of truth while peers rely on TTLs).
func New(opt Options) (Cache, error) {
	if opt.Far == nil {
		return nil, fmt.Errorf("%w: far store is required", ErrInvalidArgument)
	}
	opt = opt.withDefaults()
	if opt.Resilience.Logger == nil {
		opt.Resilience.Logger = opt.Logger
	}

	c := &hybrid{
		opt:       opt,
		farS:      opt.Far,
		pipe:      resilience.New(opt.Resilience),
		log:       opt.Logger,
		metricsOn: !opt.DisableMetrics,
	}
	c.bgCtx, c.stopBg = context.WithCancel(context.Background())

	if !opt.DisableNearCache {
		c.nearS = near.New(near.Options{
			MaxSize:           opt.NearCacheMaxSize,
			DefaultExpiration: opt.NearCacheDefaultExpiration,
			Clock:             opt.Clock,
			OnEvict: func(key string, reason near.EvictReason) {
				c.log.Debug("near entry evicted",
					zap.String("key", key),
					zap.Int("reason", int(reason)),
				)
			},
		})
	}

	if c.nearS != nil && !opt.DisableInvalidation {
		c.pub = opt.Publisher
		c.sub = opt.Subscriber
		if c.pub == nil && c.sub == nil {
			bus := invalidation.NewStoreBus(c.farS, opt.InvalidationChannel, c.log)
			c.pub, c.sub = bus, bus
		}
		if c.sub != nil {
			c.wg.Add(1)
			go c.runSubscriber()
		}
	}

	return c, nil
}

// -------------------- key/value --------------------

func (c *hybrid) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.guard(key); err != nil {
		return nil, false, err
	}
	start := time.Now()
	c.opt.Metrics.Request("get")
	if c.metricsOn {
		c.stats.requests.Add(1)
	}

	if c.nearS != nil {
		if v, ok := c.nearS.Get(key); ok {
			c.recordHit(TierNear, "get", start)
			return v, true, nil
		}
	}

	v, err := resilience.Do(ctx, c.pipe, func(ctx context.Context) ([]byte, error) {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()
		return c.farS.Get(fctx, key)
	})
	switch {
	case err == nil:
		if c.nearS != nil {
			// Deliberately the process default expiration, not the
			// far-tier remaining TTL.
			c.nearS.Set(key, v, time.Time{}, 0)
		}
		c.recordHit(TierFar, "get", start)
		return v, true, nil

	case errors.Is(err, far.ErrNotFound):
		c.recordMiss("get", start)
		return nil, false, nil

	case c.pipe.GiveUp(err):
		if c.nearS != nil {
			// Degrade: a stale near value beats an error.
			c.log.Warn("far tier unavailable, serving read from near tier",
				zap.String("key", key), zap.Error(err))
			if v, ok := c.nearS.Get(key); ok {
				c.recordHit(TierNear, "get", start)
				return v, true, nil
			}
			c.recordMiss("get", start)
			return nil, false, nil
		}
		c.recordMiss("get", start)
		return nil, false, unavailable(err)

	default:
		c.observe("get", "error", start)
		return nil, false, err
	}
}

func (c *hybrid) Set(ctx context.Context, key string, value []byte, exp Expiration) error {
	if err := c.guard(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	r, err := exp.resolve(c.now(), c.opt.NearCacheDefaultExpiration)
	if err != nil {
		return err
	}
	start := time.Now()
	c.opt.Metrics.Request("set")

	err = c.pipe.Execute(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()
		if err := c.farS.Set(fctx, key, value, r.ttl); err != nil {
			return err
		}
		if r.sliding > 0 {
			// Sibling metadata entry: sliding seconds, same TTL as the
			// primary so both expire together.
			secs := strconv.FormatInt(int64(r.sliding/time.Second), 10)
			return c.farS.Set(fctx, far.SlidingMetadataKey(key), []byte(secs), r.ttl)
		}
		return nil
	})
	switch {
	case err == nil:
		if c.nearS != nil {
			c.nearS.Set(key, value, r.deadline, r.sliding)
		}
		c.publishEvent(invalidation.KindUpdate, key)
		c.observe("set", "ok", start)
		return nil

	case c.pipe.GiveUp(err):
		if c.nearS != nil {
			// Degraded write: near tier only. It will not propagate to
			// peers or survive a restart.
			c.log.Warn("far tier unavailable, write kept in near tier only",
				zap.String("key", key), zap.Error(err))
			c.nearS.Set(key, value, r.deadline, r.sliding)
			c.observe("set", "ok", start)
			return nil
		}
		c.observe("set", "error", start)
		return unavailable(err)

	default:
		c.observe("set", "error", start)
		return err
	}
}

func (c *hybrid) Remove(ctx context.Context, key string) error {
	if err := c.guard(key); err != nil {
		return err
	}
	start := time.Now()
	c.opt.Metrics.Request("remove")

	err := c.pipe.Execute(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()
		// One multi-key delete so the primary and its metadata sibling
		// vanish together.
		return c.farS.Remove(fctx, key, far.SlidingMetadataKey(key))
	})
	switch {
	case err == nil:
		if c.nearS != nil {
			c.nearS.Remove(key)
		}
		c.publishEvent(invalidation.KindRemove, key)
		c.observe("remove", "ok", start)
		return nil

	case c.pipe.GiveUp(err):
		if c.nearS != nil {
			c.log.Warn("far tier unavailable, removed from near tier only",
				zap.String("key", key), zap.Error(err))
			c.nearS.Remove(key)
			c.observe("remove", "ok", start)
			return nil
		}
		c.observe("remove", "error", start)
		return unavailable(err)

	default:
		c.observe("remove", "error", start)
		return err
	}
}

func (c *hybrid) Refresh(ctx context.Context, key string) error {
	if err := c.guard(key); err != nil {
		return err
	}
	start := time.Now()
	c.opt.Metrics.Request("refresh")

	err := c.pipe.Execute(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()

		meta := far.SlidingMetadataKey(key)
		b, err := c.farS.Get(fctx, meta)
		if errors.Is(err, far.ErrNotFound) {
			// No sliding metadata: nothing to refresh, by contract.
			return nil
		}
		if err != nil {
			return err
		}
		secs, perr := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
		if perr != nil || secs <= 0 {
			c.log.Warn("malformed sliding metadata, skipping refresh",
				zap.String("key", key), zap.ByteString("metadata", b))
			return nil
		}
		ttl := time.Duration(secs) * time.Second
		if _, err := c.farS.Expire(fctx, key, ttl); err != nil {
			return err
		}
		_, err = c.farS.Expire(fctx, meta, ttl)
		return err
	})
	switch {
	case err == nil:
		if c.nearS != nil {
			c.nearS.Refresh(key)
		}
		c.observe("refresh", "ok", start)
		return nil

	case c.pipe.GiveUp(err):
		if c.nearS != nil {
			c.log.Warn("far tier unavailable, refreshed near tier only",
				zap.String("key", key), zap.Error(err))
			c.nearS.Refresh(key)
			c.observe("refresh", "ok", start)
			return nil
		}
		c.observe("refresh", "error", start)
		return unavailable(err)

	default:
		c.observe("refresh", "error", start)
		return err
	}
}

// GetOrCompute coalesces concurrent computes for the same key: exactly one
// caller runs compute, the rest share its result.
func (c *hybrid) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, error) {
	if compute == nil {
		return nil, fmt.Errorf("%w: nil compute func", ErrInvalidArgument)
	}
	if v, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}
	return c.sf.Do(ctx, key, func() ([]byte, error) {
		// Double-check after flight join.
		if v, ok, err := c.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		v, exp, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, v, exp); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// -------------------- metrics / lifecycle --------------------

func (c *hybrid) Metrics() Snapshot { return c.stats.snapshot() }

func (c *hybrid) ResetMetrics() { c.stats.reset() }

func (c *hybrid) NearCacheEnabled() bool { return c.nearS != nil }

// Close is idempotent. It stops the subscription goroutine, waits for
// in-flight event publishes, then closes the far client and empties the
// near tier.
func (c *hybrid) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopBg()
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.log.Warn("invalidation unsubscribe failed", zap.Error(err))
		}
	}
	c.wg.Wait()
	err := c.farS.Close()
	if c.nearS != nil {
		_ = c.nearS.Close()
	}
	return err
}

// -------------------- invalidation --------------------

// runSubscriber establishes the invalidation subscription, retrying until
// it succeeds or the cache is closed.
func (c *hybrid) runSubscriber() {
	defer c.wg.Done()
	const retryDelay = 5 * time.Second
	for {
		err := c.sub.Subscribe(c.bgCtx, c.onInvalidation)
		if err == nil {
			c.log.Info("invalidation subscription established",
				zap.String("channel", c.opt.InvalidationChannel))
			return
		}
		c.log.Warn("invalidation subscribe failed, will retry",
			zap.Duration("retry_in", retryDelay), zap.Error(err))
		select {
		case <-c.bgCtx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// onInvalidation drops the key from the local near tier. It never
// re-publishes (that would loop) and never panics out to the transport.
func (c *hybrid) onInvalidation(e invalidation.Event) {
	if strings.TrimSpace(e.Key) == "" {
		return
	}
	if c.nearS.Remove(e.Key) {
		c.log.Debug("near entry invalidated by peer",
			zap.String("key", e.Key),
			zap.String("type", string(e.Type)),
			zap.String("source", e.Source),
		)
	}
}

// publishEvent broadcasts fire-and-forget: it never blocks the caller and
// never surfaces transport errors.
func (c *hybrid) publishEvent(kind invalidation.Kind, key string) {
	if c.pub == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, c.opt.FarOperationTimeout)
		defer cancel()
		if err := c.pub.Publish(ctx, invalidation.NewEvent(kind, key, c.opt.Source)); err != nil {
			c.log.Warn("invalidation publish failed",
				zap.String("key", key),
				zap.String("type", string(kind)),
				zap.Error(err),
			)
		}
	}()
}

// -------------------- helpers --------------------

func (c *hybrid) guard(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return checkKey(key)
}

func (c *hybrid) now() time.Time {
	if c.opt.Clock != nil {
		return c.opt.Clock.Now()
	}
	return time.Now()
}

func (c *hybrid) recordHit(tier Tier, op string, start time.Time) {
	c.opt.Metrics.Hit(tier)
	if c.metricsOn {
		if tier == TierNear {
			c.stats.nearHits.Add(1)
		} else {
			c.stats.farHits.Add(1)
		}
	}
	c.observe(op, "hit", start)
}

func (c *hybrid) recordMiss(op string, start time.Time) {
	c.opt.Metrics.Miss()
	if c.metricsOn {
		c.stats.misses.Add(1)
	}
	c.observe(op, "miss", start)
}

func (c *hybrid) observe(op, result string, start time.Time) {
	d := time.Since(start)
	c.opt.Metrics.ObserveDuration(op, result, d)
	if c.metricsOn {
		c.stats.observe(d)
	}
}

var _ Cache = (*hybrid)(nil)
