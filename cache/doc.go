// Package cache implements a two-tier (near/far) distributed cache for
// server applications: a uniform byte-oriented key/value surface backed by
// a remote shared store and fronted by an in-process memory cache.
//
// Design
//
//   - Tiers: reads consult the near (in-process) tier first; misses read
//     through to the far tier and populate the near tier. Writes go far
//     first, then near, then broadcast an invalidation so peer instances
//     drop their stale copies. Near tiers are eventually consistent:
//     staleness is bounded by entry TTLs and the invalidation bus.
//
//   - Resilience: every far-tier call except the long-lived Subscribe
//     runs through a retry + circuit-breaker pipeline over a classified
//     failure set (connection and timeout errors). When the pipeline gives up and the near tier is
//     enabled, reads and writes degrade to the near tier; with the near
//     tier disabled they fail with ErrBackendUnavailable.
//
//   - Expiration: entries carry an absolute deadline, a relative TTL
//     resolved at store time, or a sliding idle window. Absolute and
//     sliding may coexist; the earlier deadline wins. Sliding state is
//     mirrored to the far tier in a sibling "<key>:metadata:sliding"
//     entry so Refresh works across processes.
//
//   - Invalidation: JSON events on a fan-out transport (far-store pub/sub
//     by default, an AMQP fan-out exchange as the broker alternative).
//     Delivery is best-effort; handlers only drop local near entries and
//     never re-publish.
//
//   - Metrics: atomic counters (requests, near/far hits, misses, average
//     duration), on unless Options.DisableMetrics is set, readable as a
//     Snapshot at any time, plus
//     a pluggable Metrics hook for exporters (see metrics/prom).
//
// Basic usage
//
//	store := redisstore.New(redisstore.Options{Addr: "localhost:6379"})
//	c, err := cache.New(cache.Options{Far: store})
//	if err != nil {
//	    // ...
//	}
//	defer c.Close()
//
//	_ = c.Set(ctx, "user:7", payload, cache.WithSliding(5*time.Minute))
//	if v, ok, err := c.Get(ctx, "user:7"); err == nil && ok {
//	    _ = v
//	}
//
// A distributed mutex over the same far tier lives in the lock package;
// the near tier is reusable on its own via the near package.
package cache
