package cache

import (
	"sync/atomic"
	"time"
)

// Tier labels which tier satisfied a hit.
type Tier string

const (
	TierNear Tier = "local"
	TierFar  Tier = "redis"
)

// Metrics receives observability signals from the coordinator. The
// built-in counters (see Snapshot) are maintained unless
// Options.DisableMetrics is set; this hook is for exporters and is called
// either way. NoopMetrics is used by default.
type Metrics interface {
	Request(op string)
	Hit(tier Tier)
	Miss()
	// ObserveDuration reports one operation's latency with its verdict
	// ("hit" or "miss" for reads, "ok"/"error" otherwise; a read that
	// fails with a non-degradable error reports "error").
	ObserveDuration(op, result string, d time.Duration)
}

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Request(string)                                {}
func (NoopMetrics) Hit(Tier)                                      {}
func (NoopMetrics) Miss()                                         {}
func (NoopMetrics) ObserveDuration(string, string, time.Duration) {}

// Snapshot is a point-in-time view of the coordinator's counters.
type Snapshot struct {
	TotalRequests uint64
	Hits          uint64
	Misses        uint64
	NearHits      uint64
	FarHits       uint64
	AvgDurationMs float64
}

// HitRate is Hits/TotalRequests, or 0 before the first request.
func (s Snapshot) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// counters is the built-in metric sink. Plain atomics: the hot path must
// not allocate, and a torn snapshot across counters is acceptable while a
// single counter is never lost.
type counters struct {
	requests atomic.Uint64
	nearHits atomic.Uint64
	farHits  atomic.Uint64
	misses   atomic.Uint64

	durTotalNs atomic.Int64
	durCount   atomic.Uint64
}

func (c *counters) observe(d time.Duration) {
	c.durTotalNs.Add(int64(d))
	c.durCount.Add(1)
}

func (c *counters) snapshot() Snapshot {
	nearHits := c.nearHits.Load()
	farHits := c.farHits.Load()
	s := Snapshot{
		TotalRequests: c.requests.Load(),
		NearHits:      nearHits,
		FarHits:       farHits,
		Hits:          nearHits + farHits,
		Misses:        c.misses.Load(),
	}
	if n := c.durCount.Load(); n > 0 {
		s.AvgDurationMs = float64(c.durTotalNs.Load()) / float64(n) / float64(time.Millisecond)
	}
	return s
}

func (c *counters) reset() {
	c.requests.Store(0)
	c.nearHits.Store(0)
	c.farHits.Store(0)
	c.misses.Store(0)
	c.durTotalNs.Store(0)
	c.durCount.Store(0)
}
