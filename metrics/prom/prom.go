// Package prom exports the hybrid cache's metrics hook as Prometheus
// counters and histograms.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heytom-labs/hybridcache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus collectors.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	requests *prometheus.CounterVec
	hits     *prometheus.CounterVec
	misses   prometheus.Counter
	duration *prometheus.HistogramVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:          Prometheus namespace (e.g. "heytom")
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "requests_total",
			Help:        "Cache operations started",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Cache hits by serving tier",
			ConstLabels: constLabels,
		}, []string{"type"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "operation_duration_seconds",
			Help:        "Cache operation latency",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(a.requests, a.hits, a.misses, a.duration)
	return a
}

// Request counts an operation start.
func (a *Adapter) Request(op string) { a.requests.WithLabelValues(op).Inc() }

// Hit counts a hit with its serving tier ("local" or "redis").
func (a *Adapter) Hit(tier cache.Tier) { a.hits.WithLabelValues(string(tier)).Inc() }

// Miss counts a miss.
func (a *Adapter) Miss() { a.misses.Inc() }

// ObserveDuration records one operation's latency with its verdict.
func (a *Adapter) ObserveDuration(op, result string, d time.Duration) {
	a.duration.WithLabelValues(op, result).Observe(d.Seconds())
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
