package cache

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
	"github.com/heytom-labs/hybridcache/invalidation"
	"github.com/heytom-labs/hybridcache/near"
	"github.com/heytom-labs/hybridcache/resilience"
)

// DefaultInvalidationChannel is the pub/sub channel shared by every
// instance of an application unless configured otherwise.
const DefaultInvalidationChannel = "heytom:cache:invalidation"

// Options configures the hybrid cache. Zero values are safe; defaults are
// applied in New:
//   - NearCacheMaxSize <= 0           => 1000 entries
//   - NearCacheDefaultExpiration == 0 => 5 minutes
//   - FarOperationTimeout <= 0        => 5 seconds
//   - InvalidationChannel == ""       => DefaultInvalidationChannel
//   - nil Logger                      => zap.NewNop()
//   - nil Metrics                     => NoopMetrics
type Options struct {
	// Far is the far-tier client. Required. The coordinator owns it and
	// closes it on Close.
	Far far.Store

	// DisableNearCache turns the in-process tier off entirely; every read
	// goes to the far tier and there is no degradation on far failure.
	// The invalidation subscription is skipped too.
	DisableNearCache bool

	// NearCacheMaxSize bounds the near tier's entry count.
	NearCacheMaxSize int

	// NearCacheDefaultExpiration applies to entries stored with a zero
	// Expiration, and to near-tier entries populated by read-through.
	NearCacheDefaultExpiration time.Duration

	// FarOperationTimeout bounds each individual far-tier attempt. The
	// resilience pipeline may make several attempts per operation.
	FarOperationTimeout time.Duration

	// DisableMetrics stops the counters from being updated. Metrics()
	// still succeeds and returns zeros.
	DisableMetrics bool

	// DisableInvalidation skips both publishing and subscribing. Has no
	// effect when the near tier is disabled (there is nothing to
	// invalidate).
	DisableInvalidation bool

	// InvalidationChannel names the pub/sub channel or topic.
	InvalidationChannel string

	// Publisher/Subscriber override the invalidation transport. When both
	// are nil, an on-store bus over Far's pub/sub is used. Supplying an
	// AMQPBus here switches fan-out to the broker.
	Publisher  invalidation.Publisher
	Subscriber invalidation.Subscriber

	// Source identifies this instance in outbound events. Default: the
	// hostname.
	Source string

	// Resilience tunes the retry + circuit-breaker pipeline guarding the
	// far tier.
	Resilience resilience.Config

	// Metrics receives observability signals for exporters.
	Metrics Metrics

	Logger *zap.Logger

	// Clock overrides the time source (tests). Nil => time.Now.
	Clock near.Clock
}

func (o Options) withDefaults() Options {
	if o.NearCacheMaxSize <= 0 {
		o.NearCacheMaxSize = 1000
	}
	if o.NearCacheDefaultExpiration == 0 {
		o.NearCacheDefaultExpiration = 5 * time.Minute
	}
	if o.FarOperationTimeout <= 0 {
		o.FarOperationTimeout = 5 * time.Second
	}
	if o.InvalidationChannel == "" {
		o.InvalidationChannel = DefaultInvalidationChannel
	}
	if o.Source == "" {
		o.Source, _ = os.Hostname()
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
