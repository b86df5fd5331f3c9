// Package resilience guards far-tier calls with a retry policy wrapped
// around a circuit breaker. Only classified failures (connection, timeout)
// are retried; everything else is permanent. When the breaker is open,
// attempts short-circuit with ErrCircuitOpen without touching the backend.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
)

// ErrCircuitOpen is returned when the breaker rejects a call. The hybrid
// coordinator treats it like an exhausted retry: a reason to degrade.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Config tunes the pipeline. Zero values are safe; defaults are applied
// in New.
type Config struct {
	// Name labels the breaker in logs. Default "far".
	Name string

	// MaxRetries is the number of additional attempts after the first
	// failure. Default 3.
	MaxRetries uint64
	// BaseDelay seeds the exponential backoff (jitter is applied on top).
	// Default 100ms.
	BaseDelay time.Duration

	// FailureRatio is the failure/total ratio that trips the breaker.
	// Default 0.5.
	FailureRatio float64
	// MinThroughput is the number of calls in the sampling window before
	// the ratio is consulted. Default 5.
	MinThroughput uint32
	// SamplingWindow is the rolling interval over which counts are
	// accumulated in the closed state. Default 10s.
	SamplingWindow time.Duration
	// OpenTimeout is how long the breaker stays open before admitting a
	// half-open probe. Default 30s.
	OpenTimeout time.Duration

	// Classify reports whether an error is retryable. Default
	// far.IsTransient.
	Classify func(error) bool

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "far"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.MinThroughput == 0 {
		c.MinThroughput = 5
	}
	if c.SamplingWindow <= 0 {
		c.SamplingWindow = 10 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.Classify == nil {
		c.Classify = far.IsTransient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Pipeline composes retry over a shared circuit breaker. One Pipeline
// instance guards one backend; all coordinator operations share it so the
// breaker sees the full failure picture.
type Pipeline struct {
	cfg Config
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{cfg: cfg, log: cfg.Logger}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // a single half-open probe
		Interval:    cfg.SamplingWindow,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinThroughput {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Only classified failures count against the breaker; misses and
		// validation errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || !cfg.Classify(err)
		},
	})
	return p
}

// Execute runs fn through retry + breaker. It returns nil on success, the
// original error for non-classified failures, ErrCircuitOpen (with the
// breaker's rejection in its message) when the breaker is open, or the last classified error once
// retries are exhausted. Backoff sleeps honor ctx.
func (p *Pipeline) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		_, err := p.cb.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			// Retrying inside the open window is pointless.
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		case !p.cfg.Classify(err):
			return backoff.Permanent(err)
		default:
			p.log.Debug("retryable far-tier failure",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BaseDelay
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxRetries), ctx))
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, p *Pipeline, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// GiveUp reports whether err is a pipeline give-up (retries exhausted on
// a classified failure, or a short-circuit): the cases where the
// coordinator's degradation clauses apply.
func (p *Pipeline) GiveUp(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCircuitOpen) || p.cfg.Classify(err)
}
