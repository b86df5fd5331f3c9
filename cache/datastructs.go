package cache

import (
	"context"
	"errors"

	"github.com/heytom-labs/hybridcache/far"
	"github.com/heytom-labs/hybridcache/resilience"
)

// The data-structure operations delegate to the far tier through the
// resilience pipeline. They have no near-tier representation, so there is
// no degradation: a pipeline give-up surfaces ErrBackendUnavailable.

func (c *hybrid) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := c.guard(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.HSet(ctx, key, field, value)
	})
}

func (c *hybrid) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	if err := c.guard(key); err != nil {
		return nil, false, err
	}
	v, err := c.delegateValue(ctx, func(ctx context.Context) ([]byte, error) {
		return c.farS.HGet(ctx, key, field)
	})
	if errors.Is(err, far.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *hybrid) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := c.guard(key); err != nil {
		return nil, err
	}
	var out map[string][]byte
	err := c.delegate(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.farS.HGetAll(ctx, key)
		return err
	})
	return out, err
}

func (c *hybrid) HDel(ctx context.Context, key string, fields ...string) error {
	if err := c.guard(key); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.HDel(ctx, key, fields...)
	})
}

func (c *hybrid) RPush(ctx context.Context, key string, values ...[]byte) error {
	if err := c.guard(key); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.RPush(ctx, key, values...)
	})
}

func (c *hybrid) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.guard(key); err != nil {
		return nil, false, err
	}
	v, err := c.delegateValue(ctx, func(ctx context.Context) ([]byte, error) {
		return c.farS.LPop(ctx, key)
	})
	if errors.Is(err, far.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *hybrid) LLen(ctx context.Context, key string) (int64, error) {
	if err := c.guard(key); err != nil {
		return 0, err
	}
	var n int64
	err := c.delegate(ctx, func(ctx context.Context) error {
		var err error
		n, err = c.farS.LLen(ctx, key)
		return err
	})
	return n, err
}

func (c *hybrid) SAdd(ctx context.Context, key string, members ...[]byte) error {
	if err := c.guard(key); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.SAdd(ctx, key, members...)
	})
}

func (c *hybrid) SRem(ctx context.Context, key string, members ...[]byte) error {
	if err := c.guard(key); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.SRem(ctx, key, members...)
	})
}

func (c *hybrid) SMembers(ctx context.Context, key string) ([][]byte, error) {
	if err := c.guard(key); err != nil {
		return nil, err
	}
	var out [][]byte
	err := c.delegate(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.farS.SMembers(ctx, key)
		return err
	})
	return out, err
}

func (c *hybrid) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := c.guard(key); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.ZAdd(ctx, key, member, score)
	})
}

func (c *hybrid) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	if err := c.guard(key); err != nil {
		return nil, err
	}
	var out []string
	err := c.delegate(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.farS.ZRangeByScore(ctx, key, min, max)
		return err
	})
	return out, err
}

func (c *hybrid) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.guard(channel); err != nil {
		return err
	}
	return c.delegate(ctx, func(ctx context.Context) error {
		return c.farS.Publish(ctx, channel, payload)
	})
}

// Subscribe is long-lived, so it bypasses the retry pipeline: retrying a
// subscription is the caller's lifecycle decision, not a per-call one.
func (c *hybrid) Subscribe(ctx context.Context, channel string, handler func([]byte)) (far.Subscription, error) {
	if err := c.guard(channel); err != nil {
		return nil, err
	}
	sub, err := c.farS.Subscribe(ctx, channel, handler)
	if err != nil {
		if c.pipe.GiveUp(err) {
			return nil, unavailable(err)
		}
		return nil, err
	}
	return sub, nil
}

// delegate runs fn through the pipeline with the per-attempt timeout and
// maps give-ups to ErrBackendUnavailable.
func (c *hybrid) delegate(ctx context.Context, fn func(ctx context.Context) error) error {
	err := c.pipe.Execute(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()
		return fn(fctx)
	})
	if err != nil && c.pipe.GiveUp(err) {
		return unavailable(err)
	}
	return err
}

func (c *hybrid) delegateValue(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, err := resilience.Do(ctx, c.pipe, func(ctx context.Context) ([]byte, error) {
		fctx, cancel := context.WithTimeout(ctx, c.opt.FarOperationTimeout)
		defer cancel()
		return fn(fctx)
	})
	if err != nil && !errors.Is(err, far.ErrNotFound) && c.pipe.GiveUp(err) {
		return nil, unavailable(err)
	}
	return v, err
}
