// Package redisstore adapts a Redis-compatible server to the far.Store
// contract using go-redis v9. One Store wraps one multiplexed client
// shared by every cache operation, the invalidation bus, and the
// distributed mutex.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heytom-labs/hybridcache/far"
)

// Options configures the adapter. Zero values are safe; defaults are
// applied in New.
type Options struct {
	// Addr is the host:port of the server. Ignored when Client is set.
	Addr     string
	Password string
	DB       int

	// Client lets callers inject a pre-built (possibly failover or
	// cluster) client. When nil, a single-node client is built from Addr.
	Client redis.UniversalClient

	// DialTimeout/ReadTimeout/WriteTimeout bound the transport; the
	// coordinator adds its own per-operation deadline on top.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// Store implements far.Store over go-redis.
type Store struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

// New builds a Store. The returned Store owns the client only if it
// created one itself: Close always closes the client it holds, so callers
// injecting Options.Client should not close it twice.
func New(opt Options) *Store {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	rdb := opt.Client
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:         opt.Addr,
			Password:     opt.Password,
			DB:           opt.DB,
			DialTimeout:  opt.DialTimeout,
			ReadTimeout:  opt.ReadTimeout,
			WriteTimeout: opt.WriteTimeout,
		})
	}
	return &Store{rdb: rdb, log: opt.Logger}
}

// Get returns the value for key, mapping redis.Nil to far.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, far.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Set stores key→value with a server-side TTL (0 = persist).
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Remove deletes keys in one DEL round trip.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// Expire resets the TTL of key; false means the key does not exist.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, key, ttl).Result()
}

func (s *Store) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) ([]byte, error) {
	b, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, far.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

// RPush appends values to the tail of the list at key.
func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.RPush(ctx, key, args...).Err()
}

// LPop removes and returns the head of the list at key.
func (s *Store) LPop(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.LPop(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, far.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SRem(ctx, key, args...).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRangeByScore returns members with min <= score <= max in ascending
// score order.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

// Publish sends payload to every current subscriber of channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe consumes channel until the returned subscription is closed.
// The handler runs on the subscription's own goroutine, one message at a
// time.
func (s *Store) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (far.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round trip so a dead server fails here, not
	// silently in the background.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	go func() {
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
		s.log.Debug("pub/sub consumer stopped", zap.String("channel", channel))
	}()
	return ps, nil
}

// SetIfAbsent is SET NX PX: stores key→value with ttl only if absent.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// CompareAndDelete runs the GET==expected → DEL script.
func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompareAndExpire runs the GET==expected → PEXPIRE script.
func (s *Store) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	n, err := compareAndExpire.Run(ctx, s.rdb, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Compile-time check: Store satisfies the contract the coordinator needs.
var _ far.Store = (*Store)(nil)
