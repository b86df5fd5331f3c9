package cache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/heytom-labs/hybridcache/far"
)

// fakeFar is an in-memory far.Store. It counts calls per method, can be
// switched into a failing mode (every call returns far.ErrUnavailable),
// and can share its data and pub/sub hub with a sibling so two cache
// instances talk the way two processes share one Redis.
type fakeFar struct {
	data *fakeData
	hub  *pubsubHub

	mu      sync.Mutex
	calls   map[string]int
	failing bool
	closed  bool
}

// fakeData is the "server": one mutex, one keyspace, shared by every
// sibling store.
type fakeData struct {
	mu     sync.Mutex
	kv     map[string]fakeEntry
	hashes map[string]map[string][]byte
	lists  map[string][][]byte
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
}

type fakeEntry struct {
	val      []byte
	deadline time.Time // zero = no TTL
}

func newFakeFar() *fakeFar {
	return &fakeFar{
		data: &fakeData{
			kv:     map[string]fakeEntry{},
			hashes: map[string]map[string][]byte{},
			lists:  map[string][][]byte{},
			sets:   map[string]map[string]struct{}{},
			zsets:  map[string]map[string]float64{},
		},
		hub:   newHub(),
		calls: map[string]int{},
	}
}

// sibling returns a second client over the same server data and hub,
// standing in for another process. Call counts and the failure switch
// stay per-client.
func (f *fakeFar) sibling() *fakeFar {
	return &fakeFar{data: f.data, hub: f.hub, calls: map[string]int{}}
}

func (f *fakeFar) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeFar) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// enter records the call and reports ctx expiry or the injected failure.
func (f *fakeFar) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failing {
		return far.ErrUnavailable
	}
	return nil
}

func (f *fakeFar) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.enter(ctx, "Get"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kv[key]
	if !ok || (!e.deadline.IsZero() && time.Now().After(e.deadline)) {
		delete(d.kv, key)
		return nil, far.ErrNotFound
	}
	return append([]byte(nil), e.val...), nil
}

func (f *fakeFar) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.enter(ctx, "Set"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	e := fakeEntry{val: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	d.kv[key] = e
	return nil
}

func (f *fakeFar) Remove(ctx context.Context, keys ...string) error {
	if err := f.enter(ctx, "Remove"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		delete(d.kv, k)
	}
	return nil
}

func (f *fakeFar) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := f.enter(ctx, "Expire"); err != nil {
		return false, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kv[key]
	if !ok {
		return false, nil
	}
	e.deadline = time.Now().Add(ttl)
	d.kv[key] = e
	return true, nil
}

func (f *fakeFar) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := f.enter(ctx, "HSet"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hashes[key]
	if !ok {
		h = map[string][]byte{}
		d.hashes[key] = h
	}
	h[field] = append([]byte(nil), value...)
	return nil
}

func (f *fakeFar) HGet(ctx context.Context, key, field string) ([]byte, error) {
	if err := f.enter(ctx, "HGet"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.hashes[key][field]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, far.ErrNotFound
}

func (f *fakeFar) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := f.enter(ctx, "HGetAll"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string][]byte{}
	for k, v := range d.hashes[key] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (f *fakeFar) HDel(ctx context.Context, key string, fields ...string) error {
	if err := f.enter(ctx, "HDel"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fd := range fields {
		delete(d.hashes[key], fd)
	}
	return nil
}

func (f *fakeFar) RPush(ctx context.Context, key string, values ...[]byte) error {
	if err := f.enter(ctx, "RPush"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range values {
		d.lists[key] = append(d.lists[key], append([]byte(nil), v...))
	}
	return nil
}

func (f *fakeFar) LPop(ctx context.Context, key string) ([]byte, error) {
	if err := f.enter(ctx, "LPop"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.lists[key]
	if len(l) == 0 {
		return nil, far.ErrNotFound
	}
	head := l[0]
	d.lists[key] = l[1:]
	return head, nil
}

func (f *fakeFar) LLen(ctx context.Context, key string) (int64, error) {
	if err := f.enter(ctx, "LLen"); err != nil {
		return 0, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.lists[key])), nil
}

func (f *fakeFar) SAdd(ctx context.Context, key string, members ...[]byte) error {
	if err := f.enter(ctx, "SAdd"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[key]
	if !ok {
		set = map[string]struct{}{}
		d.sets[key] = set
	}
	for _, m := range members {
		set[string(m)] = struct{}{}
	}
	return nil
}

func (f *fakeFar) SRem(ctx context.Context, key string, members ...[]byte) error {
	if err := f.enter(ctx, "SRem"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range members {
		delete(d.sets[key], string(m))
	}
	return nil
}

func (f *fakeFar) SMembers(ctx context.Context, key string) ([][]byte, error) {
	if err := f.enter(ctx, "SMembers"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]byte
	for m := range d.sets[key] {
		out = append(out, []byte(m))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

func (f *fakeFar) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := f.enter(ctx, "ZAdd"); err != nil {
		return err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	z, ok := d.zsets[key]
	if !ok {
		z = map[string]float64{}
		d.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (f *fakeFar) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	if err := f.enter(ctx, "ZRangeByScore"); err != nil {
		return nil, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var ps []pair
	for m, sc := range d.zsets[key] {
		if sc >= min && sc <= max {
			ps = append(ps, pair{m, sc})
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].score != ps[j].score {
			return ps[i].score < ps[j].score
		}
		return ps[i].member < ps[j].member
	})
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.member
	}
	return out, nil
}

func (f *fakeFar) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := f.enter(ctx, "Publish"); err != nil {
		return err
	}
	f.hub.publish(channel, payload)
	return nil
}

func (f *fakeFar) Subscribe(ctx context.Context, channel string, handler func([]byte)) (far.Subscription, error) {
	if err := f.enter(ctx, "Subscribe"); err != nil {
		return nil, err
	}
	return f.hub.subscribe(channel, handler), nil
}

func (f *fakeFar) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := f.enter(ctx, "SetIfAbsent"); err != nil {
		return false, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.kv[key]; ok && (e.deadline.IsZero() || time.Now().Before(e.deadline)) {
		return false, nil
	}
	e := fakeEntry{val: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	d.kv[key] = e
	return true, nil
}

func (f *fakeFar) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := f.enter(ctx, "CompareAndDelete"); err != nil {
		return false, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kv[key]
	if !ok || !bytes.Equal(e.val, expected) {
		return false, nil
	}
	delete(d.kv, key)
	return true, nil
}

func (f *fakeFar) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if err := f.enter(ctx, "CompareAndExpire"); err != nil {
		return false, err
	}
	d := f.data
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kv[key]
	if !ok || !bytes.Equal(e.val, expected) {
		return false, nil
	}
	e.deadline = time.Now().Add(ttl)
	d.kv[key] = e
	return true, nil
}

func (f *fakeFar) Ping(ctx context.Context) error { return f.enter(ctx, "Ping") }

func (f *fakeFar) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ far.Store = (*fakeFar)(nil)

// pubsubHub is a synchronous in-process fan-out: every subscriber of a
// channel receives every published payload.
type pubsubHub struct {
	mu   sync.Mutex
	subs map[string][]*hubSub
}

type hubSub struct {
	hub     *pubsubHub
	channel string
	handler func([]byte)
	closed  bool
}

func newHub() *pubsubHub { return &pubsubHub{subs: map[string][]*hubSub{}} }

func (h *pubsubHub) subscribe(channel string, handler func([]byte)) *hubSub {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &hubSub{hub: h, channel: channel, handler: handler}
	h.subs[channel] = append(h.subs[channel], s)
	return s
}

func (h *pubsubHub) publish(channel string, payload []byte) {
	h.mu.Lock()
	targets := make([]*hubSub, 0, len(h.subs[channel]))
	for _, s := range h.subs[channel] {
		if !s.closed {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.handler(append([]byte(nil), payload...))
	}
}

func (s *hubSub) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closed = true
	return nil
}

// waitFor polls cond until it returns true or the timeout lapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
