// Package near implements the in-process tier of the hybrid cache: a
// bounded key→bytes map with strict LRU eviction, per-entry absolute and
// sliding expiration, and an eviction callback for sidecar cleanup.
//
// The store is deliberately unsharded: the size bound and the eviction
// order are global invariants, so one mutex guards one map and one
// intrusive MRU↔LRU list. Per-key operations are O(1) (Clear is O(n)) and
// all are non-blocking; this
// tier never suspends.
package near

import (
	"sync"
	"time"

	"github.com/heytom-labs/hybridcache/internal/util"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity — removed as LRU to satisfy the size bound.
	EvictCapacity EvictReason = iota
	// EvictTTL — expired (lazy eviction on access).
	EvictTTL
	// EvictRemove — explicit Remove, Clear, or a received invalidation.
	EvictRemove
)

// Options configures a Store. Zero values are safe; defaults are applied
// in New:
//   - MaxSize <= 0       => 1000 entries
//   - DefaultExpiration 0 => 5 minutes (absolute, relative to store time)
type Options struct {
	// MaxSize bounds the entry count. Each entry has unit weight.
	MaxSize int

	// DefaultExpiration applies when Set is called with no deadline and
	// no sliding window. Negative disables the default entirely.
	DefaultExpiration time.Duration

	// OnEvict is called for every removed entry, outside the store lock,
	// so callbacks may call back into the store.
	OnEvict func(key string, reason EvictReason)

	// Clock overrides the time source (tests). Nil => time.Now.
	Clock Clock
}

// Stats is a point-in-time view of the store's counters.
type Stats struct {
	Hits   int64
	Misses int64
	Evicts uint64
}

// Store is the near tier. All methods are safe for concurrent use.
type Store struct {
	opt Options

	// ---- guarded by mu ----
	mu   sync.Mutex
	m    map[string]*node
	head *node // MRU
	tail *node // LRU
	len  int

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// New constructs a Store with the provided Options.
func New(opt Options) *Store {
	if opt.MaxSize <= 0 {
		opt.MaxSize = 1000
	}
	if opt.DefaultExpiration == 0 {
		opt.DefaultExpiration = 5 * time.Minute
	}
	if opt.Clock == nil {
		opt.Clock = systemClock{}
	}
	return &Store{
		opt: opt,
		m:   make(map[string]*node, opt.MaxSize),
	}
}

// Get returns the value for key. On hit the entry is promoted to MRU and,
// if it carries a sliding window, its deadline is re-armed.
func (s *Store) Get(key string) ([]byte, bool) {
	now := s.now()

	s.mu.Lock()
	n, ok := s.m[key]
	if !ok {
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}
	if n.expired(now) {
		s.unlinkLocked(n)
		s.mu.Unlock()
		s.evicts.Add(1)
		s.misses.Add(1)
		s.notify(n.key, EvictTTL)
		return nil, false
	}
	if n.sliding > 0 {
		n.arm(now)
	}
	s.moveToFrontLocked(n)
	v := n.val
	s.mu.Unlock()

	s.hits.Add(1)
	return v, true
}

// Set inserts or updates key→value. deadline is the absolute wall-clock
// limit (zero time = none); sliding is the idle window (0 = none). When
// neither is given, DefaultExpiration applies as an absolute-relative TTL.
// Overflow evicts LRU entries until the bound holds again.
func (s *Store) Set(key string, value []byte, deadline time.Time, sliding time.Duration) {
	now := s.now()

	abs := int64(0)
	if !deadline.IsZero() {
		abs = deadline.UnixNano()
	}
	if abs == 0 && sliding <= 0 && s.opt.DefaultExpiration > 0 {
		abs = now + int64(s.opt.DefaultExpiration)
	}

	var evicted []string

	s.mu.Lock()
	if n, ok := s.m[key]; ok {
		n.val = value
		n.absolute = abs
		n.sliding = int64(sliding)
		n.arm(now)
		s.moveToFrontLocked(n)
		s.mu.Unlock()
		return
	}
	n := &node{key: key, val: value, absolute: abs, sliding: int64(sliding), createdAt: now}
	n.arm(now)
	s.m[key] = n
	s.pushFrontLocked(n)
	for s.len > s.opt.MaxSize {
		lru := s.tail
		if lru == nil {
			break
		}
		s.unlinkLocked(lru)
		evicted = append(evicted, lru.key)
	}
	s.mu.Unlock()

	for _, k := range evicted {
		s.evicts.Add(1)
		s.notify(k, EvictCapacity)
	}
}

// Remove deletes key if present and reports whether it existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	n, ok := s.m[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.unlinkLocked(n)
	s.mu.Unlock()

	s.notify(key, EvictRemove)
	return true
}

// Refresh re-arms the sliding deadline of key without touching the value
// and without counting a hit. Returns false when the key is absent,
// expired, or has no sliding window.
func (s *Store) Refresh(key string) bool {
	now := s.now()

	s.mu.Lock()
	n, ok := s.m[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if n.expired(now) {
		s.unlinkLocked(n)
		s.mu.Unlock()
		s.evicts.Add(1)
		s.notify(key, EvictTTL)
		return false
	}
	if n.sliding <= 0 {
		s.mu.Unlock()
		return false
	}
	n.arm(now)
	s.moveToFrontLocked(n)
	s.mu.Unlock()
	return true
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	keys := make([]string, 0, s.len)
	for k := range s.m {
		keys = append(keys, k)
	}
	s.m = make(map[string]*node, s.opt.MaxSize)
	s.head, s.tail, s.len = nil, nil, 0
	s.mu.Unlock()

	for _, k := range keys {
		s.notify(k, EvictRemove)
	}
}

// Len returns the number of resident entries (including not-yet-collected
// expired ones; expiration is lazy).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// Stats returns the hit/miss/evict counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Evicts: s.evicts.Load(),
	}
}

// Close empties the store. The Store must not be used afterwards.
func (s *Store) Close() error {
	s.Clear()
	return nil
}

// -------------------- internals --------------------

func (s *Store) now() int64 { return s.opt.Clock.Now().UnixNano() }

// notify runs the eviction callback outside the store lock.
func (s *Store) notify(key string, reason EvictReason) {
	if cb := s.opt.OnEvict; cb != nil {
		cb(key, reason)
	}
}

// pushFrontLocked inserts n at MRU in O(1).
func (s *Store) pushFrontLocked(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
}

// moveToFrontLocked promotes n to MRU in O(1).
func (s *Store) moveToFrontLocked(n *node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// unlinkLocked removes n from the list and the map in O(1).
func (s *Store) unlinkLocked(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	delete(s.m, n.key)
}
