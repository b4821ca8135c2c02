package swrcache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/cespare/xxhash/v2"
)

// StoreConfig controls a Store instance.
type StoreConfig struct {
	// Name is added to logs and stats.
	Name string

	// MaxLength is the LRU capacity. Zero or negative means unbounded.
	MaxLength int

	// Logger collects debug/warn messages, can be nil.
	Logger ctxd.Logger

	// Stats tracks evict counters, can be nil.
	Stats stats.Tracker

	// HeapInUseSoftLimit, if non-zero, enables a soft eviction pass of the
	// entries nearest expiry, independent of MaxLength, that runs when
	// MaybeEvictHeap finds process heap usage at or above this many bytes.
	// The Store never starts this check itself. See evict.go.
	HeapInUseSoftLimit uint64

	// HeapInUseEvictFraction is the fraction of stored entries evicted by
	// a triggered soft-eviction pass, default 0.1.
	HeapInUseEvictFraction float64
}

type storeItem struct {
	key   string
	entry Entry
}

type prefixCacheEntry struct {
	generation uint64
	keys       []string
}

// Store is a bounded, string-keyed container of Entry records with
// FIFO-on-insert LRU eviction once MaxLength is exceeded. TTL is stamped on
// write and evaluated by the caller on read; Store never hides an expired
// entry, it only tags freshness at the CacheManager layer.
type Store struct {
	mu sync.RWMutex

	data  map[string]*list.Element
	order *list.List // front = most recently inserted/updated

	// generation increments on every membership change, invalidating the
	// advisory prefix cache used by ExpireMatching.
	generation  uint64
	prefixCache map[uint64]prefixCacheEntry

	config StoreConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewStore creates a Store with optional configuration.
func NewStore(cfg StoreConfig) *Store {
	log := cfg.Logger
	if log == nil {
		log = ctxd.NoOpLogger{}
	}

	stat := cfg.Stats
	if stat == nil {
		stat = stats.NoOp{}
	}

	return &Store{
		data:        make(map[string]*list.Element),
		order:       list.New(),
		prefixCache: make(map[uint64]prefixCacheEntry),
		config:      cfg,
		log:         log,
		stat:        stat,
	}
}

// Get returns the Entry stored under key without mutating its freshness;
// TTL evaluation is the caller's responsibility.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	el, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}

	return el.Value.(*storeItem).entry, true
}

// Set inserts or updates the Entry stored under key, evicting the oldest
// entry by insertion order if MaxLength is exceeded. value's concrete type
// is opportunistically gob-registered so a later Dump can transmit it
// through Entry's interface{} field without the caller registering it by
// hand first.
func (s *Store) Set(key string, value interface{}, ttl time.Duration, created time.Time, tag CacheTag) {
	autoRegisterGobType(value)

	e := Entry{Value: value, TTL: ttl, Created: created, Cache: tag}

	s.mu.Lock()
	s.setLocked(key, e)
	s.mu.Unlock()
}

func (s *Store) insert(key string, e Entry) {
	s.mu.Lock()
	s.setLocked(key, e)
	s.mu.Unlock()
}

func (s *Store) setLocked(key string, e Entry) {
	if el, ok := s.data[key]; ok {
		el.Value.(*storeItem).entry = e
		s.order.MoveToFront(el)
		s.generation++

		return
	}

	el := s.order.PushFront(&storeItem{key: key, entry: e})
	s.data[key] = el
	s.generation++

	if s.config.MaxLength > 0 && s.order.Len() > s.config.MaxLength {
		oldest := s.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*storeItem).key
			s.order.Remove(oldest)
			delete(s.data, evicted)
			s.stat.Add(context.Background(), MetricEvict, 1, "name", s.config.Name)
			s.log.Debug(context.Background(), "evicted cache entry", "name", s.config.Name, "key", evicted)
		}
	}
}

// Has reports whether key is stored, regardless of freshness.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	_, ok := s.data[key]
	s.mu.RUnlock()

	return ok
}

// Del removes key.
func (s *Store) Del(key string) {
	s.mu.Lock()
	if el, ok := s.data[key]; ok {
		s.order.Remove(el)
		delete(s.data, key)
		s.generation++
	}
	s.mu.Unlock()
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.data = make(map[string]*list.Element)
	s.order = list.New()
	s.prefixCache = make(map[uint64]prefixCacheEntry)
	s.generation++
	s.mu.Unlock()
}

// Keys returns stored keys, most-recently inserted/updated first.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*storeItem).key)
	}

	return keys
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.data)
	s.mu.RUnlock()

	return n
}

// Walk calls fn for every entry and fails on the first error fn returns.
// The number of entries processed is returned.
func (s *Store) Walk(fn func(key string, value Entry) error) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0

	for el := s.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*storeItem)

		if err := fn(item.key, item.entry); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

// ExpireMatching forces TTL to 0 for every stored key matched by any of
// patterns, rendering those entries stale on next read without removing
// them. A pattern is either a literal key or ends in "*", matching any key
// sharing its prefix.
func (s *Store) ExpireMatching(patterns []string, now time.Time) {
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			prefix := strings.TrimSuffix(p, "*")
			for _, key := range s.keysWithPrefix(prefix) {
				s.expireOne(key)
			}

			continue
		}

		s.expireOne(p)
	}
}

func (s *Store) expireOne(key string) {
	s.mu.Lock()
	if el, ok := s.data[key]; ok {
		el.Value.(*storeItem).entry.TTL = 0
	}
	s.mu.Unlock()
}

// keysWithPrefix returns stored keys sharing prefix. An xxhash of the
// prefix indexes a small cache of the last scan's result, valid until the
// store's key membership changes again; this is purely an optimization for
// repeated Expire calls on hot prefixes and a cache miss always falls back
// to the linear scan, so correctness never depends on the hash.
func (s *Store) keysWithPrefix(prefix string) []string {
	h := xxhash.Sum64String(prefix)

	s.mu.RLock()
	cached, ok := s.prefixCache[h]
	gen := s.generation
	s.mu.RUnlock()

	if ok && cached.generation == gen {
		return cached.keys
	}

	s.mu.RLock()
	keys := make([]string, 0)

	for el := s.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*storeItem)
		if strings.HasPrefix(item.key, prefix) {
			keys = append(keys, item.key)
		}
	}

	gen = s.generation
	s.mu.RUnlock()

	s.mu.Lock()
	s.prefixCache[h] = prefixCacheEntry{generation: gen, keys: keys}
	s.mu.Unlock()

	return keys
}
