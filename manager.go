package swrcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// SetOptions is per-call configuration for CacheManager.Set.
type SetOptions struct {
	// TTL overrides the instance default TTL for this entry, 0 means use
	// the instance default.
	TTL time.Duration
}

// CacheManager coordinates the Store, WaitingRegistry and WorkerRegistry
// behind the Get state machine described in the package documentation.
//
// A CacheManager instance is a closed unit: the Store, WaitingRegistry and
// WorkerRegistry it owns are private to it, there is no process-wide
// singleton state shared across instances.
type CacheManager struct {
	// mu serializes the classify -> check-cooldown -> check-worker-registry
	// -> register sequence described in the package documentation. It is
	// held continuously across that sequence and released only at the two
	// suspension points: awaiting the timeout-wrapped worker (via
	// WorkerHandle.Wait/WorkerRegistry.Run) and, for callers, any timer
	// they set up themselves around a cooldown.
	mu sync.Mutex

	// Store is the underlying LRU+TTL store, exposed for inspection in
	// tests.
	Store *Store

	// Waiting is the underlying cooldown registry, exposed for inspection
	// in tests.
	Waiting *WaitingRegistry

	workers *WorkerRegistry
	clock   Clock
	config  Config
	log     ctxd.Logger
	stat    stats.Tracker
	closed  chan struct{}
}

// NewCacheManager creates a CacheManager with the given configuration,
// seeding it with config.Initial if provided. Seed values are deep-copied
// so later mutation of the caller's object cannot reach the cache.
func NewCacheManager(config Config) *CacheManager {
	config.withDefaults()

	m := &CacheManager{
		Store: NewStore(StoreConfig{
			Name:                   config.Name,
			MaxLength:              config.MaxLength,
			Logger:                 config.Logger,
			Stats:                  config.Stats,
			HeapInUseSoftLimit:     config.HeapInUseSoftLimit,
			HeapInUseEvictFraction: config.HeapInUseEvictFraction,
		}),
		Waiting: NewWaitingRegistry(),
		workers: NewWorkerRegistry(),
		clock:   config.Clock,
		config:  config,
		log:     config.Logger,
		stat:    config.Stats,
		closed:  make(chan struct{}),
	}

	now := config.Clock.Now()

	for key, v := range config.Initial {
		if e, ok := v.(Entry); ok {
			e.Value = deepCopy(e.Value)

			if e.Created.IsZero() {
				e.Created = now
			}

			if e.Cache == "" {
				e.Cache = Hit
			}

			m.Store.insert(key, e)

			continue
		}

		m.Store.Set(key, deepCopy(v), config.TTL, now, Hit)
	}

	if config.HeapInUseSoftLimit > 0 {
		go m.janitor()
	}

	if config.ItemsCountReportInterval > 0 {
		go m.reportItemsCount()
	}

	return m
}

// Close stops any background goroutines started for heap-in-use eviction
// or items-count reporting. It does not affect in-flight workers or the
// Store's contents. Close is a no-op when neither was configured, and is
// safe to call more than once.
func (m *CacheManager) Close() {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
}

// janitor periodically triggers a heap-in-use eviction check, mirroring
// the teacher's background cleaner goroutine.
func (m *CacheManager) janitor() {
	ticker := time.NewTicker(m.config.HeapCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Store.MaybeEvictHeap()
		case <-m.closed:
			return
		}
	}
}

// reportItemsCount periodically reports the Store's length through Stats,
// mirroring the teacher's reportItemsCount goroutine.
func (m *CacheManager) reportItemsCount() {
	ticker := time.NewTicker(m.config.ItemsCountReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.stat.Set(context.Background(), MetricItems, float64(m.Store.Len()), "name", m.config.Name)
		case <-m.closed:
			return
		}
	}
}

// Has reports whether key is stored, regardless of freshness.
func (m *CacheManager) Has(key string) bool {
	return m.Store.Has(key)
}

// Del removes key.
func (m *CacheManager) Del(key string) {
	m.Store.Del(key)
}

// Clear removes all entries. It does not touch the WaitingRegistry or
// WorkerRegistry: an in-flight worker keeps running and, if it succeeds
// within its timeout after Clear, its result is written back as a fresh
// entry. A result arriving after the timeout is dropped.
func (m *CacheManager) Clear() {
	m.Store.Clear()
}

// Keys returns stored keys, most recently inserted/updated first.
func (m *CacheManager) Keys() []string {
	return m.Store.Keys()
}

// Set inserts an Entry for key with the given value. It does not touch the
// WaitingRegistry or WorkerRegistry.
func (m *CacheManager) Set(ctx context.Context, key string, value interface{}, opts ...SetOptions) {
	ttl := m.config.TTL

	if len(opts) > 0 && opts[0].TTL > 0 {
		ttl = opts[0].TTL
	}

	m.Store.Set(key, value, ttl, m.clock.Now(), Hit)
	m.stat.Add(ctx, MetricWrite, 1, "name", m.config.Name)
}

// Expire force-expires every key matched by any of patterns, rendering
// those entries stale on next read without removing them. A pattern is
// either a literal key or ends in "*", matching any key sharing its
// prefix. Calling Expire twice with the same patterns leaves Store state
// unchanged after the first call (expire is idempotent).
func (m *CacheManager) Expire(patterns []string) {
	m.Store.ExpireMatching(patterns, m.clock.Now())
}

// Get implements the request lifecycle state machine: fresh entries are
// served directly, stale or missing entries are recomputed by a worker
// that the caller waits for, concurrent callers of the same key share one
// worker invocation, and a worker that times out or fails arms a cooldown
// and serves the stale value where one exists.
//
// A nil Outcome with a nil error is returned when the key is stale or
// missing and no worker was supplied (spec: NoWorker resolves to a null
// outcome rather than an error), except that a stale entry whose cooldown
// is still live is served with the Stale tag.
func (m *CacheManager) Get(ctx context.Context, key string, opts GetOptions, worker Worker) (*Outcome, error) {
	now := m.clock.Now()

	m.mu.Lock()

	entry, found := m.Store.Get(key)
	fresh := found && entry.fresh(now)

	if found && fresh {
		m.mu.Unlock()
		m.stat.Add(ctx, MetricHit, 1, "name", m.config.Name)

		return &Outcome{Value: entry.Value, Cache: Hit, Created: entry.Created, TTL: entry.TTL}, nil
	}

	rec, hasCooldown := m.Waiting.Get(key)
	cooldownLive := hasCooldown && rec.live(now)

	// A stale entry under a live cooldown is always served, whether or
	// not a worker was supplied: resolves the spec's open question about
	// this combination in favor of serving the stale value, by analogy
	// with the ordinary in-cooldown stale case.
	if found && cooldownLive {
		m.mu.Unlock()
		m.stat.Add(ctx, MetricStale, 1, "name", m.config.Name)

		return &Outcome{Value: entry.Value, Cache: Stale, Created: entry.Created, TTL: entry.TTL}, nil
	}

	if worker == nil {
		m.mu.Unlock()

		return nil, nil
	}

	if !found && cooldownLive {
		m.mu.Unlock()
		m.stat.Add(ctx, MetricColdCooldown, 1, "name", m.config.Name)
		m.log.Warn(ctx, "get rejected, key in cooldown", "name", m.config.Name, "key", key)

		return nil, ErrColdCooldown
	}

	handle, originator := m.workers.Claim(key)
	m.mu.Unlock()

	if !originator {
		v, err := handle.Wait()

		outcome, _ := v.(*Outcome)

		if err == nil && outcome != nil && outcome.Cache == Miss {
			attached := *outcome
			attached.Cache = Hit
			m.stat.Add(ctx, MetricHit, 1, "name", m.config.Name)
			m.stat.Add(ctx, MetricAttached, 1, "name", m.config.Name)

			return &attached, nil
		}

		if outcome != nil {
			m.stat.Add(ctx, MetricStale, 1, "name", m.config.Name)
		}

		return outcome, err
	}

	timeout := opts.workerTimeout(m.config.WorkerTimeout)
	deltaWait := opts.deltaWait(m.config.DeltaWait)
	ttl := opts.ttl(m.config.TTL)

	v, err := m.workers.Run(key, handle, func() (interface{}, error) {
		return m.resolveWorker(ctx, key, entry, found, timeout, deltaWait, ttl, worker)
	})

	outcome, _ := v.(*Outcome)

	return outcome, err
}

// resolveWorker runs worker under its timeout, applies the outcome table
// from the package documentation, and returns the originator's Outcome
// (success is tagged Miss; attached callers upgrade it to Hit themselves).
func (m *CacheManager) resolveWorker(
	ctx context.Context,
	key string,
	staleEntry Entry,
	hadEntry bool,
	timeout, deltaWait, ttl time.Duration,
	worker Worker,
) (*Outcome, error) {
	value, workErr, timedOut := runWorkerWithTimeout(ctx, worker, timeout)

	// The post-worker update is evaluated against a fresh Clock.Now(),
	// distinct from the now captured when Get was entered.
	resolvedAt := m.clock.Now()

	if !timedOut && workErr == nil {
		m.Store.Set(key, value, ttl, resolvedAt, Miss)
		m.Waiting.Clear(key)
		m.stat.Add(ctx, MetricBuild, 1, "name", m.config.Name)
		m.stat.Add(ctx, MetricMiss, 1, "name", m.config.Name)

		return &Outcome{Value: value, Cache: Miss, Created: resolvedAt, TTL: ttl}, nil
	}

	m.Waiting.Arm(key, resolvedAt, deltaWait)

	if timedOut {
		m.stat.Add(ctx, MetricColdTimeout, 1, "name", m.config.Name)
		m.log.Warn(ctx, "worker timed out", "name", m.config.Name, "key", key)

		if hadEntry {
			return &Outcome{Value: staleEntry.Value, Cache: Stale, Created: staleEntry.Created, TTL: staleEntry.TTL}, nil
		}

		return nil, ErrColdTimeout
	}

	m.stat.Add(ctx, MetricColdRejection, 1, "name", m.config.Name)
	m.log.Warn(ctx, "worker failed", "name", m.config.Name, "key", key, "error", workErr)

	if hadEntry {
		return &Outcome{Value: staleEntry.Value, Cache: Stale, Created: staleEntry.Created, TTL: staleEntry.TTL}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrColdRejection, workErr)
}
