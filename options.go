package swrcache

import (
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Default timing constants, overridable per instance and per call.
const (
	DefaultWorkerTimeout = 5 * time.Second
	DefaultDeltaWait     = 10 * time.Second
	DefaultCacheTTL      = time.Minute
)

// Config configures NewCacheManager.
type Config struct {
	// Name is added to logs and stats.
	Name string

	// Initial seeds key->value or key->Entry pairs; each value is
	// deep-copied so later mutation of the caller's object does not reach
	// the cache.
	Initial map[string]interface{}

	// MaxLength is the Store's LRU capacity. Zero or negative means
	// unbounded.
	MaxLength int

	// TTL is the default per-entry TTL stamped by Set and by a successful
	// worker, overridable per call through GetOptions.TTL.
	TTL time.Duration

	// WorkerTimeout is the default duration before a pending worker is
	// considered timed out, overridable per call through
	// GetOptions.WorkerTimeout.
	WorkerTimeout time.Duration

	// DeltaWait is the default cooldown duration armed after a worker
	// times out or fails, overridable per call through GetOptions.DeltaWait.
	DeltaWait time.Duration

	// Clock is the time source used for freshness and cooldown
	// calculations, RealClock by default.
	Clock Clock

	// Logger collects diagnostic messages, can be nil.
	Logger ctxd.Logger

	// Stats tracks hit/miss/stale/evict/cold-* counters, can be nil.
	Stats stats.Tracker

	// HeapInUseSoftLimit, if non-zero, starts a background janitor that
	// periodically checks process heap usage and evicts the stalest
	// fraction of entries when it crosses this many bytes. Zero disables
	// the janitor entirely.
	HeapInUseSoftLimit uint64

	// HeapInUseEvictFraction is the fraction of entries evicted by a
	// triggered heap-in-use pass, default 0.1.
	HeapInUseEvictFraction float64

	// HeapCheckInterval is the delay between two consecutive heap-in-use
	// checks, default 1m. Only relevant when HeapInUseSoftLimit is set.
	HeapCheckInterval time.Duration

	// ItemsCountReportInterval, if non-zero, starts a background goroutine
	// that periodically reports the Store's item count through Stats.
	ItemsCountReportInterval time.Duration
}

// GetOptions is per-call configuration for CacheManager.Get.
type GetOptions struct {
	// WorkerTimeout overrides Config.WorkerTimeout for this call, 0 means
	// use the instance default.
	WorkerTimeout time.Duration

	// DeltaWait overrides Config.DeltaWait for this call, 0 means use the
	// instance default.
	DeltaWait time.Duration

	// TTL overrides Config.TTL for a value a worker produces in this call,
	// 0 means use the instance default.
	TTL time.Duration
}

func (c *Config) withDefaults() {
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = DefaultWorkerTimeout
	}

	if c.DeltaWait <= 0 {
		c.DeltaWait = DefaultDeltaWait
	}

	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}

	if c.HeapCheckInterval <= 0 {
		c.HeapCheckInterval = time.Minute
	}

	if c.Clock == nil {
		c.Clock = RealClock
	}

	if c.Logger == nil {
		c.Logger = ctxd.NoOpLogger{}
	}

	if c.Stats == nil {
		c.Stats = stats.NoOp{}
	}
}

func (o GetOptions) workerTimeout(def time.Duration) time.Duration {
	if o.WorkerTimeout > 0 {
		return o.WorkerTimeout
	}

	return def
}

func (o GetOptions) deltaWait(def time.Duration) time.Duration {
	if o.DeltaWait > 0 {
		return o.DeltaWait
	}

	return def
}

func (o GetOptions) ttl(def time.Duration) time.Duration {
	if o.TTL > 0 {
		return o.TTL
	}

	return def
}
