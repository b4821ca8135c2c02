package swrcache

// Metric names reported through stats.Tracker.
const (
	MetricHit           = "swrcache_hit"
	MetricMiss          = "swrcache_miss"
	MetricStale         = "swrcache_stale"
	MetricWrite         = "swrcache_write"
	MetricEvict         = "swrcache_evict"
	MetricBuild         = "swrcache_build"
	MetricColdTimeout   = "swrcache_cold_timeout"
	MetricColdRejection = "swrcache_cold_rejection"
	MetricColdCooldown  = "swrcache_cold_cooldown"
	MetricAttached      = "swrcache_attached"
	MetricItems         = "swrcache_items"
)
