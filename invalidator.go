package swrcache

import (
	"fmt"
	"sync"
	"time"
)

// Invalidator throttles repeated calls to CacheManager.Expire for a fixed
// set of patterns, so a flood of upstream invalidation events (e.g. a
// webhook firing on every write) collapses into at most one Expire call
// per SkipInterval.
type Invalidator struct {
	mu sync.Mutex

	// SkipInterval is the minimal duration between two accepted
	// invalidations, default 15s.
	SkipInterval time.Duration

	manager  *CacheManager
	patterns []string
	lastRun  time.Time
}

// NewInvalidator builds an Invalidator bound to manager, invalidating
// patterns on each accepted call to Invalidate.
func NewInvalidator(manager *CacheManager, patterns ...string) *Invalidator {
	return &Invalidator{manager: manager, patterns: patterns}
}

// Invalidate calls CacheManager.Expire on the bound patterns, unless a
// prior call already did so within SkipInterval, in which case
// ErrAlreadyInvalidated is returned and the Store is left untouched.
func (i *Invalidator) Invalidate() error {
	if i.manager == nil || len(i.patterns) == 0 {
		return ErrNothingToInvalidate
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.SkipInterval == 0 {
		i.SkipInterval = 15 * time.Second
	}

	if time.Since(i.lastRun) < i.SkipInterval {
		return fmt.Errorf("%w at %s, %s did not pass",
			ErrAlreadyInvalidated, i.lastRun.String(), i.SkipInterval.String())
	}

	i.lastRun = time.Now()
	i.manager.Expire(i.patterns)

	return nil
}
