package swrcache

import (
	"context"
	"runtime"
	"sort"
)

// evictHeapInUse runs a soft eviction pass over s when process heap usage
// crosses config.HeapInUseSoftLimit, removing the fraction of entries
// nearest expiry (by Created+TTL) regardless of MaxLength. It is a no-op
// when HeapInUseSoftLimit is unset. Unlike the MaxLength eviction in
// setLocked, this pass is triggered externally (see Store.MaybeEvictHeap)
// rather than on every write, since runtime.ReadMemStats is comparatively
// expensive.
func (s *Store) evictHeapInUse() {
	if s.config.HeapInUseSoftLimit == 0 {
		return
	}

	runtime.GC()

	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)

	if m.HeapInuse < s.config.HeapInUseSoftLimit {
		return
	}

	type candidate struct {
		key      string
		expireAt int64
	}

	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.data))

	for key, el := range s.data {
		e := el.Value.(*storeItem).entry
		candidates = append(candidates, candidate{key: key, expireAt: e.Created.Add(e.TTL).UnixNano()})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expireAt < candidates[j].expireAt
	})

	fraction := s.config.HeapInUseEvictFraction
	if fraction == 0 {
		fraction = 0.1
	}

	evictCount := int(float64(len(candidates)) * fraction)

	if evictCount == 0 {
		return
	}

	s.mu.Lock()
	for i := 0; i < evictCount; i++ {
		if el, ok := s.data[candidates[i].key]; ok {
			s.order.Remove(el)
			delete(s.data, candidates[i].key)
			s.generation++
		}
	}
	s.mu.Unlock()

	s.stat.Add(context.Background(), MetricEvict, float64(evictCount), "name", s.config.Name)
	s.log.Debug(context.Background(), "heap-in-use soft eviction", "name", s.config.Name, "count", evictCount)
}

// MaybeEvictHeap triggers a heap-in-use soft eviction check. CacheManager
// calls this periodically from a background goroutine when
// Config.HeapInUseSoftLimit is set; it is exported so callers embedding
// Store directly can drive the same policy on their own schedule.
func (s *Store) MaybeEvictHeap() {
	s.evictHeapInUse()
}
