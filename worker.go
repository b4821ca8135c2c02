package swrcache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// WorkerHandle is the shared completion record for an in-flight worker
// invocation. Exactly one exists per key at a time; it is removed from the
// WorkerRegistry as soon as it settles.
type WorkerHandle struct {
	done chan struct{}

	value interface{}
	err   error

	mu       sync.Mutex
	attached int
}

// Wait blocks until the originating call settles this handle and returns
// the same value/error it produced.
func (h *WorkerHandle) Wait() (interface{}, error) {
	<-h.done

	return h.value, h.err
}

func (h *WorkerHandle) settle(value interface{}, err error) {
	h.value, h.err = value, err
	close(h.done)
}

// WorkerRegistry coalesces concurrent worker invocations per key: the
// first caller for a key becomes the originator and actually runs the
// worker, every other caller while it is in flight attaches to the same
// WorkerHandle and receives its eventual value or error.
type WorkerRegistry struct {
	mu      sync.Mutex
	handles map[string]*WorkerHandle
	sf      singleflight.Group
}

// NewWorkerRegistry creates an empty WorkerRegistry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{handles: make(map[string]*WorkerHandle)}
}

// Claim returns the WorkerHandle for key. originator is true if this call
// created it (the caller must Run the worker, which settles the handle);
// otherwise a concurrent call already owns it and this caller should Wait
// on the returned handle instead.
//
// Claim must be called while the caller holds whatever lock serializes its
// own classify-then-register step (CacheManager's instance mutex), so that
// "does a handle already exist" is decided consistently with the Store and
// WaitingRegistry reads that preceded it.
func (r *WorkerRegistry) Claim(key string) (handle *WorkerHandle, originator bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		h.mu.Lock()
		h.attached++
		h.mu.Unlock()

		return h, false
	}

	h := &WorkerHandle{done: make(chan struct{})}
	r.handles[key] = h

	return h, true
}

// Run invokes fn as the originator for key, settles handle with its
// result, removes the handle from the registry, and returns the result.
//
// fn is additionally routed through a singleflight.Group keyed the same
// way, so that a worker invocation started fractionally before this
// instance's own mutex serialized Claim still collapses into one physical
// call rather than two, as a defense-in-depth backstop to the hand-rolled
// coalescing above.
func (r *WorkerRegistry) Run(key string, handle *WorkerHandle, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := r.sf.Do(key, fn)

	r.mu.Lock()
	delete(r.handles, key)
	r.mu.Unlock()

	handle.settle(v, err)

	return v, err
}

// Attached returns the number of callers currently attached to key's
// in-flight handle, for inspection in tests.
func (r *WorkerRegistry) Attached(key string) int {
	r.mu.Lock()
	h, ok := r.handles[key]
	r.mu.Unlock()

	if !ok {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.attached
}
