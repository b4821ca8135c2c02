package swrcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	swrcache "github.com/vearutop/swrcache"
)

func TestCacheManager_HotHit(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock:   clock,
		TTL:     time.Minute,
		Initial: map[string]interface{}{"k": "v"},
	})

	calls := 0
	worker := func(ctx context.Context) (interface{}, error) {
		calls++
		return "rebuilt", nil
	}

	out, err := m.Get(context.Background(), "k", swrcache.GetOptions{}, worker)
	require.NoError(t, err)
	assert.Equal(t, swrcache.Hit, out.Cache)
	assert.Equal(t, "v", out.Value)
	assert.Equal(t, 0, calls, "a fresh entry must never invoke the worker")
}

func TestCacheManager_ColdMiss(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{Clock: clock, TTL: time.Minute})

	out, err := m.Get(context.Background(), "k", swrcache.GetOptions{}, func(ctx context.Context) (interface{}, error) {
		return "built", nil
	})

	require.NoError(t, err)
	assert.Equal(t, swrcache.Miss, out.Cache)
	assert.Equal(t, "built", out.Value)
	assert.True(t, m.Has("k"))
}

func TestCacheManager_ColdMiss_NoWorkerReturnsNil(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{Clock: clock})

	out, err := m.Get(context.Background(), "k", swrcache.GetOptions{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestCacheManager_SingleFlightOnStale(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock:   clock,
		TTL:     time.Minute,
		Initial: map[string]interface{}{"k": "old"},
	})

	clock.Advance(time.Hour) // entry is now stale

	release := make(chan struct{})
	var invocations int32Counter

	worker := func(ctx context.Context) (interface{}, error) {
		invocations.inc()
		<-release
		return "new", nil
	}

	var wg sync.WaitGroup
	results := make([]*swrcache.Outcome, 3)
	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Get(context.Background(), "k", swrcache.GetOptions{}, worker)
		}()
	}

	// Give all three goroutines a chance to reach Get before releasing the
	// worker, so they observe the stale value / attach to the same handle
	// rather than racing ahead of each other.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, invocations.get(), "only one worker invocation for concurrent callers of the same key")

	missCount, hitCount := 0, 0

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "new", results[i].Value, "every caller waits for the single worker invocation to settle")

		switch results[i].Cache {
		case swrcache.Miss:
			missCount++
		case swrcache.Hit:
			hitCount++
		default:
			t.Fatalf("unexpected cache tag %v", results[i].Cache)
		}
	}

	assert.Equal(t, 1, missCount, "exactly one originator")
	assert.Equal(t, 2, hitCount, "attached callers see a hit once the originator's build settles")
}

func TestCacheManager_TimeoutOnStaleServesStaleAndArmsCooldown(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock:   clock,
		TTL:     time.Minute,
		Initial: map[string]interface{}{"k": "old"},
	})

	clock.Advance(time.Hour)

	block := make(chan struct{})
	defer close(block)

	out, err := m.Get(context.Background(), "k", swrcache.GetOptions{WorkerTimeout: 10 * time.Millisecond}, func(ctx context.Context) (interface{}, error) {
		<-block
		return "never", nil
	})

	require.NoError(t, err)
	assert.Equal(t, swrcache.Stale, out.Cache)
	assert.Equal(t, "old", out.Value)

	_, inCooldown := m.Waiting.Get("k")
	assert.True(t, inCooldown)
}

func TestCacheManager_CooldownThenRetry(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock:   clock,
		TTL:     time.Minute,
		Initial: map[string]interface{}{"k": "old"},
	})

	clock.Advance(time.Hour)

	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream down")
	}

	out, err := m.Get(context.Background(), "k", swrcache.GetOptions{DeltaWait: time.Minute}, failing)
	require.NoError(t, err)
	assert.Equal(t, swrcache.Stale, out.Cache)

	calls := 0
	counting := func(ctx context.Context) (interface{}, error) {
		calls++
		return "recovered", nil
	}

	out, err = m.Get(context.Background(), "k", swrcache.GetOptions{DeltaWait: time.Minute}, counting)
	require.NoError(t, err)
	assert.Equal(t, swrcache.Stale, out.Cache)
	assert.Equal(t, 0, calls, "worker must not run again while cooldown is live")

	clock.Advance(2 * time.Minute)

	out, err = m.Get(context.Background(), "k", swrcache.GetOptions{DeltaWait: time.Minute}, counting)
	require.NoError(t, err)
	assert.Equal(t, swrcache.Miss, out.Cache)
	assert.Equal(t, "recovered", out.Value)
	assert.Equal(t, 1, calls)
}

func TestCacheManager_CooldownOnColdMissRejectsWithoutInvokingWorker(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{Clock: clock})

	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream down")
	}

	_, err := m.Get(context.Background(), "k", swrcache.GetOptions{DeltaWait: time.Minute}, failing)
	assert.ErrorIs(t, err, swrcache.ErrColdRejection)

	calls := 0
	counting := func(ctx context.Context) (interface{}, error) {
		calls++
		return "built", nil
	}

	_, err = m.Get(context.Background(), "k", swrcache.GetOptions{DeltaWait: time.Minute}, counting)
	assert.ErrorIs(t, err, swrcache.ErrColdCooldown)
	assert.Equal(t, 0, calls)
}

func TestCacheManager_LRUFIFOOnSeed(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock:     clock,
		MaxLength: 2,
		Initial: map[string]interface{}{
			"a": 1,
			"b": 2,
		},
	})

	m.Set(context.Background(), "c", 3)

	assert.Equal(t, 2, len(m.Keys()))
	assert.True(t, m.Has("c"))
}

func TestCacheManager_ExpireGlob(t *testing.T) {
	clock := swrcache.NewManualClock(time.Now())
	m := swrcache.NewCacheManager(swrcache.Config{
		Clock: clock,
		TTL:   time.Hour,
		Initial: map[string]interface{}{
			"user:1":  "a",
			"user:2":  "b",
			"order:1": "c",
		},
	})

	m.Expire([]string{"user:*"})

	rebuilt := func(ctx context.Context) (interface{}, error) {
		return "rebuilt", nil
	}
	unreachable := func(ctx context.Context) (interface{}, error) {
		t.Fatal("worker must not run for a still-fresh entry")
		return nil, nil
	}

	out, err := m.Get(context.Background(), "user:1", swrcache.GetOptions{}, rebuilt)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, swrcache.Miss, out.Cache, "expired entry must trigger a worker rebuild")
	assert.Equal(t, "rebuilt", out.Value)

	out, err = m.Get(context.Background(), "order:1", swrcache.GetOptions{}, unreachable)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, swrcache.Hit, out.Cache)
	assert.Equal(t, "c", out.Value)
}

// int32Counter is a tiny atomic-free counter guarded by a mutex, used only
// to count worker invocations from concurrent goroutines in this test file.
type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}
