// Command swrbench drives a concurrent load test against CacheManager and
// reports throughput next to the two comparator caches this module's
// go.mod already depends on, following the teacher pack's own benchmark
// harness shape.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	bool64cache "github.com/bool64/cache"
	pca "github.com/patrickmn/go-cache"
	swrcache "github.com/vearutop/swrcache"
)

const (
	preloadKeys = 100000
	goroutines  = 200
	opsPerG     = 5000
)

func main() {
	ctx := context.Background()

	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Printf("Preload Keys : %d\n", preloadKeys)
	fmt.Printf("Goroutines   : %d\n", goroutines)
	fmt.Printf("Ops/Goroutine: %d\n", opsPerG)
	fmt.Println("---------------------------------")

	runCacheManager(ctx)
	runShardedMap(ctx)
	runPatrickmn()
}

func runCacheManager(ctx context.Context) {
	m := swrcache.NewCacheManager(swrcache.Config{
		Name:      "swrbench",
		MaxLength: preloadKeys * 2,
		TTL:       time.Minute,
	})
	defer m.Close()

	worker := func(ctx context.Context) (interface{}, error) {
		return 0, nil
	}

	fmt.Println("\nPreloading CacheManager...")

	for i := 0; i < preloadKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		m.Set(ctx, key, i)
	}

	report("CacheManager.Get", func() {
		var wg sync.WaitGroup
		wg.Add(goroutines)

		for g := 0; g < goroutines; g++ {
			go func() {
				defer wg.Done()

				for j := 0; j < opsPerG; j++ {
					key := fmt.Sprintf("key-%d", j%preloadKeys)
					// nolint:errcheck
					_, _ = m.Get(ctx, key, swrcache.GetOptions{}, worker)
				}
			}()
		}

		wg.Wait()
	})
}

func runShardedMap(ctx context.Context) {
	c := bool64cache.NewShardedMap()

	fmt.Println("\nPreloading bool64/cache.ShardedMap...")

	for i := 0; i < preloadKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		// nolint:errcheck
		_ = c.Write(ctx, []byte(key), i)
	}

	report("bool64/cache.ShardedMap", func() {
		var wg sync.WaitGroup
		wg.Add(goroutines)

		for g := 0; g < goroutines; g++ {
			go func() {
				defer wg.Done()

				for j := 0; j < opsPerG; j++ {
					key := fmt.Sprintf("key-%d", j%preloadKeys)
					// nolint:errcheck
					_, _ = c.Read(ctx, []byte(key))
				}
			}()
		}

		wg.Wait()
	})
}

func runPatrickmn() {
	c := pca.New(5*time.Minute, 10*time.Minute)

	fmt.Println("\nPreloading patrickmn/go-cache...")

	for i := 0; i < preloadKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		c.Set(key, i, time.Minute)
	}

	report("patrickmn/go-cache", func() {
		var wg sync.WaitGroup
		wg.Add(goroutines)

		for g := 0; g < goroutines; g++ {
			go func() {
				defer wg.Done()

				for j := 0; j < opsPerG; j++ {
					key := fmt.Sprintf("key-%d", j%preloadKeys)
					_, _ = c.Get(key)
				}
			}()
		}

		wg.Wait()
	})
}

func report(name string, run func()) {
	start := time.Now()
	run()
	duration := time.Since(start)
	totalOps := goroutines * opsPerG

	fmt.Printf("\n=== %s ===\n", name)
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
}
