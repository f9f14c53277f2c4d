// Command redischeck exercises the Redis-backed infrastructure pieces
// (bloom filter, rate limiter, cache-aside loader, distributed lock) against
// a live Redis so deployments can be verified before rollout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"survey-management-backend/cache"
)

func checkBloomFilter() {
	fmt.Println("=== bloom filter ===")

	filter := cache.InitAccessTokenFilter()
	if filter == nil {
		log.Fatal("bloom filter unavailable, is Redis up?")
	}

	ctx := context.Background()
	tokens := []string{"check-token-1", "check-token-2", "check-token-3"}
	for _, t := range tokens {
		if err := filter.Add(ctx, t); err != nil {
			log.Printf("add %s failed: %v", t, err)
		}
	}

	for _, t := range tokens {
		exists, err := filter.Contains(ctx, t)
		if err != nil {
			log.Printf("contains %s failed: %v", t, err)
		} else if exists {
			log.Printf("%s: present as expected", t)
		} else {
			log.Printf("%s: MISSING, filter is broken", t)
		}
	}

	for _, t := range []string{"never-issued-1", "never-issued-2"} {
		exists, err := filter.Contains(ctx, t)
		if err != nil {
			log.Printf("contains %s failed: %v", t, err)
		} else if !exists {
			log.Printf("%s: absent as expected", t)
		} else {
			log.Printf("%s: false positive", t)
		}
	}
}

func checkRateLimiter() {
	fmt.Println("\n=== rate limiter ===")

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Fatalf("failed to get Redis client: %v", err)
	}

	// 3 requests per second, burst of 5: of 10 immediate requests only the
	// first 5 should pass.
	limiter := cache.NewTokenBucketRateLimiter(redisClient, "redischeck_limiter", 3, 5)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(ctx)
		if err != nil {
			log.Printf("request %d: limiter error: %v", i+1, err)
		} else if ok {
			allowed++
		}
	}
	log.Printf("burst: %d of 10 requests allowed", allowed)

	time.Sleep(3 * time.Second)
	allowed = 0
	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx)
		if err != nil {
			log.Printf("request %d: limiter error: %v", i+1, err)
		} else if ok {
			allowed++
		}
	}
	log.Printf("after refill: %d of 5 requests allowed", allowed)
}

func checkCacheAside() {
	fmt.Println("\n=== cache-aside loader ===")

	ctx := context.Background()
	key := "redischeck:report"

	var mu sync.Mutex
	loaderCalls := 0
	loader := func() (string, error) {
		mu.Lock()
		loaderCalls++
		mu.Unlock()
		time.Sleep(2 * time.Second) // simulate a slow aggregation
		return fmt.Sprintf(`{"generated_at":%q}`, time.Now().Format(time.RFC3339)), nil
	}

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := cache.GetWithCache(ctx, key, 30*time.Second, loader); err != nil {
				log.Printf("request %d: %v", idx+1, err)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("10 concurrent reads finished in %v, loader ran %d time(s)", time.Since(start), loaderCalls)
	if loaderCalls == 1 {
		log.Println("stampede protection works")
	} else {
		log.Printf("stampede protection failed, loader ran %d times", loaderCalls)
	}
}

func checkDistributedLock() {
	fmt.Println("\n=== distributed lock ===")

	lockService := cache.GetLockService()
	if lockService == nil {
		log.Fatal("lock service unavailable, is Redis up?")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := lockService.WithLock("redischeck:lock", 5*time.Second, func() error {
				mu.Lock()
				acquired++
				mu.Unlock()
				time.Sleep(1 * time.Second)
				return nil
			})
			if err != nil && err != cache.ErrLockNotAcquired {
				log.Printf("request %d: lock error: %v", idx+1, err)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("lock acquired by %d of 10 concurrent holders", acquired)
	if acquired == 1 {
		log.Println("mutual exclusion works")
	}
}

func main() {
	if err := cache.InitRedis(); err != nil {
		log.Fatalf("failed to initialize Redis: %v", err)
	}
	cache.InitDistLock()
	defer fmt.Println("all checks finished")

	args := os.Args[1:]
	if len(args) > 0 {
		for _, arg := range args {
			switch arg {
			case "bloom":
				checkBloomFilter()
			case "rate":
				checkRateLimiter()
			case "cache":
				checkCacheAside()
			case "lock":
				checkDistributedLock()
			default:
				log.Printf("unknown check: %s", arg)
			}
		}
		return
	}

	checkBloomFilter()
	checkRateLimiter()
	checkCacheAside()
	checkDistributedLock()
}
