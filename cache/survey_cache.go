package cache

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// nullSentinel caches "no data" results briefly so repeated lookups for
	// missing keys do not hammer the database.
	nullSentinel   = "NULL"
	nullExpiration = 5 * time.Minute
	// jitterFactor randomizes TTLs so hot keys do not all expire at once.
	jitterFactor = 0.2
	lockTimeout  = 5 * time.Second
)

// GetWithCache implements cache-aside for JSON payloads: read from Redis,
// and on a miss rebuild the value under a short SetNX lock so only one
// caller hits the database for the same key. When Redis is unavailable the
// loader runs directly.
func GetWithCache(ctx context.Context, key string, ttl time.Duration, loader func() (string, error)) (string, error) {
	client, err := GetClient()
	if err != nil {
		return loader()
	}

	if data, err := client.Get(ctx, key).Result(); err == nil {
		if data == nullSentinel {
			return "", ErrKeyNotFound
		}
		return data, nil
	} else if err != redis.Nil {
		log.Printf("cache read failed for %s: %v", key, err)
	}

	// miss: take a short lock so concurrent misses do not stampede
	lockKey := "cache_lock:" + key
	acquired, err := client.SetNX(ctx, lockKey, 1, lockTimeout).Result()
	if err != nil {
		log.Printf("cache lock failed for %s: %v", key, err)
	}

	if !acquired {
		// another caller is rebuilding; check once more before loading
		if data, err := client.Get(ctx, key).Result(); err == nil {
			if data == nullSentinel {
				return "", ErrKeyNotFound
			}
			return data, nil
		}
	}

	data, loadErr := loader()

	if acquired {
		if err := client.Del(ctx, lockKey).Err(); err != nil {
			log.Printf("cache lock release failed for %s: %v", lockKey, err)
		}
	}

	if loadErr != nil {
		return "", loadErr
	}

	cacheData := data
	expiration := ttl
	if data == "" {
		cacheData = nullSentinel
		expiration = nullExpiration
	}

	// jitter the expiry to avoid synchronized eviction
	jittered := time.Duration(float64(expiration) * (1 + jitterFactor*(0.5-rand.Float64())))
	if err := client.Set(ctx, key, cacheData, jittered).Err(); err != nil {
		log.Printf("cache write failed for %s: %v", key, err)
	}

	return data, nil
}
