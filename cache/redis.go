package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisCtx    = context.Background()
	initOnce    sync.Once
	initialized bool
)

// InitRedis opens the Redis connection from environment variables. Redis is
// optional infrastructure here: when it is unreachable the caller keeps
// running and every cache/dedupe helper degrades to a no-op.
func InitRedis() error {
	var initErr error

	initOnce.Do(func() {
		redisAddr := os.Getenv("REDIS_ADDR")
		redisPassword := os.Getenv("REDIS_PASSWORD")
		redisDb := 0

		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDb = db
			}
		}

		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}

		log.Printf("initializing redis connection, addr: %s", redisAddr)

		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDb,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		if _, err := client.Ping(redisCtx).Result(); err != nil {
			log.Printf("redis connection failed: %v, cache features disabled", err)
			initErr = fmt.Errorf("redis connection failed: %w", err)
			return
		}

		redisClient = client
		initialized = true
		log.Println("redis connection initialized")
	})

	return initErr
}

// GetClient returns the Redis client, or an error when Redis is unavailable.
func GetClient() (*redis.Client, error) {
	if !initialized || redisClient == nil {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// GetRedisClient returns the client behind the RedisClient interface.
func GetRedisClient() (RedisClient, error) {
	return GetClient()
}

// CloseRedis closes the connection.
func CloseRedis() {
	if initialized && redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("error closing redis connection: %v", err)
		}
		log.Println("redis connection closed")
	}
}

// ReserveIdempotencyKey claims a one-shot key with SetNX. It returns true
// when this caller is the first to claim the key within ttl. Used to absorb
// anonymous submission retries without linking responses to an identity.
// When Redis is down it returns true: duplicates are preferable to refusing
// submissions.
func ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) bool {
	client, err := GetClient()
	if err != nil {
		return true
	}

	ok, err := client.SetNX(ctx, "idem:"+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		log.Printf("idempotency check failed for %s: %v", key, err)
		return true
	}
	return ok
}

// ReleaseIdempotencyKey drops a previously reserved key, e.g. when the write
// it guarded failed and the client should be allowed to retry.
func ReleaseIdempotencyKey(ctx context.Context, key string) {
	client, err := GetClient()
	if err != nil {
		return
	}
	if err := client.Del(ctx, "idem:"+key).Err(); err != nil {
		log.Printf("failed to release idempotency key %s: %v", key, err)
	}
}

// InvalidateSurveyCache removes cached read models for a survey after a
// write that affects them (responses, status changes, question edits).
func InvalidateSurveyCache(ctx context.Context, surveyID uint) {
	client, err := GetClient()
	if err != nil {
		return
	}

	keys := []string{
		fmt.Sprintf("survey:%d:report", surveyID),
		fmt.Sprintf("survey:%d:questions", surveyID),
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("failed to invalidate survey cache for %d: %v", surveyID, err)
	}
}
