package cache

import (
	"context"
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// BloomFilter is a Redis bitmap backed bloom filter. Access tokens pass
// through it so that validation can reject never-issued tokens without a
// database round trip.
type BloomFilter struct {
	redisClient RedisClient
	key         string
	hashCount   int
}

// NewBloomFilter creates a bloom filter over the given key.
func NewBloomFilter(client RedisClient, key string, hashCount int) *BloomFilter {
	return &BloomFilter{
		redisClient: client,
		key:         "bloom:" + key,
		hashCount:   hashCount,
	}
}

// Add inserts an element.
func (bf *BloomFilter) Add(ctx context.Context, item string) error {
	if bf.redisClient == nil {
		return ErrRedisNotAvailable
	}

	pipe := bf.redisClient.Pipeline()
	for i := 0; i < bf.hashCount; i++ {
		pipe.SetBit(ctx, bf.key, bf.hash(item, i), 1)
	}
	pipe.Expire(ctx, bf.key, 90*24*time.Hour)

	_, err := pipe.Exec(ctx)
	return err
}

// Contains reports whether item may have been added. A false result is
// definitive; a true result can be a false positive.
func (bf *BloomFilter) Contains(ctx context.Context, item string) (bool, error) {
	if bf.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	pipe := bf.redisClient.Pipeline()
	var cmds []*redis.IntCmd
	for i := 0; i < bf.hashCount; i++ {
		cmds = append(cmds, pipe.GetBit(ctx, bf.key, bf.hash(item, i)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (bf *BloomFilter) hash(key string, seed int) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{byte(seed)})
	return int64(h.Sum64() % uint64(1<<30))
}

// InitAccessTokenFilter builds the filter tracking issued access tokens.
// Returns nil when Redis is unavailable; callers must treat nil as "skip
// the pre-check".
func InitAccessTokenFilter() *BloomFilter {
	client, err := GetClient()
	if err != nil {
		log.Printf("access token bloom filter init failed: %v", err)
		return nil
	}
	return NewBloomFilter(client, "access_tokens", 5)
}
