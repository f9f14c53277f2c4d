package cache

import "errors"

var (
	// ErrRedisNotAvailable indicates the Redis client is not initialized or unreachable.
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired indicates the distributed lock could not be taken.
	ErrLockNotAcquired = errors.New("distributed lock not acquired")

	// ErrKeyNotFound indicates the requested key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)
