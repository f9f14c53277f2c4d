package mq

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MQAdapter picks the notification transport: RocketMQ when configured,
// otherwise the Redis list queue. When neither is reachable the adapter
// stays uninitialized and the dispatcher falls back to synchronous sends.
type MQAdapter struct {
	rocketEnabled bool
	redisEnabled  bool
	redisMQ       *RedisMQ
	redisClient   *redis.Client
	initOnce      sync.Once
	initialized   bool
}

// NewMQAdapter creates an uninitialized adapter.
func NewMQAdapter() *MQAdapter {
	return &MQAdapter{}
}

// Initialize connects to the first available transport.
func (a *MQAdapter) Initialize() error {
	var err error
	a.initOnce.Do(func() {
		if os.Getenv("ROCKETMQ_NAMESRV_ADDR") != "" {
			if rocketErr := InitRocketMQ(); rocketErr == nil {
				a.rocketEnabled = true
				a.initialized = true
				log.Println("notification queue using rocketmq")
				return
			} else {
				log.Printf("rocketmq init failed, falling back to redis queue: %v", rocketErr)
			}
		}

		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			redisHost := os.Getenv("REDIS_HOST")
			if redisHost == "" {
				redisHost = "localhost"
			}
			redisPort := os.Getenv("REDIS_PORT")
			if redisPort == "" {
				redisPort = "6379"
			}
			redisAddr = fmt.Sprintf("%s:%s", redisHost, redisPort)
		}

		a.redisClient = redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          0,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 5 * time.Second,
			PoolSize:    20,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, redisErr := a.redisClient.Ping(ctx).Result(); redisErr != nil {
			log.Printf("redis connection failed: %v", redisErr)
			err = fmt.Errorf("no notification transport available: %w", redisErr)
			return
		}

		a.redisMQ = NewRedisMQ(a.redisClient)
		a.redisEnabled = true
		a.initialized = true
		log.Println("notification queue using redis")
	})

	return err
}

// RegisterHandler wires the consumer callback and starts consumption.
func (a *MQAdapter) RegisterHandler(handler func(msg NotificationMessage) error) error {
	if !a.initialized {
		return fmt.Errorf("notification queue adapter not initialized")
	}

	if a.rocketEnabled {
		return StartRocketConsumer(handler)
	}

	if a.redisEnabled {
		if a.redisMQ == nil {
			return fmt.Errorf("redis queue instance is nil")
		}
		a.redisMQ.RegisterHandler(handler)
		return a.redisMQ.Start()
	}

	return fmt.Errorf("no notification transport enabled")
}

// SendNotification enqueues one message on the active transport.
func (a *MQAdapter) SendNotification(msg NotificationMessage) error {
	if !a.IsInitialized() {
		return fmt.Errorf("notification queue adapter not initialized")
	}

	if a.rocketEnabled {
		return SendRocketNotification(msg)
	}

	if a.redisMQ == nil {
		return fmt.Errorf("redis queue instance is nil")
	}
	return a.redisMQ.SendNotification(msg)
}

// Close shuts the transport down.
func (a *MQAdapter) Close() {
	if a.rocketEnabled {
		CloseRocketMQ()
	}
	if a.redisEnabled && a.redisMQ != nil {
		a.redisMQ.Stop()
		a.redisClient.Close()
	}
	log.Println("notification queue closed")
}

// GetQueueStats describes the active transport's queues.
func (a *MQAdapter) GetQueueStats() map[string]interface{} {
	stats := make(map[string]interface{})

	if !a.IsInitialized() {
		stats["status"] = "uninitialized"
		return stats
	}

	if a.rocketEnabled {
		stats["type"] = "rocketmq"
		stats["status"] = "running"
		return stats
	}

	stats["type"] = "redis"
	if a.redisMQ != nil {
		stats["status"] = "running"
		stats["queues"] = a.redisMQ.GetQueueStats()
	} else {
		stats["status"] = "instance nil"
	}
	return stats
}

// RetryDeadLetters re-queues dead-lettered messages (Redis transport only).
func (a *MQAdapter) RetryDeadLetters() error {
	if !a.IsInitialized() {
		return fmt.Errorf("notification queue adapter not initialized")
	}
	if a.redisEnabled && a.redisMQ != nil {
		return a.redisMQ.RetryDeadLetters()
	}
	return fmt.Errorf("dead letter retry not supported on this transport")
}

// IsInitialized reports whether a transport is active.
func (a *MQAdapter) IsInitialized() bool {
	return a.initialized && (a.rocketEnabled || a.redisEnabled)
}
