package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMQ is the Redis-list notification queue, used when RocketMQ is not
// configured. Messages move main -> processing atomically; stuck or failing
// messages are retried with a cap and then parked on a dead-letter list.
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	processHandler    func(msg NotificationMessage) error
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration
	retryDelay        time.Duration
	maxRetries        int
}

// Queue name constants.
const (
	MainQueueName       = "notify_queue"
	ProcessingQueueName = "notify_processing"
	DeadLetterQueueName = "notify_dead_letter"
	RetriesHashName     = "notify_retries"
	processedSetName    = "notify_message_ids"
)

// NewRedisMQ creates the queue over an existing Redis client.
func NewRedisMQ(redisClient *redis.Client) *RedisMQ {
	return &RedisMQ{
		client:            redisClient,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        3,
	}
}

// RegisterHandler sets the consumer callback.
func (r *RedisMQ) RegisterHandler(handler func(msg NotificationMessage) error) {
	r.processHandler = handler
}

// SendNotification enqueues one message. Re-sends with the same MessageID
// are silently dropped.
func (r *RedisMQ) SendNotification(msg NotificationMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = newMessageID(msg.NotificationID)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	// idempotency check against the processed-IDs set
	exists, err := r.client.SIsMember(r.ctx, processedSetName, msg.MessageID).Result()
	if err != nil {
		log.Printf("idempotency check error: %v", err)
	} else if exists {
		log.Printf("message already queued, skipping: %s", msg.MessageID)
		return nil
	}

	if err := r.client.SAdd(r.ctx, processedSetName, msg.MessageID).Err(); err != nil {
		log.Printf("failed to record message ID: %v", err)
	}
	r.client.Expire(r.ctx, processedSetName, 48*time.Hour)

	if err := r.client.LPush(r.ctx, MainQueueName, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	return nil
}

// Start launches the consumer loops.
func (r *RedisMQ) Start() error {
	if r.processHandler == nil {
		return fmt.Errorf("no handler registered")
	}
	if r.isRunning {
		return nil
	}

	r.isRunning = true

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.timeoutCheckLoop()

	log.Println("redis notification queue consumer started")
	return nil
}

// Stop shuts the consumer down and waits for in-flight work.
func (r *RedisMQ) Stop() {
	if !r.isRunning {
		return
	}

	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	log.Println("redis notification queue consumer stopped")
}

func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			// BRPOPLPUSH moves main -> processing atomically
			result, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, 1*time.Second).Result()
			if err != nil {
				if err != redis.Nil {
					log.Printf("failed to fetch from queue: %v", err)
				}
				continue
			}

			go r.processMessage(result)
		}
	}
}

func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// checkTimeouts re-queues messages stuck in the processing list past the
// processing timeout, respecting the retry cap.
func (r *RedisMQ) checkTimeouts() {
	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Printf("failed to scan processing queue: %v", err)
		return
	}

	now := time.Now().Unix()

	for _, msgData := range messages {
		var msg NotificationMessage
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("failed to parse queued message: %v", err)
			continue
		}

		if now-msg.Timestamp > int64(r.processingTimeout.Seconds()) {
			retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()

			if retries >= r.maxRetries {
				log.Printf("message %s exceeded max retries, moving to dead letter", msg.MessageID)
				r.moveToDeadLetter(msgData)
			} else {
				r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

				msg.Timestamp = now
				updatedData, _ := json.Marshal(msg)

				r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)

				time.AfterFunc(r.retryDelay, func() {
					r.client.LPush(r.ctx, MainQueueName, updatedData)
					log.Printf("message %s re-queued, retry %d", msg.MessageID, retries+1)
				})
			}
		}
	}
}

func (r *RedisMQ) processMessage(msgData string) {
	var msg NotificationMessage
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("failed to parse message: %v", err)
		r.moveToDeadLetter(msgData)
		return
	}

	if err := r.processHandler(msg); err != nil {
		log.Printf("failed to process notification %d: %v", msg.NotificationID, err)

		retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()

		if retries >= r.maxRetries {
			log.Printf("message %s exceeded max retries, moving to dead letter", msg.MessageID)
			r.moveToDeadLetter(msgData)
		} else {
			r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

			msg.Timestamp = time.Now().Unix()
			updatedData, _ := json.Marshal(msg)

			time.AfterFunc(r.retryDelay, func() {
				r.client.LPush(r.ctx, MainQueueName, updatedData)
				log.Printf("message %s re-queued, retry %d", msg.MessageID, retries+1)
			})
		}
	}

	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

func (r *RedisMQ) moveToDeadLetter(msgData string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// RetryDeadLetters moves every dead-letter message back onto the main queue
// with a reset retry count.
func (r *RedisMQ) RetryDeadLetters() error {
	messages, err := r.client.LRange(r.ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	count := 0
	for _, msgData := range messages {
		if err := r.client.LPush(r.ctx, MainQueueName, msgData).Err(); err != nil {
			log.Printf("failed to re-queue message: %v", err)
			continue
		}

		r.client.LRem(r.ctx, DeadLetterQueueName, 1, msgData)

		var msg NotificationMessage
		if json.Unmarshal([]byte(msgData), &msg) == nil {
			r.client.HDel(r.ctx, RetriesHashName, msg.MessageID)
		}

		count++
	}

	log.Printf("moved %d messages from dead letter back to main queue", count)
	return nil
}

// GetQueueStats returns the length of each queue.
func (r *RedisMQ) GetQueueStats() map[string]int64 {
	stats := make(map[string]int64)

	mainLen, _ := r.client.LLen(r.ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(r.ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(r.ctx, DeadLetterQueueName).Result()

	stats["main_queue"] = mainLen
	stats["processing_queue"] = procLen
	stats["dead_letter_queue"] = deadLen

	return stats
}

// ClearAllQueues empties every queue. Test helper.
func (r *RedisMQ) ClearAllQueues() error {
	err := r.client.Del(r.ctx, MainQueueName, ProcessingQueueName, DeadLetterQueueName, RetriesHashName, processedSetName).Err()
	if err != nil {
		return fmt.Errorf("failed to clear queues: %w", err)
	}
	return nil
}
