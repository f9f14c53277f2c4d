package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// RocketMQ transport for notification fan-out, preferred over the Redis
// queue when ROCKETMQ_NAMESRV_ADDR is configured.

var (
	rocketProducer rocketmq.Producer
	rocketConsumer rocketmq.PushConsumer
	rocketInitOnce sync.Once
	rocketReady    bool

	// processed message IDs for consumer-side idempotency
	processedMessages      = make(map[string]bool)
	processedMessagesMutex sync.RWMutex
)

// TopicNotifications is the RocketMQ topic carrying notification messages.
const TopicNotifications = "survey_notifications"

// InitRocketMQ starts the producer against ROCKETMQ_NAMESRV_ADDR. It
// returns an error when the broker is unreachable so the adapter can fall
// back to the Redis queue.
func InitRocketMQ() error {
	var initErr error

	rocketInitOnce.Do(func() {
		nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
		if nameServerAddr == "" {
			initErr = fmt.Errorf("ROCKETMQ_NAMESRV_ADDR not set")
			return
		}

		log.Printf("initializing rocketmq connection, addr: %s", nameServerAddr)

		p, err := rocketmq.NewProducer(
			producer.WithNameServer([]string{nameServerAddr}),
			producer.WithGroupName("notify_producer"),
			producer.WithRetry(2),
			producer.WithSendMsgTimeout(10*time.Second),
			producer.WithVIPChannel(false),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create rocketmq producer: %w", err)
			return
		}

		if err := p.Start(); err != nil {
			initErr = fmt.Errorf("failed to start rocketmq producer: %w", err)
			return
		}

		rocketProducer = p
		rocketReady = true
		log.Println("rocketmq producer initialized")
	})

	return initErr
}

// IsRocketReady reports whether the producer is usable.
func IsRocketReady() bool {
	return rocketReady
}

func isMessageProcessed(messageID string) bool {
	processedMessagesMutex.RLock()
	defer processedMessagesMutex.RUnlock()
	return processedMessages[messageID]
}

func markMessageAsProcessed(messageID string) {
	processedMessagesMutex.Lock()
	defer processedMessagesMutex.Unlock()
	processedMessages[messageID] = true

	// bound the map; old IDs are useless after the retention window anyway
	if len(processedMessages) > 100000 {
		processedMessages = make(map[string]bool)
	}
}

// SendRocketNotification publishes one message to the notification topic.
func SendRocketNotification(msg NotificationMessage) error {
	if !rocketReady {
		return fmt.Errorf("rocketmq producer not initialized")
	}

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

	rocketMsg := primitive.NewMessage(TopicNotifications, jsonData)
	rocketMsg.WithKeys([]string{msg.MessageID})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := rocketProducer.SendSync(ctx, rocketMsg)
	if err != nil {
		return fmt.Errorf("failed to send rocketmq message: %w", err)
	}

	log.Printf("notification %d sent via rocketmq, msgId=%s", msg.NotificationID, result.MsgID)
	return nil
}

// StartRocketConsumer subscribes to the notification topic and hands each
// message to processFunc, skipping IDs seen before.
func StartRocketConsumer(processFunc func(msg NotificationMessage) error) error {
	nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
	if nameServerAddr == "" {
		return fmt.Errorf("ROCKETMQ_NAMESRV_ADDR not set")
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{nameServerAddr}),
		consumer.WithGroupName("notify_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
	)
	if err != nil {
		return fmt.Errorf("failed to create rocketmq consumer: %w", err)
	}

	err = c.Subscribe(TopicNotifications, consumer.MessageSelector{},
		func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, m := range msgs {
				var msg NotificationMessage
				if err := json.Unmarshal(m.Body, &msg); err != nil {
					log.Printf("failed to parse rocketmq message: %v", err)
					continue
				}

				if isMessageProcessed(msg.MessageID) {
					log.Printf("duplicate message %s, skipping", msg.MessageID)
					continue
				}

				if err := processFunc(msg); err != nil {
					log.Printf("failed to process notification %d: %v", msg.NotificationID, err)
					return consumer.ConsumeRetryLater, nil
				}

				markMessageAsProcessed(msg.MessageID)
			}
			return consumer.ConsumeSuccess, nil
		})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start rocketmq consumer: %w", err)
	}

	rocketConsumer = c
	log.Println("rocketmq notification consumer started")
	return nil
}

// CloseRocketMQ shuts down the producer and consumer.
func CloseRocketMQ() {
	if rocketConsumer != nil {
		if err := rocketConsumer.Shutdown(); err != nil {
			log.Printf("error shutting down rocketmq consumer: %v", err)
		}
	}
	if rocketProducer != nil {
		if err := rocketProducer.Shutdown(); err != nil {
			log.Printf("error shutting down rocketmq producer: %v", err)
		}
	}
	rocketReady = false
}
