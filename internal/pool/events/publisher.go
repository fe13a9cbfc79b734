// Package events provides event publishing for address lifecycle transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/logger"
)

// Publisher defines the interface for event publishers
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// EventPublisher fans a pool event out to every configured publisher. A
// single failing destination does not fail the operation; only total failure
// is reported (and callers log rather than propagate it).
type EventPublisher struct {
	topic      string
	publishers []Publisher
	log        logger.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(topic string, publishers []Publisher, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		topic:      topic,
		publishers: publishers,
		log:        log,
	}
}

// PublishPoolEvent publishes an address lifecycle event to all destinations.
func (p *EventPublisher) PublishPoolEvent(ctx context.Context, event *interfaces.PoolEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	var lastErr error
	successCount := 0

	for i, publisher := range p.publishers {
		if err := publisher.PublishEvent(ctx, p.topic, event); err != nil {
			p.log.Error("failed to publish pool event",
				zap.Int("publisher_index", i),
				zap.String("event_type", event.Type),
				zap.String("address_id", event.AddressID.String()),
				zap.Error(err),
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	p.log.Debug("published pool event",
		zap.String("event_type", event.Type),
		zap.String("address_id", event.AddressID.String()),
		zap.String("actor", string(event.Actor)),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(p.publishers)),
	)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaPublisher implements Publisher for Apache Kafka
type KafkaPublisher struct {
	brokers []string
	log     logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(brokers []string, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		log:     log,
		writers: make(map[string]*kafka.Writer),
	}
}

// writerFor lazily creates one writer per topic. Guarded so concurrent
// publishes share a single writer instead of racing the initialization.
func (k *KafkaPublisher) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	k.writers[topic] = w
	return w
}

// PublishEvent publishes an event to Kafka
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	writer := k.writerFor(topic)

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%d", topic, time.Now().UnixNano())),
		Value: eventData,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	return writer.WriteMessages(ctx, msg)
}

// RedisPublisher implements Publisher for Redis Streams
type RedisPublisher struct {
	client redis.Cmdable
	log    logger.Logger
}

// NewRedisPublisher creates a new Redis Streams publisher
func NewRedisPublisher(client redis.Cmdable, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    log,
	}
}

// PublishEvent publishes an event to a Redis Stream
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := fmt.Sprintf("stream.%s", topic)
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data":      string(eventData),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "addrpool",
		},
	}).Err()
}
