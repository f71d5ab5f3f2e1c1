package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload"`
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type KafkaEventBus struct {
	writer *kafka.Writer
}

func NewKafkaEventBus(config KafkaConfig) *KafkaEventBus {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      config.Brokers,
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	})

	return &KafkaEventBus{writer: writer}
}

func (b *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: data,
	})
}

func (b *KafkaEventBus) Close() error {
	return b.writer.Close()
}

// MemoryEventBus keeps published events in memory. It is the default bus
// when no Kafka brokers are configured and the one tests inspect.
type MemoryEventBus struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *MemoryEventBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *MemoryEventBus) Close() error {
	return nil
}

// EventBuilder provides a fluent way to construct events
type EventBuilder struct {
	event Event
}

func NewEventBuilder(eventType string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Payload:   make(map[string]interface{}),
		},
	}
}

func (b *EventBuilder) WithAggregateID(id string) *EventBuilder {
	b.event.AggregateID = id
	return b
}

func (b *EventBuilder) WithAggregateType(aggregateType string) *EventBuilder {
	b.event.AggregateType = aggregateType
	return b
}

func (b *EventBuilder) WithPayload(key string, value interface{}) *EventBuilder {
	b.event.Payload[key] = value
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
