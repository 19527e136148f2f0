package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire schema published to Kafka.
type Envelope struct {
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType"`
	EventVersion string          `json:"eventVersion"`
	OccurredAt   time.Time       `json:"occurredAt"`
	AggregateID  string          `json:"aggregateId"`
	Data         json.RawMessage `json:"data"`
}

// KafkaNotifier publishes every event to one topic, keyed by order id so
// events for an order stay on one partition.
type KafkaNotifier struct {
	Writer  MessageWriter
	Timeout time.Duration
}

// NewKafkaWriter returns a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Notify publishes ev as a versioned envelope keyed by its aggregate id. A
// notifier without a writer drops events.
func (k KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	if k.Writer == nil {
		return nil
	}
	value, err := json.Marshal(Envelope{
		EventID:      ev.ID.String(),
		EventType:    ev.Topic,
		EventVersion: "v1",
		OccurredAt:   ev.OccurredAt,
		AggregateID:  ev.AggregateID,
		Data:         ev.Payload,
	})
	if err != nil {
		return err
	}
	timeout := k.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return k.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Topic)},
		},
	})
}
