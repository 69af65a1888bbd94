// Package events publishes resource-change notifications.
//
// Every successful create, update and delete emits one notification through
// the backend's Notifier. The Kafka notifier publishes them to a topic, the
// null notifier swallows them; custom notifiers plug in through the
// interface.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/docrest/core"
)

// Notification describes one change to a resource document. Payload carries
// the serialized wire representation of the document, it is empty for
// deletes.
type Notification struct {
	Resource   string          `json:"resource"`
	Operation  core.Operation  `json:"operation"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Notifier receives notifications for successful write operations.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NullNotifier swallows all notifications. It is the default when a backend
// is built without a notifier.
type NullNotifier struct{}

// Notify implements Notifier
func (NullNotifier) Notify(context.Context, Notification) error { return nil }

// KafkaNotifier publishes notifications to a Kafka topic. The message key is
// the resource name, so changes to one resource stay ordered within a
// partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Notify implements Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, notification Notification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notification.Resource),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
