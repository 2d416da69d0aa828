package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/segmentio/kafka-go"
)

// NotificationPublisher delivers one stock alert and returns a transport message id.
type NotificationPublisher interface {
	Publish(ctx context.Context, msg config.StockNotificationMessage) (string, error)
}

// PubSubPublisher publishes to a Google Pub/Sub topic.
type PubSubPublisher struct {
	Topic string
}

func (p PubSubPublisher) Publish(ctx context.Context, msg config.StockNotificationMessage) (string, error) {
	return config.PublishStockNotification(ctx, p.Topic, msg)
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes alerts keyed by product id, so one product's alerts stay ordered.
type KafkaPublisher struct {
	Writer kafkaMessageWriter
}

func (p KafkaPublisher) Publish(ctx context.Context, msg config.StockNotificationMessage) (string, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	km := kafka.Message{
		Key:   []byte(strconv.Itoa(msg.ProductId)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "correlation_id", Value: []byte(msg.CorrelationId)},
		},
	}
	if err := p.Writer.WriteMessages(ctx, km); err != nil {
		return "", err
	}
	return fmt.Sprintf("kafka:%d", msg.ID), nil
}

// NewNotificationPublisher picks the transport from settings. A nil publisher means alerts stay in the outbox.
func NewNotificationPublisher(settings config.Settings) (NotificationPublisher, func() error) {
	noop := func() error { return nil }
	switch settings.NotificationTransport {
	case config.NotificationTransportPubSub:
		return PubSubPublisher{Topic: settings.NotificationTopic}, noop
	case config.NotificationTransportKafka:
		w := config.NewKafkaWriter(settings.KafkaBrokers, settings.NotificationTopic)
		return KafkaPublisher{Writer: w}, w.Close
	}
	return nil, noop
}
