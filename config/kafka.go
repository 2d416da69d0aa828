package config

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter builds the stock notification writer. Messages are keyed by product id.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
}
