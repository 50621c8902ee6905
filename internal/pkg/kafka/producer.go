package kafka

import (
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewProducer initializes a Kafka writer for game lifecycle events.
func NewProducer(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // Keyed by game ID, keeps a game's events ordered.
		// Lifecycle events are informational, a leader ack is enough.
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("Kafka async write failed", "messages", len(messages), "error", err)
			}
		},
	}
}
