package firehose

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/webpulse/webpulse/internal/config"
	"github.com/webpulse/webpulse/internal/engine"
)

// Producer publishes accepted tracking events to Kafka for downstream
// consumers. Messages are keyed by user id so one user's events stay
// ordered within a partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates an async producer for the configured topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			BatchSize:              100,
			BatchTimeout:           time.Millisecond * 100,
			Async:                  true,
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishEvent implements engine.Publisher.
func (p *Producer) PublishEvent(ctx context.Context, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
