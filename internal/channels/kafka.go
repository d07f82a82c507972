package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/miradorstack/latencyguard/internal/dispatch"
)

type kafkaWriteMessage interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka writes the digest as one JSON message, keyed by the digest title.
type Kafka struct {
	name   string
	writer kafkaWriteMessage
}

// NewKafka constructs a producer for topic.
func NewKafka(name string, brokers []string, topic string, timeout time.Duration) *Kafka {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kafka{
		name: name,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			WriteTimeout: timeout,
			ReadTimeout:  timeout,
		},
	}
}

// Name implements dispatch.Channel.
func (k *Kafka) Name() string { return k.name }

// Deliver implements dispatch.Channel.
func (k *Kafka) Deliver(ctx context.Context, d dispatch.Digest) error {
	data, err := json.Marshal(newDigestPayload(d))
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(d.Title),
		Value: data,
		Time:  d.GeneratedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
