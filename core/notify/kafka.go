package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a Kafka topic. Messages are keyed by entity and id,
// so all events of an instance go to the same partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink returns a sink publishing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Deliver implements Sink
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Entity + "/" + event.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "entity", Value: []byte(event.Entity)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot publish to kafka: %w", err)
	}
	return nil
}

// Close implements Sink
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
