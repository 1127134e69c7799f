package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes security events to a Kafka topic, from which the
// worker forwards them to Loki and the alert webhook.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a Kafka sink for the given topic. Returns nil when
// brokers or topic are unset (event publishing disabled). Call Close on
// shutdown.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Write serializes the event as JSON and publishes it. The org ID keys the
// message so per-org ordering is preserved within a partition.
func (s *KafkaSink) Write(ctx context.Context, e *SecurityEvent) error {
	if s == nil || s.writer == nil || e == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrgID),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call multiple times and on nil.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
