package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces alerts keyed by patient id so one patient's alerts stay
// on one partition.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter builds a synchronous writer that waits for the leader ack.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		topic = "glucose-alerts"
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}, nil
}

func NewKafkaSink(w MessageWriter) *KafkaSink { return &KafkaSink{w: w} }

func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("kafka: marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(a.PatientID),
		Value: value,
		Time:  a.RaisedAt,
		Headers: []kafka.Header{
			{Key: "direction", Value: []byte(a.Direction)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write alert: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
