package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes events as JSON messages keyed by event name.
// Writes are asynchronous; delivery failures are logged, not returned.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink writes to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	k := &KafkaSink{logger: logger}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        true,
		Completion:   k.completed,
	}
	return k
}

func (k *KafkaSink) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, string(m.Key))
	}
	k.logger.Error("failed to deliver events to kafka",
		zap.String("topic", k.writer.Topic),
		zap.Strings("events", names),
		zap.Error(err))
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, evs []Envelope) error {
	msgs, err := encodeMessages(evs)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write events to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func encodeMessages(evs []Envelope) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Name),
			Value: b,
			Headers: []kafka.Header{
				{Key: "block", Value: []byte(strconv.FormatUint(ev.Block, 10))},
			},
		})
	}
	return msgs, nil
}
