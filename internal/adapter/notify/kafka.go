package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/reputation"
)

var _ reputation.Notifier = (*KafkaNotifier)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a topic for downstream paging.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier builds a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	var cleaned []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("kafka notifier requires at least one broker")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka notifier requires a topic")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cleaned...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// Notify publishes alert keyed by alert type.
func (n *KafkaNotifier) Notify(ctx context.Context, alert domain.SecurityAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.AlertType),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "subject", Value: []byte(Subject(alert))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish alert to %s: %w", n.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
