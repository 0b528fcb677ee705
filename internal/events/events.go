package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

// TypeStatusChanged is the event type emitted for every payment status transition.
const TypeStatusChanged = "payment.status_changed"

// StatusEvent is the JSON payload published when a payment changes status.
type StatusEvent struct {
	Type           string              `json:"type"`
	PaymentID      model.PaymentID     `json:"payment_id"`
	From           model.PaymentStatus `json:"from"`
	To             model.PaymentStatus `json:"to"`
	AmountReceived model.Amount        `json:"amount_received"`
	Confirmations  uint64              `json:"confirmations"`
	OccurredAt     string              `json:"occurred_at"`
}

// FromChange builds the event for a status change.
func FromChange(c model.StatusChange, at time.Time) StatusEvent {
	return StatusEvent{
		Type:           TypeStatusChanged,
		PaymentID:      c.ID,
		From:           c.From,
		To:             c.To,
		AmountReceived: c.AmountReceived,
		Confirmations:  c.Confirmations,
		OccurredAt:     at.UTC().Format(time.RFC3339),
	}
}

// Publisher delivers status events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, StatusEvent) error { return nil }
func (Nop) Close() error                               { return nil }

// KafkaPublisher writes events to a Kafka topic keyed by payment id, so every event for one
// payment lands on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaProducer dials brokers with a producer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps an existing producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.PaymentID.String()),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.PaymentID, err)
	}

	p.logger.Debug("status_event_published",
		zap.String("payment_id", ev.PaymentID.String()),
		zap.String("to", string(ev.To)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
