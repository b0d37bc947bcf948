// Package events publishes checkout events to Kafka
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// DefaultConfirmationTopic receives one message per confirmed payment
const DefaultConfirmationTopic = "checkout.payment-confirmed"

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConfirmationEvent is the message body for a confirmed payment
type ConfirmationEvent struct {
	Type        string               `json:"type"`
	OrderCode   string               `json:"order_code"`
	Reference   string               `json:"reference"`
	Method      models.PaymentMethod `json:"method"`
	ConfirmedAt time.Time            `json:"confirmed_at"`
}

// ConfirmationPublisher is a Navigator that publishes every confirmation,
// keyed by order code so retries for one order stay on one partition
type ConfirmationPublisher struct {
	writer messageWriter
	topic  string
	logger log.FieldLogger
}

// NewConfirmationPublisher creates a publisher writing to topic on brokers
func NewConfirmationPublisher(brokers []string, topic string, logger log.FieldLogger) *ConfirmationPublisher {
	if topic == "" {
		topic = DefaultConfirmationTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newConfirmationPublisher(writer, topic, logger)
}

func newConfirmationPublisher(writer messageWriter, topic string, logger log.FieldLogger) *ConfirmationPublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ConfirmationPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.WithFields(log.Fields{"component": "confirmation_publisher", "topic": topic}),
	}
}

// Navigate publishes the confirmation
func (p *ConfirmationPublisher) Navigate(ctx context.Context, confirmation models.Confirmation) error {
	data, err := json.Marshal(ConfirmationEvent{
		Type:        "payment.confirmed",
		OrderCode:   confirmation.OrderCode,
		Reference:   confirmation.Reference,
		Method:      confirmation.Method,
		ConfirmedAt: confirmation.ConfirmedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(confirmation.OrderCode),
		Value: data,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish confirmation for %s: %w", confirmation.OrderCode, err)
	}

	p.logger.WithField("order_code", confirmation.OrderCode).Debug("Confirmation published")
	return nil
}

// Close flushes and closes the underlying writer
func (p *ConfirmationPublisher) Close() error {
	return p.writer.Close()
}
