package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
	"github.com/shopkit/checkout/internal/observability"
)

// Publisher mirrors order lifecycle events to a Kafka topic so downstream
// consumers (notifications, analytics) see the same stream the in-process
// workers do. Events keyed by order id stay ordered per partition.
type Publisher struct {
	writer *kafka.Writer
	log    observability.Logger
}

type envelope struct {
	Event      string    `json:"event"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewPublisher(brokers []string, topic string, logger observability.Logger) *Publisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{
		writer: writer,
		log:    logger.With(observability.F("component", "kafka_publisher")),
	}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}

	data, err := json.Marshal(envelope{
		Event:      e.EventName(),
		Payload:    e,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal %s: %w", e.EventName(), err)
	}

	key := e.EventName()
	if keyed, ok := e.(domoutbox.Keyed); ok {
		key = keyed.PartitionKey()
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	}); err != nil {
		p.log.Warn("kafka_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
		return fmt.Errorf("kafka publisher: write %s: %w", e.EventName(), err)
	}

	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
