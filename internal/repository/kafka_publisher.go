package repository

import (
	"context"
	"fmt"

	"TradeDesk/internal/domain/models"
	domrepo "TradeDesk/internal/domain/repository"
	pkgkafka "TradeDesk/pkg/kafka"
)

// EventTypeFinalized is carried in the event_type header.
const EventTypeFinalized = "analysis.finalized"

// KafkaEventPublisher publishes lifecycle events keyed by analysis id, so every
// event of one job lands on the same partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(p *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p, topic: topic}
}

func (k *KafkaEventPublisher) PublishFinalized(ctx context.Context, ev models.FinalizedEvent) error {
	err := k.producer.PublishBatch(ctx, k.topic, []pkgkafka.Message{{
		Key:   []byte(ev.AnalysisID),
		Value: ev,
		Headers: map[string]string{
			"event_type": EventTypeFinalized,
			"trace_id":   ev.EventID,
		},
	}})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.AnalysisID, err)
	}
	return nil
}

func (k *KafkaEventPublisher) Close() error {
	return k.producer.Close()
}

// NopEventPublisher is used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishFinalized(context.Context, models.FinalizedEvent) error { return nil }
func (NopEventPublisher) Close() error                                                 { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = NopEventPublisher{}
)
