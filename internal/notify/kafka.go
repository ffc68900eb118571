package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Producer is the subset of pkg/kafka.Producer the publisher needs.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// BillingEvent is the envelope published to the billing events topic.
type BillingEvent struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	Source         string         `json:"source"`
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Severity       string         `json:"severity"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// KafkaPublisher emits every notification as a billing event keyed by organization.
type KafkaPublisher struct {
	producer Producer
	topic    string
	source   string
	now      func() time.Time
}

func NewKafkaPublisher(producer Producer, topic, source string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, source: source, now: time.Now}
}

func (p *KafkaPublisher) Send(ctx context.Context, n Notification) error {
	event := BillingEvent{
		EventID:        uuid.New().String(),
		EventType:      n.Type,
		Source:         p.source,
		OrganizationID: n.OrganizationID,
		Title:          n.Title,
		Message:        n.Message,
		Severity:       n.Severity,
		Metadata:       n.Metadata,
		OccurredAt:     p.now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode billing event: %w", err)
	}

	headers := map[string]string{
		"event_type": n.Type,
		"source":     p.source,
	}
	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(n.OrganizationID), value, headers); err != nil {
		return fmt.Errorf("failed to publish billing event: %w", err)
	}
	return nil
}
