package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChannelPrefix namespaces every clinical sync channel.
const ChannelPrefix = "clinic-sync."

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope relayed for every outbox event.
type Message struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Channel returns the channel an event type is published on.
func Channel(eventType string) string {
	return ChannelPrefix + eventType
}
