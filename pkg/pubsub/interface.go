package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is an envelope published on the cluster bus.
type Event struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`    // user the event is addressed to
	Origin    string          `json:"origin"` // publishing node
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps an already-encoded payload.
func NewEvent(eventType, key, origin string, payload []byte) *Event {
	return &Event{
		Type:      eventType,
		Key:       key,
		Origin:    origin,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber receives every event whose channel matches a pattern.
type Subscriber interface {
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
