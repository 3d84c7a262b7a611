// Package events hands domain events to downstream specialists (lab, pharmacy,
// radiology worklists) over RabbitMQ. Publishing never blocks a request.
package events

import (
	"time"

	"github.com/google/uuid"
)

const TypeOrderPlaced = "order.placed"

type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func NewEvent(eventType string, payload interface{}) Event {
	return Event{ID: uuid.New(), Type: eventType, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Publisher accepts events without blocking. Publish reports false when the
// event was dropped.
type Publisher interface {
	Publish(e Event) bool
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) bool { return true }
