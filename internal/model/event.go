package model

import "encoding/json"

// Event is the envelope handed to an EventSink. ID carries the logical
// event identity (OutboxEvent.EventID); downstream consumers deduplicate
// on it, which is what makes at-least-once delivery safe.
type Event struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}
