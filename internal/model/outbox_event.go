package model

import (
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of an outbox row.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusPublished  EventStatus = "published"
	StatusFailed     EventStatus = "failed"
	StatusDeadLetter EventStatus = "dead_letter"
	StatusCancelled  EventStatus = "cancelled"
)

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPublished, StatusFailed, StatusDeadLetter, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status can never be left.
func (s EventStatus) Terminal() bool {
	return s == StatusPublished || s == StatusDeadLetter || s == StatusCancelled
}

// CanTransitionTo enforces the outbox state machine. Terminal states have no
// outgoing edges; cancellation is only reachable from pending or failed.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusFailed:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		// processing -> processing covers lease-expired reclaim by another worker.
		return next == StatusProcessing || next == StatusPublished ||
			next == StatusFailed || next == StatusDeadLetter
	default:
		return false
	}
}

// OutboxEvent is the DB entity persisted in the outbox_events table.
//
// ID identifies the row; EventID is the logical domain-event identity that
// consumers deduplicate on. The two stay distinct so retries of the same
// logical event keep a stable idempotency key.
type OutboxEvent struct {
	ID            string          `db:"id"`
	EventID       string          `db:"event_id"`
	EventType     string          `db:"event_type"`
	AggregateID   string          `db:"aggregate_id"`
	Payload       json.RawMessage `db:"payload"`
	Metadata      json.RawMessage `db:"metadata"`
	Status        EventStatus     `db:"status"`
	Attempts      int             `db:"attempts"`
	MaxAttempts   int             `db:"max_attempts"`
	LastAttemptAt *time.Time      `db:"last_attempt_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	ErrorMessage  string          `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// SinkEvent builds the envelope handed to the EventSink.
func (e *OutboxEvent) SinkEvent() Event {
	return Event{
		ID:          e.EventID,
		EventType:   e.EventType,
		AggregateID: e.AggregateID,
		Payload:     e.Payload,
		Metadata:    e.Metadata,
	}
}
