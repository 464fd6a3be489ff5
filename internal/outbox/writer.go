// Package outbox provides the write side of the transactional outbox: event
// rows appended in the same transaction as the entity mutation they document.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/util"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultMaxAttempts is the delivery ceiling applied when the caller
	// does not override it; past this the relay quarantines the event.
	DefaultMaxAttempts = 5

	maxPayloadBytes = 1 << 20
)

var (
	ErrEventTypeRequired   = errors.New("event type is required")
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	ErrPayloadRequired     = errors.New("payload is required")
	ErrPayloadTooLarge     = errors.New("payload exceeds maximum allowed size")
	ErrPayloadNotJSON      = errors.New("payload must be valid JSON")
)

// Writer enqueues pending outbox events. It must be handed the caller's
// transaction: the whole point is that the event row and the entity's new
// version commit together or not at all.
type Writer struct {
	repo        repository.OutboxRepository
	maxAttempts int
}

type WriterOption func(*Writer)

// WithMaxAttempts overrides the default delivery ceiling for new events.
func WithMaxAttempts(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

func NewWriter(repo repository.OutboxRepository, opts ...WriterOption) *Writer {
	w := &Writer{repo: repo, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue validates and appends a pending event inside tx. The returned
// event carries the generated row id and logical event id.
func (w *Writer) Enqueue(
	ctx context.Context,
	tx *sqlx.Tx,
	eventType, aggregateID string,
	payload, metadata json.RawMessage,
) (*model.OutboxEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, ErrAggregateIDRequired
	}
	if len(payload) == 0 {
		return nil, ErrPayloadRequired
	}
	if len(payload) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if !json.Valid(payload) {
		return nil, ErrPayloadNotJSON
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return nil, fmt.Errorf("metadata: %w", ErrPayloadNotJSON)
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	ev := &model.OutboxEvent{
		ID:          util.New(),
		EventID:     util.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Metadata:    metadata,
		Status:      model.StatusPending,
		MaxAttempts: w.maxAttempts,
	}

	if err := w.repo.Insert(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	return ev, nil
}
