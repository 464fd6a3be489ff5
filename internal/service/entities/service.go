package entities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eventbox/eventbox/internal/entitystore"
	"github.com/eventbox/eventbox/internal/logger"
	"github.com/eventbox/eventbox/internal/outbox"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/txlog"
	"github.com/eventbox/eventbox/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Service is the unit-of-work layer: every entity mutation and the outbox
// event documenting it commit in one transaction, so no caller ever observes
// a write without its event or an event without its write.
type Service struct {
	db     *sqlx.DB
	writer *outbox.Writer
	txlogs repository.TransactionLogRepository
}

// New constructs the entities service.
func New(db *sqlx.DB, writer *outbox.Writer, txlogs repository.TransactionLogRepository) *Service {
	return &Service{db: db, writer: writer, txlogs: txlogs}
}

// UpdateResult reports the outcome of a successful create or update.
type UpdateResult struct {
	Entity        json.RawMessage
	Version       int64
	EventID       string
	TransactionID string
}

// Create inserts an entity at version 1 and enqueues its creation event
// atomically. Returns the generated transaction id for log correlation.
func (s *Service) Create(
	ctx context.Context,
	kind, id string,
	data json.RawMessage,
	eventType string,
	metadata json.RawMessage,
) (*UpdateResult, error) {
	store := entitystore.NewRaw(kind)
	log := txlog.NewLogger(s.txlogs, util.New())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := store.Create(ctx, tx, id, data); err != nil {
		return nil, fmt.Errorf("create %s %s: %w", kind, id, err)
	}

	ev, err := s.writer.Enqueue(ctx, tx, eventType, id, data, metadata)
	if err != nil {
		return nil, fmt.Errorf("enqueue event: %w", err)
	}

	if err := log.Info(ctx, tx, "create", "entity created", map[string]any{
		"kind": kind, "id": id, "event_id": ev.EventID,
	}); err != nil {
		// diagnostics only; the business write must still commit
		logger.L().Warn("transaction log append failed", zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &UpdateResult{
		Entity:        data,
		Version:       1,
		EventID:       ev.EventID,
		TransactionID: log.TransactionID(),
	}, nil
}

// Get reads the entity body and its current version.
func (s *Service) Get(ctx context.Context, kind, id string) (json.RawMessage, int64, error) {
	store := entitystore.NewRaw(kind)
	return store.Get(ctx, s.db, id)
}

// Update replaces the entity body conditionally on expectedVersion and
// enqueues the corresponding event in the same transaction. A version
// mismatch surfaces as entitystore.ErrConcurrencyConflict; retrying is the
// caller's call, never ours.
func (s *Service) Update(
	ctx context.Context,
	kind, id string,
	expectedVersion int64,
	data json.RawMessage,
	eventType string,
	metadata json.RawMessage,
) (*UpdateResult, error) {
	store := entitystore.NewRaw(kind)
	log := txlog.NewLogger(s.txlogs, util.New())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	next, newVersion, err := store.Update(ctx, tx, id, expectedVersion,
		func(json.RawMessage) (json.RawMessage, error) { return data, nil })
	if err != nil {
		return nil, err
	}

	ev, err := s.writer.Enqueue(ctx, tx, eventType, id, next, metadata)
	if err != nil {
		return nil, fmt.Errorf("enqueue event: %w", err)
	}

	if err := log.Info(ctx, tx, "update", "entity updated", map[string]any{
		"kind": kind, "id": id, "version": newVersion, "event_id": ev.EventID,
	}); err != nil {
		logger.L().Warn("transaction log append failed", zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &UpdateResult{
		Entity:        next,
		Version:       newVersion,
		EventID:       ev.EventID,
		TransactionID: log.TransactionID(),
	}, nil
}

// Mutate is the typed variant used by in-process callers: the mutator runs
// against the decoded entity inside the transaction.
func Mutate[T any](
	ctx context.Context,
	s *Service,
	store *entitystore.Store[T],
	id string,
	expectedVersion int64,
	eventType string,
	metadata json.RawMessage,
	mutate func(T) (T, error),
) (T, int64, error) {
	var zero T

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return zero, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	next, newVersion, err := store.Update(ctx, tx, id, expectedVersion, mutate)
	if err != nil {
		return zero, 0, err
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return zero, 0, err
	}

	if _, err := s.writer.Enqueue(ctx, tx, eventType, id, payload, metadata); err != nil {
		return zero, 0, fmt.Errorf("enqueue event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return zero, 0, err
	}

	return next, newVersion, nil
}
