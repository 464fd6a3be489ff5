// Package entitystore provides generic read/modify/write access to versioned
// entities. Every entity row carries a monotonic version counter; updates are
// conditional on the caller's expected version, so concurrent writers surface
// a conflict instead of silently overwriting each other.
package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eventbox/eventbox/internal/model"
)

// ErrConcurrencyConflict is returned when the stored version no longer
// matches the caller's expected version. It is never retried internally:
// only the caller knows whether re-reading and re-applying is safe.
var ErrConcurrencyConflict = errors.New("entity version conflict")

// ErrEntityNotFound is returned when no row exists for the id/kind pair.
var ErrEntityNotFound = errors.New("entity not found")

// Querier is the subset of sqlx operations the store needs. Both *sqlx.DB
// and *sqlx.Tx satisfy it; callers that pair an update with an outbox write
// must pass the shared transaction.
type Querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is a generic versioned-entity store for one entity kind. T is the
// domain type serialized into the row's JSON data column; the same bump
// discipline applies to every kind instead of per-table copies.
type Store[T any] struct {
	kind string
}

func New[T any](kind string) *Store[T] {
	return &Store[T]{kind: kind}
}

func (s *Store[T]) Kind() string { return s.kind }

// Get reads the entity and its current version.
func (s *Store[T]) Get(ctx context.Context, q Querier, id string) (T, int64, error) {
	var zero T

	var row model.Entity
	err := q.GetContext(ctx, &row, `
		SELECT id, kind, data, version, created_at, updated_at
		  FROM entities
		 WHERE id = ? AND kind = ? LIMIT 1
	`, id, s.kind)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrEntityNotFound
	}
	if err != nil {
		return zero, 0, err
	}

	var value T
	if err := json.Unmarshal(row.Data, &value); err != nil {
		return zero, 0, fmt.Errorf("decode %s %s: %w", s.kind, id, err)
	}
	return value, row.Version, nil
}

// Create inserts the entity at version 1.
func (s *Store[T]) Create(ctx context.Context, q Querier, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", s.kind, id, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entities (id, kind, data, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, NOW(6), NOW(6))
	`, id, s.kind, data)
	return err
}

// Update applies mutate to the stored entity and writes the result back
// conditionally on the stored version still equaling expectedVersion. On
// success the new version is expectedVersion+1 and updated_at is refreshed;
// on a mismatch it fails with ErrConcurrencyConflict and writes nothing.
func (s *Store[T]) Update(
	ctx context.Context,
	q Querier,
	id string,
	expectedVersion int64,
	mutate func(T) (T, error),
) (T, int64, error) {
	var zero T

	current, version, err := s.Get(ctx, q, id)
	if err != nil {
		return zero, 0, err
	}
	if version != expectedVersion {
		return zero, 0, fmt.Errorf("%s %s: expected v%d, stored v%d: %w",
			s.kind, id, expectedVersion, version, ErrConcurrencyConflict)
	}

	next, err := mutate(current)
	if err != nil {
		return zero, 0, err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return zero, 0, fmt.Errorf("encode %s %s: %w", s.kind, id, err)
	}

	// The version guard in the WHERE clause is the actual lock: the early
	// check above only short-circuits, this is what prevents lost updates.
	res, err := q.ExecContext(ctx, `
		UPDATE entities
		   SET data = ?, version = version + 1, updated_at = NOW(6)
		 WHERE id = ? AND kind = ? AND version = ?
	`, data, id, s.kind, expectedVersion)
	if err != nil {
		return zero, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return zero, 0, err
	}
	if n == 0 {
		return zero, 0, fmt.Errorf("%s %s: expected v%d: %w",
			s.kind, id, expectedVersion, ErrConcurrencyConflict)
	}

	return next, expectedVersion + 1, nil
}

// Touch bumps version and updated_at without changing the body. Used by
// callers that need to invalidate concurrent writers after a side effect.
func (s *Store[T]) Touch(ctx context.Context, q Querier, id string, expectedVersion int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE entities
		   SET version = version + 1, updated_at = NOW(6)
		 WHERE id = ? AND kind = ? AND version = ?
	`, id, s.kind, expectedVersion)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%s %s: expected v%d: %w", s.kind, id, expectedVersion, ErrConcurrencyConflict)
	}
	return expectedVersion + 1, nil
}

// Raw is the store specialization used when callers pass opaque JSON bodies
// straight through, e.g. the admin API.
type Raw = Store[json.RawMessage]

// NewRaw returns a store over unparsed JSON documents.
func NewRaw(kind string) *Raw {
	return New[json.RawMessage](kind)
}
