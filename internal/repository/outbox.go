package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrEventNotFound is returned when an outbox row does not exist.
	ErrEventNotFound = errors.New("outbox event not found")
	// ErrNotCancellable is returned when a cancel hits a row that is not
	// pending or failed. Terminal and in-flight rows stay untouched.
	ErrNotCancellable = errors.New("outbox event is not cancellable")
)

const outboxColumns = `
	id, event_id, event_type, aggregate_id, payload, metadata,
	status, attempts, max_attempts, last_attempt_at, published_at,
	error_message, created_at, updated_at
`

// OutboxRepository defines persistence methods for the outbox_events table.
//
// Insert is the only write available to business transactions; every other
// mutation belongs to the relay (claim/mark) or to operators (cancel) or to
// the janitor (delete). Callers must never touch status/attempts directly.
type OutboxRepository interface {
	// Insert writes a pending event row. If tx is nil, it opens/commits an
	// internal transaction; otherwise it uses the given tx so the event
	// commits atomically with the caller's entity mutation.
	Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error

	// ClaimBatch atomically claims up to limit rows eligible for delivery:
	// pending/failed rows below the attempt ceiling, plus processing rows
	// whose lease expired before staleBefore. Lease-expired rows are
	// reclaimed regardless of attempts, so a worker that crashed mid-final-
	// attempt still drives the row to a terminal state. Claimed rows are
	// marked processing with attempts+1 and a fresh last_attempt_at. Rows
	// locked by a concurrent worker are skipped.
	ClaimBatch(ctx context.Context, limit int, staleBefore time.Time) ([]model.OutboxEvent, error)

	// MarkPublished records successful delivery. The update is guarded by
	// status='processing' so a terminal row is never reverted.
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error

	// MarkFailed records a delivery failure: dead_letter when attempts have
	// reached max_attempts, failed (re-claimable) otherwise.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Cancel administratively terminates a pending or failed row.
	Cancel(ctx context.Context, id string) error

	GetByID(ctx context.Context, id string) (*model.OutboxEvent, error)
	ListByStatus(ctx context.Context, status model.EventStatus, limit, offset int) ([]model.OutboxEvent, error)

	// DeleteExpired removes up to limit terminal rows of the given status
	// older than cutoff and reports how many were deleted.
	DeleteExpired(ctx context.Context, status model.EventStatus, cutoff time.Time, limit int) (int64, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox_events
		    (id, event_id, event_type, aggregate_id, payload, metadata,
		     status, attempts, max_attempts, created_at, updated_at)
		VALUES
		    (?,  ?,        ?,          ?,            ?,       ?,
		     'pending', 0, ?, NOW(6), NOW(6))
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ev.ID, ev.EventID, ev.EventType, ev.AggregateID,
			ev.Payload, ev.Metadata, ev.MaxAttempts,
		)
		return err
	})
}

// ClaimBatch locks eligible rows with SKIP LOCKED so concurrent relay workers
// partition the backlog without waiting on each other, then flips them to
// processing in the same transaction. Oldest rows first to bound staleness.
func (r *OutboxRepositoryImpl) ClaimBatch(ctx context.Context, limit int, staleBefore time.Time) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	// The attempt ceiling gates only pending/failed rows. A processing row
	// past its lease is reclaimed even at the ceiling: the worker crashed
	// mid-attempt, and the next MarkFailed quarantines it to dead_letter.
	const selectQ = `
		SELECT ` + outboxColumns + `
		  FROM outbox_events
		 WHERE ((status IN ('pending', 'failed') AND attempts < max_attempts)
		        OR (status = 'processing' AND last_attempt_at < ?))
		 ORDER BY created_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`

	var claimed []model.OutboxEvent

	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var rows []model.OutboxEvent
		if err := tx.SelectContext(ctx, &rows, selectQ, staleBefore, limit); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}

		const base = `
			UPDATE outbox_events
			   SET status = 'processing',
			       attempts = attempts + 1,
			       last_attempt_at = NOW(6),
			       updated_at = NOW(6)
			 WHERE id IN (?)
		`
		query, args, err := sqlx.In(base, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}

		now := time.Now()
		for i := range rows {
			rows[i].Status = model.StatusProcessing
			rows[i].Attempts++
			rows[i].LastAttemptAt = &now
		}
		claimed = rows

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	const q = `
		UPDATE outbox_events
		   SET status = 'published', published_at = ?, error_message = '', updated_at = NOW(6)
		 WHERE id = ? AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, q, publishedAt, id)
	if err != nil {
		return err
	}
	return ensureOneRow(res)
}

// MarkFailed decides failed-vs-dead_letter in one conditional UPDATE so the
// attempt counter read and the status write cannot race another worker.
// Attempts were already incremented at claim time.
func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id string, errMsg string) error {
	const q = `
		UPDATE outbox_events
		   SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'failed' END,
		       error_message = ?,
		       updated_at = NOW(6)
		 WHERE id = ? AND status = 'processing'
	`
	res, err := r.db.ExecContext(ctx, q, truncateError(errMsg), id)
	if err != nil {
		return err
	}
	return ensureOneRow(res)
}

func (r *OutboxRepositoryImpl) Cancel(ctx context.Context, id string) error {
	const q = `
		UPDATE outbox_events
		   SET status = 'cancelled', updated_at = NOW(6)
		 WHERE id = ? AND status IN ('pending', 'failed')
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a non-cancellable one.
		ev, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !ev.Status.CanTransitionTo(model.StatusCancelled) {
			return fmt.Errorf("%w: status %s", ErrNotCancellable, ev.Status)
		}
		// raced with a concurrent transition between UPDATE and re-read
		return ErrNotCancellable
	}
	return nil
}

func (r *OutboxRepositoryImpl) GetByID(ctx context.Context, id string) (*model.OutboxEvent, error) {
	var ev model.OutboxEvent
	err := r.db.GetContext(ctx, &ev, `
		SELECT `+outboxColumns+`
		  FROM outbox_events
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *OutboxRepositoryImpl) ListByStatus(ctx context.Context, status model.EventStatus, limit, offset int) ([]model.OutboxEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []model.OutboxEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+outboxColumns+`
		  FROM outbox_events
		 WHERE status = ?
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?
	`, status.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) DeleteExpired(ctx context.Context, status model.EventStatus, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	if !status.Terminal() {
		// pending/processing/failed rows are never the janitor's business
		return 0, nil
	}

	var cutoffCol string
	switch status {
	case model.StatusPublished:
		cutoffCol = "published_at"
	case model.StatusDeadLetter:
		cutoffCol = "updated_at"
	default:
		// cancelled rows carry no retention policy
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		 WHERE status = ? AND `+cutoffCol+` < ?
		 LIMIT ?
	`, status.String(), cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ensureOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

const maxStoredErrorLen = 1024

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}
