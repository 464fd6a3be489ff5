package repository

import (
	"context"
	"strings"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// TransactionLogRepository persists append-only saga diagnostics.
// Rows are never updated or deleted here; archival is a separate concern.
type TransactionLogRepository interface {
	Append(ctx context.Context, tx *sqlx.Tx, entry model.TransactionLogEntry) error
	AppendBatch(ctx context.Context, tx *sqlx.Tx, entries []model.TransactionLogEntry) error
	ListByTransaction(ctx context.Context, transactionID string, limit, offset int) ([]model.TransactionLogEntry, error)
}

type txLogRepo struct {
	db *sqlx.DB
}

func NewTransactionLogRepository(db *sqlx.DB) TransactionLogRepository {
	return &txLogRepo{db: db}
}

func (r *txLogRepo) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *txLogRepo) Append(ctx context.Context, tx *sqlx.Tx, entry model.TransactionLogEntry) error {
	return r.AppendBatch(ctx, tx, []model.TransactionLogEntry{entry})
}

func (r *txLogRepo) AppendBatch(ctx context.Context, tx *sqlx.Tx, entries []model.TransactionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(entries)*7)

	sb.WriteString(`INSERT INTO transaction_log (id, transaction_id, step_id, level, message, data, error, ts) VALUES `)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, NOW(6))")
		args = append(args, e.ID, e.TransactionID, e.StepID, e.Level.String(), e.Message, e.Data, e.Error)
	}

	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	})
}

func (r *txLogRepo) ListByTransaction(ctx context.Context, transactionID string, limit, offset int) ([]model.TransactionLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows []model.TransactionLogEntry
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, step_id, level, message, data, error, ts
		  FROM transaction_log
		 WHERE transaction_id = ?
		 ORDER BY ts ASC
		 LIMIT ? OFFSET ?
	`, transactionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
