package repository

import (
	"context"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHTransactionLogRepository reads saga diagnostics from ClickHouse.
// The table is mirrored from MySQL by an external CDC pipeline; the report
// endpoint queries it instead of the write-side store.
type CHTransactionLogRepository interface {
	ListByTransaction(ctx context.Context, transactionID string, level model.LogLevel, limit, offset int) ([]model.TransactionLogEntry, error)
}

type chTxLogRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHTransactionLogRepository(ch *sqlx.DB) CHTransactionLogRepository {
	return &chTxLogRepository{ch: ch}
}

func (r *chTxLogRepository) ListByTransaction(ctx context.Context, transactionID string, level model.LogLevel, limit, offset int) ([]model.TransactionLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, transaction_id, step_id, level, message, data, error, ts
		FROM eventbox.transaction_log_latest
		WHERE transaction_id = ?
	`
	args := []any{transactionID}

	if level != "" {
		q += " AND level = ?"
		args = append(args, level.String())
	}

	q += " ORDER BY ts ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.TransactionLogEntry
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
