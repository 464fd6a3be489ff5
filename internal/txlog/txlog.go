// Package txlog records step-level diagnostics for multi-step business
// operations. It is a pure sidecar: no correctness depends on it, but
// debugging a partially failed saga without it is miserable.
package txlog

import (
	"context"
	"encoding/json"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/util"
	"github.com/jmoiron/sqlx"
)

// Logger is bound to one logical transaction (saga) id. Entries are
// append-only; a nil *Logger is safe to call and drops everything, so
// orchestrators can pass it around unconditionally.
type Logger struct {
	repo          repository.TransactionLogRepository
	transactionID string
}

func NewLogger(repo repository.TransactionLogRepository, transactionID string) *Logger {
	return &Logger{repo: repo, transactionID: transactionID}
}

func (l *Logger) TransactionID() string {
	if l == nil {
		return ""
	}
	return l.transactionID
}

func (l *Logger) Debug(ctx context.Context, tx *sqlx.Tx, step, msg string, data any) error {
	return l.append(ctx, tx, model.LogLevelDebug, step, msg, data, nil)
}

func (l *Logger) Info(ctx context.Context, tx *sqlx.Tx, step, msg string, data any) error {
	return l.append(ctx, tx, model.LogLevelInfo, step, msg, data, nil)
}

func (l *Logger) Warn(ctx context.Context, tx *sqlx.Tx, step, msg string, data any) error {
	return l.append(ctx, tx, model.LogLevelWarn, step, msg, data, nil)
}

func (l *Logger) Error(ctx context.Context, tx *sqlx.Tx, step, msg string, data any, cause error) error {
	return l.append(ctx, tx, model.LogLevelError, step, msg, data, cause)
}

func (l *Logger) append(ctx context.Context, tx *sqlx.Tx, level model.LogLevel, step, msg string, data any, cause error) error {
	if l == nil || l.repo == nil {
		return nil
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			// Diagnostics must not fail the business operation; record the
			// encoding problem instead of the payload.
			raw = json.RawMessage(`{"encode_error":true}`)
		} else {
			raw = b
		}
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	return l.repo.Append(ctx, tx, model.TransactionLogEntry{
		ID:            util.New(),
		TransactionID: l.transactionID,
		StepID:        step,
		Level:         level,
		Message:       msg,
		Data:          raw,
		Error:         errMsg,
	})
}
