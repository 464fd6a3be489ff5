package txlog

import (
	"context"
	"errors"
	"testing"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type fakeTxLogRepo struct {
	entries   []model.TransactionLogEntry
	appendErr error
}

func (f *fakeTxLogRepo) Append(_ context.Context, _ *sqlx.Tx, entry model.TransactionLogEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeTxLogRepo) AppendBatch(ctx context.Context, tx *sqlx.Tx, entries []model.TransactionLogEntry) error {
	for _, e := range entries {
		if err := f.Append(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTxLogRepo) ListByTransaction(context.Context, string, int, int) ([]model.TransactionLogEntry, error) {
	return f.entries, nil
}

func TestLogger_RecordsLevelsAndSteps(t *testing.T) {
	t.Parallel()

	repo := &fakeTxLogRepo{}
	l := NewLogger(repo, "txn-1")
	ctx := context.Background()

	require.NoError(t, l.Debug(ctx, nil, "reserve", "reserving stock", map[string]int{"qty": 3}))
	require.NoError(t, l.Info(ctx, nil, "charge", "charging card", nil))
	require.NoError(t, l.Warn(ctx, nil, "charge", "retrying charge", nil))
	require.NoError(t, l.Error(ctx, nil, "charge", "charge failed", nil, errors.New("card declined")))

	require.Len(t, repo.entries, 4)

	require.Equal(t, model.LogLevelDebug, repo.entries[0].Level)
	require.Equal(t, "reserve", repo.entries[0].StepID)
	require.JSONEq(t, `{"qty":3}`, string(repo.entries[0].Data))

	require.Equal(t, model.LogLevelInfo, repo.entries[1].Level)
	require.Empty(t, repo.entries[1].Data, "nil data stays empty, not encoded null")

	require.Equal(t, model.LogLevelError, repo.entries[3].Level)
	require.Equal(t, "card declined", repo.entries[3].Error)

	for _, e := range repo.entries {
		require.Equal(t, "txn-1", e.TransactionID)
		require.NotEmpty(t, e.ID)
	}
}

func TestLogger_NilSafe(t *testing.T) {
	t.Parallel()

	var l *Logger
	require.Empty(t, l.TransactionID())
	require.NoError(t, l.Info(context.Background(), nil, "step", "dropped", nil))

	l = NewLogger(nil, "txn-2")
	require.Equal(t, "txn-2", l.TransactionID())
	require.NoError(t, l.Info(context.Background(), nil, "step", "also dropped", nil))
}

func TestLogger_UnencodableDataDoesNotFail(t *testing.T) {
	t.Parallel()

	repo := &fakeTxLogRepo{}
	l := NewLogger(repo, "txn-3")

	// channels cannot be marshaled; the entry must still land
	err := l.Info(context.Background(), nil, "step", "bad payload", map[string]any{"ch": make(chan int)})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	require.JSONEq(t, `{"encode_error":true}`, string(repo.entries[0].Data))
}

func TestLogger_AppendErrorSurfaces(t *testing.T) {
	t.Parallel()

	repo := &fakeTxLogRepo{appendErr: errors.New("insert failed")}
	l := NewLogger(repo, "txn-4")

	err := l.Info(context.Background(), nil, "step", "msg", nil)
	require.ErrorContains(t, err, "insert failed")
}
