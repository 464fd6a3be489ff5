package entitystore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/stretchr/testify/require"
)

type order struct {
	Customer string `json:"customer"`
	Total    int    `json:"total_cents"`
}

// fakeQuerier satisfies Querier without a database. GetContext serves the
// configured row; ExecContext records the call and reports execRows affected.
type fakeQuerier struct {
	row     *model.Entity
	getErr  error
	execErr error

	execRows int64
	queries  []string
	args     [][]any
}

func (f *fakeQuerier) GetContext(_ context.Context, dest any, _ string, _ ...any) error {
	if f.getErr != nil {
		return f.getErr
	}
	*(dest.(*model.Entity)) = *f.row
	return nil
}

func (f *fakeQuerier) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return driver.RowsAffected(f.execRows), nil
}

func entityRow(t *testing.T, kind, id string, v order, version int64) *model.Entity {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &model.Entity{
		ID:        id,
		Kind:      kind,
		Data:      data,
		Version:   version,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{row: entityRow(t, "order", "o-1", order{Customer: "acme", Total: 500}, 3)}

	got, version, err := s.Get(context.Background(), q, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
	require.Equal(t, order{Customer: "acme", Total: 500}, got)
}

func TestStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{getErr: sql.ErrNoRows}

	_, _, err := s.Get(context.Background(), q, "missing")
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestStore_Update_BumpsVersion(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{
		row:      entityRow(t, "order", "o-1", order{Customer: "acme", Total: 500}, 3),
		execRows: 1,
	}

	next, version, err := s.Update(context.Background(), q, "o-1", 3, func(o order) (order, error) {
		o.Total = 900
		return o, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), version, "new version must be exactly expected+1")
	require.Equal(t, 900, next.Total)

	require.Len(t, q.queries, 1)
	// the conditional WHERE must carry the caller's expected version
	require.Equal(t, int64(3), q.args[0][len(q.args[0])-1])
}

func TestStore_Update_VersionMismatchShortCircuits(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{row: entityRow(t, "order", "o-1", order{}, 5)}

	_, _, err := s.Update(context.Background(), q, "o-1", 3, func(o order) (order, error) {
		return o, nil
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.Empty(t, q.queries, "no UPDATE may be issued on an early mismatch")
}

func TestStore_Update_LostRaceSurfacesConflict(t *testing.T) {
	t.Parallel()

	// stored version matches the read, but a concurrent writer commits between
	// read and write: the guarded UPDATE affects zero rows
	s := New[order]("order")
	q := &fakeQuerier{
		row:      entityRow(t, "order", "o-1", order{}, 3),
		execRows: 0,
	}

	_, _, err := s.Update(context.Background(), q, "o-1", 3, func(o order) (order, error) {
		return o, nil
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestStore_Update_MutateErrorAborts(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{row: entityRow(t, "order", "o-1", order{}, 1), execRows: 1}

	boom := errors.New("domain rule violated")
	_, _, err := s.Update(context.Background(), q, "o-1", 1, func(o order) (order, error) {
		return o, boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, q.queries)
}

func TestStore_Create(t *testing.T) {
	t.Parallel()

	s := New[order]("order")
	q := &fakeQuerier{execRows: 1}

	err := s.Create(context.Background(), q, "o-9", order{Customer: "beta", Total: 100})
	require.NoError(t, err)
	require.Len(t, q.queries, 1)
	require.Equal(t, "o-9", q.args[0][0])
	require.Equal(t, "order", q.args[0][1])
}

func TestStore_Touch(t *testing.T) {
	t.Parallel()

	s := New[order]("order")

	q := &fakeQuerier{execRows: 1}
	version, err := s.Touch(context.Background(), q, "o-1", 7)
	require.NoError(t, err)
	require.Equal(t, int64(8), version)

	q = &fakeQuerier{execRows: 0}
	_, err = s.Touch(context.Background(), q, "o-1", 7)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestRawStore_PassesJSONThrough(t *testing.T) {
	t.Parallel()

	s := NewRaw("document")
	q := &fakeQuerier{
		row: &model.Entity{
			ID:      "d-1",
			Kind:    "document",
			Data:    json.RawMessage(`{"nested":{"a":1}}`),
			Version: 2,
		},
	}

	got, version, err := s.Get(context.Background(), q, "d-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
	require.JSONEq(t, `{"nested":{"a":1}}`, string(got))
}
