package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type deleteCall struct {
	status model.EventStatus
	cutoff time.Time
	limit  int
}

// fakeStore returns the scripted row counts per status, one per call.
type fakeStore struct {
	calls   []deleteCall
	results map[model.EventStatus][]int64
	err     error
}

func (s *fakeStore) DeleteExpired(_ context.Context, status model.EventStatus, cutoff time.Time, limit int) (int64, error) {
	s.calls = append(s.calls, deleteCall{status: status, cutoff: cutoff, limit: limit})
	if s.err != nil {
		return 0, s.err
	}
	rs := s.results[status]
	if len(rs) == 0 {
		return 0, nil
	}
	n := rs[0]
	s.results[status] = rs[1:]
	return n, nil
}

func TestJanitor_SweepUsesPerStatusWindows(t *testing.T) {
	t.Parallel()

	store := &fakeStore{results: map[model.EventStatus][]int64{}}
	j := New(store, zap.NewNop(), Config{
		PublishedRetention:  72 * time.Hour,
		DeadLetterRetention: 14 * 24 * time.Hour,
		BatchSize:           500,
	})

	before := time.Now()
	total, err := j.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, total)

	require.Len(t, store.calls, 2)
	require.Equal(t, model.StatusPublished, store.calls[0].status)
	require.Equal(t, model.StatusDeadLetter, store.calls[1].status)
	require.Equal(t, 500, store.calls[0].limit)

	// published cutoff sits ~72h back, dead-letter cutoff ~14d back
	require.WithinDuration(t, before.Add(-72*time.Hour), store.calls[0].cutoff, time.Minute)
	require.WithinDuration(t, before.Add(-14*24*time.Hour), store.calls[1].cutoff, time.Minute)
	require.True(t, store.calls[1].cutoff.Before(store.calls[0].cutoff),
		"dead-letter rows are retained longer than published rows")
}

func TestJanitor_SweepLoopsFullBatches(t *testing.T) {
	t.Parallel()

	// published needs three rounds (full, full, partial); dead_letter one
	store := &fakeStore{results: map[model.EventStatus][]int64{
		model.StatusPublished:  {100, 100, 7},
		model.StatusDeadLetter: {3},
	}}
	j := New(store, zap.NewNop(), Config{BatchSize: 100})

	total, err := j.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(210), total)

	var published, dead int
	for _, c := range store.calls {
		switch c.status {
		case model.StatusPublished:
			published++
		case model.StatusDeadLetter:
			dead++
		default:
			t.Fatalf("janitor touched non-terminal status %q", c.status)
		}
	}
	require.Equal(t, 3, published)
	require.Equal(t, 1, dead)
}

func TestJanitor_SweepPropagatesError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("table lock"), results: map[model.EventStatus][]int64{}}
	j := New(store, zap.NewNop(), Config{})

	_, err := j.Sweep(context.Background())
	require.ErrorContains(t, err, "sweep published")
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &fakeStore{results: map[model.EventStatus][]int64{}}
	j := New(store, zap.NewNop(), Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop on context cancellation")
	}

	require.NotEmpty(t, store.calls, "first sweep runs immediately")
}
