package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore hands out pre-loaded claim batches and records every state
// transition the relay asks for.
type fakeStore struct {
	mu      sync.Mutex
	batches [][]model.OutboxEvent

	claimErr     error
	publishedErr error
	failedErr    error

	published []string
	failed    map[string]string
}

func newFakeStore(batches ...[]model.OutboxEvent) *fakeStore {
	return &fakeStore{batches: batches, failed: map[string]string{}}
}

func (s *fakeStore) ClaimBatch(_ context.Context, _ int, _ time.Time) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishedErr != nil {
		return s.publishedErr
	}
	s.published = append(s.published, id)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedErr != nil {
		return s.failedErr
	}
	s.failed[id] = errMsg
	return nil
}

// fakeSink delegates to fn so each test scripts its own delivery behavior.
type fakeSink struct {
	mu    sync.Mutex
	seen  []model.Event
	fn    func(ctx context.Context, ev model.Event) error
	calls int
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Publish(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	s.seen = append(s.seen, ev)
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, ev)
}

func (s *fakeSink) Close() error { return nil }

func event(id string, attempts, maxAttempts int) model.OutboxEvent {
	return model.OutboxEvent{
		ID:          id,
		EventID:     "evt-" + id,
		EventType:   "order.created",
		AggregateID: "order-1",
		Payload:     []byte(`{}`),
		Metadata:    []byte(`{}`),
		Status:      model.StatusProcessing,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func TestRelay_PublishSuccessMarksPublished(t *testing.T) {
	t.Parallel()

	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5), event("b", 1, 5)})
	snk := &fakeSink{}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"a", "b"}, store.published)
	require.Empty(t, store.failed)

	// the sink must receive the logical event id, never the row id
	require.Equal(t, "evt-a", snk.seen[0].ID)
}

func TestRelay_DeliveryFailureMarksFailed(t *testing.T) {
	t.Parallel()

	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5)})
	snk := &fakeSink{fn: func(context.Context, model.Event) error {
		return errors.New("broker unavailable")
	}}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, store.published)
	require.Contains(t, store.failed["a"], "event delivery failed")
	require.Contains(t, store.failed["a"], "broker unavailable")
}

func TestRelay_ExhaustedAttemptsStillRecorded(t *testing.T) {
	t.Parallel()

	// an event claimed on its final attempt: the failure is recorded the same
	// way, and the store decides dead_letter vs failed from the counters
	store := newFakeStore([]model.OutboxEvent{event("a", 3, 3)})
	snk := &fakeSink{fn: func(context.Context, model.Event) error {
		return errors.New("still down")
	}}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, store.failed, "a")
}

func TestRelay_ThreeFailuresWithMaxAttemptsThree(t *testing.T) {
	t.Parallel()

	// same event re-claimed across three passes, attempts bumped each claim
	store := newFakeStore(
		[]model.OutboxEvent{event("a", 1, 3)},
		[]model.OutboxEvent{event("a", 2, 3)},
		[]model.OutboxEvent{event("a", 3, 3)},
	)
	snk := &fakeSink{fn: func(context.Context, model.Event) error {
		return errors.New("no route to host")
	}}
	r := New(store, snk, zap.NewNop(), Config{})

	for i := 0; i < 3; i++ {
		n, err := r.RunBatch(context.Background(), 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	require.Equal(t, 3, snk.calls, "every attempt must reach the sink exactly once")
	require.Empty(t, store.published)

	// a fourth pass claims nothing
	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelay_ReclaimedFinalAttemptStillTerminates(t *testing.T) {
	t.Parallel()

	// a worker crashed after claiming the final attempt: the row comes back
	// via lease reclaim with attempts already past max. It must still get one
	// delivery and then a recorded outcome, never staying processing forever.
	store := newFakeStore([]model.OutboxEvent{event("a", 4, 3)})
	snk := &fakeSink{fn: func(context.Context, model.Event) error {
		return errors.New("still unreachable")
	}}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, snk.calls)
	require.Contains(t, store.failed, "a", "outcome must be recorded so the store can quarantine the row")
	require.Empty(t, store.published)
}

func TestRelay_PublishTimeout(t *testing.T) {
	t.Parallel()

	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5)})
	snk := &fakeSink{fn: func(ctx context.Context, _ model.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	r := New(store, snk, zap.NewNop(), Config{PublishTimeout: 10 * time.Millisecond})

	start := time.Now()
	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Less(t, time.Since(start), 2*time.Second, "per-event deadline must bound a hung sink")
	require.Contains(t, store.failed["a"], "context deadline exceeded")
}

func TestRelay_MarkPublishedFailureDoesNotMarkFailed(t *testing.T) {
	t.Parallel()

	// event reached the sink; persisting the state failed. The row must be
	// left alone for lease reclaim rather than recorded as a delivery failure.
	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5)})
	store.publishedErr = errors.New("db gone")
	snk := &fakeSink{}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, store.failed)
}

func TestRelay_ClaimErrorPropagates(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.claimErr = errors.New("lock wait timeout")
	r := New(store, &fakeSink{}, zap.NewNop(), Config{})

	_, err := r.RunBatch(context.Background(), 10)
	require.ErrorContains(t, err, "claim batch")
}

func TestRelay_ContextCancelStopsBatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5), event("b", 1, 5), event("c", 1, 5)})
	snk := &fakeSink{fn: func(context.Context, model.Event) error {
		cancel() // cancel after the first delivery
		return nil
	}}
	r := New(store, snk, zap.NewNop(), Config{})

	n, err := r.RunBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n, "remaining events stay claimed for lease reclaim")
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := newFakeStore([]model.OutboxEvent{event("a", 1, 5)})
	r := New(store, &fakeSink{}, zap.NewNop(), Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}

	require.Equal(t, []string{"a"}, store.published, "first pass runs immediately, before the first tick")
}
