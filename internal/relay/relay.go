// Package relay moves committed outbox events into the configured EventSink.
//
// Delivery is at-least-once: an event is published before its row is marked
// published, and a crash between the two leaves a processing row that the
// lease-timeout reclaim makes eligible again. Consumers must deduplicate on
// the event's logical id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/sink"
	"go.uber.org/zap"
)

// ErrDelivery wraps transient sink failures recorded on the event row.
var ErrDelivery = errors.New("event delivery failed")

// Store is the slice of outbox persistence the relay owns. All status
// transitions after enqueue go through these three calls.
type Store interface {
	ClaimBatch(ctx context.Context, limit int, staleBefore time.Time) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type Config struct {
	BatchSize      int           // rows claimed per pass
	Interval       time.Duration // polling cadence
	LeaseTimeout   time.Duration // processing rows older than this are reclaimable
	PublishTimeout time.Duration // per-event sink deadline
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Result captures one relay pass outcome.
type Result struct {
	Processed         int
	Published         int
	Failed            int
	DeadLettered      int
	StateUpdateFailed int
}

type Relay struct {
	store Store
	sink  sink.EventSink
	log   *zap.Logger
	cfg   Config
}

func New(store Store, s sink.EventSink, log *zap.Logger, cfg Config) *Relay {
	cfg.normalize()
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{store: store, sink: s, log: log, cfg: cfg}
}

// Run polls on the configured interval until ctx is cancelled. An empty pass
// simply waits for the next tick; errors are logged, never fatal.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("relay started",
		zap.String("sink", r.sink.Name()),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("lease_timeout", r.cfg.LeaseTimeout),
	)

	for {
		if _, err := r.RunBatch(ctx, r.cfg.BatchSize); err != nil && ctx.Err() == nil {
			r.log.Error("relay pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunBatch claims up to batchSize eligible rows and attempts delivery for
// each, recording the outcome per row. Returns the number of rows processed.
func (r *Relay) RunBatch(ctx context.Context, batchSize int) (int, error) {
	res, err := r.runBatch(ctx, batchSize)
	return res.Processed, err
}

func (r *Relay) runBatch(ctx context.Context, batchSize int) (Result, error) {
	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}

	staleBefore := time.Now().Add(-r.cfg.LeaseTimeout)

	claimed, err := r.store.ClaimBatch(ctx, batchSize, staleBefore)
	if err != nil {
		return Result{}, fmt.Errorf("claim batch: %w", err)
	}

	metrics.ClaimedBatch.Observe(float64(len(claimed)))

	var res Result
	for i := range claimed {
		if ctx.Err() != nil {
			break
		}
		r.deliverOne(ctx, &claimed[i], &res)
	}

	return res, nil
}

func (r *Relay) deliverOne(ctx context.Context, ev *model.OutboxEvent, res *Result) {
	res.Processed++

	pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	err := r.sink.Publish(pubCtx, ev.SinkEvent())
	cancel()

	if err == nil {
		if err := r.store.MarkPublished(ctx, ev.ID, time.Now()); err != nil {
			// Published to the sink but state not persisted: the row will be
			// retried after its lease expires. Idempotent consumers absorb
			// the duplicate.
			r.log.Error("published but failed to persist state; event may be redelivered",
				zap.String("id", ev.ID),
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
			metrics.EventsTotal.WithLabelValues("state_update_failed").Inc()
			res.StateUpdateFailed++
			return
		}

		metrics.EventsTotal.WithLabelValues("published").Inc()
		res.Published++
		return
	}

	deliveryErr := fmt.Errorf("%w: %s", ErrDelivery, err)
	exhausted := ev.Attempts >= ev.MaxAttempts

	if markErr := r.store.MarkFailed(ctx, ev.ID, deliveryErr.Error()); markErr != nil {
		r.log.Error("failed to record delivery failure",
			zap.String("id", ev.ID),
			zap.Error(markErr),
		)
		metrics.EventsTotal.WithLabelValues("state_update_failed").Inc()
		res.StateUpdateFailed++
		return
	}

	if exhausted {
		r.log.Warn("event dead-lettered",
			zap.String("id", ev.ID),
			zap.String("event_id", ev.EventID),
			zap.String("event_type", ev.EventType),
			zap.Int("attempts", ev.Attempts),
			zap.Error(err),
		)
		metrics.EventsTotal.WithLabelValues("dead_letter").Inc()
		res.DeadLettered++
		return
	}

	r.log.Warn("event delivery failed, will retry",
		zap.String("id", ev.ID),
		zap.Int("attempts", ev.Attempts),
		zap.Int("max_attempts", ev.MaxAttempts),
		zap.Error(err),
	)
	metrics.EventsTotal.WithLabelValues("failed").Inc()
	res.Failed++
}
