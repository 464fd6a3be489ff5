// Package janitor deletes terminal outbox rows once they age past their
// retention windows. Storage hygiene only: pending, processing, and failed
// rows are never its business.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/model"
	"go.uber.org/zap"
)

// Store is the slice of outbox persistence the janitor needs.
type Store interface {
	DeleteExpired(ctx context.Context, status model.EventStatus, cutoff time.Time, limit int) (int64, error)
}

type Config struct {
	Interval            time.Duration
	PublishedRetention  time.Duration // short window, days
	DeadLetterRetention time.Duration // long window, weeks
	BatchSize           int
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.PublishedRetention <= 0 {
		c.PublishedRetention = 72 * time.Hour
	}
	if c.DeadLetterRetention <= 0 {
		c.DeadLetterRetention = 14 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
}

type Janitor struct {
	store Store
	log   *zap.Logger
	cfg   Config
}

func New(store Store, log *zap.Logger, cfg Config) *Janitor {
	cfg.normalize()
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{store: store, log: log, cfg: cfg}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.log.Info("janitor started",
		zap.Duration("interval", j.cfg.Interval),
		zap.Duration("published_retention", j.cfg.PublishedRetention),
		zap.Duration("dead_letter_retention", j.cfg.DeadLetterRetention),
	)

	for {
		if n, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.log.Error("sweep failed", zap.Error(err))
		} else if n > 0 {
			j.log.Info("sweep completed", zap.Int64("deleted", n))
		}

		select {
		case <-ctx.Done():
			j.log.Info("janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired published and dead-letter rows in bounded batches
// and returns the total number of rows removed.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	now := time.Now()

	published, err := j.sweepStatus(ctx, model.StatusPublished, now.Add(-j.cfg.PublishedRetention))
	if err != nil {
		return published, fmt.Errorf("sweep published: %w", err)
	}

	dead, err := j.sweepStatus(ctx, model.StatusDeadLetter, now.Add(-j.cfg.DeadLetterRetention))
	if err != nil {
		return published + dead, fmt.Errorf("sweep dead_letter: %w", err)
	}

	return published + dead, nil
}

// sweepStatus loops bounded DELETEs so one sweep never holds a huge lock.
func (j *Janitor) sweepStatus(ctx context.Context, status model.EventStatus, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		n, err := j.store.DeleteExpired(ctx, status, cutoff, j.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		metrics.JanitorDeleted.WithLabelValues(status.String()).Add(float64(n))

		if n < int64(j.cfg.BatchSize) {
			return total, nil
		}
	}
}
