// Package sink defines the EventSink capability the relay publishes into.
// The subsystem is agnostic to what the sink actually is: a broker, a
// webhook, a log stream. It only needs a clear success/failure signal;
// downstream handling must be idempotent, keyed by the event's logical id.
package sink

import (
	"context"

	"github.com/eventbox/eventbox/internal/model"
)

type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}
