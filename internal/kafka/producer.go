package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
	RequiredAcks int           // default -1 (all)
}

// Producer is a thin EventSink wrapper around segmentio/kafka-go Writer.
// Messages are keyed by aggregate_id so events for one aggregate land on a
// single partition and keep their relative order downstream.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c Config) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}

	acks := kafka.RequiredAcks(c.RequiredAcks)
	if c.RequiredAcks == 0 {
		acks = kafka.RequireAll
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		RequiredAcks: acks,
	}

	return &Producer{w: w}
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Publish(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	})
}

func (p *Producer) Close() error { return p.w.Close() }
