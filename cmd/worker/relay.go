package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eventbox/eventbox/internal/config"
	"github.com/eventbox/eventbox/internal/db"
	"github.com/eventbox/eventbox/internal/kafka"
	"github.com/eventbox/eventbox/internal/logger"
	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/relay"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox relay (claims committed events, publishes to the sink)",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		log := logger.L()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		// 2) DB connection (MySQL)
		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		// 3) outbox repository
		outboxRepo := repository.NewOutboxRepository(dbx)

		// 4) sink
		eventSink, err := buildSink(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = eventSink.Close() }()

		r := relay.New(outboxRepo, eventSink, log, relay.Config{
			BatchSize:      cfg.Relay.BatchSize,
			Interval:       cfg.Relay.Interval,
			LeaseTimeout:   cfg.Relay.LeaseTimeout,
			PublishTimeout: cfg.Relay.PublishTimeout,
		})

		// 5) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("relay worker starting", zap.String("sink", eventSink.Name()))

		return r.Run(ctx)
	},
}

// buildSink constructs the EventSink selected by sink.kind.
func buildSink(cfg config.Config) (sink.EventSink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink.Kind)) {
	case "", "kafka":
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("sink.kafka.brokers is empty")
		}
		return kafka.NewProducerFromConfig(kafka.Config{
			Brokers:      cfg.Sink.Kafka.Brokers,
			Topic:        cfg.Sink.Kafka.Topic,
			BatchTimeout: cfg.Sink.Kafka.BatchTimeout,
			RequiredAcks: cfg.Sink.Kafka.RequiredAcks,
		}), nil
	case "webhook":
		if strings.TrimSpace(cfg.Sink.Webhook.URL) == "" {
			return nil, fmt.Errorf("sink.webhook.url is empty")
		}
		return sink.NewWebhookSink(
			strings.TrimRight(cfg.Sink.Webhook.URL, "/"),
			cfg.Sink.Webhook.TimeoutMs,
			cfg.Sink.Webhook.Breaker.FailThreshold,
			cfg.Sink.Webhook.Breaker.OpenForMs,
		), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}
