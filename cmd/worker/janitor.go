package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventbox/eventbox/internal/config"
	"github.com/eventbox/eventbox/internal/db"
	"github.com/eventbox/eventbox/internal/janitor"
	"github.com/eventbox/eventbox/internal/logger"
	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Run the retention janitor (deletes expired published / dead-letter rows)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		log := logger.L()

		metrics.MustRegister(prometheus.DefaultRegisterer)

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

		outboxRepo := repository.NewOutboxRepository(dbx)

		j := janitor.New(outboxRepo, log, janitor.Config{
			Interval:            cfg.Janitor.Interval,
			PublishedRetention:  cfg.Janitor.PublishedRetention,
			DeadLetterRetention: cfg.Janitor.DeadLetterRetention,
			BatchSize:           cfg.Janitor.BatchSize,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return j.Run(ctx)
	},
}
