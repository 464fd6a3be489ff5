package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eventbox/eventbox/internal/config"
	"github.com/eventbox/eventbox/internal/db"
	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo API clients and entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo API clients...")

		if err := seedAPIClients(sqlDB); err != nil {
			return err
		}
		if err := seedEntities(sqlDB); err != nil {
			return err
		}
		if err := seedTransactionLog(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedAPIClients inserts deterministic demo clients (idempotent).
func seedAPIClients(dbx *sqlx.DB) error {
	clients := []model.APIClient{
		{
			Name:         "Orders Service",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Billing Service",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Staging Smoke Tests",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			Name:         "Suspended Tenant",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO api_clients
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, c := range clients {
		if _, err := tx.Exec(q, c.Name, c.APIKey, c.Status, c.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert api client %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit api clients: %w", err)
	}
	return nil
}

// seedEntities creates a couple of demo aggregates so the admin API has
// something to version-bump against. Existing rows are left untouched.
func seedEntities(dbx *sqlx.DB) error {
	rows := []struct {
		ID   string
		Kind string
		Data string
	}{
		{"01HZDEMO0000000000000ORDER", "order", `{"customer":"acme","total_cents":12900,"currency":"EUR"}`},
		{"01HZDEMO00000000000INVOICE", "invoice", `{"order_id":"01HZDEMO0000000000000ORDER","status":"draft"}`},
	}

	const q = `
INSERT IGNORE INTO entities (id, kind, data, version, created_at, updated_at)
VALUES (?, ?, ?, 1, NOW(6), NOW(6))
`
	for _, r := range rows {
		if _, err := dbx.Exec(q, r.ID, r.Kind, r.Data); err != nil {
			return fmt.Errorf("insert entity %s/%s: %w", r.Kind, r.ID, err)
		}
	}
	return nil
}

// seedTransactionLog writes one diagnostic entry through the same repository
// path the services use, so a schema drift on transaction_log fails the seed
// instead of being silently dropped at runtime.
func seedTransactionLog(dbx *sqlx.DB) error {
	repo := repository.NewTransactionLogRepository(dbx)
	entry := model.TransactionLogEntry{
		ID:            util.New(),
		TransactionID: util.New(),
		StepID:        "seed",
		Level:         model.LogLevelInfo,
		Message:       "seed data loaded",
		Data:          []byte(`{"source":"seed"}`),
	}
	if err := repo.Append(context.Background(), nil, entry); err != nil {
		return fmt.Errorf("seed transaction log: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
