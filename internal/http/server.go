package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/eventbox/eventbox/internal/config"
	"github.com/eventbox/eventbox/internal/http/middleware"
	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/outbox"
	"github.com/eventbox/eventbox/internal/repository"
	"github.com/eventbox/eventbox/internal/service/entities"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	clientsRepo := repository.NewAPIClientsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	txlogRepo := repository.NewTransactionLogRepository(mysqlDB)

	// repos (ClickHouse)
	chTxLogRepo := repository.NewCHTransactionLogRepository(clickhouseDB)

	// services
	writer := outbox.NewWriter(outboxRepo, outbox.WithMaxAttempts(cfg.Relay.MaxAttempts))
	entitiesSvc := entities.New(mysqlDB, writer, txlogRepo)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(clientsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/entities/:kind", createEntityHandler(entitiesSvc))
	v1.GET("/entities/:kind/:id", getEntityHandler(entitiesSvc))
	v1.PUT("/entities/:kind/:id", updateEntityHandler(entitiesSvc))
	v1.GET("/outbox/dead-letters", listDeadLettersHandler(outboxRepo))
	v1.POST("/outbox/:id/cancel", cancelEventHandler(outboxRepo))
	v1.GET("/transactions/:id/log", transactionLogHandler(chTxLogRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
