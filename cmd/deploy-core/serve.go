package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obtura/deploy-core/internal/api"
	"github.com/obtura/deploy-core/internal/config"
	"github.com/obtura/deploy-core/internal/consumer"
	"github.com/obtura/deploy-core/internal/events"
	"github.com/obtura/deploy-core/internal/obslog"
	"github.com/obtura/deploy-core/internal/orchestrator"
	"github.com/obtura/deploy-core/internal/quota"
	"github.com/obtura/deploy-core/internal/ratelimit"
	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/sqlstore"
	"github.com/obtura/deploy-core/internal/storage"
	"github.com/obtura/deploy-core/internal/strategystate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment consumer and HTTP API",
	RunE:  runServe,
}

// runServe wires every component package together: Postgres, then the
// broker and rate limiter, then object storage, then the RabbitMQ consumer,
// then the HTTP server, with signal handling closing all of them in reverse.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := obslog.New(cfg.LogLevel, cfg.LogPretty)

	db, err := sqlstore.Open(cfg.Postgres.ConnString())
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("applying schema")
	}
	log.Info().Msg("connected to postgres")

	broker := events.NewBroker(db.DB, log)

	limiter, err := ratelimit.New(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to redis")
	}
	defer limiter.Close()
	log.Info().Msg("connected to redis")

	quotaStore := quota.NewSQLStore(db.DB)

	artifacts, err := storage.New(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to minio")
	}
	log.Info().Msg("connected to minio")

	rt, err := runtime.NewAdapter(log)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to container runtime")
	}

	rtr := router.New(cfg.RouterDir, log)
	state := strategystate.New(db.DB)

	orch := orchestrator.New(db.DB, quotaStore, limiter, rt, rtr, state, artifacts, broker, cfg, log)
	defer orch.Close()

	reconciler := ratelimit.NewReconciler(limiter, db.DB, log)
	if err := reconciler.Start("*/5 * * * *"); err != nil {
		log.Fatal().Err(err).Msg("starting rate-limit reconciler")
	}
	defer reconciler.Stop()

	cons, err := consumer.New(cfg.RabbitMQ.URL, db.DB, orch, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to rabbitmq")
	}
	defer cons.Close()

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	go func() {
		log.Info().Msg("starting deployment consumer")
		if err := cons.Run(consumerCtx); err != nil && consumerCtx.Err() == nil {
			log.Error().Err(err).Msg("deployment consumer stopped")
		}
	}()

	srv := api.New(db.DB, orch, broker, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv.Handler(),
	}
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	cancelConsumer()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
