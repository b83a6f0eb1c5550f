package main

import (
	"github.com/spf13/cobra"

	"github.com/obtura/deploy-core/internal/config"
	"github.com/obtura/deploy-core/internal/obslog"
	"github.com/obtura/deploy-core/internal/ratelimit"
	"github.com/obtura/deploy-core/internal/sqlstore"
)

// reconcileCmd runs the rate-limiter reconciliation sweep once and exits,
// for operators who'd rather drive it from an external cron than from the
// in-process scheduler serve starts automatically.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one rate-limit reconciliation sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := obslog.New(cfg.LogLevel, cfg.LogPretty)

		db, err := sqlstore.Open(cfg.Postgres.ConnString())
		if err != nil {
			return err
		}
		defer db.Close()

		limiter, err := ratelimit.New(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer limiter.Close()

		reconciler := ratelimit.NewReconciler(limiter, db.DB, log)
		reconciler.ReconcileOnce()
		log.Info().Msg("reconciliation sweep complete")
		return nil
	},
}
