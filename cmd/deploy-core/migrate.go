package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/obtura/deploy-core/internal/config"
	"github.com/obtura/deploy-core/internal/obslog"
	"github.com/obtura/deploy-core/internal/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the deploy-core Postgres schema",
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

		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		log.Info().Msg("schema migrated")
		return nil
	},
}
