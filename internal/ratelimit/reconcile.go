package ratelimit

import (
	"context"
	"database/sql"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Reconciler periodically trues up the Redis concurrent counter against the
// actual count of non-terminal deployment rows, so a crashed worker that
// never ran its Release can't wedge a company's admission permanently.
type Reconciler struct {
	limiter *Limiter
	db      *sql.DB
	log     zerolog.Logger
	cron    *cron.Cron
}

func NewReconciler(limiter *Limiter, db *sql.DB, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		limiter: limiter,
		db:      db,
		log:     log,
		cron:    cron.New(),
	}
}

// Start schedules the reconciliation sweep on the given cron expression
// (e.g. "*/5 * * * *" for every five minutes) and returns immediately.
func (r *Reconciler) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, r.ReconcileOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

var nonTerminalStatuses = []string{"pending", "deploying"}

// ReconcileOnce runs a single sweep immediately; exported so cmd/deploy-core's
// "reconcile" subcommand can drive it from an external cron instead of the
// in-process scheduler.
func (r *Reconciler) ReconcileOnce() {
	ctx := context.Background()

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.company_id, COUNT(*)
		FROM deployments d
		JOIN projects p ON p.id = d.project_id
		WHERE d.status = ANY($1)
		GROUP BY p.company_id
	`, nonTerminalStatuses)
	if err != nil {
		r.log.Error().Err(err).Msg("reconcile: querying non-terminal deployments")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var companyID string
		var count int
		if err := rows.Scan(&companyID, &count); err != nil {
			r.log.Error().Err(err).Msg("reconcile: scanning row")
			continue
		}
		if err := r.limiter.SetConcurrent(ctx, companyID, count); err != nil {
			r.log.Error().Err(err).Str("company_id", companyID).Msg("reconcile: setting concurrent counter")
			continue
		}
	}
	if err := rows.Err(); err != nil {
		r.log.Error().Err(err).Msg("reconcile: iterating rows")
	}
}
