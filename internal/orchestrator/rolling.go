package orchestrator

import (
	"fmt"

	"context"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/sandbox"
	"github.com/obtura/deploy-core/internal/strategystate"
)

const rollingBatchSize = 2

// rollingUpdate replaces the running replica set one batch at a time:
// create a batch of new containers, wait for them healthy, route traffic to
// them, remove the old containers that batch replaces, then move to the
// next batch. Unlike blue/green there is never a moment with zero replicas
// of the new image once the first batch passes health checks, but there is
// also never a full parallel replica set to fall back to if a later batch
// fails — only the batches already cut over keep running.
func (o *Orchestrator) rollingUpdate(ctx context.Context, job Job, profile sandbox.Profile) error {
	replicas := job.ReplicaCount
	if replicas < 1 {
		replicas = 1
	}

	old, err := o.activeContainersForEnvironment(ctx, job.ProjectID, job.Environment, job.DeploymentID)
	if err != nil {
		return err
	}
	if len(old) == 0 {
		o.log.Info().Str("deployment_id", job.DeploymentID).Msg("no active containers for environment, falling back to blue/green")
		return o.blueGreenDeploy(ctx, job, profile)
	}

	totalBatches := (replicas + rollingBatchSize - 1) / rollingBatchSize
	if err := o.state.Update(ctx, job.DeploymentID, map[strategystate.MetaField]interface{}{
		strategystate.TotalBatches: totalBatches,
		strategystate.BatchSize:    rollingBatchSize,
	}); err != nil {
		return err
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.HealthChecking); err != nil {
		return err
	}

	host := routableHost(job)
	deployed := 0
	for batch := 0; deployed < replicas; batch++ {
		size := rollingBatchSize
		if replicas-deployed < size {
			size = replicas - deployed
		}

		cleanup := &cleanupList{}
		var created []*ContainerRecord
		for i := 0; i < size; i++ {
			c, err := o.deployOneContainer(ctx, job, profile, "rolling", deployed+i, false)
			if err != nil {
				o.runCleanup(ctx, cleanup)
				return err
			}
			cleanup.add(c)
			created = append(created, c)
		}

		if err := o.state.Update(ctx, job.DeploymentID, map[strategystate.MetaField]interface{}{
			strategystate.CurrentBatch: batch + 1,
		}); err != nil {
			o.runCleanup(ctx, cleanup)
			return err
		}

		for _, c := range created {
			if !o.rt.WaitHealthy(ctx, c.ID, batchHealthCheckWindow, healthCheckInterval) {
				o.runCleanup(ctx, cleanup)
				return errs.New(errs.Health, fmt.Errorf("batch %d container %s unhealthy", batch+1, c.Name))
			}
			o.updateContainerHealth(ctx, job.DeploymentID, c, string(runtime.HealthHealthy), "running")
			if err := o.router.Program(router.Route{ContainerName: c.Name, Host: host, TargetHost: c.Name, Port: c.Port}); err != nil {
				o.runCleanup(ctx, cleanup)
				return fmt.Errorf("programming router for %s: %w", c.Name, err)
			}
		}

		if err := o.markContainersActive(ctx, created); err != nil {
			o.runCleanup(ctx, cleanup)
			return err
		}

		if len(old) > 0 {
			n := size
			if n > len(old) {
				n = len(old)
			}
			for _, c := range old[:n] {
				o.removeContainer(ctx, c)
			}
			old = old[n:]
		}

		deployed += size
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.SwitchingTraffic); err != nil {
		return err
	}
	if err := o.transition(ctx, job.DeploymentID, strategystate.DrainingOld); err != nil {
		return err
	}

	for _, c := range old {
		o.removeContainer(ctx, c)
	}

	if err := o.deactivateOldDeployments(ctx, job.ProjectID, job.Environment, job.DeploymentID); err != nil {
		o.log.Warn().Err(err).Msg("deactivating old deployments after rolling update")
	}

	return o.transition(ctx, job.DeploymentID, strategystate.Monitoring)
}

func (o *Orchestrator) markContainersActive(ctx context.Context, containers []*ContainerRecord) error {
	for _, c := range containers {
		if _, err := o.db.ExecContext(ctx, `
			UPDATE deployment_containers SET is_active = true, updated_at = NOW() WHERE container_id = $1
		`, c.ID); err != nil {
			return fmt.Errorf("marking container %s active: %w", c.Name, err)
		}
	}
	return nil
}
