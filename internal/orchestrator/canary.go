package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/sandbox"
	"github.com/obtura/deploy-core/internal/strategystate"
)

// canaryDeploy starts a single canary replica alongside the existing
// stable group, programs a router rule for it on the same host as the
// stable group, records the configured traffic percentage in strategy
// state, waits out the monitoring window, then promotes (full cutover,
// stable group removed) or rolls back (canary removed, stable group
// untouched) depending on analyzeCanaryMetrics's verdict. The percentage
// is not applied by the router: no weighted split between canary and
// stable is configured.
func (o *Orchestrator) canaryDeploy(ctx context.Context, job Job, profile sandbox.Profile) error {
	stable, err := o.activeContainersForEnvironment(ctx, job.ProjectID, job.Environment, job.DeploymentID)
	if err != nil {
		return err
	}

	cleanup := &cleanupList{}
	canary, err := o.deployOneContainer(ctx, job, profile, "canary", 0, false)
	if err != nil {
		return err
	}
	cleanup.add(canary)

	if err := o.transition(ctx, job.DeploymentID, strategystate.HealthChecking); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}
	if !o.rt.WaitHealthy(ctx, canary.ID, blueGreenHealthCheckWindow, healthCheckInterval) {
		o.runCleanup(ctx, cleanup)
		return errs.New(errs.Health, fmt.Errorf("canary container %s did not become healthy", canary.Name))
	}
	o.updateContainerHealth(ctx, job.DeploymentID, canary, string(runtime.HealthHealthy), "running")

	percentage := defaultCanaryPercentage
	if v, ok := job.Config["canary_traffic_percentage"].(float64); ok && v > 0 {
		percentage = int(v)
	}
	if err := o.state.Update(ctx, job.DeploymentID, map[strategystate.MetaField]interface{}{
		strategystate.CanaryTrafficPercentage: percentage,
		strategystate.CanaryDurationMinutes:   int(o.cfg.Canary.MonitoringWindow.Minutes()),
	}); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.SwitchingTraffic); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}
	host := routableHost(job)
	if err := o.router.Program(router.Route{ContainerName: canary.Name, Host: host, TargetHost: canary.Name, Port: canary.Port}); err != nil {
		o.runCleanup(ctx, cleanup)
		return fmt.Errorf("routing canary traffic for %s: %w", canary.Name, err)
	}
	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET is_active = true, updated_at = NOW() WHERE container_id = $1
	`, canary.ID); err != nil {
		o.runCleanup(ctx, cleanup)
		return fmt.Errorf("activating canary %s: %w", canary.Name, err)
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.Monitoring); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	select {
	case <-ctx.Done():
		o.runCleanup(ctx, cleanup)
		return ctx.Err()
	case <-time.After(o.cfg.Canary.MonitoringWindow):
	}

	result, err := o.analyzeCanaryMetrics(ctx, job.DeploymentID, canary)
	if err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	if !result.Passed {
		o.log.Warn().Str("deployment_id", job.DeploymentID).Str("decision", result.Decision).Msg("canary analysis failed, rolling back canary")
		o.runCleanup(ctx, cleanup)
		return errs.New(errs.Health, fmt.Errorf("canary analysis failed: %s", result.Decision))
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.DrainingOld); err != nil {
		return err
	}
	for _, c := range stable {
		o.removeContainer(ctx, c)
	}
	if err := o.deactivateOldDeployments(ctx, job.ProjectID, job.Environment, job.DeploymentID); err != nil {
		o.log.Warn().Err(err).Msg("deactivating stable group after canary promotion")
	}

	return nil
}
