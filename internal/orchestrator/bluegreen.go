package orchestrator

import (
	"context"
	"fmt"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/sandbox"
	"github.com/obtura/deploy-core/internal/strategystate"
)

// blueGreenDeploy stands up a full replica set in the idle group, waits for
// it to become healthy, switches the router to it atomically, then drains
// and removes the previously-active group. On any failure after containers
// start being created and before the new group is marked active, everything
// this attempt created is torn down before the error propagates; a failure
// after that point leaves the new group running.
func (o *Orchestrator) blueGreenDeploy(ctx context.Context, job Job, profile sandbox.Profile) error {
	active, err := o.activeGroupForEnvironment(ctx, job.ProjectID, job.Environment)
	if err != nil {
		return err
	}
	standby := "green"
	if active == "green" {
		standby = "blue"
	}

	if err := o.state.Update(ctx, job.DeploymentID, map[strategystate.MetaField]interface{}{
		strategystate.ActiveGroup:  active,
		strategystate.StandbyGroup: standby,
	}); err != nil {
		return err
	}

	cleanup := &cleanupList{}
	replicas := job.ReplicaCount
	if replicas < 1 {
		replicas = 1
	}

	var created []*ContainerRecord
	for i := 0; i < replicas; i++ {
		c, err := o.deployOneContainer(ctx, job, profile, standby, i, false)
		if err != nil {
			o.runCleanup(ctx, cleanup)
			return err
		}
		cleanup.add(c)
		created = append(created, c)
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.HealthChecking); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	for _, c := range created {
		if !o.rt.WaitHealthy(ctx, c.ID, blueGreenHealthCheckWindow, healthCheckInterval) {
			o.runCleanup(ctx, cleanup)
			return errs.New(errs.Health, fmt.Errorf("container %s did not become healthy within %s", c.Name, blueGreenHealthCheckWindow))
		}
		o.updateContainerHealth(ctx, job.DeploymentID, c, string(runtime.HealthHealthy), "running")
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.SwitchingTraffic); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	host := routableHost(job)
	for _, c := range created {
		if err := o.router.Program(router.Route{
			ContainerName: c.Name,
			Host:          host,
			TargetHost:    c.Name,
			Port:          c.Port,
		}); err != nil {
			o.runCleanup(ctx, cleanup)
			return fmt.Errorf("programming router for %s: %w", c.Name, err)
		}
	}

	if err := o.markGroupActive(ctx, job.DeploymentID, standby); err != nil {
		o.runCleanup(ctx, cleanup)
		return err
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.DrainingOld); err != nil {
		return err
	}

	old, err := o.containersByGroupForEnvironment(ctx, job.ProjectID, job.Environment, active, job.DeploymentID)
	if err != nil {
		o.log.Warn().Err(err).Msg("listing old group containers for drain")
	}
	for _, c := range old {
		o.removeContainer(ctx, c)
	}

	if err := o.deactivateOldDeployments(ctx, job.ProjectID, job.Environment, job.DeploymentID); err != nil {
		o.log.Warn().Err(err).Msg("deactivating old deployments after blue/green switch")
	}

	return o.transition(ctx, job.DeploymentID, strategystate.Monitoring)
}

func routableHost(job Job) string {
	if job.Domain != "" {
		if job.Subdomain != "" {
			return fmt.Sprintf("%s.%s", job.Subdomain, job.Domain)
		}
		return job.Domain
	}
	return fmt.Sprintf("%s.obtura.dev", job.ProjectID)
}

// markGroupActive flips every container in group to active/primary for the
// deployment in one statement, used once the router has already been
// switched so readers never see is_active=true before traffic is flowing.
func (o *Orchestrator) markGroupActive(ctx context.Context, deploymentID, group string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET is_active = true, is_primary = true, updated_at = NOW()
		WHERE deployment_id = $1 AND deployment_group = $2
	`, deploymentID, group)
	if err != nil {
		return fmt.Errorf("marking group %s active for %s: %w", group, deploymentID, err)
	}
	return nil
}
