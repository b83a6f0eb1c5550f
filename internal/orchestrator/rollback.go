package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/router"
)

// Rollback reactivates targetDeploymentID's containers in place of
// deploymentID's, restarting them if they were stopped, then swaps the
// active/rolled_back status of the two deployment rows. It fails with
// errs.NotFound if the target has no containers to restart — there is
// nothing to roll back to.
func (o *Orchestrator) Rollback(ctx context.Context, deploymentID, targetDeploymentID string) error {
	targetContainers, err := o.queryContainers(ctx, `
		SELECT container_id, container_name, status, image, port, health_status, deployment_group, is_active, is_primary, replica_index
		FROM deployment_containers WHERE deployment_id = $1
	`, targetDeploymentID)
	if err != nil {
		return err
	}
	if len(targetContainers) == 0 {
		return errs.New(errs.NotFound, fmt.Errorf("target deployment %s has no containers to roll back to", targetDeploymentID))
	}

	if _, err := o.db.ExecContext(ctx, `
		INSERT INTO deployment_rollbacks (from_deployment_id, to_deployment_id, reason, automatic)
		VALUES ($1, $2, $3, $4)
	`, deploymentID, targetDeploymentID, "manual rollback requested", false); err != nil {
		return fmt.Errorf("recording rollback %s -> %s: %w", deploymentID, targetDeploymentID, err)
	}

	current, err := o.activeContainers(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, c := range current {
		o.removeContainer(ctx, c)
	}
	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET is_active = false, updated_at = NOW() WHERE deployment_id = $1
	`, deploymentID); err != nil {
		return fmt.Errorf("deactivating containers for %s: %w", deploymentID, err)
	}

	host, err := o.hostForDeployment(ctx, targetDeploymentID)
	if err != nil {
		return err
	}
	for _, c := range targetContainers {
		if err := o.restartAndRoute(ctx, c, host); err != nil {
			return err
		}
	}

	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET is_active = true, updated_at = NOW() WHERE deployment_id = $1
	`, targetDeploymentID); err != nil {
		return fmt.Errorf("reactivating containers for %s: %w", targetDeploymentID, err)
	}

	if err := o.updateDeploymentStatus(ctx, deploymentID, DeploymentStatusRolledBack); err != nil {
		return err
	}
	if err := o.updateDeploymentStatus(ctx, targetDeploymentID, DeploymentStatusActive); err != nil {
		return err
	}

	o.recordEvent(ctx, deploymentID, "rolled_back", fmt.Sprintf("rolled back to %s", targetDeploymentID))
	o.recordEvent(ctx, targetDeploymentID, "restored_by_rollback", fmt.Sprintf("restored from rollback of %s", deploymentID))

	return nil
}

func (o *Orchestrator) hostForDeployment(ctx context.Context, deploymentID string) (string, error) {
	var domain, subdomain, projectID sql.NullString
	err := o.db.QueryRowContext(ctx, `SELECT domain, subdomain, project_id FROM deployments WHERE id = $1`, deploymentID).
		Scan(&domain, &subdomain, &projectID)
	if err != nil {
		return "", fmt.Errorf("resolving host for deployment %s: %w", deploymentID, err)
	}
	return routableHost(Job{Domain: domain.String, Subdomain: subdomain.String, ProjectID: projectID.String}), nil
}

// restartAndRoute brings a rollback target's container back: if the engine
// still has it (health inspect succeeds), it's already running and only
// needs its router rule restored. Otherwise — the common case, since the
// strategies remove a group's containers once it's no longer active — a
// fresh container is recreated from the same image, port, and a
// starter-tier sandbox profile, since the original deployment's tier isn't
// retained on the container row.
func (o *Orchestrator) restartAndRoute(ctx context.Context, c *ContainerRecord, host string) error {
	if _, err := o.rt.Health(ctx, c.ID); err != nil {
		if err := o.rt.EnsureImage(ctx, c.Image); err != nil {
			return err
		}
		newID, createErr := o.rt.Create(ctx, runtimeSpecFor(c))
		if createErr != nil {
			return createErr
		}
		if _, execErr := o.db.ExecContext(ctx, `
			UPDATE deployment_containers SET container_id = $2, updated_at = NOW() WHERE container_id = $1
		`, c.ID, newID); execErr != nil {
			return fmt.Errorf("updating container id for restarted %s: %w", c.Name, execErr)
		}
		c.ID = newID
	}

	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET status = 'running', health_status = 'healthy', updated_at = NOW() WHERE container_id = $1
	`, c.ID); err != nil {
		return fmt.Errorf("marking restarted container %s running: %w", c.Name, err)
	}

	return o.router.Program(router.Route{ContainerName: c.Name, Host: host, TargetHost: c.Name, Port: c.Port})
}
