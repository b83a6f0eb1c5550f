package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/obtura/deploy-core/internal/detection"
	"github.com/obtura/deploy-core/internal/errs"
)

func (o *Orchestrator) companyIDForProject(ctx context.Context, projectID string) (string, error) {
	var companyID string
	err := o.db.QueryRowContext(ctx, `SELECT company_id FROM projects WHERE id = $1`, projectID).Scan(&companyID)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, fmt.Errorf("project %s not found", projectID))
	}
	if err != nil {
		return "", fmt.Errorf("resolving company for project %s: %w", projectID, err)
	}
	return companyID, nil
}

// planTier returns the project's active subscription tier, defaulting to
// starter when no active subscription exists rather than failing: an
// unsubscribed project is still allowed to deploy at the lowest tier.
func (o *Orchestrator) planTier(ctx context.Context, projectID string) string {
	var tier string
	err := o.db.QueryRowContext(ctx, `
		SELECT sp.tier FROM projects p
		JOIN subscriptions s ON s.company_id = p.company_id
		JOIN subscription_plans sp ON sp.id = s.plan_id
		WHERE p.id = $1 AND s.status = 'active'
		LIMIT 1
	`, projectID).Scan(&tier)
	if err != nil {
		return "starter"
	}
	return tier
}

func (o *Orchestrator) validate(job Job) error {
	if job.ProjectID == "" {
		return errs.New(errs.Validation, fmt.Errorf("project_id is required"))
	}
	if job.ImageTag == "" {
		return errs.New(errs.Validation, fmt.Errorf("image_tag is required"))
	}
	if job.DeploymentID == "" {
		return errs.New(errs.Validation, fmt.Errorf("deployment_id is required"))
	}
	return nil
}

func (o *Orchestrator) environmentCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT environment) FROM deployments
		WHERE project_id = $1 AND status NOT IN ('terminated', 'failed')
	`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting environments for project %s: %w", projectID, err)
	}
	return n, nil
}

func (o *Orchestrator) previewEnvironmentCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT environment) FROM deployments
		WHERE project_id = $1 AND environment LIKE 'preview-%' AND status NOT IN ('terminated', 'failed')
	`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting preview environments for project %s: %w", projectID, err)
	}
	return n, nil
}

// detectDependencies fetches the build artifact manifest from object
// storage, runs the file-based detector over it, and persists the result
// to the deployment row so the UI and future rollbacks can see what the
// deployment depends on.
func (o *Orchestrator) detectDependencies(ctx context.Context, job Job) (*detection.ServiceDependencies, error) {
	artifact, err := o.artifacts.GetBuildArtifact(ctx, job.ProjectID, job.BuildID)
	if err != nil {
		o.log.Warn().Err(err).Str("build_id", job.BuildID).Msg("no build artifact available, skipping dependency detection")
		return &detection.ServiceDependencies{}, nil
	}

	deps, err := o.detector.Analyze(artifact.Files())
	if err != nil {
		return nil, fmt.Errorf("analyzing dependencies for build %s: %w", job.BuildID, err)
	}

	raw, err := json.Marshal(deps)
	if err != nil {
		return nil, fmt.Errorf("marshaling detected dependencies: %w", err)
	}

	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployments SET detected_dependencies = $2, updated_at = NOW() WHERE id = $1
	`, job.DeploymentID, raw); err != nil {
		return nil, fmt.Errorf("storing detected dependencies for %s: %w", job.DeploymentID, err)
	}

	return deps, nil
}

func (o *Orchestrator) recordEvent(ctx context.Context, deploymentID, eventType, message string) {
	if _, err := o.db.ExecContext(ctx, `
		INSERT INTO deployment_events (deployment_id, event_type, event_message) VALUES ($1, $2, $3)
	`, deploymentID, eventType, message); err != nil {
		o.log.Warn().Err(err).Str("deployment_id", deploymentID).Msg("recording deployment event")
	}
}

func (o *Orchestrator) updateDeploymentStatus(ctx context.Context, deploymentID, status string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE deployments SET status = $2, updated_at = NOW() WHERE id = $1
	`, deploymentID, status)
	if err != nil {
		return fmt.Errorf("updating deployment %s status to %s: %w", deploymentID, status, err)
	}
	return nil
}

func (o *Orchestrator) storeContainer(ctx context.Context, deploymentID string, c *ContainerRecord) error {
	var rowID string
	err := o.db.QueryRowContext(ctx, `
		INSERT INTO deployment_containers
			(deployment_id, container_id, container_name, status, image, port, health_status, deployment_group, is_active, is_primary, replica_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, deploymentID, c.ID, c.Name, c.Status, c.Image, c.Port, c.Health, c.DeploymentGroup, c.IsActive, c.IsPrimary, c.ReplicaIndex,
	).Scan(&rowID)
	if err != nil {
		return fmt.Errorf("storing container metadata for %s: %w", c.Name, err)
	}
	return nil
}

func (o *Orchestrator) updateContainerHealth(ctx context.Context, deploymentID string, c *ContainerRecord, health, status string) {
	if _, err := o.db.ExecContext(ctx, `
		UPDATE deployment_containers SET health_status = $2, status = $3, updated_at = NOW() WHERE container_id = $1
	`, c.ID, health, status); err != nil {
		o.log.Warn().Err(err).Str("container_id", c.ID).Msg("updating container health")
		return
	}
	c.Health = health
	c.Status = status
	o.events.PublishContainerEvent(deploymentID, c.ID, c.Name, status, health, c.DeploymentGroup, fmt.Sprintf("%s is %s/%s", c.Name, status, health))
}

func (o *Orchestrator) activeContainers(ctx context.Context, deploymentID string) ([]*ContainerRecord, error) {
	return o.queryContainers(ctx, `
		SELECT container_id, container_name, status, image, port, health_status, deployment_group, is_active, is_primary, replica_index
		FROM deployment_containers WHERE deployment_id = $1 AND is_active = true
	`, deploymentID)
}

// activeContainersForEnvironment returns every currently-active container
// for a project+environment, excluding excludeDeploymentID. Active
// containers belong to whichever deployment row most recently won a
// switch, not to the new deployment row being created for this job, so
// rolling and canary deploys must look them up by (project, environment)
// rather than by their own, still-empty, deployment ID.
func (o *Orchestrator) activeContainersForEnvironment(ctx context.Context, projectID, environment, excludeDeploymentID string) ([]*ContainerRecord, error) {
	return o.queryContainers(ctx, `
		SELECT dc.container_id, dc.container_name, dc.status, dc.image, dc.port, dc.health_status, dc.deployment_group, dc.is_active, dc.is_primary, dc.replica_index
		FROM deployment_containers dc
		JOIN deployments d ON d.id = dc.deployment_id
		WHERE d.project_id = $1 AND d.environment = $2 AND dc.is_active = true AND d.id != $3
	`, projectID, environment, excludeDeploymentID)
}

// containersByGroupForEnvironment returns every container in group for a
// project+environment, excluding excludeDeploymentID. Used by blue/green to
// find the prior group's containers, which live on the previous deployment
// row for this (project, environment), not on the new deployment being
// created.
func (o *Orchestrator) containersByGroupForEnvironment(ctx context.Context, projectID, environment, group, excludeDeploymentID string) ([]*ContainerRecord, error) {
	return o.queryContainers(ctx, `
		SELECT dc.container_id, dc.container_name, dc.status, dc.image, dc.port, dc.health_status, dc.deployment_group, dc.is_active, dc.is_primary, dc.replica_index
		FROM deployment_containers dc
		JOIN deployments d ON d.id = dc.deployment_id
		WHERE d.project_id = $1 AND d.environment = $2 AND dc.deployment_group = $3 AND d.id != $4
	`, projectID, environment, group, excludeDeploymentID)
}

func (o *Orchestrator) queryContainers(ctx context.Context, query string, args ...interface{}) ([]*ContainerRecord, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying containers: %w", err)
	}
	defer rows.Close()

	var out []*ContainerRecord
	for rows.Next() {
		c := &ContainerRecord{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.Image, &c.Port, &c.Health, &c.DeploymentGroup, &c.IsActive, &c.IsPrimary, &c.ReplicaIndex); err != nil {
			return nil, fmt.Errorf("scanning container row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// activeGroupForEnvironment returns the blue/green group currently serving
// traffic for a project+environment, defaulting to "blue" when nothing has
// ever been deployed there, so the first blue/green deployment lands in the
// opposite group, green.
func (o *Orchestrator) activeGroupForEnvironment(ctx context.Context, projectID, environment string) (string, error) {
	var group string
	err := o.db.QueryRowContext(ctx, `
		SELECT dc.deployment_group FROM deployment_containers dc
		JOIN deployments d ON d.id = dc.deployment_id
		WHERE d.project_id = $1 AND d.environment = $2 AND dc.is_active = true
		ORDER BY dc.created_at DESC LIMIT 1
	`, projectID, environment).Scan(&group)
	if err == sql.ErrNoRows {
		return "blue", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving active group for %s/%s: %w", projectID, environment, err)
	}
	return group, nil
}

// deactivateOldDeployments marks every non-terminal deployment for the same
// project/environment, other than keepDeploymentID, as terminated and
// deactivates their traffic routing and containers. Scoped to project +
// environment so it can never reach across tenants or other environments.
func (o *Orchestrator) deactivateOldDeployments(ctx context.Context, projectID, environment, keepDeploymentID string) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning deactivation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE deployments SET status = 'terminated', terminated_at = NOW(), updated_at = NOW()
		WHERE project_id = $1 AND environment = $2 AND id != $3 AND status NOT IN ('terminated', 'failed')
	`, projectID, environment, keepDeploymentID); err != nil {
		return fmt.Errorf("terminating old deployments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deployment_traffic_routing SET is_active = false
		WHERE deployment_id IN (
			SELECT id FROM deployments WHERE project_id = $1 AND environment = $2 AND id != $3
		)
	`, projectID, environment, keepDeploymentID); err != nil {
		return fmt.Errorf("deactivating old traffic routing: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deployment_containers SET is_active = false
		WHERE deployment_id IN (
			SELECT id FROM deployments WHERE project_id = $1 AND environment = $2 AND id != $3
		)
	`, projectID, environment, keepDeploymentID); err != nil {
		return fmt.Errorf("deactivating old containers: %w", err)
	}

	return tx.Commit()
}
