package orchestrator

import (
	"context"
	"fmt"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/quota"
	"github.com/obtura/deploy-core/internal/sandbox"
	"github.com/obtura/deploy-core/internal/strategystate"
)

// Deploy drives job through preparing -> deploying_new -> health_checking ->
// switching_traffic -> draining_old -> monitoring -> completed, dispatching
// to the strategy-specific implementation once admission succeeds. Any
// error returned here has already been recorded against the deployment and
// strategy-state rows; callers (internal/consumer) only need to decide
// ack/nack.
func (o *Orchestrator) Deploy(ctx context.Context, job Job) error {
	log := o.log.With().Str("deployment_id", job.DeploymentID).Str("project_id", job.ProjectID).Logger()

	if err := o.validate(job); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	companyID, err := o.companyIDForProject(ctx, job.ProjectID)
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	limits, err := o.quota.ForCompany(ctx, companyID)
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	envCount, err := o.environmentCount(ctx, job.ProjectID)
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	previewCount, err := o.previewEnvironmentCount(ctx, job.ProjectID)
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	usage := quota.Usage{EnvironmentsCount: envCount, PreviewEnvironments: previewCount}
	if ok, reason := limits.Within(usage); !ok {
		return o.fail(ctx, job.DeploymentID, errs.New(errs.Quota, fmt.Errorf("%s", reason)))
	}

	release, err := o.limiter.Admit(ctx, companyID, limits.MaxConcurrentDeployments, limits.MaxDeploymentsPerMonth)
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	defer func() {
		if releaseErr := release(context.Background()); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("releasing concurrency slot")
		}
	}()

	if err := o.state.Initialize(ctx, job.DeploymentID, job.Strategy, job.ReplicaCount); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	if err := o.updateDeploymentStatus(ctx, job.DeploymentID, DeploymentStatusDeploying); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	o.recordEvent(ctx, job.DeploymentID, "deployment_started", fmt.Sprintf("strategy=%s image=%s", job.Strategy, job.ImageTag))
	o.events.PublishLog(job.DeploymentID, "info", fmt.Sprintf("starting %s deployment of %s", job.Strategy, job.ImageTag))

	if _, err := o.detectDependencies(ctx, job); err != nil {
		log.Warn().Err(err).Msg("dependency detection failed, continuing without it")
	}

	tier := sandbox.Tier(o.planTier(ctx, job.ProjectID))
	profile := sandbox.Policy(tier, job.Environment)

	if err := o.rt.EnsureNetwork(ctx, o.cfg.Docker.NetworkName); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	if err := o.rt.EnsureImage(ctx, job.ImageTag); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.DeployingNew); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	switch job.Strategy {
	case "blue_green", "":
		err = o.blueGreenDeploy(ctx, job, profile)
	case "rolling":
		err = o.rollingUpdate(ctx, job, profile)
	case "canary":
		err = o.canaryDeploy(ctx, job, profile)
	default:
		err = errs.New(errs.Validation, fmt.Errorf("unknown deployment strategy %q", job.Strategy))
	}
	if err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}

	if err := o.transition(ctx, job.DeploymentID, strategystate.Completed); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	if err := o.updateDeploymentStatus(ctx, job.DeploymentID, DeploymentStatusActive); err != nil {
		return o.fail(ctx, job.DeploymentID, err)
	}
	o.recordEvent(ctx, job.DeploymentID, "deployment_completed", "deployment reached steady state")
	o.events.PublishComplete(job.DeploymentID, DeploymentStatusActive, "deployment reached steady state", "")

	return nil
}

// fail records the error against strategy-state and the deployment row,
// emits a deployment_events row, and returns the original error so the
// caller (internal/consumer) can decide retry/dead-letter behavior.
func (o *Orchestrator) fail(ctx context.Context, deploymentID string, cause error) error {
	if deploymentID != "" {
		if err := o.state.MarkFailed(ctx, deploymentID, cause.Error()); err != nil {
			o.log.Warn().Err(err).Str("deployment_id", deploymentID).Msg("recording strategy-state failure")
		}
		if err := o.updateDeploymentStatus(ctx, deploymentID, DeploymentStatusFailed); err != nil {
			o.log.Warn().Err(err).Str("deployment_id", deploymentID).Msg("recording deployment failure status")
		}
		o.recordEvent(ctx, deploymentID, "deployment_failed", cause.Error())
		o.events.PublishComplete(deploymentID, DeploymentStatusFailed, "deployment failed", cause.Error())
	}
	return cause
}
