package orchestrator

import (
	"context"
	"fmt"

	"github.com/obtura/deploy-core/internal/strategystate"
)

// transition advances strategy-state and publishes the same phase change
// to any live SSE subscribers, so the database and the stream never
// disagree about which phase a deployment is in.
func (o *Orchestrator) transition(ctx context.Context, deploymentID string, phase strategystate.Phase) error {
	if err := o.state.Transition(ctx, deploymentID, phase); err != nil {
		return err
	}
	o.events.PublishPhase(deploymentID, string(phase), fmt.Sprintf("entered %s", phase), nil)
	return nil
}

// CleanupContainer removes a single container and its router rule by raw
// engine ID and name, used by internal/consumer's project-cleanup queue
// handler where there is no deployment_containers row to look the record
// up from (the project that owned it may already be deleted).
func (o *Orchestrator) CleanupContainer(ctx context.Context, containerID, containerName string) {
	o.removeContainer(ctx, &ContainerRecord{ID: containerID, Name: containerName})
}

// removeContainer stops and removes a container's runtime resource and its
// router rule. Both legs are idempotent, so calling removeContainer on a
// container that was never fully created is safe.
func (o *Orchestrator) removeContainer(ctx context.Context, c *ContainerRecord) {
	if c.ID != "" {
		if err := o.rt.Stop(ctx, c.ID, stopGrace); err != nil {
			o.log.Warn().Err(err).Str("container_id", c.ID).Msg("stopping container during cleanup")
		}
	}
	if c.Name != "" {
		if err := o.router.Remove(c.Name); err != nil {
			o.log.Warn().Err(err).Str("container", c.Name).Msg("removing router rule during cleanup")
		}
	}
}
