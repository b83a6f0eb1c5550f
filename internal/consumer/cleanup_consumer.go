package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// cleanupMessage asks the core to tear down containers a deleted project
// left behind — sent by the project-deletion flow, not by any deployment
// strategy here.
type cleanupMessage struct {
	ProjectID  string `json:"projectId"`
	Containers []struct {
		ContainerID   string `json:"containerId"`
		ContainerName string `json:"containerName"`
	} `json:"containers"`
}

func (c *Consumer) consumeCleanups(ctx context.Context, msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := c.handleCleanup(ctx, msg); err != nil {
				c.log.Error().Err(err).Msg("cleanup message failed, requeueing")
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}

func (c *Consumer) handleCleanup(ctx context.Context, msg amqp091.Delivery) error {
	var cm cleanupMessage
	if err := json.Unmarshal(msg.Body, &cm); err != nil {
		return fmt.Errorf("parsing cleanup message: %w", err)
	}
	if cm.ProjectID == "" {
		return fmt.Errorf("projectId is required")
	}

	c.log.Info().Str("project_id", cm.ProjectID).Int("containers", len(cm.Containers)).Msg("processing project cleanup")

	for _, container := range cm.Containers {
		if container.ContainerID == "" {
			continue
		}
		c.orch.CleanupContainer(ctx, container.ContainerID, container.ContainerName)
	}

	return nil
}
