// Package consumer drains the deployment and cleanup queues the job
// producer publishes to, translating each message into an
// internal/orchestrator.Job and deciding ack/nack/dead-letter behavior from
// the result.
package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/orchestrator"
)

const (
	exchangeName         = "obtura.deploys"
	deploymentQueue      = "deployment.jobs"
	deploymentRoutingKey = "deploy.triggered"
	cleanupQueue         = "project.cleanup.jobs"
	cleanupRoutingKey    = "project.cleanup"

	// MaxDeploymentRetries bounds how many times a failed deployment message
	// is requeued. Once reached, the message is acknowledged and dropped; the
	// orchestrator has already marked the deployment failed.
	MaxDeploymentRetries = 5

	jobTimeout = 30 * time.Minute
)

// Consumer owns the RabbitMQ channel and dispatches inbound messages to the
// orchestrator.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	db      *sql.DB
	orch    *orchestrator.Orchestrator
	log     zerolog.Logger
}

func New(amqpURL string, db *sql.DB, orch *orchestrator.Orchestrator, log zerolog.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	return &Consumer{conn: conn, channel: channel, db: db, orch: orch, log: log}, nil
}

// deployMessage is the wire envelope the job producer publishes.
type deployMessage struct {
	BuildID      string          `json:"buildId"`
	DeploymentID string          `json:"deploymentId"`
	ProjectID    string          `json:"projectId"`
	Build        *buildData      `json:"build,omitempty"`
	Deployment   *deploymentData `json:"deployment,omitempty"`
}

type buildData struct {
	ID        string                 `json:"id"`
	ImageTags []string               `json:"imageTags"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type deploymentData struct {
	ID           string `json:"id"`
	Environment  string `json:"environment"`
	Strategy     string `json:"strategy"`
	ReplicaCount int    `json:"replicaCount"`
	Domain       string `json:"domain,omitempty"`
	Subdomain    string `json:"subdomain,omitempty"`
}

// Run declares the durable topology and blocks consuming both queues until
// ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.declareTopology(); err != nil {
		return err
	}

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	deployMsgs, err := c.channel.Consume(deploymentQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("registering deployment consumer: %w", err)
	}
	cleanupMsgs, err := c.channel.Consume(cleanupQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("registering cleanup consumer: %w", err)
	}

	go c.consumeDeployments(ctx, deployMsgs)
	c.consumeCleanups(ctx, cleanupMsgs)
	return nil
}

func (c *Consumer) declareTopology() error {
	if err := c.channel.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", exchangeName, err)
	}

	queue, err := c.channel.QueueDeclare(deploymentQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", deploymentQueue, err)
	}
	if err := c.channel.QueueBind(queue.Name, deploymentRoutingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", deploymentQueue, err)
	}

	cleanup, err := c.channel.QueueDeclare(cleanupQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", cleanupQueue, err)
	}
	if err := c.channel.QueueBind(cleanup.Name, cleanupRoutingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", cleanupQueue, err)
	}

	return nil
}

func (c *Consumer) consumeDeployments(ctx context.Context, msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handleDeployment(ctx, msg)
		}
	}
}

func (c *Consumer) handleDeployment(ctx context.Context, msg amqp091.Delivery) {
	var env deployMessage
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		c.log.Error().Err(err).Msg("discarding unparseable deployment message")
		msg.Nack(false, false)
		return
	}

	job, err := jobFromMessage(env)
	if err != nil {
		c.log.Error().Err(err).Str("deployment_id", env.DeploymentID).Msg("discarding invalid deployment message")
		msg.Nack(false, false)
		return
	}

	deployCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	err = c.orch.Deploy(deployCtx, job)
	if err == nil {
		msg.Ack(false)
		return
	}

	if errs.Is(err, errs.Validation) {
		c.log.Error().Err(err).Str("deployment_id", job.DeploymentID).Msg("deployment rejected, not retryable")
		msg.Nack(false, false)
		return
	}

	retryCount := c.retryCount(msg, job.DeploymentID)
	if retryCount >= MaxDeploymentRetries {
		c.log.Error().Err(err).Str("deployment_id", job.DeploymentID).Int("retries", retryCount).Msg("max retries reached, dropping message")
		msg.Ack(false)
		return
	}

	c.incrementRetry(job.DeploymentID, err.Error())
	c.log.Warn().Err(err).Str("deployment_id", job.DeploymentID).Int("retry", retryCount+1).Msg("deployment failed, requeueing")
	msg.Nack(false, true)
}

func jobFromMessage(env deployMessage) (orchestrator.Job, error) {
	if env.BuildID == "" {
		return orchestrator.Job{}, fmt.Errorf("buildId is required")
	}
	if env.DeploymentID == "" {
		return orchestrator.Job{}, fmt.Errorf("deploymentId is required")
	}
	if env.Build == nil || len(env.Build.ImageTags) == 0 {
		return orchestrator.Job{}, fmt.Errorf("build data with at least one image tag is required")
	}

	environment := "production"
	strategy := "blue_green"
	replicas := 1
	var domain, subdomain string
	if env.Deployment != nil {
		if env.Deployment.Environment != "" {
			environment = env.Deployment.Environment
		}
		if env.Deployment.Strategy != "" {
			strategy = env.Deployment.Strategy
		}
		if env.Deployment.ReplicaCount > 0 {
			replicas = env.Deployment.ReplicaCount
		}
		domain = env.Deployment.Domain
		subdomain = env.Deployment.Subdomain
	}

	return orchestrator.Job{
		ProjectID:    env.ProjectID,
		BuildID:      env.BuildID,
		ImageTag:     env.Build.ImageTags[0],
		DeploymentID: env.DeploymentID,
		Environment:  environment,
		Strategy:     strategy,
		ReplicaCount: replicas,
		Domain:       domain,
		Subdomain:    subdomain,
		Config:       env.Build.Metadata,
		CreatedAt:    time.Now(),
	}, nil
}

// retryCount takes the larger of the x-death count RabbitMQ stamps on
// redelivery and the persisted deployments.retry_count, so a consumer
// restart doesn't reset the count RabbitMQ itself has lost track of.
func (c *Consumer) retryCount(msg amqp091.Delivery, deploymentID string) int {
	count := 0
	if msg.Headers != nil {
		if xDeath, ok := msg.Headers["x-death"].([]interface{}); ok && len(xDeath) > 0 {
			if death, ok := xDeath[0].(amqp091.Table); ok {
				if n, ok := death["count"].(int64); ok {
					count = int(n)
				}
			}
		}
	}

	var dbCount int
	if err := c.db.QueryRow(`SELECT COALESCE(retry_count, 0) FROM deployments WHERE id = $1`, deploymentID).Scan(&dbCount); err == nil && dbCount > count {
		count = dbCount
	}
	return count
}

func (c *Consumer) incrementRetry(deploymentID, errMessage string) {
	_, err := c.db.Exec(`
		UPDATE deployments
		SET retry_count = COALESCE(retry_count, 0) + 1,
			last_retry_at = NOW(),
			retry_errors = COALESCE(retry_errors, '[]'::jsonb) || jsonb_build_object(
				'attempt', COALESCE(retry_count, 0) + 1,
				'error', $2::text,
				'timestamp', NOW()
			)::jsonb,
			updated_at = NOW()
		WHERE id = $1
	`, deploymentID, errMessage)
	if err != nil {
		c.log.Warn().Err(err).Str("deployment_id", deploymentID).Msg("recording retry")
	}
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
