// Package orchestrator drives a deployment through its phase state machine,
// dispatching to the blue/green, rolling, or canary strategy and wiring the
// quota, rate-limit, runtime, router, and strategy-state components behind
// it.
package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/obtura/deploy-core/internal/config"
	"github.com/obtura/deploy-core/internal/detection"
	"github.com/obtura/deploy-core/internal/events"
	"github.com/obtura/deploy-core/internal/quota"
	"github.com/obtura/deploy-core/internal/ratelimit"
	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/storage"
	"github.com/obtura/deploy-core/internal/strategystate"
)

const (
	DeploymentStatusPending    = "pending"
	DeploymentStatusDeploying  = "deploying"
	DeploymentStatusActive     = "active"
	DeploymentStatusFailed     = "failed"
	DeploymentStatusRolledBack = "rolled_back"
	DeploymentStatusTerminated = "terminated"

	healthCheckInterval        = 3 * time.Second
	blueGreenHealthCheckWindow = 120 * time.Second
	batchHealthCheckWindow     = 60 * time.Second
	drainPeriod                = 10 * time.Second
	gracePeriod                = 5 * time.Second
	stopGrace                  = 30 * time.Second
	defaultCanaryPercentage    = 10
)

// Job is the deployment the orchestrator has been asked to drive to
// completion. It is built by internal/consumer from the inbound message
// envelope.
type Job struct {
	ProjectID         string
	BuildID           string
	ImageTag          string
	DeploymentID      string
	Environment       string
	Strategy          string
	ReplicaCount      int
	RequiresMigration bool
	Domain            string
	Subdomain         string
	Config            map[string]interface{}
	CreatedAt         time.Time
}

// ContainerRecord mirrors a deployment_containers row.
type ContainerRecord struct {
	ID              string
	Name            string
	Status          string
	Image           string
	Port            int
	Health          string
	DeploymentGroup string
	IsActive        bool
	IsPrimary       bool
	ReplicaIndex    int
}

// containerRuntime is the subset of internal/runtime.Adapter the
// orchestrator drives. Defined here, not in internal/runtime, so tests can
// substitute a fake without touching the Docker-backed implementation.
type containerRuntime interface {
	Close() error
	EnsureNetwork(ctx context.Context, name string) error
	EnsureImage(ctx context.Context, imageTag string) error
	Create(ctx context.Context, spec runtime.Spec) (string, error)
	Health(ctx context.Context, containerID string) (runtime.HealthState, error)
	WaitHealthy(ctx context.Context, containerID string, timeout, interval time.Duration) bool
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
}

// edgeRouter is the subset of internal/router.Router the orchestrator
// drives, mirroring containerRuntime's reason for being an interface here.
type edgeRouter interface {
	Program(route router.Route) error
	Remove(containerName string) error
}

// Orchestrator wires every deployment-core component behind the phase state
// machine that drives blue/green, rolling, and canary rollouts.
type Orchestrator struct {
	db        *sql.DB
	quota     quota.Store
	limiter   *ratelimit.Limiter
	rt        containerRuntime
	router    edgeRouter
	state     *strategystate.Store
	detector  *detection.Detector
	artifacts *storage.Storage
	events    *events.Broker
	cfg       *config.Config
	log       zerolog.Logger
}

func New(
	db *sql.DB,
	quotaStore quota.Store,
	limiter *ratelimit.Limiter,
	rt *runtime.Adapter,
	rtr *router.Router,
	state *strategystate.Store,
	artifacts *storage.Storage,
	broker *events.Broker,
	cfg *config.Config,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		quota:     quotaStore,
		limiter:   limiter,
		rt:        rt,
		router:    rtr,
		state:     state,
		detector:  detection.NewDetector(),
		artifacts: artifacts,
		events:    broker,
		cfg:       cfg,
		log:       log,
	}
}

func (o *Orchestrator) Close() error {
	return o.rt.Close()
}

// cleanupList accumulates containers created during a deployment attempt so
// a failure at any point can tear down exactly what was built so far,
// rather than leaking partially-created containers.
type cleanupList struct {
	containers []*ContainerRecord
}

func (c *cleanupList) add(container *ContainerRecord) {
	c.containers = append(c.containers, container)
}

func (o *Orchestrator) runCleanup(ctx context.Context, list *cleanupList) {
	for _, c := range list.containers {
		o.removeContainer(ctx, c)
	}
}
