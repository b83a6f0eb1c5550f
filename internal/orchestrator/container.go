package orchestrator

import (
	"context"
	"fmt"

	"github.com/obtura/deploy-core/internal/runtime"
	"github.com/obtura/deploy-core/internal/sandbox"
)

// runtimeSpecFor rebuilds a minimal runtime.Spec from a stored container
// record, used when Rollback needs to recreate a container the active
// strategy already tore down.
func runtimeSpecFor(c *ContainerRecord) runtime.Spec {
	profile := sandbox.Policy(sandbox.Starter, "production")
	return runtime.Spec{
		Name:     c.Name,
		Image:    c.Image,
		AppPort:  c.Port,
		HostPort: c.Port,
		Labels: map[string]string{
			"obtura.managed": "true",
			"obtura.restored": "true",
		},
		HealthCheckPath: profile.HealthCheckURL,
		Profile:         profile,
	}
}

// deployOneContainer allocates a host port, creates and starts the
// container via internal/runtime, and records it in deployment_containers.
// The returned record's ID is the engine container ID, not the row UUID —
// every caller needs the engine ID to stop/remove/health-check it.
func (o *Orchestrator) deployOneContainer(ctx context.Context, job Job, profile sandbox.Profile, group string, replicaIndex int, primary bool) (*ContainerRecord, error) {
	port, err := o.assignHostPort(ctx)
	if err != nil {
		return nil, err
	}

	appPort := o.appPort(job)
	name := fmt.Sprintf("%s-%s-%s-%d", job.ProjectID, job.Environment, group, replicaIndex)

	spec := runtime.Spec{
		Name:    name,
		Image:   job.ImageTag,
		AppPort: appPort,
		HostPort: port,
		Labels: map[string]string{
			"obtura.managed":       "true",
			"obtura.project_id":    job.ProjectID,
			"obtura.deployment_id": job.DeploymentID,
			"obtura.environment":   job.Environment,
			"obtura.group":         group,
		},
		HealthCheckPath: profile.HealthCheckURL,
		Profile:         profile,
	}

	containerID, err := o.rt.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	record := &ContainerRecord{
		ID:              containerID,
		Name:            name,
		Status:          "starting",
		Image:           job.ImageTag,
		Port:            port,
		Health:          "starting",
		DeploymentGroup: group,
		IsActive:        false,
		IsPrimary:       primary,
		ReplicaIndex:    replicaIndex,
	}
	if err := o.storeContainer(ctx, job.DeploymentID, record); err != nil {
		o.rt.Remove(ctx, containerID)
		return nil, err
	}

	return record, nil
}

// appPort resolves the in-container port the application listens on: an
// explicit job.Config "port" override first, falling back to the default
// port of the framework named in job.Config "framework", and finally the
// generic default of 3000.
func (o *Orchestrator) appPort(job Job) int {
	if v, ok := job.Config["port"]; ok {
		if p, ok := v.(float64); ok && p > 0 {
			return int(p)
		}
		if p, ok := v.(int); ok && p > 0 {
			return p
		}
	}
	return detectedOrDefaultPort(job)
}

func detectedOrDefaultPort(job Job) int {
	if fd, ok := job.Config["framework"].(string); ok {
		if p, ok := frameworkDefaultPorts[fd]; ok {
			return p
		}
	}
	return 3000
}

var frameworkDefaultPorts = map[string]int{
	"nextjs": 3000, "remix": 3000, "sveltekit": 3000, "nuxt": 3000,
	"gatsby": 8000, "vite": 5173, "astro": 4321,
	"express": 3000, "fastify": 3000, "nestjs": 3000, "koa": 3000, "hapi": 3000,
	"django": 8000, "flask": 5000, "fastapi": 8000, "tornado": 8888,
	"rails": 3000, "sinatra": 4567,
	"laravel": 8000, "symfony": 8000,
	"spring": 8080, "springboot": 8080, "quarkus": 8080,
	"gin": 8080, "echo": 8080, "fiber": 3000,
	"dotnet": 5000, "aspnet": 5000,
}
