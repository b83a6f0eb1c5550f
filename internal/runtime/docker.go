// Package runtime adapts deploy-core's container lifecycle calls (create,
// start, health-inspect, stop, remove, network ensure) onto the Docker
// Engine API, classifying every failure into the error taxonomy the
// orchestrator uses to decide cleanup and retry behavior.
package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/obtura/deploy-core/internal/errs"
	"github.com/obtura/deploy-core/internal/sandbox"
)

// Spec describes a single container the orchestrator wants running.
type Spec struct {
	Name            string
	Image           string
	AppPort         int
	HostPort        int
	Labels          map[string]string
	HealthCheckPath string
	Profile         sandbox.Profile
	PersistentMount string // volume name for /app/data, empty to skip
}

// HealthState mirrors the subset of Docker's health state machine the
// orchestrator's waiting loops care about.
type HealthState string

const (
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthNone      HealthState = "none"
)

// Adapter is the Docker-backed implementation of the container runtime:
// image inspect/pull, container create with resource caps + capability set +
// security options + bind ports + tmpfs + labels + healthcheck, start,
// inspect, stop with grace, remove with force, network list/create.
type Adapter struct {
	cli *client.Client
	log zerolog.Logger
}

func NewAdapter(log zerolog.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log}, nil
}

func (a *Adapter) Close() error {
	return a.cli.Close()
}

// EnsureNetwork creates the shared bridge network if it doesn't already
// exist. Idempotent across concurrent callers: a NetworkCreate that fails
// is treated as success when the network is then found to exist, as it is
// when another caller created it first.
func (a *Adapter) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := a.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return errs.New(errs.Runtime, fmt.Errorf("listing networks: %w", err))
	}
	for _, n := range networks {
		if n.Name == name {
			return nil
		}
	}

	a.log.Info().Str("network", name).Msg("creating docker network")
	_, err = a.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.name": name,
		},
		Labels: map[string]string{
			"obtura.managed": "true",
			"obtura.type":    "deployment_network",
		},
	})
	if err != nil {
		if again, listErr := a.cli.NetworkList(ctx, network.ListOptions{}); listErr == nil {
			for _, n := range again {
				if n.Name == name {
					return nil
				}
			}
		}
		return errs.New(errs.Runtime, fmt.Errorf("creating network %s: %w", name, err))
	}
	return nil
}

// EnsureImage inspects for a local copy and pulls on a miss. Repeating the
// call once the image is local is a no-op (invariant: no extra pulls).
func (a *Adapter) EnsureImage(ctx context.Context, imageTag string) error {
	if _, _, err := a.cli.ImageInspectWithRaw(ctx, imageTag); err == nil {
		return nil
	}

	a.log.Info().Str("image", imageTag).Msg("pulling image")
	rc, err := a.cli.ImagePull(ctx, imageTag, image.PullOptions{})
	if err != nil {
		return errs.New(errs.Runtime, fmt.Errorf("pulling image %s: %w", imageTag, err))
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errs.New(errs.Runtime, fmt.Errorf("completing pull of %s: %w", imageTag, err))
	}
	return nil
}

// Create builds and starts a container for spec, returning its engine ID.
// On any failure past creation it removes the partially-created container
// before returning, so callers never have to special-case a half-built
// container in their own cleanup lists.
func (a *Adapter) Create(ctx context.Context, spec Spec) (string, error) {
	healthPath := spec.HealthCheckPath
	if healthPath == "" {
		healthPath = "/health"
	}

	containerConfig := &container.Config{
		Image: spec.Image,
		User:  "1000:1000",
		ExposedPorts: nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", spec.AppPort)): struct{}{},
		},
		Labels:     spec.Labels,
		WorkingDir: "/app",
		Healthcheck: &container.HealthConfig{
			Test: []string{
				"CMD-SHELL",
				fmt.Sprintf("wget --no-verbose --tries=1 --spider http://127.0.0.1:%d%s 2>/dev/null || wget --no-verbose --tries=1 --spider http://127.0.0.1:%d/ || exit 1",
					spec.AppPort, healthPath, spec.AppPort),
			},
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     3,
			StartPeriod: 30 * time.Second,
		},
	}

	mounts := []mount.Mount{}
	if spec.PersistentMount != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   spec.PersistentMount,
			Target:   "/app/data",
			ReadOnly: false,
		})
	}

	profile := spec.Profile
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			CPUQuota:    profile.CPUQuota,
			CPUPeriod:   100000,
			Memory:      profile.MemoryLimit,
			MemorySwap:  profile.MemoryLimit,
			PidsLimit:   &profile.PidsLimit,
			BlkioWeight: 500,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 2048},
				{Name: "nproc", Soft: profile.PidsLimit, Hard: profile.PidsLimit},
				{Name: "core", Soft: 0, Hard: 0},
			},
		},
		PortBindings: nat.PortMap{
			nat.Port(fmt.Sprintf("%d/tcp", spec.AppPort)): []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", spec.HostPort)},
			},
		},
		SecurityOpt: []string{
			"no-new-privileges:true",
			"seccomp=unconfined",
			"apparmor=docker-default",
		},
		CapDrop:       []string{"ALL"},
		CapAdd:        profile.Capabilities.Bounding,
		DNS:           profile.DNSServers,
		DNSOptions:    []string{"ndots:0"},
		Privileged:    false,
		ReadonlyRootfs: profile.ReadOnlyRoot,
		MaskedPaths:   profile.MaskedPaths,
		ReadonlyPaths: profile.ReadOnlyPaths,
		Tmpfs: map[string]string{
			"/tmp":       "rw,noexec,nosuid,size=100m",
			"/var/tmp":   "rw,noexec,nosuid,size=100m",
			"/var/run":   "rw,noexec,nosuid,size=50m",
			"/var/cache": "rw,noexec,nosuid,size=200m",
		},
		Mounts: mounts,
		LogConfig: container.LogConfig{
			Type: "json-file",
			Config: map[string]string{
				"max-size": "50m",
				"max-file": "5",
				"compress": "true",
			},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		OomScoreAdj:   500,
		IpcMode:       "private",
		UsernsMode:    "host",
		AutoRemove:    false,
	}

	resp, err := a.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", errs.New(errs.Runtime, fmt.Errorf("creating container %s: %w", spec.Name, err))
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		a.removeForced(ctx, resp.ID)
		return "", errs.New(errs.Runtime, fmt.Errorf("starting container %s: %w", spec.Name, err))
	}

	return resp.ID, nil
}

// Health inspects the container's current health state.
func (a *Adapter) Health(ctx context.Context, containerID string) (HealthState, error) {
	inspect, err := a.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", errs.New(errs.NotFound, fmt.Errorf("container %s not found: %w", containerID, err))
		}
		return "", errs.New(errs.Runtime, fmt.Errorf("inspecting container %s: %w", containerID, err))
	}

	if inspect.State.Health != nil {
		return HealthState(inspect.State.Health.Status), nil
	}
	if inspect.State.Running {
		return HealthHealthy, nil
	}
	return HealthUnhealthy, nil
}

// WaitHealthy polls Health on a fixed interval until the container reports
// healthy, unhealthy, the context is cancelled, or timeout elapses.
func (a *Adapter) WaitHealthy(ctx context.Context, containerID string, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		state, err := a.Health(ctx, containerID)
		if err != nil {
			time.Sleep(interval)
			continue
		}
		switch state {
		case HealthHealthy:
			return true
		case HealthUnhealthy:
			return false
		}
		time.Sleep(interval)
	}
	return false
}

// Stop stops then force-removes a container, tolerating an already-gone
// container (removal is idempotent).
func (a *Adapter) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	timeoutSeconds := int(grace.Seconds())
	if err := a.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil && !client.IsErrNotFound(err) {
		a.log.Warn().Err(err).Str("container_id", containerID).Msg("stopping container")
	}
	return a.Remove(ctx, containerID)
}

// Remove force-removes a container. A missing container is not an error.
func (a *Adapter) Remove(ctx context.Context, containerID string) error {
	err := a.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{RemoveVolumes: false, Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errs.New(errs.Runtime, fmt.Errorf("removing container %s: %w", containerID, err))
	}
	return nil
}

func (a *Adapter) removeForced(ctx context.Context, containerID string) {
	if err := a.Remove(ctx, containerID); err != nil {
		a.log.Warn().Err(err).Str("container_id", containerID).Msg("cleaning up failed container create")
	}
}
