package orchestrator

import (
	"context"
	"time"

	"github.com/obtura/deploy-core/internal/router"
	"github.com/obtura/deploy-core/internal/runtime"
)

// fakeRuntime is an in-memory stand-in for containerRuntime: every call
// records its arguments so tests can assert on what the orchestrator asked
// the runtime to do without a real Docker daemon.
type fakeRuntime struct {
	created  []runtime.Spec
	stopped  []string
	removed  []string
	nextID   int
	unhealthy map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{unhealthy: map[string]bool{}}
}

func (f *fakeRuntime) Close() error                                      { return nil }
func (f *fakeRuntime) EnsureNetwork(ctx context.Context, name string) error { return nil }
func (f *fakeRuntime) EnsureImage(ctx context.Context, imageTag string) error { return nil }

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	f.created = append(f.created, spec)
	f.nextID++
	return spec.Name, nil
}

func (f *fakeRuntime) Health(ctx context.Context, containerID string) (runtime.HealthState, error) {
	if f.unhealthy[containerID] {
		return runtime.HealthUnhealthy, nil
	}
	return runtime.HealthHealthy, nil
}

func (f *fakeRuntime) WaitHealthy(ctx context.Context, containerID string, timeout, interval time.Duration) bool {
	return !f.unhealthy[containerID]
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.removed = append(f.removed, containerID)
	return nil
}

// fakeRouter is an in-memory stand-in for edgeRouter.
type fakeRouter struct {
	programmed []router.Route
	removed    []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{}
}

func (f *fakeRouter) Program(route router.Route) error {
	f.programmed = append(f.programmed, route)
	return nil
}

func (f *fakeRouter) Remove(containerName string) error {
	f.removed = append(f.removed, containerName)
	return nil
}
