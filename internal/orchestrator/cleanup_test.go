package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveContainerStopsWithGraceRatherThanForceRemoving(t *testing.T) {
	rt := newFakeRuntime()
	rtr := newFakeRouter()
	o := &Orchestrator{rt: rt, router: rtr}

	o.removeContainer(context.Background(), &ContainerRecord{ID: "c1", Name: "app-blue-0"})

	assert.Equal(t, []string{"c1"}, rt.stopped)
	assert.Empty(t, rt.removed, "removeContainer must stop (which itself removes) rather than force-remove directly")
	assert.Equal(t, []string{"app-blue-0"}, rtr.removed)
}

func TestRemoveContainerIsNoOpOnEmptyRecord(t *testing.T) {
	rt := newFakeRuntime()
	rtr := newFakeRouter()
	o := &Orchestrator{rt: rt, router: rtr}

	o.removeContainer(context.Background(), &ContainerRecord{})

	assert.Empty(t, rt.stopped)
	assert.Empty(t, rtr.removed)
}

func TestCleanupContainerDelegatesToRemoveContainer(t *testing.T) {
	rt := newFakeRuntime()
	rtr := newFakeRouter()
	o := &Orchestrator{rt: rt, router: rtr}

	o.CleanupContainer(context.Background(), "c2", "app-green-1")

	assert.Equal(t, []string{"c2"}, rt.stopped)
	assert.Equal(t, []string{"app-green-1"}, rtr.removed)
}
