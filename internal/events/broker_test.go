package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker() *Broker {
	return NewBroker(nil, zerolog.Nop())
}

func TestPublishLogReachesSubscriber(t *testing.T) {
	b := newTestBroker()
	client := make(chan interface{}, 4)
	b.Subscribe("dep-1", client)
	defer b.Unsubscribe("dep-1", client)

	b.PublishLog("dep-1", "info", "starting deployment")

	select {
	case msg := <-client:
		log, ok := msg.(LogMessage)
		require.True(t, ok)
		assert.Equal(t, "starting deployment", log.Message)
		assert.Equal(t, "dep-1", log.DeploymentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published log message")
	}
}

func TestSubscribersScopedByDeploymentID(t *testing.T) {
	b := newTestBroker()
	clientA := make(chan interface{}, 4)
	clientB := make(chan interface{}, 4)
	b.Subscribe("dep-a", clientA)
	b.Subscribe("dep-b", clientB)
	defer b.Unsubscribe("dep-a", clientA)
	defer b.Unsubscribe("dep-b", clientB)

	b.PublishLog("dep-a", "info", "only for dep-a")

	select {
	case msg := <-clientA:
		assert.Equal(t, "dep-a", msg.(LogMessage).DeploymentID)
	case <-time.After(time.Second):
		t.Fatal("dep-a subscriber never received its message")
	}

	select {
	case msg := <-clientB:
		t.Fatalf("dep-b subscriber unexpectedly received %v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPublishCompleteClosesSubscriberChannel(t *testing.T) {
	b := newTestBroker()
	client := make(chan interface{}, 4)
	b.Subscribe("dep-1", client)

	b.PublishComplete("dep-1", "active", "reached steady state", "")

	// drain the complete message itself
	<-client

	// Broker closes every subscriber's channel ~1s after a complete message.
	select {
	case _, ok := <-client:
		assert.False(t, ok, "channel should be closed after completion")
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never closed after completion")
	}
}
