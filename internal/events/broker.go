// Package events fans deployment activity out to SSE subscribers and
// appends it to deployment_events/deployment_alerts, so a client that
// connects after the fact still sees history via internal/api's
// historical-logs endpoint.
package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogMessage is a free-form status line.
type LogMessage struct {
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	DeploymentID string    `json:"deploymentId"`
}

// PhaseMessage mirrors a strategystate.Phase transition.
type PhaseMessage struct {
	Phase        string                 `json:"phase"`
	Message      string                 `json:"message"`
	Timestamp    time.Time              `json:"timestamp"`
	DeploymentID string                 `json:"deploymentId"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ContainerMessage reports a container lifecycle/health change.
type ContainerMessage struct {
	ContainerID   string    `json:"containerId"`
	ContainerName string    `json:"containerName"`
	Status        string    `json:"status"`
	Health        string    `json:"health"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	DeploymentID  string    `json:"deploymentId"`
	Group         string    `json:"group"`
}

// TrafficMessage reports a router cutover.
type TrafficMessage struct {
	RoutingGroup      string    `json:"routingGroup"`
	TrafficPercentage int       `json:"trafficPercentage"`
	Message           string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
	DeploymentID      string    `json:"deploymentId"`
}

// CompleteMessage is the terminal message for a deployment's event stream;
// Broker closes every subscriber's channel shortly after sending it.
type CompleteMessage struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	DeploymentID string    `json:"deploymentId"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

type subscription struct {
	deploymentID string
	client       chan interface{}
}

// Broker is an in-process SSE fan-out keyed by deployment ID, backed by a
// single goroutine so subscriber maps never need their own lock ordering
// with the publish path.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]map[chan interface{}]bool

	newClients chan subscription
	closing    chan subscription
	messages   chan interface{}

	db  *sql.DB
	log zerolog.Logger
}

func NewBroker(db *sql.DB, log zerolog.Logger) *Broker {
	b := &Broker{
		clients:    make(map[string]map[chan interface{}]bool),
		newClients: make(chan subscription),
		closing:    make(chan subscription),
		messages:   make(chan interface{}, 100),
		db:         db,
		log:        log,
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	for {
		select {
		case sub := <-b.newClients:
			b.mu.Lock()
			if b.clients[sub.deploymentID] == nil {
				b.clients[sub.deploymentID] = make(map[chan interface{}]bool)
			}
			b.clients[sub.deploymentID][sub.client] = true
			b.mu.Unlock()

		case sub := <-b.closing:
			b.mu.Lock()
			if clients, ok := b.clients[sub.deploymentID]; ok {
				delete(clients, sub.client)
				close(sub.client)
				if len(clients) == 0 {
					delete(b.clients, sub.deploymentID)
				}
			}
			b.mu.Unlock()

		case msg := <-b.messages:
			b.dispatch(msg)
		}
	}
}

func deploymentIDOf(msg interface{}) string {
	switch m := msg.(type) {
	case LogMessage:
		return m.DeploymentID
	case PhaseMessage:
		return m.DeploymentID
	case ContainerMessage:
		return m.DeploymentID
	case TrafficMessage:
		return m.DeploymentID
	case CompleteMessage:
		return m.DeploymentID
	default:
		return ""
	}
}

func (b *Broker) dispatch(msg interface{}) {
	deploymentID := deploymentIDOf(msg)

	b.mu.RLock()
	clients := b.clients[deploymentID]
	targets := make([]chan interface{}, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, client := range targets {
		select {
		case client <- msg:
		case <-time.After(100 * time.Millisecond):
			b.log.Warn().Str("deployment_id", deploymentID).Msg("SSE client timeout, dropping message")
		}
	}

	if _, ok := msg.(CompleteMessage); ok {
		time.AfterFunc(time.Second, func() { b.closeAll(deploymentID) })
	}
}

func (b *Broker) closeAll(deploymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients[deploymentID] {
		close(client)
	}
	delete(b.clients, deploymentID)
}

// Subscribe registers client for deploymentID's events. The caller must
// eventually call Unsubscribe with the same channel.
func (b *Broker) Subscribe(deploymentID string, client chan interface{}) {
	b.newClients <- subscription{deploymentID: deploymentID, client: client}
}

func (b *Broker) Unsubscribe(deploymentID string, client chan interface{}) {
	b.closing <- subscription{deploymentID: deploymentID, client: client}
}

func (b *Broker) publish(msg interface{}, deploymentID, eventType, message, severity string) {
	select {
	case b.messages <- msg:
	case <-time.After(100 * time.Millisecond):
		b.log.Warn().Str("deployment_id", deploymentID).Str("event_type", eventType).Msg("broker busy, dropping live update")
	}
	b.persist(deploymentID, eventType, message, severity)
}

func (b *Broker) persist(deploymentID, eventType, message, severity string) {
	if b.db == nil {
		return
	}
	_, err := b.db.Exec(`
		INSERT INTO deployment_events (deployment_id, event_type, event_message, severity)
		VALUES ($1, $2, $3, $4)
	`, deploymentID, eventType, message, severity)
	if err != nil {
		b.log.Error().Err(err).Str("deployment_id", deploymentID).Msg("persisting deployment event")
	}
}

func (b *Broker) PublishLog(deploymentID, logType, message string) {
	b.publish(LogMessage{Type: logType, Message: message, Timestamp: time.Now(), DeploymentID: deploymentID},
		deploymentID, "log", message, logType)
}

func (b *Broker) PublishPhase(deploymentID, phase, message string, metadata map[string]interface{}) {
	msg := PhaseMessage{Phase: phase, Message: message, Timestamp: time.Now(), DeploymentID: deploymentID, Metadata: metadata}
	persisted := fmt.Sprintf("phase: %s - %s", phase, message)
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			persisted = fmt.Sprintf("%s (metadata: %s)", persisted, raw)
		}
	}
	b.publish(msg, deploymentID, "phase", persisted, "info")
}

func (b *Broker) PublishContainerEvent(deploymentID, containerID, containerName, status, health, group, message string) {
	msg := ContainerMessage{
		ContainerID: containerID, ContainerName: containerName, Status: status, Health: health,
		Message: message, Timestamp: time.Now(), DeploymentID: deploymentID, Group: group,
	}
	severity := "info"
	if health == "unhealthy" {
		severity = "critical"
	}
	persisted := fmt.Sprintf("container %s (%s): %s - health=%s status=%s", containerName, group, message, health, status)
	b.publish(msg, deploymentID, "container", persisted, severity)
}

func (b *Broker) PublishTraffic(deploymentID, routingGroup string, trafficPercentage int, message string) {
	msg := TrafficMessage{RoutingGroup: routingGroup, TrafficPercentage: trafficPercentage, Message: message, Timestamp: time.Now(), DeploymentID: deploymentID}
	persisted := fmt.Sprintf("traffic: %d%% to %s - %s", trafficPercentage, routingGroup, message)
	b.publish(msg, deploymentID, "traffic", persisted, "info")
}

func (b *Broker) PublishComplete(deploymentID, status, message, errorMessage string) {
	msg := CompleteMessage{Status: status, Message: message, Timestamp: time.Now(), DeploymentID: deploymentID, ErrorMessage: errorMessage}
	severity := "info"
	if status == "failed" {
		severity = "critical"
	}
	persisted := fmt.Sprintf("deployment %s: %s", status, message)
	if errorMessage != "" {
		persisted = fmt.Sprintf("%s - error: %s", persisted, errorMessage)
	}
	b.publish(msg, deploymentID, "complete", persisted, severity)
}
