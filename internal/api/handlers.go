package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/obtura/deploy-core/internal/events"
)

// handleLogStream upgrades to SSE and relays every events.Broker message
// published for this deployment until the broker sends a CompleteMessage
// or the client disconnects, whichever comes first.
func (s *Server) handleLogStream(c *gin.Context) {
	deploymentID := c.Param("deploymentId")
	if deploymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deployment id is required"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	client := make(chan interface{}, 10)
	s.broker.Subscribe(deploymentID, client)
	defer s.broker.Unsubscribe(deploymentID, client)

	c.SSEvent("connected", gin.H{"deploymentId": deploymentID, "message": "connected to deployment logs"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().Unix()})
			c.Writer.Flush()

		case msg, ok := <-client:
			if !ok {
				return
			}
			name, data, err := encodeSSE(msg)
			if err != nil {
				s.log.Warn().Err(err).Msg("encoding sse message")
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data)
			c.Writer.Flush()
			if name == "complete" {
				return
			}
		}
	}
}

// encodeSSE maps one of events.Broker's published message types to the SSE
// event name the dashboard listens for.
func encodeSSE(msg interface{}) (string, []byte, error) {
	var name string
	switch msg.(type) {
	case events.LogMessage:
		name = "log"
	case events.PhaseMessage:
		name = "phase"
	case events.ContainerMessage:
		name = "container"
	case events.TrafficMessage:
		name = "traffic"
	case events.CompleteMessage:
		name = "complete"
	default:
		return "", nil, fmt.Errorf("unrecognized broker message type %T", msg)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// handleLogHistory serves the deployment_events rows events.Broker already
// persisted, so a dashboard opened after the fact still has a timeline.
func (s *Server) handleLogHistory(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT event_type, event_message, severity, created_at
		FROM deployment_events
		WHERE deployment_id = $1
		ORDER BY created_at ASC
	`, deploymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch deployment logs"})
		return
	}
	defer rows.Close()

	logs := []gin.H{}
	for rows.Next() {
		var eventType, message, severity string
		var createdAt time.Time
		if err := rows.Scan(&eventType, &message, &severity, &createdAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read deployment logs"})
			return
		}
		logs = append(logs, gin.H{
			"log_type":   severity,
			"message":    message,
			"event_type": eventType,
			"created_at": createdAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleRollback drives the deployment back to a prior build via
// internal/orchestrator.Rollback, chosen by target_deployment_id in the
// request body.
func (s *Server) handleRollback(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	var body struct {
		TargetDeploymentID string `json:"target_deployment_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.TargetDeploymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_deployment_id is required"})
		return
	}

	if err := s.orch.Rollback(c.Request.Context(), deploymentID, body.TargetDeploymentID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployment_id":        deploymentID,
		"target_deployment_id": body.TargetDeploymentID,
		"status":               "rolled_back",
	})
}
