// Package api exposes deploy-core's HTTP surface: health, live deployment
// event streams over SSE, historical event queries, a manual rollback
// trigger, and prometheus scraping.
package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/obtura/deploy-core/internal/events"
	"github.com/obtura/deploy-core/internal/orchestrator"
)

// Server wires the component packages the HTTP handlers call into behind a
// gin engine.
type Server struct {
	db     *sql.DB
	orch   *orchestrator.Orchestrator
	broker *events.Broker
	log    zerolog.Logger

	engine *gin.Engine
}

func New(db *sql.DB, orch *orchestrator.Orchestrator, broker *events.Broker, log zerolog.Logger) *Server {
	s := &Server{db: db, orch: orch, broker: broker, log: log}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), ginLogger(log))
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(cors)

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deployments := s.engine.Group("/api/deployments")
	deployments.GET("/:deploymentId/logs/stream", s.handleLogStream)
	deployments.GET("/:deploymentId/logs", s.handleLogHistory)
	deployments.POST("/:deploymentId/rollback", s.handleRollback)
}

// cors allows any origin: the dashboard and the API are served from
// different origins and SSE needs the preflight to succeed.
func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func ginLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}
