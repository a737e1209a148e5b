// Package api exposes the engine over HTTP: on-demand analysis, config
// versioning, replay control, and a websocket feed of produced states.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/metrics"
	"github.com/quantfall/perpintel/internal/replay"
)

// Server is the REST API server.
type Server struct {
	router  *gin.Engine
	runner  replay.Runner
	configs *engineconfig.Store
	orch    *replay.Orchestrator
	labeler *replay.Labeler
	states  replay.StateStore
	hub     *Hub
	health  func(ctx context.Context) error
	addr    string
	server  *http.Server
}

// Config contains server wiring. Health may be nil when no database is
// configured.
type Config struct {
	Host    string
	Port    int
	Runner  replay.Runner
	Configs *engineconfig.Store
	Replay  *replay.Orchestrator
	Labeler *replay.Labeler
	States  replay.StateStore
	Health  func(ctx context.Context) error
}

// NewServer creates the API server and registers all routes.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:  router,
		runner:  config.Runner,
		configs: config.Configs,
		orch:    config.Replay,
		labeler: config.Labeler,
		states:  config.States,
		hub:     NewHub(),
		health:  config.Health,
		addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
	}
	s.setupRoutes()
	return s
}

// Hub returns the websocket hub so the analysis loop can publish states.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	s.hub.Close()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request through zerolog.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}

// metricsMiddleware records request counts and latency per route template,
// keeping label cardinality bounded regardless of path parameters.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	}
}
