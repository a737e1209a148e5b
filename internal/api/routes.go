package api

import (
	"github.com/gin-gonic/gin"

	"github.com/quantfall/perpintel/internal/metrics"
)

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", func(c *gin.Context) {
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})
	s.router.GET("/ws/state", s.handleStateFeed)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/analyze", s.handleAnalyze)

		cfg := v1.Group("/config")
		{
			cfg.GET("", s.handleGetConfig)
			cfg.PUT("", s.handleUpdateConfig)
			cfg.POST("/validate", s.handleValidateConfig)
			cfg.GET("/history", s.handleConfigHistory)
			cfg.POST("/rollback", s.handleRollbackConfig)
			cfg.GET("/export", s.handleExportConfig)
			cfg.POST("/import", s.handleImportConfig)
		}

		rp := v1.Group("/replay")
		{
			rp.POST("/single", s.handleReplaySingle)
			rp.POST("/batch", s.handleReplayBatch)
			rp.GET("/status/:id", s.handleReplayStatus)
			rp.GET("/results/:id", s.handleReplayResults)
			rp.POST("/pause/:id", s.handleReplayPause)
			rp.POST("/resume/:id", s.handleReplayResume)
			rp.DELETE("/batch/:id", s.handleReplayDelete)
			rp.POST("/label", s.handleReplayLabel)
			rp.GET("/scoreboard", s.handleScoreboard)
		}
	}
}
