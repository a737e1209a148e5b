package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/metrics"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleAnalyze runs the pipeline for one symbol at one instant. No
// as_of_ms means now; a historical as_of_ms makes this a point-in-time
// replay under the active config.
func (s *Server) handleAnalyze(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondError(c, core.NewError(core.KindValidationFailure, "symbol query parameter is required"))
		return
	}

	var asOfMs int64
	if raw := c.Query("as_of_ms"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondError(c, core.NewError(core.KindValidationFailure, "as_of_ms must be a non-negative millisecond timestamp"))
			return
		}
		asOfMs = parsed
	}

	start := time.Now()
	state, err := s.runner.Run(c.Request.Context(), symbol, asOfMs, s.configs.Active())
	metrics.RecordPipelineRun(symbol, string(state.Final.Bias), len(state.Final.Warnings),
		float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		respondError(c, err)
		return
	}

	s.hub.Publish(state)
	c.JSON(http.StatusOK, state)
}
