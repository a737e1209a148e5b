package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/metrics"
	"github.com/quantfall/perpintel/internal/replay"
)

type singleReplayRequest struct {
	Symbol string `json:"symbol"`
	AsOfMs int64  `json:"as_of_ms"`
}

// handleReplaySingle replays one historical instant synchronously and
// returns the state without persisting it.
func (s *Server) handleReplaySingle(c *gin.Context) {
	var req singleReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid replay body"))
		return
	}
	if req.Symbol == "" || req.AsOfMs <= 0 {
		respondError(c, core.NewError(core.KindValidationFailure, "symbol and a positive as_of_ms are required"))
		return
	}

	state, err := s.orch.Single(c.Request.Context(), req.Symbol, req.AsOfMs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleReplayBatch(c *gin.Context) {
	var req replay.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid batch body"))
		return
	}

	batch, err := s.orch.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, batch)
}

func (s *Server) handleReplayStatus(c *gin.Context) {
	batch, err := s.orch.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleReplayResults(c *gin.Context) {
	records, err := s.orch.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "results": records})
}

func (s *Server) handleReplayPause(c *gin.Context) {
	if err := s.orch.Pause(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pausing"})
}

func (s *Server) handleReplayResume(c *gin.Context) {
	if err := s.orch.Resume(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resuming"})
}

func (s *Server) handleReplayDelete(c *gin.Context) {
	if err := s.orch.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type labelRequest struct {
	BatchID string      `json:"batch_id"`
	Horizon core.Bucket `json:"horizon"`
}

// handleReplayLabel grades the still-pending records of a batch against
// realized prices.
func (s *Server) handleReplayLabel(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid label body"))
		return
	}
	if req.BatchID == "" {
		respondError(c, core.NewError(core.KindValidationFailure, "batch_id is required"))
		return
	}

	batch, err := s.orch.Status(c.Request.Context(), req.BatchID)
	if err != nil {
		respondError(c, err)
		return
	}
	horizon := req.Horizon
	if horizon == "" {
		horizon = batch.Horizon
	}

	cfg, err := s.configs.GetVersion(batch.ConfigVersion)
	if err != nil {
		respondError(c, err)
		return
	}

	records, err := s.labeler.LabelBatch(c.Request.Context(), req.BatchID, horizon, cfg)
	if err != nil {
		respondError(c, err)
		return
	}

	labeled := 0
	for _, rec := range records {
		if rec.OutcomeLabel != core.OutcomePending {
			labeled++
			metrics.RecordOutcomeLabel(rec.OutcomeLabel)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id": req.BatchID,
		"total":    len(records),
		"labeled":  labeled,
		"results":  records,
	})
}

// handleScoreboard aggregates labeled outcomes by regime, scenario, and
// bias. An optional symbol filter narrows the sample.
func (s *Server) handleScoreboard(c *gin.Context) {
	records, err := s.states.AllLabeled(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay.BuildScoreboard(records))
}
