package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/metrics"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.configs.Active())
}

type updateConfigRequest struct {
	Config         engineconfig.PipelineConfig `json:"config"`
	BasedOnVersion int                         `json:"based_on_version"`
}

// handleUpdateConfig applies a proposed config through optimistic
// concurrency. A stale based_on_version yields 409 with the current
// version in the error context.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid config update body"))
		return
	}

	applied, err := s.configs.Update(c.Request.Context(), req.Config, req.BasedOnVersion)
	if err != nil {
		metrics.RecordConfigUpdateFailure(err)
		respondError(c, err)
		return
	}

	metrics.SetConfigVersion(applied.Version)
	c.JSON(http.StatusOK, applied)
}

// handleValidateConfig dry-runs structural and bounded-delta validation
// against the active config without applying anything.
func (s *Server) handleValidateConfig(c *gin.Context) {
	var proposed engineconfig.PipelineConfig
	if err := c.ShouldBindJSON(&proposed); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid config body"))
		return
	}

	if err := engineconfig.Validate(proposed); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error(), "kind": string(core.KindOf(err))})
		return
	}
	if err := engineconfig.ValidateDelta(s.configs.Active(), proposed); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error(), "kind": string(core.KindOf(err))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (s *Server) handleConfigHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_version": s.configs.ActiveVersion(),
		"history":        s.configs.History(),
	})
}

type rollbackRequest struct {
	Version int `json:"version"`
}

func (s *Server) handleRollbackConfig(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "invalid rollback body"))
		return
	}

	applied, err := s.configs.Rollback(c.Request.Context(), req.Version)
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.SetConfigVersion(applied.Version)
	c.JSON(http.StatusOK, applied)
}

func (s *Server) handleExportConfig(c *gin.Context) {
	format := engineconfig.ExportFormat(c.DefaultQuery("format", "json"))

	payload, err := s.configs.Export(format)
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := "application/json"
	if format == engineconfig.FormatYAML {
		contentType = "application/yaml"
	}
	c.Data(http.StatusOK, contentType, payload)
}

func (s *Server) handleImportConfig(c *gin.Context) {
	format := engineconfig.ExportFormat(c.DefaultQuery("format", "json"))

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, core.WrapError(core.KindValidationFailure, err, "reading import body"))
		return
	}

	result, err := s.configs.Import(c.Request.Context(), payload, format, "api")
	if err != nil {
		metrics.RecordConfigUpdateFailure(err)
		respondError(c, err)
		return
	}

	if result.Applied {
		metrics.SetConfigVersion(result.NewVersion)
	}
	c.JSON(http.StatusOK, result)
}
