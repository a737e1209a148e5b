package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/perpintel/internal/core"
)

// statusOf maps an error kind to an HTTP status. Unknown errors are 500.
func statusOf(err error) int {
	switch core.KindOf(err) {
	case core.KindValidationFailure, core.KindUnknownInterval:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindVersionConflict:
		return http.StatusConflict
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindInsufficientData, core.KindUnreliable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the typed error payload. Context attached to the
// error (the current version on a conflict, for one) rides along so
// clients can recover without a second round trip.
func respondError(c *gin.Context, err error) {
	body := gin.H{
		"error": err.Error(),
		"kind":  string(core.KindOf(err)),
	}
	var typed *core.Error
	if errors.As(err, &typed) && len(typed.Context) > 0 {
		body["context"] = typed.Context
	}
	c.JSON(statusOf(err), body)
}
