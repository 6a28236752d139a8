package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adaptiveqa/browserpilot/core"
)

// writeError maps a core error taxonomy (spec §7) onto an HTTP status
// and a {"error": "..."} body. Anything not recognized as validation,
// not-found, or transient/provider becomes a 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsValidation(err):
		status = http.StatusBadRequest
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsTransient(err) || errors.Is(err, core.ErrCircuitBreakerOpen) || errors.Is(err, core.ErrMaxRetriesExceeded):
		status = http.StatusServiceUnavailable
	case core.IsProviderError(err):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
