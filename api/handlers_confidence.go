package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adaptiveqa/browserpilot/confidence"
	"github.com/adaptiveqa/browserpilot/core"
)

// knownActionTypes gates PUT/DELETE /confidence-thresholds/{actionType}
// against spec §7's "invalid actionType" ValidationError; GET accepts
// any action name since confidence.Service.GetThreshold already falls
// back to the default bucket for unknown actions.
var knownActionTypes = map[string]bool{
	confidence.ActionClick:   true,
	confidence.ActionType:    true,
	confidence.ActionHover:   true,
	confidence.ActionVerify:  true,
	confidence.ActionDefault: true,
}

func validateActionType(actionType string) error {
	if !knownActionTypes[actionType] {
		return core.NewFrameworkError("api.validateActionType", "validation",
			fmt.Errorf("%w: unknown actionType %q", core.ErrValidation, actionType))
	}
	return nil
}

// handleListThresholds implements GET /confidence-thresholds.
func (s *Server) handleListThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, s.confidence.GetAllThresholds(c.Request.Context()))
}

// handleGetThreshold implements GET /confidence-thresholds/{actionType}.
func (s *Server) handleGetThreshold(c *gin.Context) {
	actionType := c.Param("actionType")
	c.JSON(http.StatusOK, gin.H{"actionType": actionType, "threshold": s.confidence.GetThreshold(c.Request.Context(), actionType)})
}

// handleSetThreshold implements PUT /confidence-thresholds/{actionType}.
func (s *Server) handleSetThreshold(c *gin.Context) {
	actionType := c.Param("actionType")
	if err := validateActionType(actionType); err != nil {
		writeError(c, err)
		return
	}

	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Value == nil {
		writeError(c, core.NewFrameworkError("api.handleSetThreshold", "validation", fmt.Errorf("%w: value is required", core.ErrValidation)))
		return
	}

	if err := s.confidence.SetThreshold(c.Request.Context(), actionType, *req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actionType": actionType, "threshold": *req.Value})
}

// handleDeleteThreshold implements DELETE /confidence-thresholds/{actionType}.
func (s *Server) handleDeleteThreshold(c *gin.Context) {
	actionType := c.Param("actionType")
	if err := validateActionType(actionType); err != nil {
		writeError(c, err)
		return
	}
	if err := s.confidence.DeleteThreshold(c.Request.Context(), actionType); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteAllThresholds implements DELETE /confidence-thresholds.
func (s *Server) handleDeleteAllThresholds(c *gin.Context) {
	if err := s.confidence.DeleteAllThresholds(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
