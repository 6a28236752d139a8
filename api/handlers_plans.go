package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/storage"
)

// handlePlan implements POST /plan: a dry-run plan synthesis with no
// execution attached (spec §6).
func (s *Server) handlePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Scenario == "" {
		writeError(c, core.NewFrameworkError("api.handlePlan", "validation", fmt.Errorf("%w: scenario is required", core.ErrValidation)))
		return
	}

	plan, err := s.planner.Plan(c.Request.Context(), req.Scenario)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// handleListPlans implements GET /list-plans.
func (s *Server) handleListPlans(c *gin.Context) {
	plans, err := s.store.ListPlans(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

// handleGetPlan implements GET /get-plan/{planId}.
func (s *Server) handleGetPlan(c *gin.Context) {
	planID := c.Param("planId")
	plan, err := s.store.GetPlan(c.Request.Context(), planID)
	if err != nil {
		writeError(c, err)
		return
	}
	if plan == nil {
		writeError(c, core.NewFrameworkErrorWithID("api.handleGetPlan", "not_found", planID, core.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, plan)
}

// handleUpdatePlan implements PUT /plans/{planId}. id/scenarioId/
// createdAt are never accepted from the request body (spec §4.1
// invariant 4); the store enforces this regardless.
func (s *Server) handleUpdatePlan(c *gin.Context) {
	planID := c.Param("planId")
	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	update := storage.PlanUpdate{
		Name:              req.Name,
		Phase:             req.Phase,
		Steps:             req.Steps,
		RefinementHistory: req.RefinementHistory,
	}
	if err := s.store.UpdatePlan(c.Request.Context(), planID, update); err != nil {
		writeError(c, err)
		return
	}

	plan, err := s.store.GetPlan(c.Request.Context(), planID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// handleDeletePlan implements DELETE /plans/{planId}.
func (s *Server) handleDeletePlan(c *gin.Context) {
	if err := s.store.DeletePlan(c.Request.Context(), c.Param("planId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteAllPlans implements DELETE /plans.
func (s *Server) handleDeleteAllPlans(c *gin.Context) {
	if err := s.store.DeleteAllPlans(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
