package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/orchestrator"
	"github.com/adaptiveqa/browserpilot/storage"
)

// resolvePlan implements the "scenario|planId" union spec §6 describes
// for POST /execute and /execute-async: a planId loads an existing plan,
// a scenario synthesizes and persists a new one via the Planner. The
// scenario text recorded against the resulting Execution is whichever
// of the two the caller gave; when only planId is given, the plan's
// Name stands in for it, since a Plan does not retain the raw scenario
// text it was synthesized from.
func (s *Server) resolvePlan(c *gin.Context, req executeRequest) (storage.Plan, string, error) {
	switch {
	case req.PlanID != "":
		plan, err := s.store.GetPlan(c.Request.Context(), req.PlanID)
		if err != nil {
			return storage.Plan{}, "", err
		}
		if plan == nil {
			return storage.Plan{}, "", core.NewFrameworkErrorWithID("api.resolvePlan", "not_found", req.PlanID, core.ErrNotFound)
		}
		scenarioText := req.Scenario
		if scenarioText == "" {
			scenarioText = plan.Name
		}
		return *plan, scenarioText, nil

	case req.Scenario != "":
		plan, err := s.planner.Plan(c.Request.Context(), req.Scenario)
		if err != nil {
			return storage.Plan{}, "", err
		}
		return *plan, req.Scenario, nil

	default:
		return storage.Plan{}, "", core.NewFrameworkError("api.resolvePlan", "validation", fmt.Errorf("%w: scenario or planId is required", core.ErrValidation))
	}
}

func (s *Server) executionConfig(req executeRequest) orchestrator.Config {
	cfg := s.async.DefaultConfig()
	if req.FailFast != nil {
		cfg.FailFast = *req.FailFast
	}
	return cfg
}

// handleExecute implements POST /execute: synchronous run returning the
// full Report (spec §6).
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	plan, scenarioText, err := s.resolvePlan(c, req)
	if err != nil {
		writeError(c, err)
		return
	}

	report, _, err := s.async.RunSync(c.Request.Context(), scenarioText, plan, s.executionConfig(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleExecuteAsync implements POST /execute-async: returns
// {testId, scenarioId, status:"pending"} immediately (spec §6).
func (s *Server) handleExecuteAsync(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	plan, scenarioText, err := s.resolvePlan(c, req)
	if err != nil {
		writeError(c, err)
		return
	}

	testID, scenarioID, err := s.async.StartAsync(c.Request.Context(), scenarioText, plan, s.executionConfig(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, executeAsyncResponse{TestID: testID, ScenarioID: scenarioID, Status: string(storage.ExecutionPending)})
}

// handleGetStatus implements GET /get-status/{testId}.
func (s *Server) handleGetStatus(c *gin.Context) {
	testID := c.Param("testId")
	exec, err := s.store.GetExecution(c.Request.Context(), testID)
	if err != nil {
		writeError(c, err)
		return
	}
	if exec == nil {
		writeError(c, core.NewFrameworkErrorWithID("api.handleGetStatus", "not_found", testID, core.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, statusResponse{Execution: *exec, Progress: exec.Progress()})
}

// handleGetHistory implements GET /get-history/{scenarioId}: list of
// Executions descending by createdAt (spec §6).
func (s *Server) handleGetHistory(c *gin.Context) {
	scenarioID := c.Param("scenarioId")
	executions, err := s.store.GetExecutionsByScenario(c.Request.Context(), scenarioID)
	if err != nil {
		writeError(c, err)
		return
	}
	sort.Slice(executions, func(i, j int) bool { return executions[i].CreatedAt.After(executions[j].CreatedAt) })
	c.JSON(http.StatusOK, executions)
}

// handleGetLatest implements GET /get-latest/{scenarioId}.
func (s *Server) handleGetLatest(c *gin.Context) {
	scenarioID := c.Param("scenarioId")
	exec, err := s.store.LatestExecutionByScenario(c.Request.Context(), scenarioID)
	if err != nil {
		writeError(c, err)
		return
	}
	if exec == nil {
		writeError(c, core.NewFrameworkErrorWithID("api.handleGetLatest", "not_found", scenarioID, core.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, exec)
}

// handleDeleteExecution implements DELETE /executions/{testId}.
func (s *Server) handleDeleteExecution(c *gin.Context) {
	if err := s.store.DeleteExecution(c.Request.Context(), c.Param("testId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteAllExecutions implements DELETE /executions.
func (s *Server) handleDeleteAllExecutions(c *gin.Context) {
	if err := s.store.DeleteAllExecutions(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
