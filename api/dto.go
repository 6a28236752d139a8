package api

import "github.com/adaptiveqa/browserpilot/storage"

// executeRequest backs POST /execute and POST /execute-async (spec §6).
// Exactly one of Scenario/PlanID must be set.
type executeRequest struct {
	Scenario      string `json:"scenario"`
	PlanID        string `json:"planId"`
	ExecutionMode string `json:"executionMode"`
	FailFast      *bool  `json:"failFast"`
}

// executeAsyncResponse is the immediate reply to POST /execute-async.
type executeAsyncResponse struct {
	TestID     string `json:"testId"`
	ScenarioID string `json:"scenarioId"`
	Status     string `json:"status"`
}

// statusResponse is GET /get-status/{testId}'s body: the stored
// Execution plus its computed completion percentage.
type statusResponse struct {
	storage.Execution
	Progress int `json:"progress"`
}

// planRequest backs POST /plan.
type planRequest struct {
	Scenario string `json:"scenario"`
}

// updatePlanRequest backs PUT /plans/{planId}, mirroring
// storage.PlanUpdate's allow-list (spec §4.1 invariant 4: id/scenarioId/
// createdAt are never accepted here).
type updatePlanRequest struct {
	Name              *string                   `json:"name"`
	Phase             *storage.PlanPhase        `json:"phase"`
	Steps             []storage.Step            `json:"steps"`
	RefinementHistory []storage.RefinementEntry `json:"refinementHistory"`
}

// thresholdRequest backs PUT /confidence-thresholds/{actionType}.
type thresholdRequest struct {
	Value *float64 `json:"value"`
}
