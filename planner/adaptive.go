package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/storage"
)

const refinePlanSystemPrompt = `You refine a browser test plan given the live page DOM and the results of steps already executed. Respond with JSON only: {"steps": [{"id": string, "description": string, "action": {"name": string, "arguments": object}, "assertion": {"target": string, "operation": string, "value": string}}]}. You may drop or rewrite steps that no longer make sense for the current page; keep the ids of any step you are not changing.`

const refineNextStepSystemPrompt = `You refine only the next step of a browser test plan given the live page DOM and the results of steps already executed. Respond with JSON only: {"step": {"id": string, "description": string, "action": {"name": string, "arguments": object}, "assertion": {"target": string, "operation": string, "value": string}} | null}. Return null if the step should be removed entirely.`

// AdaptivePlanner refines a Plan against the live DOM as execution
// proceeds (spec §4.8).
type AdaptivePlanner struct {
	provider llm.Provider
	store    storage.Storage
	model    string
	logger   core.Logger
}

// AdaptiveOptions configures AdaptivePlanner.
type AdaptiveOptions struct {
	Provider llm.Provider
	Store    storage.Storage
	Model    string
	Logger   core.Logger
}

// NewAdaptive builds an AdaptivePlanner.
func NewAdaptive(opts AdaptiveOptions) *AdaptivePlanner {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/planner/adaptive")
	}
	return &AdaptivePlanner{provider: opts.Provider, store: opts.Store, model: opts.Model, logger: logger}
}

// nextPhase advances a plan's phase for a refinement op: initial moves
// to refined; refined and adaptive are left as-is (spec §4.8: "once
// refined, stays refined or becomes adaptive on recovery" — recovery is
// AdaptPlan's concern, not a plain refinement).
func nextPhase(current storage.PlanPhase) storage.PlanPhase {
	if current == storage.PhaseInitial {
		return storage.PhaseRefined
	}
	return current
}

// RefinePlan asks the LLM to rewrite the plan's remaining steps given
// the live DOM and results executed so far (spec §4.8).
func (a *AdaptivePlanner) RefinePlan(ctx context.Context, plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult) (storage.Plan, error) {
	raw, err := a.callRefine(ctx, refinePlanSystemPrompt, plan, domSummary, executedResults)
	if err != nil {
		return storage.Plan{}, err
	}

	steps, err := parsePlanResponse(raw)
	if err != nil {
		return storage.Plan{}, err
	}

	newPhase := nextPhase(plan.Phase)
	entry := storage.RefinementEntry{Timestamp: time.Now(), Reason: "refine_plan", Strategy: "llm_refine"}

	if err := a.store.UpdatePlan(ctx, plan.ID, storage.PlanUpdate{
		Phase:             &newPhase,
		Steps:             steps,
		RefinementHistory: []storage.RefinementEntry{entry},
	}); err != nil {
		return storage.Plan{}, err
	}

	plan.Phase = newPhase
	plan.Steps = steps
	plan.RefinementHistory = append(plan.RefinementHistory, entry)
	return plan, nil
}

// RefineNextStep refines only plan.Steps[nextIndex], which is cheaper
// than RefinePlan's whole-plan pass. Returns the updated plan and the
// IDs of any steps removed (spec §4.8).
func (a *AdaptivePlanner) RefineNextStep(ctx context.Context, plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult, nextIndex int, testID string) (storage.Plan, []string, error) {
	if nextIndex < 0 || nextIndex >= len(plan.Steps) {
		return plan, nil, core.NewFrameworkError("planner.RefineNextStep", "validation",
			fmt.Errorf("%w: step index %d out of range", core.ErrValidation, nextIndex))
	}

	raw, err := a.callRefineNextStep(ctx, plan, domSummary, executedResults, nextIndex)
	if err != nil {
		return plan, nil, err
	}

	var response struct {
		Step *planStepResponse `json:"step"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &response); jsonErr != nil {
		return plan, nil, core.NewFrameworkError("planner.RefineNextStep", "validation",
			fmt.Errorf("%w: %v", core.ErrValidation, jsonErr))
	}

	newSteps := append([]storage.Step{}, plan.Steps...)
	var removedIDs []string

	if response.Step == nil {
		removedIDs = append(removedIDs, newSteps[nextIndex].ID)
		newSteps = append(newSteps[:nextIndex], newSteps[nextIndex+1:]...)
	} else {
		newSteps[nextIndex] = storage.Step{
			ID:          response.Step.ID,
			Description: response.Step.Description,
			Action:      storage.Action{Name: response.Step.Action.Name, Arguments: response.Step.Action.Arguments},
		}
		if response.Step.Assertion != nil {
			newSteps[nextIndex].Assertion = &storage.Assertion{
				Target:    response.Step.Assertion.Target,
				Operation: response.Step.Assertion.Operation,
				Value:     response.Step.Assertion.Value,
			}
		}
	}

	newPhase := nextPhase(plan.Phase)
	entry := storage.RefinementEntry{StepID: plan.Steps[nextIndex].ID, Timestamp: time.Now(), Reason: "refine_next_step", Strategy: "llm_refine"}

	if err := a.store.UpdatePlan(ctx, plan.ID, storage.PlanUpdate{
		Phase:             &newPhase,
		Steps:             newSteps,
		RefinementHistory: []storage.RefinementEntry{entry},
	}); err != nil {
		return plan, nil, err
	}

	plan.Phase = newPhase
	plan.Steps = newSteps
	plan.RefinementHistory = append(plan.RefinementHistory, entry)
	return plan, removedIDs, nil
}

// AdaptPlan persists failedStep (whose selector/confidence/alternatives
// the caller — orchestrator.attemptRecovery — has already rewritten
// from a fresh ElementDiscovery result) into plan and moves it into
// phase adaptive (spec §4.8's recovery path, spec §4.11's
// attemptRecovery: "Call ElementDiscovery... Update the step's
// arguments... call AdaptivePlanner.adaptPlan, persist").
func (a *AdaptivePlanner) AdaptPlan(ctx context.Context, plan storage.Plan, failedStep storage.Step, failureResult storage.ExecutionResult) (storage.Plan, error) {
	newSteps := append([]storage.Step{}, plan.Steps...)
	found := false
	for i := range newSteps {
		if newSteps[i].ID != failedStep.ID {
			continue
		}
		newSteps[i] = failedStep
		found = true
		break
	}
	if !found {
		return storage.Plan{}, core.NewFrameworkError("planner.AdaptPlan", "not_found",
			fmt.Errorf("%w: step %s not in plan %s", core.ErrNotFound, failedStep.ID, plan.ID))
	}

	strategy := ""
	if failedStep.ElementDiscovery != nil {
		strategy = failedStep.ElementDiscovery.Strategy
	}

	adaptivePhase := storage.PhaseAdaptive
	entry := storage.RefinementEntry{
		StepID:    failedStep.ID,
		Timestamp: time.Now(),
		Reason:    fmt.Sprintf("recovery: %s", failureResult.Error),
		Strategy:  strategy,
	}

	if err := a.store.UpdatePlan(ctx, plan.ID, storage.PlanUpdate{
		Phase:             &adaptivePhase,
		Steps:             newSteps,
		RefinementHistory: []storage.RefinementEntry{entry},
	}); err != nil {
		return storage.Plan{}, err
	}

	plan.Phase = adaptivePhase
	plan.Steps = newSteps
	plan.RefinementHistory = append(plan.RefinementHistory, entry)
	return plan, nil
}

func (a *AdaptivePlanner) callRefine(ctx context.Context, systemPrompt string, plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult) (string, error) {
	prompt, err := renderRefinePrompt(plan, domSummary, executedResults)
	if err != nil {
		return "", err
	}
	resp, err := a.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	if err != nil {
		return "", core.NewFrameworkError("planner.refine", "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return resp.Content, nil
}

func (a *AdaptivePlanner) callRefineNextStep(ctx context.Context, plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult, nextIndex int) (string, error) {
	prompt, err := renderRefineNextStepPrompt(plan, domSummary, executedResults, nextIndex)
	if err != nil {
		return "", err
	}
	resp, err := a.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: refineNextStepSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	if err != nil {
		return "", core.NewFrameworkError("planner.refineNextStep", "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return resp.Content, nil
}

func renderRefinePrompt(plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult) (string, error) {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return "", err
	}
	resultsJSON, err := json.Marshal(executedResults)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Current steps:\n%s\n\nExecuted results:\n%s\n\nCurrent DOM summary:\n%s", stepsJSON, resultsJSON, domSummary), nil
}

func renderRefineNextStepPrompt(plan storage.Plan, domSummary string, executedResults []storage.ExecutionResult, nextIndex int) (string, error) {
	stepJSON, err := json.Marshal(plan.Steps[nextIndex])
	if err != nil {
		return "", err
	}
	resultsJSON, err := json.Marshal(executedResults)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Next step:\n%s\n\nExecuted results so far:\n%s\n\nCurrent DOM summary:\n%s", stepJSON, resultsJSON, domSummary), nil
}
