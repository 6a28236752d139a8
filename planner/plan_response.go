package planner

import (
	"encoding/json"
	"fmt"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/storage"
)

// planResponse is the typed shape of an LLM plan response, decoded
// after schema validation (spec §4.8).
type planResponse struct {
	Steps []planStepResponse `json:"steps"`
}

type planStepResponse struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Action      actionResponse      `json:"action"`
	Assertion   *assertionResponse  `json:"assertion,omitempty"`
}

type actionResponse struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type assertionResponse struct {
	Target    string `json:"target"`
	Operation string `json:"operation"`
	Value     string `json:"value"`
}

// parsePlanResponse validates raw against the plan-response schema and
// decodes it into storage.Step values. A malformed response is a fatal
// error (spec §4.8), never retried by the caller.
func parsePlanResponse(raw string) ([]storage.Step, error) {
	if err := validatePlanResponseJSON(raw); err != nil {
		return nil, core.NewFrameworkError("planner.Plan", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}

	var doc planResponse
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, core.NewFrameworkError("planner.Plan", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}

	steps := make([]storage.Step, 0, len(doc.Steps))
	for _, s := range doc.Steps {
		step := storage.Step{
			ID:          s.ID,
			Description: s.Description,
			Action: storage.Action{
				Name:      s.Action.Name,
				Arguments: s.Action.Arguments,
			},
		}
		if s.Assertion != nil {
			step.Assertion = &storage.Assertion{
				Target:    s.Assertion.Target,
				Operation: s.Assertion.Operation,
				Value:     s.Assertion.Value,
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}
