package refinement

import (
	"context"
	"sort"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/storage"
)

// Engine holds an ordered list of strategies and picks the winning
// decision for a step (spec §4.10).
type Engine struct {
	strategies []Strategy
	logger     core.Logger
}

// New builds an Engine. Strategy order does not affect the decision
// (selection is by confidence then priority), only tie-break stability.
func New(logger core.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/refinement")
	}
	return &Engine{strategies: strategies, logger: logger}
}

// candidate pairs a strategy's name with the decision it produced.
type candidate struct {
	name     string
	decision Decision
}

// ShouldRefine asks every strategy, filters to ShouldRefine=true, and
// returns the top decision by descending confidence then descending
// priority. If none fire, it returns a "no refinement" decision (spec
// §4.10). The winning strategy's name is returned alongside for
// refinementHistory attribution.
func (e *Engine) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, string, error) {
	var candidates []candidate
	for _, strategy := range e.strategies {
		decision, err := strategy.ShouldRefine(ctx, step, plan, rctx)
		if err != nil {
			e.logger.WarnWithContext(ctx, "refinement strategy errored, skipping", map[string]interface{}{
				"strategy": strategy.Name(),
				"step_id":  step.ID,
				"error":    err.Error(),
			})
			continue
		}
		if decision.ShouldRefine {
			candidates = append(candidates, candidate{name: strategy.Name(), decision: decision})
		}
	}

	if len(candidates) == 0 {
		return Decision{ShouldRefine: false, Reason: "no refinement"}, "", nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].decision.Confidence != candidates[j].decision.Confidence {
			return candidates[i].decision.Confidence > candidates[j].decision.Confidence
		}
		return candidates[i].decision.Priority > candidates[j].decision.Priority
	})

	top := candidates[0]
	return top.decision, top.name, nil
}
