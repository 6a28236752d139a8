package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/adaptiveqa/browserpilot/core"
)

const visionStrategyName = "VISION_AI"

// Engine runs every registered Strategy and aggregates their results
// per spec §4.7's algorithm.
type Engine struct {
	strategies []Strategy
	logger     core.Logger
}

// New builds an Engine over the given strategies, run in registration
// order for the vision-first short-circuit and in parallel otherwise.
func New(logger core.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/discovery")
	}
	return &Engine{strategies: strategies, logger: logger}
}

func (e *Engine) visionStrategy() Strategy {
	for _, s := range e.strategies {
		if s.Name() == visionStrategyName {
			return s
		}
	}
	return nil
}

// Discover resolves req to a selector, aggregating every strategy's
// contribution (spec §4.7). Returns a FrameworkError wrapping
// core.ErrDiscoveryFailure, naming every attempted strategy, if none
// succeeds.
func (e *Engine) Discover(ctx context.Context, req Request) (*Result, error) {
	if len(e.strategies) == 0 {
		return nil, core.NewFrameworkError("discovery.Discover", "discovery_failure",
			fmt.Errorf("%w: no strategies registered", core.ErrDiscoveryFailure))
	}

	semantic := isSemanticConcept(req.Description)

	if semantic {
		if vision := e.visionStrategy(); vision != nil {
			result, err := e.run(ctx, vision, req)
			if err != nil {
				e.logger.WarnWithContext(ctx, "vision discovery strategy failed", map[string]interface{}{"error": err.Error()})
			} else if result != nil {
				return e.finalize(result, []runOutcome{{strategy: vision.Name(), result: result}})
			}
		}
	}

	outcomes := e.runAll(ctx, req)
	successes := make([]runOutcome, 0, len(outcomes))
	attempted := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		attempted = append(attempted, o.strategy)
		if o.result != nil {
			successes = append(successes, o)
		}
	}

	if len(successes) == 0 {
		return nil, core.NewFrameworkError("discovery.Discover", "discovery_failure",
			fmt.Errorf("%w: no strategy resolved a selector (attempted: %s)", core.ErrDiscoveryFailure, strings.Join(attempted, ", ")))
	}

	sortBySemanticThenConfidence(successes, semantic)
	return e.finalize(successes[0].result, successes)
}

type runOutcome struct {
	strategy string
	result   *Result
}

func (e *Engine) run(ctx context.Context, s Strategy, req Request) (*Result, error) {
	return s.Discover(ctx, req)
}

// runAll executes every strategy concurrently; a strategy's own error is
// logged and treated as "no result", never aborting the others (spec
// §4.7: "failures from an individual strategy are logged but do not
// poison others").
func (e *Engine) runAll(ctx context.Context, req Request) []runOutcome {
	outcomes := make([]runOutcome, len(e.strategies))
	var wg sync.WaitGroup
	for i, s := range e.strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			result, err := s.Discover(ctx, req)
			if err != nil {
				e.logger.WarnWithContext(ctx, "discovery strategy failed", map[string]interface{}{
					"strategy": s.Name(),
					"error":    err.Error(),
				})
				result = nil
			}
			outcomes[i] = runOutcome{strategy: s.Name(), result: result}
		}(i, s)
	}
	wg.Wait()
	return outcomes
}

// sortBySemanticThenConfidence orders successes so that, for semantic
// concepts, VISION_AI results sort first; ties (and the non-semantic
// case) break by descending confidence (spec §4.7 step 3).
func sortBySemanticThenConfidence(successes []runOutcome, semantic bool) {
	sort.SliceStable(successes, func(i, j int) bool {
		if semantic {
			iVision := successes[i].strategy == visionStrategyName
			jVision := successes[j].strategy == visionStrategyName
			if iVision != jVision {
				return iVision
			}
		}
		return successes[i].result.Confidence > successes[j].result.Confidence
	})
}

// finalize builds the returned Result: the winner's selector is primary,
// and the union of every successful strategy's selector+alternatives
// (minus the primary) becomes the alternatives list (spec §4.7 step 4).
func (e *Engine) finalize(winner *Result, successes []runOutcome) (*Result, error) {
	seen := map[string]bool{winner.Selector: true}
	alternatives := make([]string, 0)
	for _, o := range successes {
		candidates := append([]string{o.result.Selector}, o.result.Alternatives...)
		for _, c := range candidates {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			alternatives = append(alternatives, c)
		}
	}

	out := *winner
	out.Alternatives = alternatives
	return &out, nil
}

// FindAlternatives re-runs discovery as a click and returns
// [primary, ...alternatives] with failedSelector removed (spec §4.7's
// findAlternatives).
func (e *Engine) FindAlternatives(ctx context.Context, failedSelector, description string) ([]string, error) {
	result, err := e.Discover(ctx, Request{Description: description, ActionType: "click"})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Alternatives)+1)
	if result.Selector != failedSelector {
		out = append(out, result.Selector)
	}
	for _, alt := range result.Alternatives {
		if alt != failedSelector {
			out = append(out, alt)
		}
	}
	return out, nil
}
