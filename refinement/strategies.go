package refinement

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptiveqa/browserpilot/storage"
)

const refinementRecencyWindow = 5 * time.Second

// maxFailureRefinementRetries mirrors attemptRecovery's own retry
// ceiling (spec §4.11): a step that has already failed twice is left
// to fail rather than refined again.
const maxFailureRefinementRetries = 2

// NavigationRefinement fires once per plan, right after an initial-phase
// navigate step that has subsequent interaction steps (spec §4.10).
type NavigationRefinement struct{}

func (NavigationRefinement) Name() string { return "NavigationRefinement" }

func (NavigationRefinement) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error) {
	if step.Action.Name != "navigate" {
		return Decision{}, nil
	}
	if plan.Phase != storage.PhaseInitial {
		return Decision{}, nil
	}
	if lastRefinementBy(rctx.PreviousRefinements, "NavigationRefinement", "") != nil {
		return Decision{}, nil
	}
	if rctx.CurrentStepIndex+1 >= len(plan.Steps) {
		return Decision{}, nil
	}
	hasInteraction := false
	for _, s := range plan.Steps[rctx.CurrentStepIndex+1:] {
		if isInteraction(s.Action.Name) {
			hasInteraction = true
			break
		}
	}
	if !hasInteraction {
		return Decision{}, nil
	}
	return Decision{
		ShouldRefine: true,
		Reason:       "navigation step precedes interaction steps; DOM must be refined against the loaded page",
		Priority:     100,
		Confidence:   0.95,
	}, nil
}

// FailureRefinement fires when the current step just failed, is
// interactive, hasn't exhausted its retries, and hasn't been refined in
// the last 5s (spec §4.10).
type FailureRefinement struct{}

func (FailureRefinement) Name() string { return "FailureRefinement" }

func (FailureRefinement) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error) {
	if rctx.StepResult == nil || rctx.StepResult.Status == storage.StepSuccess {
		return Decision{}, nil
	}
	if !isInteraction(step.Action.Name) {
		return Decision{}, nil
	}
	if step.RetryCount >= maxFailureRefinementRetries {
		return Decision{}, nil
	}
	if refinedWithin(rctx.PreviousRefinements, "FailureRefinement", step.ID, refinementRecencyWindow, time.Now()) {
		return Decision{}, nil
	}
	return Decision{
		ShouldRefine: true,
		Reason:       fmt.Sprintf("step %q failed: %s", step.ID, rctx.StepResult.Error),
		Priority:     95,
		Confidence:   0.9,
	}, nil
}

// PageChangeRefinement fires when the page navigated unexpectedly
// (outside an explicit navigate step) and the step is interactive (spec
// §4.10).
type PageChangeRefinement struct{}

func (PageChangeRefinement) Name() string { return "PageChangeRefinement" }

func (PageChangeRefinement) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error) {
	if !rctx.PageChanged {
		return Decision{}, nil
	}
	if !isInteraction(step.Action.Name) {
		return Decision{}, nil
	}
	for _, entry := range rctx.PreviousRefinements {
		if entry.Strategy == "PageChangeRefinement" && entry.Reason == pageChangeReason(rctx.PageURL) {
			return Decision{}, nil
		}
	}
	return Decision{
		ShouldRefine: true,
		Reason:       pageChangeReason(rctx.PageURL),
		Priority:     90,
		Confidence:   0.85,
	}, nil
}

func pageChangeReason(url string) string {
	return fmt.Sprintf("page changed to %s", url)
}

// ConfidenceRefinement fires when the step's recorded discovery
// confidence is below the action's threshold and it hasn't been
// refined recently; it raises its own decision confidence to 0.9 when
// the selector is absent or invalid, since that case is especially
// likely to need rediscovery (spec §4.10).
type ConfidenceRefinement struct {
	Thresholds ThresholdProvider
}

func (ConfidenceRefinement) Name() string { return "ConfidenceRefinement" }

func (c ConfidenceRefinement) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error) {
	if step.ElementDiscovery == nil {
		return Decision{}, nil
	}
	threshold := 0.7
	if c.Thresholds != nil {
		threshold = c.Thresholds.GetThreshold(ctx, step.Action.Name)
	}
	if step.ElementDiscovery.Confidence >= threshold {
		return Decision{}, nil
	}
	if refinedWithin(rctx.PreviousRefinements, "ConfidenceRefinement", step.ID, refinementRecencyWindow, time.Now()) {
		return Decision{}, nil
	}

	confidence := 0.75
	reason := fmt.Sprintf("step %q confidence %.2f below threshold %.2f", step.ID, step.ElementDiscovery.Confidence, threshold)
	if selectorAbsentOrInvalid(step) {
		confidence = 0.9
		reason += "; selector absent or invalid, raising refinement confidence"
	}

	return Decision{ShouldRefine: true, Reason: reason, Priority: 80, Confidence: confidence}, nil
}

// ProactiveRefinement fires when a step's selector is absent/invalid,
// or the step reveals a form whose target is already present on the
// page — in the latter case the step is a no-op and should be removed,
// so this strategy bumps its own priority by 10, from 70 to 80 (spec
// §4.10).
type ProactiveRefinement struct{}

func (ProactiveRefinement) Name() string { return "ProactiveRefinement" }

func (ProactiveRefinement) ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error) {
	invalidSelector := selectorAbsentOrInvalid(step)
	redundantReveal := IsRevealFormStep(step.Description) && FormTargetPresent(ctx, rctx.Page)

	if !invalidSelector && !redundantReveal {
		return Decision{}, nil
	}

	if redundantReveal {
		return Decision{
			ShouldRefine: true,
			Reason:       fmt.Sprintf("step %q reveals a form whose target is already present; marking for removal", step.ID),
			Priority:     80,
			Confidence:   0.7,
		}, nil
	}

	return Decision{
		ShouldRefine: true,
		Reason:       fmt.Sprintf("step %q selector absent or fails validation", step.ID),
		Priority:     70,
		Confidence:   0.7,
	}, nil
}
