package orchestrator

import (
	"context"

	"github.com/adaptiveqa/browserpilot/discovery"
	"github.com/adaptiveqa/browserpilot/refinement"
	"github.com/adaptiveqa/browserpilot/storage"
)

// maxRecoveryRetries mirrors FailureRefinement's ceiling (spec §4.11:
// "stop if retryCount ≥ 2").
const maxRecoveryRetries = 2

const defaultThresholdAction = "default"

// attemptRecovery rediscovers step's target element and, if confident
// enough, rewrites the step and adapts the plan (spec §4.11).
func (o *Orchestrator) attemptRecovery(ctx context.Context, step *storage.Step, failure storage.ExecutionResult, plan *storage.Plan) bool {
	if step.RetryCount >= maxRecoveryRetries {
		return false
	}

	description := recoveryDescription(*step)
	result, err := o.discovery.Discover(ctx, discovery.Request{
		Description: description,
		ActionType:  step.Action.Name,
		Session:     o.executor,
	})
	if err != nil || result == nil {
		o.logger.WarnWithContext(ctx, "recovery discovery found nothing", map[string]interface{}{
			"step_id": step.ID,
			"error":   errorString(err),
		})
		return false
	}

	threshold := 0.7
	if o.thresholds != nil {
		threshold = o.thresholds.GetThreshold(ctx, defaultThresholdAction)
	}
	if result.Confidence < threshold {
		o.logger.WarnWithContext(ctx, "recovery discovery below confidence threshold", map[string]interface{}{
			"step_id":    step.ID,
			"confidence": result.Confidence,
			"threshold":  threshold,
		})
		return false
	}

	if step.Action.Arguments == nil {
		step.Action.Arguments = map[string]interface{}{}
	}
	step.Action.Arguments["selector"] = result.Selector
	step.Action.Arguments["confidence"] = result.Confidence
	step.Action.Arguments["alternatives"] = result.Alternatives
	step.RetryCount++

	newPlan, err := o.adaptive.AdaptPlan(ctx, *plan, *step, failure)
	if err != nil {
		o.logger.WarnWithContext(ctx, "adapt plan failed", map[string]interface{}{"step_id": step.ID, "error": err.Error()})
		return false
	}
	*plan = newPlan
	if refreshed, ok := stepByID(*plan, step.ID); ok {
		*step = refreshed
	}
	return true
}

func recoveryDescription(step storage.Step) string {
	if d, ok := step.Action.Arguments["description"].(string); ok && d != "" {
		return d
	}
	if s, ok := step.Action.Arguments["selector"].(string); ok && s != "" {
		return s
	}
	return step.Description
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// unnecessaryReveal reports whether step is a click intended to reveal
// a form whose target is already visible on the page (spec §4.11).
func (o *Orchestrator) unnecessaryReveal(ctx context.Context, step storage.Step) bool {
	if step.Action.Name != "click" {
		return false
	}
	if !refinement.IsRevealFormStep(step.Description) {
		return false
	}
	return refinement.FormTargetPresent(ctx, o.executor)
}
