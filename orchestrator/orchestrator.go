package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/discovery"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/planner"
	"github.com/adaptiveqa/browserpilot/refinement"
	"github.com/adaptiveqa/browserpilot/storage"
	"github.com/adaptiveqa/browserpilot/verifier"
)

var tracer = otel.Tracer("browserpilot/orchestrator")

// ProgressFunc is invoked after every completed step (spec §4.11/§4.12).
type ProgressFunc func(currentStep, totalSteps int, results []storage.ExecutionResult)

// Config tunes orchestration behavior (spec §5, §6's PROACTIVE_REFINEMENT
// and failFast request flags).
type Config struct {
	FailFast             bool
	ProactiveRefinement  bool
	NetworkIdleTimeout   time.Duration
}

// DefaultConfig returns the bounded network-idle wait (spec §5).
func DefaultConfig() Config {
	return Config{NetworkIdleTimeout: 5 * time.Second}
}

// Options wires an Orchestrator's collaborators (spec §4.11: "given an
// initial plan, a browser executor, the ElementDiscovery service, the
// AdaptivePlanner, the Verifier, and optional Storage/config services").
type Options struct {
	Executor   Executor
	Discovery  *discovery.Engine
	Adaptive   *planner.AdaptivePlanner
	Verifier   *verifier.Verifier
	Refinement *refinement.Engine
	Thresholds refinement.ThresholdProvider
	Extractor  *domextract.Extractor
	Store      storage.Storage
	Config     Config
	Logger     core.Logger
}

// Orchestrator is the adaptive per-step execution core (spec §4.11).
type Orchestrator struct {
	executor   Executor
	discovery  *discovery.Engine
	adaptive   *planner.AdaptivePlanner
	verifier   *verifier.Verifier
	refinement *refinement.Engine
	thresholds refinement.ThresholdProvider
	extractor  *domextract.Extractor
	store      storage.Storage
	config     Config
	logger     core.Logger
}

// New builds an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/orchestrator")
	}
	cfg := opts.Config
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = DefaultConfig().NetworkIdleTimeout
	}
	return &Orchestrator{
		executor:   opts.Executor,
		discovery:  opts.Discovery,
		adaptive:   opts.Adaptive,
		verifier:   opts.Verifier,
		refinement: opts.Refinement,
		thresholds: opts.Thresholds,
		extractor:  opts.Extractor,
		store:      opts.Store,
		config:     cfg,
		logger:     logger,
	}
}

// Run executes plan step by step, refining and recovering as needed,
// and returns the final Report (spec §4.11).
func (o *Orchestrator) Run(ctx context.Context, plan storage.Plan, testID string, onProgress ProgressFunc) (storage.Report, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("test.id", testID),
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.step_count", len(plan.Steps)),
	))
	defer span.End()

	startTime := time.Now()
	defer o.cleanup(ctx)

	removed := make(map[string]bool)
	results := make([]storage.ExecutionResult, 0, len(plan.Steps))
	previousPageURL := ""
	success := true
	reason := ""

	index := 0
	for index < len(plan.Steps) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			success = false
			reason = "cancelled"
			break
		}

		step := plan.Steps[index]
		if removed[step.ID] {
			index++
			continue
		}

		currentURL, _ := o.executor.CurrentURL(ctx)
		pageChanged := previousPageURL != "" && currentURL != previousPageURL

		if o.config.ProactiveRefinement && o.unnecessaryReveal(ctx, step) {
			removed[step.ID] = true
			index++
			continue
		}

		rctx := refinement.Context{
			Page:                o.executor,
			ExecutedSteps:       results,
			CurrentStepIndex:    index,
			TotalSteps:          len(plan.Steps),
			PreviousRefinements: plan.RefinementHistory,
			PageURL:             currentURL,
			PreviousPageURL:     previousPageURL,
			PageChanged:         pageChanged,
		}

		decision, _, err := o.refinement.ShouldRefine(ctx, step, plan, rctx)
		if err != nil {
			return o.failReport(plan, results, startTime, fmt.Errorf("refinement decision failed: %w", err))
		}

		if decision.ShouldRefine {
			if pageChanged || step.Action.Name == "navigate" {
				_ = o.executor.WaitForNetworkIdle(ctx, o.config.NetworkIdleTimeout)
			}

			domSummary := o.extractor.Extract(ctx, o.executor, domextract.DefaultOptions())
			newPlan, err := o.adaptive.RefinePlan(ctx, plan, domSummary, results)
			if err != nil {
				return o.failReport(plan, results, startTime, fmt.Errorf("refine plan failed: %w", err))
			}
			for _, id := range removedStepIDs(plan, newPlan) {
				removed[id] = true
			}
			plan = newPlan
			if removed[step.ID] {
				index++
				continue
			}
			refreshed, ok := stepByID(plan, step.ID)
			if !ok {
				removed[step.ID] = true
				index++
				continue
			}
			step = refreshed
		}

		result := o.executeStep(ctx, step)
		result.StepID = step.ID
		result.Description = step.Description

		if result.Status != storage.StepSuccess {
			decision2, _, err2 := o.refinement.ShouldRefine(ctx, step, plan, withResult(rctx, result))
			if err2 == nil && decision2.ShouldRefine && o.attemptRecovery(ctx, &step, result, &plan) {
				result = o.executeStep(ctx, step)
				result.StepID = step.ID
				result.Description = step.Description
			}
			if result.Status != storage.StepSuccess {
				results = append(results, result)
				success = false
				reason = fmt.Sprintf("step %q failed: %s", step.ID, result.Error)
				if onProgress != nil {
					onProgress(index+1, len(plan.Steps), results)
				}
				previousPageURL = currentURL
				if o.config.FailFast {
					return o.buildReport(plan, results, startTime, success, reason), nil
				}
				index++
				continue
			}
		}

		verification, err := o.verifyResult(ctx, step, result)
		if err != nil {
			return o.failReport(plan, results, startTime, fmt.Errorf("verification failed: %w", err))
		}
		result.Verification = &verification
		results = append(results, result)

		if !verification.IsVerified {
			success = false
			reason = fmt.Sprintf("step %q not verified: %s", step.ID, verification.Evidence)
			if onProgress != nil {
				onProgress(index+1, len(plan.Steps), results)
			}
			previousPageURL = currentURL
			if o.config.FailFast {
				return o.buildReport(plan, results, startTime, success, reason), nil
			}
			index++
			continue
		}

		if index+1 < len(plan.Steps) {
			domSummary := o.extractor.Extract(ctx, o.executor, domextract.DefaultOptions())
			newPlan, removedIDs, err := o.adaptive.RefineNextStep(ctx, plan, domSummary, results, index+1, testID)
			if err == nil {
				plan = newPlan
				for _, id := range removedIDs {
					removed[id] = true
				}
			} else {
				o.logger.WarnWithContext(ctx, "refine next step failed, continuing with existing plan", map[string]interface{}{"error": err.Error()})
			}
		}

		if onProgress != nil {
			onProgress(index+1, len(plan.Steps), results)
		}
		previousPageURL = currentURL
		index++
	}

	return o.buildReport(plan, results, startTime, success, reason), nil
}

func (o *Orchestrator) executeStep(ctx context.Context, step storage.Step) storage.ExecutionResult {
	ctx, span := tracer.Start(ctx, "orchestrator.executeStep", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.action", step.Action.Name),
	))
	defer span.End()

	result, err := o.executor.Execute(ctx, step.Action)
	if err != nil {
		span.RecordError(err)
		return storage.ExecutionResult{StepID: step.ID, Description: step.Description, Status: storage.StepError, Error: err.Error()}
	}
	span.SetAttributes(attribute.String("step.status", string(result.Status)))
	return result
}

func (o *Orchestrator) verifyResult(ctx context.Context, step storage.Step, result storage.ExecutionResult) (storage.Verification, error) {
	if step.Assertion != nil {
		verifications, err := o.verifier.VerifyAssertions(ctx, []storage.Assertion{*step.Assertion}, result)
		if err != nil {
			return storage.Verification{}, err
		}
		return verifications[0], nil
	}
	return o.verifier.VerifyStep(ctx, step, result)
}

func withResult(rctx refinement.Context, result storage.ExecutionResult) refinement.Context {
	rctx.StepResult = &result
	return rctx
}

func stepByID(plan storage.Plan, id string) (storage.Step, bool) {
	for _, s := range plan.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return storage.Step{}, false
}

// removedStepIDs returns the IDs present in before but absent from
// after (spec §4.11's "removed ∪= stepsRemoved(plan → plan')").
func removedStepIDs(before, after storage.Plan) []string {
	afterIDs := make(map[string]bool, len(after.Steps))
	for _, s := range after.Steps {
		afterIDs[s.ID] = true
	}
	var removed []string
	for _, s := range before.Steps {
		if !afterIDs[s.ID] {
			removed = append(removed, s.ID)
		}
	}
	return removed
}

func (o *Orchestrator) buildReport(plan storage.Plan, results []storage.ExecutionResult, startTime time.Time, success bool, reason string) storage.Report {
	return storage.Report{
		ScenarioID: plan.ScenarioID,
		PlanID:     plan.ID,
		Results:    results,
		Summary: storage.ReportSummary{
			StartTime: startTime,
			EndTime:   time.Now(),
			Success:   success,
			Reason:    reason,
		},
	}
}

func (o *Orchestrator) failReport(plan storage.Plan, results []storage.ExecutionResult, startTime time.Time, err error) (storage.Report, error) {
	o.logger.ErrorWithContext(context.Background(), "orchestrator run failed", map[string]interface{}{"error": err.Error()})
	return o.buildReport(plan, results, startTime, false, err.Error()), err
}

// cleanup releases the executor on every exit path; failures here are
// logged and non-fatal (spec §4.11).
func (o *Orchestrator) cleanup(ctx context.Context) {
	if o.executor == nil {
		return
	}
	if err := o.executor.Close(ctx); err != nil {
		o.logger.WarnWithContext(ctx, "executor cleanup failed", map[string]interface{}{"error": err.Error()})
	}
}
