// Package asyncexec runs an Orchestrator against a Plan in the
// background, tracking its lifecycle as a storage.Execution so callers
// can create a run, poll its progress, and cancel it, or block for the
// same Report synchronously (spec §4.12).
package asyncexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/orchestrator"
	"github.com/adaptiveqa/browserpilot/storage"
)

var tracer = otel.Tracer("browserpilot/asyncexec")

// ExecutorFactory builds the single BrowserSession/Executor a run will
// exclusively own for its lifetime (spec §5's shared-resource policy).
// The concrete browser driver lives outside this module's scope.
type ExecutorFactory func(ctx context.Context) (orchestrator.Executor, error)

// OrchestratorFactory wires a fresh Executor into an Orchestrator under
// cfg, reusing every other collaborator (discovery, planner, verifier,
// refinement, storage) across runs. cfg is threaded through on every
// call so a caller (the HTTP layer's failFast? request flag, spec §6)
// can override per-run behavior without rebuilding the Manager.
type OrchestratorFactory func(executor orchestrator.Executor, cfg orchestrator.Config) *orchestrator.Orchestrator

// Options configures a Manager.
type Options struct {
	Store           storage.Storage
	NewExecutor     ExecutorFactory
	NewOrchestrator OrchestratorFactory
	// DefaultConfig is used by callers that don't have a per-request
	// override; the zero value resolves to orchestrator.DefaultConfig().
	DefaultConfig orchestrator.Config
	Logger        core.Logger
}

// Manager starts and tracks background orchestrator runs (spec §4.12).
type Manager struct {
	store           storage.Storage
	newExecutor     ExecutorFactory
	newOrchestrator OrchestratorFactory
	defaultConfig   orchestrator.Config
	logger          core.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/asyncexec")
	}
	defaultConfig := opts.DefaultConfig
	if defaultConfig == (orchestrator.Config{}) {
		defaultConfig = orchestrator.DefaultConfig()
	}
	return &Manager{
		store:           opts.Store,
		newExecutor:     opts.NewExecutor,
		newOrchestrator: opts.NewOrchestrator,
		defaultConfig:   defaultConfig,
		logger:          logger,
		cancels:         make(map[string]context.CancelFunc),
	}
}

// DefaultConfig returns the Config a caller should start from before
// applying any per-request overrides.
func (m *Manager) DefaultConfig() orchestrator.Config { return m.defaultConfig }

// StartAsync creates a pending Execution for scenarioText, runs plan
// against it on a background goroutine, and returns immediately with
// the new testId/scenarioId (spec §4.12: "Creates an Execution
// (pending)... returns {testId, scenarioId}").
func (m *Manager) StartAsync(ctx context.Context, scenarioText string, plan storage.Plan, cfg orchestrator.Config) (testID, scenarioID string, err error) {
	testID, err = m.store.CreateExecution(ctx, scenarioText)
	if err != nil {
		return "", "", err
	}
	scenarioID = m.store.GenerateScenarioID(scenarioText)

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[testID] = cancel
	m.mu.Unlock()

	go func() {
		defer cancel()
		defer m.clearCancel(testID)
		m.run(runCtx, testID, plan, cfg)
	}()

	return testID, scenarioID, nil
}

// RunSync runs plan synchronously, tracking the same Execution lifecycle
// as StartAsync, and blocks until the run reaches a terminal state
// (spec §4.12: "A separate synchronous entry point blocks until
// terminal and returns the same Report").
func (m *Manager) RunSync(ctx context.Context, scenarioText string, plan storage.Plan, cfg orchestrator.Config) (storage.Report, string, error) {
	testID, err := m.store.CreateExecution(ctx, scenarioText)
	if err != nil {
		return storage.Report{}, "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[testID] = cancel
	m.mu.Unlock()
	defer cancel()
	defer m.clearCancel(testID)

	report := m.run(runCtx, testID, plan, cfg)
	return report, testID, nil
}

// Cancel stops testID's run at its next step boundary and moves its
// Execution to failed with reason "cancelled" (spec §5). Cancelling an
// unknown or already-terminal testId is a no-op.
func (m *Manager) Cancel(testID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[testID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) clearCancel(testID string) {
	m.mu.Lock()
	delete(m.cancels, testID)
	m.mu.Unlock()
}

// run drives one Execution through running -> completed/failed,
// reflecting every orchestrator progress callback into storage.
func (m *Manager) run(ctx context.Context, testID string, plan storage.Plan, cfg orchestrator.Config) storage.Report {
	ctx, span := tracer.Start(ctx, "asyncexec.run", trace.WithAttributes(
		attribute.String("test.id", testID),
		attribute.String("plan.id", plan.ID),
		attribute.String("scenario.id", plan.ScenarioID),
	))
	defer span.End()

	runningStatus := storage.ExecutionRunning
	totalSteps := len(plan.Steps)
	planID := plan.ID
	if err := m.store.UpdateExecution(ctx, testID, storage.ExecutionUpdate{
		Status:     &runningStatus,
		PlanID:     &planID,
		TotalSteps: &totalSteps,
	}); err != nil {
		m.logger.WarnWithContext(ctx, "failed to mark execution running", map[string]interface{}{"testId": testID, "error": err.Error()})
	}

	executor, err := m.newExecutor(ctx)
	if err != nil {
		span.RecordError(err)
		return m.finish(ctx, testID, plan, storage.Report{}, fmt.Errorf("acquire executor: %w", err))
	}

	orch := m.newOrchestrator(executor, cfg)
	report, err := orch.Run(ctx, plan, testID, func(currentStep, totalSteps int, results []storage.ExecutionResult) {
		m.onProgress(ctx, testID, currentStep, totalSteps, results)
	})
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("execution.success", report.Summary.Success))
	return m.finish(ctx, testID, plan, report, err)
}

func (m *Manager) onProgress(ctx context.Context, testID string, currentStep, totalSteps int, results []storage.ExecutionResult) {
	resultsCopy := append([]storage.ExecutionResult(nil), results...)
	if err := m.store.UpdateExecution(ctx, testID, storage.ExecutionUpdate{
		CurrentStep: &currentStep,
		TotalSteps:  &totalSteps,
		Results:     resultsCopy,
	}); err != nil {
		m.logger.WarnWithContext(ctx, "failed to record execution progress", map[string]interface{}{"testId": testID, "error": err.Error()})
	}
}

// finish records the run's terminal state. A context cancellation
// always wins over the reported outcome, matching spec §5's "move the
// Execution to failed with reason 'cancelled', and still run cleanup"
// (cleanup itself is the Orchestrator's own deferred executor.Close).
func (m *Manager) finish(ctx context.Context, testID string, plan storage.Plan, report storage.Report, runErr error) storage.Report {
	now := time.Now()
	status := storage.ExecutionCompleted
	reason := report.Summary.Reason
	errMsg := ""

	switch {
	case ctx.Err() != nil:
		status = storage.ExecutionFailed
		reason = "cancelled"
	case runErr != nil:
		status = storage.ExecutionFailed
		reason = runErr.Error()
		errMsg = runErr.Error()
	case !report.Summary.Success:
		status = storage.ExecutionFailed
	}

	update := storage.ExecutionUpdate{
		Status:      &status,
		ReportData:  &report,
		CompletedAt: &now,
	}
	if reason != "" {
		update.Reason = &reason
	}
	if errMsg != "" {
		update.Error = &errMsg
	}

	// Use a background context: the run's own context may already be
	// cancelled, but the terminal write must still land.
	if err := m.store.UpdateExecution(context.Background(), testID, update); err != nil {
		m.logger.WarnWithContext(context.Background(), "failed to record terminal execution state", map[string]interface{}{"testId": testID, "error": err.Error()})
	}

	return report
}
