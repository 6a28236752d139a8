package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptiveqa/browserpilot/discovery"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/planner"
	"github.com/adaptiveqa/browserpilot/refinement"
	"github.com/adaptiveqa/browserpilot/storage"
	"github.com/adaptiveqa/browserpilot/verifier"
)

// fakeProvider answers RefinePlan, RefineNextStep, and Verifier calls
// from one collaborator, dispatching on the system prompt's wording so
// a single fake can back every LLM-backed collaborator an Orchestrator
// wires together.
type fakeProvider struct {
	refinePlanContent     string
	refineNextStepContent string
	verifyContent         string
}

func (f *fakeProvider) CreateChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (llm.ChatCompletionResponse, error) {
	system := ""
	if len(req.Messages) > 0 {
		system = req.Messages[0].Content
	}
	switch {
	case strings.Contains(system, "only the next step"):
		return llm.ChatCompletionResponse{Content: f.refineNextStepContent, Role: llm.RoleAssistant}, nil
	case strings.Contains(system, "refine a browser test plan"):
		return llm.ChatCompletionResponse{Content: f.refinePlanContent, Role: llm.RoleAssistant}, nil
	default:
		return llm.ChatCompletionResponse{Content: f.verifyContent, Role: llm.RoleAssistant}, nil
	}
}
func (f *fakeProvider) SupportsVision() bool                         { return false }
func (f *fakeProvider) SupportsJSONMode() bool                       { return true }
func (f *fakeProvider) ValidateConnection(ctx context.Context) error { return nil }
func (f *fakeProvider) GetAvailableModels() []string                 { return []string{"fake-model"} }

// fakeThresholds returns a fixed confidence threshold for every action.
type fakeThresholds struct {
	threshold float64
}

func (f fakeThresholds) GetThreshold(ctx context.Context, action string) float64 { return f.threshold }

// fakeExecutor is a minimal Executor: clicks on selector brokenSelector
// fail once, everything else succeeds.
type fakeExecutor struct {
	currentURL     string
	brokenSelector string
	validation     domextract.SelectorValidation
}

func (f *fakeExecutor) CurrentURL(ctx context.Context) (string, error) { return f.currentURL, nil }
func (f *fakeExecutor) QueryElements(ctx context.Context, selectors []string, includePosition bool) ([]domextract.RawElement, error) {
	return nil, nil
}
func (f *fakeExecutor) ValidateSelector(ctx context.Context, selector string) (domextract.SelectorValidation, error) {
	return f.validation, nil
}
func (f *fakeExecutor) Screenshot(ctx context.Context, quality int) ([]byte, error) { return nil, nil }
func (f *fakeExecutor) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return nil
}
func (f *fakeExecutor) Close(ctx context.Context) error { return nil }

func (f *fakeExecutor) Execute(ctx context.Context, action storage.Action) (storage.ExecutionResult, error) {
	switch action.Name {
	case "navigate":
		url, _ := action.Arguments["url"].(string)
		return storage.ExecutionResult{Status: storage.StepSuccess, Snapshot: storage.Snapshot{Metadata: storage.SnapshotMetadata{URL: url}}}, nil
	case "type":
		value, _ := action.Arguments["value"].(string)
		selector, _ := action.Arguments["selector"].(string)
		return storage.ExecutionResult{Status: storage.StepSuccess, Snapshot: storage.Snapshot{Metadata: storage.SnapshotMetadata{TypedValue: value, InputSelector: selector}}}, nil
	case "click":
		selector, _ := action.Arguments["selector"].(string)
		if f.brokenSelector != "" && selector == f.brokenSelector {
			return storage.ExecutionResult{Status: storage.StepError, Error: "no such element: " + selector}, nil
		}
		return storage.ExecutionResult{Status: storage.StepSuccess, Snapshot: storage.Snapshot{Metadata: storage.SnapshotMetadata{URL: f.currentURL}}}, nil
	default:
		return storage.ExecutionResult{Status: storage.StepSuccess}, nil
	}
}

// fakeDiscoverStrategy always resolves to a fixed selector/confidence.
type fakeDiscoverStrategy struct {
	result *discovery.Result
}

func (f *fakeDiscoverStrategy) Name() string { return "FAKE" }
func (f *fakeDiscoverStrategy) Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error) {
	return f.result, nil
}

func newOrchestrator(t *testing.T, executor *fakeExecutor, provider *fakeProvider, store storage.Storage, discoveryResult *discovery.Result, cfg Config) *Orchestrator {
	t.Helper()
	if store == nil {
		store = storage.NewMemory(nil)
	}
	engine := discovery.New(nil, &fakeDiscoverStrategy{result: discoveryResult})
	adaptive := planner.NewAdaptive(planner.AdaptiveOptions{Provider: provider, Store: store, Model: "fake-model"})
	verify := verifier.New(verifier.Options{Provider: provider, Model: "fake-model"})
	refine := refinement.New(nil,
		refinement.NavigationRefinement{},
		refinement.FailureRefinement{},
		refinement.PageChangeRefinement{},
		refinement.ConfidenceRefinement{Thresholds: fakeThresholds{threshold: 0.7}},
		refinement.ProactiveRefinement{},
	)
	return New(Options{
		Executor:   executor,
		Discovery:  engine,
		Adaptive:   adaptive,
		Verifier:   verify,
		Refinement: refine,
		Thresholds: fakeThresholds{threshold: 0.7},
		Extractor:  domextract.New(nil),
		Store:      store,
		Config:     cfg,
	})
}

func TestOrchestrator_Run_SuccessfulLinearRun(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-1",
		ScenarioID: store.GenerateScenarioID("log in"),
		Name:       "log in",
		Phase:      storage.PhaseInitial,
		Steps: []storage.Step{
			{ID: "step-1", Description: "go to login page", Action: storage.Action{Name: "navigate", Arguments: map[string]interface{}{"url": "http://example.com"}}},
			{ID: "step-2", Description: "type username", Action: storage.Action{Name: "type", Arguments: map[string]interface{}{"selector": "#input", "value": "hello"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{
		refinePlanContent: `{"steps":[{"id":"step-1","description":"go to login page","action":{"name":"navigate","arguments":{"url":"http://example.com"}}},{"id":"step-2","description":"type username","action":{"name":"type","arguments":{"selector":"#input","value":"hello"}}}]}`,
		refineNextStepContent: `{"step":{"id":"step-2","description":"type username","action":{"name":"type","arguments":{"selector":"#input","value":"hello"}}}}`,
	}
	executor := &fakeExecutor{currentURL: "http://example.com/page", validation: domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true}}

	orch := newOrchestrator(t, executor, provider, store, nil, DefaultConfig())

	var progressCalls int
	report, err := orch.Run(context.Background(), plan, "test-1", func(currentStep, totalSteps int, results []storage.ExecutionResult) {
		progressCalls++
	})
	require.NoError(t, err)
	assert.True(t, report.Summary.Success)
	require.Len(t, report.Results, 2)
	assert.Equal(t, storage.StepSuccess, report.Results[0].Status)
	assert.Equal(t, storage.StepSuccess, report.Results[1].Status)
	assert.True(t, report.Results[0].Verification.IsVerified)
	assert.True(t, report.Results[1].Verification.IsVerified)
	assert.Equal(t, 2, progressCalls)
}

func TestOrchestrator_Run_RecoversFromFailedStep(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-2",
		ScenarioID: store.GenerateScenarioID("click submit"),
		Name:       "click submit",
		Phase:      storage.PhaseRefined,
		Steps: []storage.Step{
			{ID: "step-1", Description: "click submit button", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#missing"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{verifyContent: `{"isVerified":true,"evidence":"button click registered"}`}
	executor := &fakeExecutor{
		currentURL:     "http://example.com/page",
		brokenSelector: "#missing",
		validation:     domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true},
	}
	discoveryResult := &discovery.Result{Selector: "#found", Confidence: 0.9, Strategy: "FAKE", Alternatives: []string{"#alt"}}

	orch := newOrchestrator(t, executor, provider, store, discoveryResult, DefaultConfig())

	report, err := orch.Run(context.Background(), plan, "test-2", nil)
	require.NoError(t, err)
	assert.True(t, report.Summary.Success)
	require.Len(t, report.Results, 1)
	assert.Equal(t, storage.StepSuccess, report.Results[0].Status)

	persisted, err := store.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseAdaptive, persisted.Phase)
	assert.Equal(t, "#found", persisted.Steps[0].Action.Arguments["selector"])
	require.Len(t, persisted.RefinementHistory, 1)
}

func TestOrchestrator_Run_FailFastStopsOnUnrecoverableFailure(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-3",
		ScenarioID: store.GenerateScenarioID("click submit"),
		Name:       "click submit",
		Phase:      storage.PhaseRefined,
		Steps: []storage.Step{
			{ID: "step-1", Description: "click submit button", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#missing"}}},
			{ID: "step-2", Description: "click confirm button", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#confirm"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{verifyContent: `{"isVerified":true,"evidence":"ok"}`}
	executor := &fakeExecutor{
		currentURL:     "http://example.com/page",
		brokenSelector: "#missing",
		validation:     domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true},
	}
	// Discovery never resolves above threshold, so recovery can't succeed.
	discoveryResult := &discovery.Result{Selector: "#found", Confidence: 0.1, Strategy: "FAKE"}

	orch := newOrchestrator(t, executor, provider, store, discoveryResult, Config{FailFast: true, NetworkIdleTimeout: DefaultConfig().NetworkIdleTimeout})

	report, err := orch.Run(context.Background(), plan, "test-3", nil)
	require.NoError(t, err)
	assert.False(t, report.Summary.Success)
	require.Len(t, report.Results, 1)
	assert.Equal(t, storage.StepError, report.Results[0].Status)
	assert.Contains(t, report.Summary.Reason, "step-1")
}

func TestOrchestrator_Run_ContinuesPastFailureWithoutFailFast(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-4",
		ScenarioID: store.GenerateScenarioID("click submit"),
		Name:       "click submit",
		Phase:      storage.PhaseRefined,
		Steps: []storage.Step{
			{ID: "step-1", Description: "click submit button", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#missing"}}},
			{ID: "step-2", Description: "click confirm button", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#confirm"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{verifyContent: `{"isVerified":true,"evidence":"ok"}`}
	executor := &fakeExecutor{
		currentURL:     "http://example.com/page",
		brokenSelector: "#missing",
		validation:     domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true},
	}
	discoveryResult := &discovery.Result{Selector: "#found", Confidence: 0.1, Strategy: "FAKE"}

	orch := newOrchestrator(t, executor, provider, store, discoveryResult, Config{FailFast: false, NetworkIdleTimeout: DefaultConfig().NetworkIdleTimeout})

	report, err := orch.Run(context.Background(), plan, "test-4", nil)
	require.NoError(t, err)
	assert.False(t, report.Summary.Success)
	require.Len(t, report.Results, 2)
	assert.Equal(t, storage.StepError, report.Results[0].Status)
	assert.Equal(t, storage.StepSuccess, report.Results[1].Status)
}

func TestOrchestrator_Run_ProactiveRefinementRemovesRedundantRevealStep(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-5",
		ScenarioID: store.GenerateScenarioID("reveal and submit"),
		Name:       "reveal and submit",
		Phase:      storage.PhaseRefined,
		Steps: []storage.Step{
			{ID: "step-1", Description: "click to reveal form", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#reveal"}}},
			{ID: "step-2", Description: "type email", Action: storage.Action{Name: "type", Arguments: map[string]interface{}{"selector": "#email", "value": "a@b.com"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{verifyContent: `{"isVerified":true,"evidence":"ok"}`}
	executor := &fakeExecutor{
		currentURL: "http://example.com/page",
		// The email input is already present, so revealing the form is a no-op.
		validation: domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true},
	}

	orch := newOrchestrator(t, executor, provider, store, nil, Config{ProactiveRefinement: true, NetworkIdleTimeout: DefaultConfig().NetworkIdleTimeout})

	report, err := orch.Run(context.Background(), plan, "test-5", nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "step-2", report.Results[0].StepID)
	assert.True(t, report.Summary.Success)
}

func TestOrchestrator_Run_CancelledContextStopsAtStepBoundary(t *testing.T) {
	store := storage.NewMemory(nil)
	plan := storage.Plan{
		ID:         "plan-6",
		ScenarioID: store.GenerateScenarioID("two clicks"),
		Name:       "two clicks",
		Phase:      storage.PhaseRefined,
		Steps: []storage.Step{
			{ID: "step-1", Description: "click first", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#first"}}},
			{ID: "step-2", Description: "click second", Action: storage.Action{Name: "click", Arguments: map[string]interface{}{"selector": "#second"}}},
		},
	}
	require.NoError(t, store.SavePlan(context.Background(), plan))

	provider := &fakeProvider{verifyContent: `{"isVerified":true,"evidence":"ok"}`}
	executor := &fakeExecutor{currentURL: "http://example.com/page", validation: domextract.SelectorValidation{Exists: true, IsUnique: true, IsVisible: true}}

	orch := newOrchestrator(t, executor, provider, store, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.Run(ctx, plan, "test-6", nil)
	require.NoError(t, err)
	assert.False(t, report.Summary.Success)
	assert.Equal(t, "cancelled", report.Summary.Reason)
	assert.Empty(t, report.Results)
}
