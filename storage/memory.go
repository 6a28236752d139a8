package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/adaptiveqa/browserpilot/core"
)

// Memory is an in-process Storage backend: a map guarded by one RWMutex
// with secondary scenario indices kept alongside the primary records
// (grounded on core/memory_store.go's map+RWMutex+TTL-free record
// pattern, generalized to three entity kinds instead of one string
// cache).
type Memory struct {
	mu sync.RWMutex

	executions        map[string]Execution
	executionsByScene map[string][]string // scenarioID -> testIDs, newest last

	plans        map[string]Plan
	plansByScene map[string][]string // scenarioID -> planIDs

	config map[string]ConfigEntry

	idNode *snowflake.Node
	logger core.Logger
}

// NewMemory constructs an empty in-process store. A nil logger installs
// core.NoOpLogger.
func NewMemory(logger core.Logger) *Memory {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/storage")
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		// snowflake.NewNode only fails when the node bits overflow, which
		// cannot happen with a constant in-range node ID.
		panic(err)
	}
	return &Memory{
		executions:        make(map[string]Execution),
		executionsByScene: make(map[string][]string),
		plans:             make(map[string]Plan),
		plansByScene:      make(map[string][]string),
		config:            make(map[string]ConfigEntry),
		idNode:            node,
		logger:            logger,
	}
}

var _ Storage = (*Memory)(nil)

// GenerateScenarioID implements Storage.
func (m *Memory) GenerateScenarioID(text string) string { return GenerateScenarioID(text) }

func (m *Memory) CreateExecution(ctx context.Context, scenario string) (string, error) {
	testID := m.idNode.Generate().String()
	scenarioID := GenerateScenarioID(scenario)
	now := time.Now()

	m.mu.Lock()
	m.executions[testID] = Execution{
		TestID:     testID,
		ScenarioID: scenarioID,
		Scenario:   scenario,
		Status:     ExecutionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.executionsByScene[scenarioID] = append(m.executionsByScene[scenarioID], testID)
	m.mu.Unlock()

	m.logger.DebugWithContext(ctx, "execution created", map[string]interface{}{"testId": testID, "scenarioId": scenarioID})
	m.recordCounter("storage.execution.created")
	return testID, nil
}

func (m *Memory) GetExecution(ctx context.Context, testID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[testID]
	if !ok {
		return nil, nil
	}
	clone := exec.Clone()
	return &clone, nil
}

func (m *Memory) GetExecutionsByScenario(ctx context.Context, scenarioID string) ([]Execution, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.executionsByScene[scenarioID]...)
	result := make([]Execution, 0, len(ids))
	for _, id := range ids {
		if exec, ok := m.executions[id]; ok {
			result = append(result, exec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) LatestExecutionByScenario(ctx context.Context, scenarioID string) (*Execution, error) {
	list, err := m.GetExecutionsByScenario(ctx, scenarioID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (m *Memory) UpdateExecution(ctx context.Context, testID string, update ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[testID]
	if !ok {
		return core.NewFrameworkErrorWithID("storage.UpdateExecution", "not_found", testID, core.ErrNotFound)
	}
	if exec.IsTerminal() {
		m.logger.DebugWithContext(ctx, "ignoring update to terminal execution", map[string]interface{}{"testId": testID, "status": string(exec.Status)})
		return nil
	}

	if update.Status != nil {
		exec.Status = *update.Status
	}
	if update.PlanID != nil {
		exec.PlanID = *update.PlanID
	}
	if update.CurrentStep != nil {
		exec.CurrentStep = *update.CurrentStep
	}
	if update.TotalSteps != nil {
		exec.TotalSteps = *update.TotalSteps
	}
	if update.Results != nil {
		exec.Results = update.Results
	}
	if update.ReportData != nil {
		exec.ReportData = update.ReportData
	}
	if update.Error != nil {
		exec.Error = *update.Error
	}
	if update.Reason != nil {
		exec.Reason = *update.Reason
	}
	if update.CompletedAt != nil {
		exec.CompletedAt = update.CompletedAt
	}
	exec.UpdatedAt = time.Now()

	m.executions[testID] = exec
	m.logger.DebugWithContext(ctx, "execution updated", map[string]interface{}{"testId": testID, "status": string(exec.Status)})
	return nil
}

func (m *Memory) DeleteExecution(ctx context.Context, testID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[testID]
	if !ok {
		return core.NewFrameworkErrorWithID("storage.DeleteExecution", "not_found", testID, core.ErrNotFound)
	}
	delete(m.executions, testID)
	m.executionsByScene[exec.ScenarioID] = removeString(m.executionsByScene[exec.ScenarioID], testID)
	if len(m.executionsByScene[exec.ScenarioID]) == 0 {
		delete(m.executionsByScene, exec.ScenarioID)
	}
	return nil
}

func (m *Memory) ListExecutions(ctx context.Context) ([]Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Execution, 0, len(m.executions))
	for _, exec := range m.executions {
		result = append(result, exec.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) DeleteAllExecutions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = make(map[string]Execution)
	m.executionsByScene = make(map[string][]string)
	return nil
}

func (m *Memory) SavePlan(ctx context.Context, plan Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	m.mu.Lock()
	m.plans[plan.ID] = plan.Clone()
	if !containsString(m.plansByScene[plan.ScenarioID], plan.ID) {
		m.plansByScene[plan.ScenarioID] = append(m.plansByScene[plan.ScenarioID], plan.ID)
	}
	m.mu.Unlock()

	m.logger.DebugWithContext(ctx, "plan saved", map[string]interface{}{"planId": plan.ID, "scenarioId": plan.ScenarioID, "phase": string(plan.Phase)})
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[planID]
	if !ok {
		return nil, nil
	}
	clone := plan.Clone()
	return &clone, nil
}

func (m *Memory) ListPlans(ctx context.Context) ([]Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Plan, 0, len(m.plans))
	for _, plan := range m.plans {
		result = append(result, plan.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) GetPlansByScenario(ctx context.Context, scenarioID string) ([]Plan, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.plansByScene[scenarioID]...)
	result := make([]Plan, 0, len(ids))
	for _, id := range ids {
		if plan, ok := m.plans[id]; ok {
			result = append(result, plan.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) UpdatePlan(ctx context.Context, planID string, update PlanUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[planID]
	if !ok {
		return core.NewFrameworkErrorWithID("storage.UpdatePlan", "not_found", planID, core.ErrNotFound)
	}

	if update.Name != nil {
		plan.Name = *update.Name
	}
	if update.Phase != nil {
		plan.Phase = *update.Phase
	}
	if update.Steps != nil {
		plan.Steps = update.Steps
	}
	if update.RefinementHistory != nil {
		plan.RefinementHistory = append(plan.RefinementHistory, update.RefinementHistory...)
	}
	// id/scenarioId/createdAt are never touched here: PlanUpdate has no
	// fields for them, so there is nothing to reject.

	m.plans[planID] = plan
	return nil
}

func (m *Memory) DeletePlan(ctx context.Context, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[planID]
	if !ok {
		return core.NewFrameworkErrorWithID("storage.DeletePlan", "not_found", planID, core.ErrNotFound)
	}
	delete(m.plans, planID)
	m.plansByScene[plan.ScenarioID] = removeString(m.plansByScene[plan.ScenarioID], planID)
	if len(m.plansByScene[plan.ScenarioID]) == 0 {
		delete(m.plansByScene, plan.ScenarioID)
	}
	return nil
}

func (m *Memory) DeleteAllPlans(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = make(map[string]Plan)
	m.plansByScene = make(map[string][]string)
	return nil
}

func (m *Memory) GetConfig(ctx context.Context, key string) (*ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.config[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *Memory) SetConfig(ctx context.Context, key, value, description string) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.config[key]
	created := now
	if exists {
		created = entry.CreatedAt
	}
	m.config[key] = ConfigEntry{Key: key, Value: value, Description: description, CreatedAt: created, UpdatedAt: now}
	return nil
}

func (m *Memory) GetAllConfig(ctx context.Context, prefix string) ([]ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ConfigEntry, 0)
	for key, entry := range m.config {
		if strings.HasPrefix(key, prefix) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (m *Memory) DeleteConfig(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.config, key)
	return nil
}

func (m *Memory) DeleteAllConfig(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.config {
		if strings.HasPrefix(key, prefix) {
			delete(m.config, key)
		}
	}
	return nil
}

func (m *Memory) recordCounter(name string) {
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter(name)
	}
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
