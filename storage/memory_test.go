package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndGetExecution(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	testID, err := m.CreateExecution(ctx, "Navigate to example.com")
	require.NoError(t, err)
	require.NotEmpty(t, testID)

	exec, err := m.GetExecution(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, ExecutionPending, exec.Status)
	assert.Equal(t, GenerateScenarioID("Navigate to example.com"), exec.ScenarioID)
}

func TestMemory_GetExecution_MissingReturnsNilNotError(t *testing.T) {
	m := NewMemory(nil)
	exec, err := m.GetExecution(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, exec)
}

func TestMemory_UpdateExecution_PreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	testID, _ := m.CreateExecution(ctx, "scenario")

	before, _ := m.GetExecution(ctx, testID)

	status := ExecutionRunning
	require.NoError(t, m.UpdateExecution(ctx, testID, ExecutionUpdate{Status: &status}))

	after, _ := m.GetExecution(ctx, testID)
	assert.Equal(t, ExecutionRunning, after.Status)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestMemory_UpdateExecution_TerminalStateIsImmutable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	testID, _ := m.CreateExecution(ctx, "scenario")

	completed := ExecutionCompleted
	require.NoError(t, m.UpdateExecution(ctx, testID, ExecutionUpdate{Status: &completed}))

	running := ExecutionRunning
	reason := "should not apply"
	require.NoError(t, m.UpdateExecution(ctx, testID, ExecutionUpdate{Status: &running, Reason: &reason}))

	after, err := m.GetExecution(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, after.Status)
	assert.Empty(t, after.Reason)
}

func TestMemory_UpdateExecution_MissingFails(t *testing.T) {
	m := NewMemory(nil)
	status := ExecutionRunning
	err := m.UpdateExecution(context.Background(), "missing", ExecutionUpdate{Status: &status})
	require.Error(t, err)
}

func TestMemory_DeleteExecution_RemovesFromScenarioIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	testID, _ := m.CreateExecution(ctx, "scenario")
	exec, _ := m.GetExecution(ctx, testID)

	require.NoError(t, m.DeleteExecution(ctx, testID))

	list, err := m.GetExecutionsByScenario(ctx, exec.ScenarioID)
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := m.GetExecution(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_GetExecutionsByScenario_SortedNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	id1, _ := m.CreateExecution(ctx, "same scenario")
	id2, _ := m.CreateExecution(ctx, "same scenario")

	exec1, _ := m.GetExecution(ctx, id1)
	list, err := m.GetExecutionsByScenario(ctx, exec1.ScenarioID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].TestID, "newest (second created) listed first")

	latest, err := m.LatestExecutionByScenario(ctx, exec1.ScenarioID)
	require.NoError(t, err)
	assert.Equal(t, id2, latest.TestID)
}

func TestMemory_DeleteAllExecutions_EmptiesIndices(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	_, _ = m.CreateExecution(ctx, "a")
	_, _ = m.CreateExecution(ctx, "b")

	require.NoError(t, m.DeleteAllExecutions(ctx))

	list, err := m.ListExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemory_SaveAndGetPlan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	scenarioID := GenerateScenarioID("scenario")

	plan := Plan{ScenarioID: scenarioID, Name: "search flow", Phase: PhaseInitial, Steps: []Step{{ID: "s1"}}}
	require.NoError(t, m.SavePlan(ctx, plan))

	list, err := m.GetPlansByScenario(ctx, scenarioID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestMemory_UpdatePlan_CannotChangeImmutableFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	scenarioID := GenerateScenarioID("scenario")
	plan := Plan{ScenarioID: scenarioID, Name: "v1", Phase: PhaseInitial}
	require.NoError(t, m.SavePlan(ctx, plan))

	saved, _ := m.GetPlan(ctx, (mustGetOnlyPlan(t, m, ctx, scenarioID)).ID)
	originalID := saved.ID
	originalScenario := saved.ScenarioID
	originalCreatedAt := saved.CreatedAt

	newName := "v2"
	require.NoError(t, m.UpdatePlan(ctx, originalID, PlanUpdate{Name: &newName}))

	updated, err := m.GetPlan(ctx, originalID)
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Name)
	assert.Equal(t, originalID, updated.ID)
	assert.Equal(t, originalScenario, updated.ScenarioID)
	assert.Equal(t, originalCreatedAt, updated.CreatedAt)
}

func TestMemory_UpdatePlan_RefinementHistoryIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	scenarioID := GenerateScenarioID("scenario")
	plan := Plan{ScenarioID: scenarioID, Name: "v1", Phase: PhaseInitial}
	require.NoError(t, m.SavePlan(ctx, plan))
	planID := mustGetOnlyPlan(t, m, ctx, scenarioID).ID

	require.NoError(t, m.UpdatePlan(ctx, planID, PlanUpdate{RefinementHistory: []RefinementEntry{{StepID: "s1", Reason: "selector drift"}}}))
	require.NoError(t, m.UpdatePlan(ctx, planID, PlanUpdate{RefinementHistory: []RefinementEntry{{StepID: "s2", Reason: "page changed"}}}))

	updated, err := m.GetPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, updated.RefinementHistory, 2)
	assert.Equal(t, "s1", updated.RefinementHistory[0].StepID)
	assert.Equal(t, "s2", updated.RefinementHistory[1].StepID)
}

func TestMemory_DeleteAllPlans_EmptiesPrimaryAndIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	scenarioID := GenerateScenarioID("scenario")
	require.NoError(t, m.SavePlan(ctx, Plan{ScenarioID: scenarioID, Name: "v1"}))
	require.NoError(t, m.SavePlan(ctx, Plan{ScenarioID: scenarioID, Name: "v2"}))

	require.NoError(t, m.DeleteAllPlans(ctx))

	list, err := m.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	byScenario, err := m.GetPlansByScenario(ctx, scenarioID)
	require.NoError(t, err)
	assert.Empty(t, byScenario)
}

func TestMemory_Config_SetGetDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	require.NoError(t, m.SetConfig(ctx, "confidence.threshold.click", "0.5", "click threshold"))
	require.NoError(t, m.SetConfig(ctx, "confidence.threshold.type", "0.7", "type threshold"))
	require.NoError(t, m.SetConfig(ctx, "other.key", "x", ""))

	entries, err := m.GetAllConfig(ctx, "confidence.threshold.")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, m.DeleteAllConfig(ctx, "confidence.threshold."))

	remaining, err := m.GetAllConfig(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "other.key", remaining[0].Key)
}

func TestMemory_SetConfig_PreservesCreatedAtOnUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	require.NoError(t, m.SetConfig(ctx, "k", "v1", ""))
	first, _ := m.GetConfig(ctx, "k")

	require.NoError(t, m.SetConfig(ctx, "k", "v2", ""))
	second, err := m.GetConfig(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, "v2", second.Value)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func mustGetOnlyPlan(t *testing.T, m *Memory, ctx context.Context, scenarioID string) Plan {
	t.Helper()
	list, err := m.GetPlansByScenario(ctx, scenarioID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}
