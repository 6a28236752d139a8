package confidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptiveqa/browserpilot/storage"
)

func TestService_Seed_WritesMissingDefaults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)

	require.NoError(t, svc.Seed(ctx))

	entry, err := store.GetConfig(ctx, "confidence.threshold.click")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "0.5", entry.Value)
}

func TestService_Seed_DoesNotOverwriteExisting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	require.NoError(t, store.SetConfig(ctx, "confidence.threshold.click", "0.9", "custom"))

	svc := New(store, nil)
	require.NoError(t, svc.Seed(ctx))

	entry, err := store.GetConfig(ctx, "confidence.threshold.click")
	require.NoError(t, err)
	assert.Equal(t, "0.9", entry.Value)
}

func TestService_GetThreshold_FallsBackToDefaultWhenUnset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)

	assert.Equal(t, 0.7, svc.GetThreshold(ctx, ActionType))
}

func TestService_GetThreshold_UnknownActionFallsBackToDefaultBucket(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)

	assert.Equal(t, 0.6, svc.GetThreshold(ctx, "scroll"))
}

func TestService_GetThreshold_PrefersStoredValue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	require.NoError(t, store.SetConfig(ctx, "confidence.threshold.click", "0.85", ""))

	svc := New(store, nil)
	assert.Equal(t, 0.85, svc.GetThreshold(ctx, ActionClick))
}

func TestService_GetAllThresholds_MergesStoredOverDefaults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	require.NoError(t, store.SetConfig(ctx, "confidence.threshold.click", "0.99", ""))

	svc := New(store, nil)
	all := svc.GetAllThresholds(ctx)

	assert.Equal(t, 0.99, all[ActionClick])
	assert.Equal(t, 0.7, all[ActionType])
	assert.Equal(t, 0.6, all[ActionDefault])
}

func TestService_SetThreshold_RejectsOutOfRangeValue(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory(nil), nil)

	assert.Error(t, svc.SetThreshold(ctx, ActionClick, 1.5))
	assert.Error(t, svc.SetThreshold(ctx, ActionClick, -0.1))
}

func TestService_SetThreshold_PersistsOverride(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)

	require.NoError(t, svc.SetThreshold(ctx, ActionClick, 0.42))
	assert.Equal(t, 0.42, svc.GetThreshold(ctx, ActionClick))
}

func TestService_DeleteThreshold_RevertsToDefault(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)
	require.NoError(t, svc.SetThreshold(ctx, ActionClick, 0.42))

	require.NoError(t, svc.DeleteThreshold(ctx, ActionClick))
	assert.Equal(t, 0.5, svc.GetThreshold(ctx, ActionClick))
}

func TestService_DeleteAllThresholds_RevertsEveryOverride(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(nil)
	svc := New(store, nil)
	require.NoError(t, svc.SetThreshold(ctx, ActionClick, 0.42))
	require.NoError(t, svc.SetThreshold(ctx, ActionType, 0.9))

	require.NoError(t, svc.DeleteAllThresholds(ctx))
	all := svc.GetAllThresholds(ctx)
	assert.Equal(t, 0.5, all[ActionClick])
	assert.Equal(t, 0.7, all[ActionType])
}
