package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/adaptiveqa/browserpilot/core"
)

// Redis key layout (spec §6 "persisted-state layout"):
//
//	execution:{testId}                 -> JSON-encoded Execution
//	scenario:executions:{scenarioId}    -> set of testIds
//	executions:all                      -> set of all testIds
//	plan:{planId}                       -> JSON-encoded Plan
//	scenario:plans:{scenarioId}         -> set of planIds
//	plans:all                           -> set of all planIds
//	config:{key}                        -> JSON-encoded ConfigEntry
//	configs:all                         -> set of all config keys
const (
	keyExecution          = "execution:%s"
	keyScenarioExecutions = "scenario:executions:%s"
	keyExecutionsAll      = "executions:all"
	keyPlan               = "plan:%s"
	keyScenarioPlans      = "scenario:plans:%s"
	keyPlansAll           = "plans:all"
	keyConfig             = "config:%s"
	keyConfigsAll         = "configs:all"
)

// Redis is a Storage backend over a single Redis database, grounded on
// core/redis_client.go's RedisClientOptions/namespace-prefix pattern:
// every key here is additionally namespaced so multiple orchestrator
// deployments can share one Redis instance without key collisions.
type Redis struct {
	client    *redis.Client
	namespace string
	idNode    *snowflake.Node
	logger    core.Logger
}

// RedisOptions configures a Redis-backed store.
type RedisOptions struct {
	URL       string
	Namespace string // e.g. "browserpilot" - prefixes every key
	Logger    core.Logger
}

// NewRedis parses opts.URL and connects. It does not ping the server;
// the first Storage call surfaces connectivity errors as
// core.ErrTransientRemote.
func NewRedis(opts RedisOptions) (*Redis, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, core.NewFrameworkError("storage.NewRedis", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}
	return newRedisWithClient(redis.NewClient(parsed), opts.Namespace, opts.Logger)
}

// newRedisWithClient builds a Redis store around an already-constructed
// client, letting tests inject a miniredis-backed client without going
// through URL parsing (grounded on
// orchestration/hitl_checkpoint_store_test.go's setupCheckpointTestRedis).
func newRedisWithClient(client *redis.Client, namespace string, logger core.Logger) (*Redis, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/storage")
	}

	if namespace == "" {
		namespace = "browserpilot"
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		return nil, core.NewFrameworkError("storage.NewRedis", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}

	return &Redis{client: client, namespace: namespace, idNode: node, logger: logger}, nil
}

var _ Storage = (*Redis)(nil)

func (r *Redis) ns(key string) string { return r.namespace + ":" + key }

func (r *Redis) GenerateScenarioID(text string) string { return GenerateScenarioID(text) }

func (r *Redis) wrapTransient(op string, err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	return core.NewFrameworkError(op, "transient", fmt.Errorf("%w: %v", core.ErrTransientRemote, err))
}

func (r *Redis) CreateExecution(ctx context.Context, scenario string) (string, error) {
	testID := r.idNode.Generate().String()
	scenarioID := GenerateScenarioID(scenario)
	now := time.Now()

	exec := Execution{
		TestID:     testID,
		ScenarioID: scenarioID,
		Scenario:   scenario,
		Status:     ExecutionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.putExecution(ctx, exec); err != nil {
		return "", err
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.ns(fmt.Sprintf(keyScenarioExecutions, scenarioID)), testID)
	pipe.SAdd(ctx, r.ns(keyExecutionsAll), testID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", r.wrapTransient("storage.CreateExecution", err)
	}

	r.logger.DebugWithContext(ctx, "execution created", map[string]interface{}{"testId": testID, "scenarioId": scenarioID})
	return testID, nil
}

func (r *Redis) putExecution(ctx context.Context, exec Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return core.NewFrameworkError("storage.putExecution", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}
	if err := r.client.Set(ctx, r.ns(fmt.Sprintf(keyExecution, exec.TestID)), data, 0).Err(); err != nil {
		return r.wrapTransient("storage.putExecution", err)
	}
	return nil
}

func (r *Redis) GetExecution(ctx context.Context, testID string) (*Execution, error) {
	raw, err := r.client.Get(ctx, r.ns(fmt.Sprintf(keyExecution, testID))).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, r.wrapTransient("storage.GetExecution", err)
	}
	var exec Execution
	if err := json.Unmarshal([]byte(raw), &exec); err != nil {
		return nil, core.NewFrameworkError("storage.GetExecution", "provider", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return &exec, nil
}

func (r *Redis) GetExecutionsByScenario(ctx context.Context, scenarioID string) ([]Execution, error) {
	ids, err := r.client.SMembers(ctx, r.ns(fmt.Sprintf(keyScenarioExecutions, scenarioID))).Result()
	if err != nil {
		return nil, r.wrapTransient("storage.GetExecutionsByScenario", err)
	}
	result := make([]Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := r.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec != nil {
			result = append(result, *exec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *Redis) LatestExecutionByScenario(ctx context.Context, scenarioID string) (*Execution, error) {
	list, err := r.GetExecutionsByScenario(ctx, scenarioID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *Redis) UpdateExecution(ctx context.Context, testID string, update ExecutionUpdate) error {
	exec, err := r.GetExecution(ctx, testID)
	if err != nil {
		return err
	}
	if exec == nil {
		return core.NewFrameworkErrorWithID("storage.UpdateExecution", "not_found", testID, core.ErrNotFound)
	}
	if exec.IsTerminal() {
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

	return r.putExecution(ctx, *exec)
}

func (r *Redis) DeleteExecution(ctx context.Context, testID string) error {
	exec, err := r.GetExecution(ctx, testID)
	if err != nil {
		return err
	}
	if exec == nil {
		return core.NewFrameworkErrorWithID("storage.DeleteExecution", "not_found", testID, core.ErrNotFound)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.ns(fmt.Sprintf(keyExecution, testID)))
	pipe.SRem(ctx, r.ns(fmt.Sprintf(keyScenarioExecutions, exec.ScenarioID)), testID)
	pipe.SRem(ctx, r.ns(keyExecutionsAll), testID)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.wrapTransient("storage.DeleteExecution", err)
	}
	return nil
}

func (r *Redis) ListExecutions(ctx context.Context) ([]Execution, error) {
	ids, err := r.client.SMembers(ctx, r.ns(keyExecutionsAll)).Result()
	if err != nil {
		return nil, r.wrapTransient("storage.ListExecutions", err)
	}
	result := make([]Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := r.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec != nil {
			result = append(result, *exec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *Redis) DeleteAllExecutions(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.ns(keyExecutionsAll)).Result()
	if err != nil {
		return r.wrapTransient("storage.DeleteAllExecutions", err)
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.ns(fmt.Sprintf(keyExecution, id)))
	}
	pipe.Del(ctx, r.ns(keyExecutionsAll))
	keys, err := r.client.Keys(ctx, r.ns("scenario:executions:*")).Result()
	if err == nil {
		for _, k := range keys {
			pipe.Del(ctx, k)
		}
	}
	_, err = pipe.Exec(ctx)
	return r.wrapTransient("storage.DeleteAllExecutions", err)
}

func (r *Redis) putPlan(ctx context.Context, plan Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return core.NewFrameworkError("storage.putPlan", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}
	if err := r.client.Set(ctx, r.ns(fmt.Sprintf(keyPlan, plan.ID)), data, 0).Err(); err != nil {
		return r.wrapTransient("storage.putPlan", err)
	}
	return nil
}

func (r *Redis) SavePlan(ctx context.Context, plan Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	if err := r.putPlan(ctx, plan); err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.ns(fmt.Sprintf(keyScenarioPlans, plan.ScenarioID)), plan.ID)
	pipe.SAdd(ctx, r.ns(keyPlansAll), plan.ID)
	_, err := pipe.Exec(ctx)
	return r.wrapTransient("storage.SavePlan", err)
}

func (r *Redis) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	raw, err := r.client.Get(ctx, r.ns(fmt.Sprintf(keyPlan, planID))).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, r.wrapTransient("storage.GetPlan", err)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, core.NewFrameworkError("storage.GetPlan", "provider", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return &plan, nil
}

func (r *Redis) ListPlans(ctx context.Context) ([]Plan, error) {
	ids, err := r.client.SMembers(ctx, r.ns(keyPlansAll)).Result()
	if err != nil {
		return nil, r.wrapTransient("storage.ListPlans", err)
	}
	result := make([]Plan, 0, len(ids))
	for _, id := range ids {
		plan, err := r.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			result = append(result, *plan)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *Redis) GetPlansByScenario(ctx context.Context, scenarioID string) ([]Plan, error) {
	ids, err := r.client.SMembers(ctx, r.ns(fmt.Sprintf(keyScenarioPlans, scenarioID))).Result()
	if err != nil {
		return nil, r.wrapTransient("storage.GetPlansByScenario", err)
	}
	result := make([]Plan, 0, len(ids))
	for _, id := range ids {
		plan, err := r.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			result = append(result, *plan)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *Redis) UpdatePlan(ctx context.Context, planID string, update PlanUpdate) error {
	plan, err := r.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
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

	return r.putPlan(ctx, *plan)
}

func (r *Redis) DeletePlan(ctx context.Context, planID string) error {
	plan, err := r.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return core.NewFrameworkErrorWithID("storage.DeletePlan", "not_found", planID, core.ErrNotFound)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.ns(fmt.Sprintf(keyPlan, planID)))
	pipe.SRem(ctx, r.ns(fmt.Sprintf(keyScenarioPlans, plan.ScenarioID)), planID)
	pipe.SRem(ctx, r.ns(keyPlansAll), planID)
	_, err = pipe.Exec(ctx)
	return r.wrapTransient("storage.DeletePlan", err)
}

func (r *Redis) DeleteAllPlans(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.ns(keyPlansAll)).Result()
	if err != nil {
		return r.wrapTransient("storage.DeleteAllPlans", err)
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.ns(fmt.Sprintf(keyPlan, id)))
	}
	pipe.Del(ctx, r.ns(keyPlansAll))
	keys, err := r.client.Keys(ctx, r.ns("scenario:plans:*")).Result()
	if err == nil {
		for _, k := range keys {
			pipe.Del(ctx, k)
		}
	}
	_, err = pipe.Exec(ctx)
	return r.wrapTransient("storage.DeleteAllPlans", err)
}

func (r *Redis) GetConfig(ctx context.Context, key string) (*ConfigEntry, error) {
	raw, err := r.client.Get(ctx, r.ns(fmt.Sprintf(keyConfig, key))).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, r.wrapTransient("storage.GetConfig", err)
	}
	var entry ConfigEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, core.NewFrameworkError("storage.GetConfig", "provider", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return &entry, nil
}

func (r *Redis) SetConfig(ctx context.Context, key, value, description string) error {
	now := time.Now()
	existing, err := r.GetConfig(ctx, key)
	if err != nil {
		return err
	}
	created := now
	if existing != nil {
		created = existing.CreatedAt
	}
	entry := ConfigEntry{Key: key, Value: value, Description: description, CreatedAt: created, UpdatedAt: now}
	data, err := json.Marshal(entry)
	if err != nil {
		return core.NewFrameworkError("storage.SetConfig", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.ns(fmt.Sprintf(keyConfig, key)), data, 0)
	pipe.SAdd(ctx, r.ns(keyConfigsAll), key)
	_, err = pipe.Exec(ctx)
	return r.wrapTransient("storage.SetConfig", err)
}

func (r *Redis) GetAllConfig(ctx context.Context, prefix string) ([]ConfigEntry, error) {
	keys, err := r.client.SMembers(ctx, r.ns(keyConfigsAll)).Result()
	if err != nil {
		return nil, r.wrapTransient("storage.GetAllConfig", err)
	}
	result := make([]ConfigEntry, 0)
	for _, key := range keys {
		if len(prefix) > 0 && !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := r.GetConfig(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result = append(result, *entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (r *Redis) DeleteConfig(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.ns(fmt.Sprintf(keyConfig, key)))
	pipe.SRem(ctx, r.ns(keyConfigsAll), key)
	_, err := pipe.Exec(ctx)
	return r.wrapTransient("storage.DeleteConfig", err)
}

func (r *Redis) DeleteAllConfig(ctx context.Context, prefix string) error {
	keys, err := r.client.SMembers(ctx, r.ns(keyConfigsAll)).Result()
	if err != nil {
		return r.wrapTransient("storage.DeleteAllConfig", err)
	}
	pipe := r.client.TxPipeline()
	for _, key := range keys {
		if len(prefix) > 0 && !strings.HasPrefix(key, prefix) {
			continue
		}
		pipe.Del(ctx, r.ns(fmt.Sprintf(keyConfig, key)))
		pipe.SRem(ctx, r.ns(keyConfigsAll), key)
	}
	_, err = pipe.Exec(ctx)
	return r.wrapTransient("storage.DeleteAllConfig", err)
}
