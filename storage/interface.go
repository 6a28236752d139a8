package storage

import "context"

// Storage persists Plans, Executions, and Configuration behind one
// interface with two backends: an in-process map (Memory) and a Redis
// key-value store (Redis) — spec §4.1.
//
// Implementations must preserve: (1) scenario→executions and
// scenario→plans indices stay in sync with primary records on every
// mutation; (2) deleting a primary record removes it from all indices
// atomically from an observer's point of view; (3) createdAt survives
// update; (4) a plan's id/scenarioId/createdAt cannot be changed via
// UpdatePlan.
type Storage interface {
	CreateExecution(ctx context.Context, scenario string) (string, error)
	GetExecution(ctx context.Context, testID string) (*Execution, error)
	GetExecutionsByScenario(ctx context.Context, scenarioID string) ([]Execution, error)
	LatestExecutionByScenario(ctx context.Context, scenarioID string) (*Execution, error)
	UpdateExecution(ctx context.Context, testID string, update ExecutionUpdate) error
	DeleteExecution(ctx context.Context, testID string) error
	ListExecutions(ctx context.Context) ([]Execution, error)
	DeleteAllExecutions(ctx context.Context) error

	SavePlan(ctx context.Context, plan Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	GetPlansByScenario(ctx context.Context, scenarioID string) ([]Plan, error)
	UpdatePlan(ctx context.Context, planID string, update PlanUpdate) error
	DeletePlan(ctx context.Context, planID string) error
	DeleteAllPlans(ctx context.Context) error

	GetConfig(ctx context.Context, key string) (*ConfigEntry, error)
	SetConfig(ctx context.Context, key, value, description string) error
	GetAllConfig(ctx context.Context, prefix string) ([]ConfigEntry, error)
	DeleteConfig(ctx context.Context, key string) error
	DeleteAllConfig(ctx context.Context, prefix string) error

	GenerateScenarioID(text string) string
}
