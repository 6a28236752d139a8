// Package planner turns a natural-language scenario into an executable
// Plan via the LLM, and refines that plan against the live DOM as
// execution proceeds (spec §4.8).
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/storage"
)

const maxPlanNameLength = 100

const planSystemPrompt = `You convert a browser test scenario into a JSON execution plan. Respond with JSON only: {"steps": [{"id": string, "description": string, "action": {"name": string, "arguments": object}, "assertion": {"target": string, "operation": string, "value": string}}]}. Every step must have a unique id and a concrete action name (click, type, hover, navigate, wait, verify, ...). Assertions are optional.`

const planNameSystemPrompt = `Summarize the following browser test scenario as a short, human-readable plan name of at most a dozen words. Respond with the name only, no punctuation wrapper, no quotes.`

// Planner produces the initial Plan for a scenario (spec §4.8).
type Planner struct {
	provider llm.Provider
	store    storage.Storage
	model    string
	logger   core.Logger
}

// Options configures Planner.
type Options struct {
	Provider llm.Provider
	Store    storage.Storage
	Model    string
	Logger   core.Logger
}

// New builds a Planner.
func New(opts Options) *Planner {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/planner")
	}
	return &Planner{provider: opts.Provider, store: opts.Store, model: opts.Model, logger: logger}
}

// Plan calls the LLM to turn scenario into a Plan, persists it, and
// returns it (spec §4.8). A malformed LLM response is a fatal,
// non-retryable error.
func (p *Planner) Plan(ctx context.Context, scenario string) (*storage.Plan, error) {
	resp, err := p.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt},
			{Role: llm.RoleUser, Content: scenario},
		},
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	if err != nil {
		return nil, core.NewFrameworkError("planner.Plan", "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}

	steps, err := parsePlanResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	name := p.generatePlanName(ctx, scenario)

	plan := storage.Plan{
		ID:         uuid.NewString(),
		ScenarioID: p.store.GenerateScenarioID(scenario),
		Name:       name,
		Phase:      storage.PhaseInitial,
		Steps:      steps,
		CreatedAt:  time.Now(),
	}

	if err := p.store.SavePlan(ctx, plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// generatePlanName asks the LLM for a short plan name with a low
// temperature, truncates to maxPlanNameLength, and falls back to the
// scenario's first 8 words on any failure (spec §4.8).
func (p *Planner) generatePlanName(ctx context.Context, scenario string) string {
	temperature := 0.2
	resp, err := p.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Model:       p.model,
		Temperature: &temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planNameSystemPrompt},
			{Role: llm.RoleUser, Content: scenario},
		},
	})
	if err != nil {
		p.logger.WarnWithContext(ctx, "plan name generation failed, falling back to scenario prefix", map[string]interface{}{"error": err.Error()})
		return fallbackPlanName(scenario)
	}

	name := strings.TrimSpace(resp.Content)
	if name == "" {
		return fallbackPlanName(scenario)
	}
	return truncateRunes(name, maxPlanNameLength)
}

func fallbackPlanName(scenario string) string {
	words := strings.Fields(scenario)
	if len(words) > 8 {
		words = words[:8]
	}
	return truncateRunes(strings.Join(words, " "), maxPlanNameLength)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
