package llm

import (
	"fmt"

	"github.com/adaptiveqa/browserpilot/core"
)

// New selects and constructs a Provider from cfg.LLM.Provider, validating
// that the required credential for that provider is present (spec
// §4.6's "factory selects by a configuration key and validates required
// credentials"). For gateway deployments, AnthropicBaseURL/AnthropicAuthToken
// route requests through a custom endpoint with an alternative credential.
func New(cfg core.LLMConfig, logger core.Logger) (Provider, error) {
	switch cfg.Provider {
	case core.LLMProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, core.NewFrameworkError("llm.New", "validation",
				fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", core.ErrValidation, cfg.Provider))
		}
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			VisionModel: cfg.OpenAIVisionModel,
			Logger:      logger,
		})

	case core.LLMProviderAnthropic:
		if cfg.AnthropicAPIKey == "" && cfg.AnthropicAuthToken == "" {
			return nil, core.NewFrameworkError("llm.New", "validation",
				fmt.Errorf("%w: ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN is required for provider %q", core.ErrValidation, cfg.Provider))
		}
		return NewAnthropicProvider(AnthropicOptions{
			APIKey:      cfg.AnthropicAPIKey,
			AuthToken:   cfg.AnthropicAuthToken,
			BaseURL:     cfg.AnthropicBaseURL,
			Model:       cfg.AnthropicModel,
			VisionModel: cfg.AnthropicVisionModel,
			Logger:      logger,
		})

	default:
		return nil, core.NewFrameworkError("llm.New", "validation",
			fmt.Errorf("%w: unknown LLM provider %q", core.ErrValidation, cfg.Provider))
	}
}

// PlannerModel returns the lighter-weight model configured for planning
// calls, falling back to the main model when no planner-specific model
// is set.
func PlannerModel(cfg core.LLMConfig) string {
	switch cfg.Provider {
	case core.LLMProviderAnthropic:
		if cfg.AnthropicPlannerModel != "" {
			return cfg.AnthropicPlannerModel
		}
		return cfg.AnthropicModel
	default:
		if cfg.OpenAIPlannerModel != "" {
			return cfg.OpenAIPlannerModel
		}
		return cfg.OpenAIModel
	}
}
