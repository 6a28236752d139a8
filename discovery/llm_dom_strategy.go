package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adaptiveqa/browserpilot/cache"
	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/resilience"
)

// LLMDOMAnalysisKey is the circuit breaker key this strategy's LLM calls
// are gated on (spec §4.7).
const LLMDOMAnalysisKey = "llm-dom-discovery"

// alternativeDecay is applied to confidence each time a primary
// selector fails validation and an alternative is tried instead (spec
// §4.7).
const alternativeDecay = 0.9

// llmElementAnswer is the JSON shape the model is asked to return.
type llmElementAnswer struct {
	Selector     string                 `json:"selector"`
	Confidence   float64                `json:"confidence"`
	Alternatives []string               `json:"alternatives"`
	ElementInfo  map[string]interface{} `json:"elementInfo"`
}

// LLMDOMAnalysisStrategy resolves a description to a selector by
// rendering the cached DOM summary into a prompt and asking the LLM to
// pick a CSS selector (spec §4.7).
type LLMDOMAnalysisStrategy struct {
	extractor *domextract.Extractor
	domCache  *cache.DOMCache
	provider  llm.Provider
	retry     *resilience.RetryStrategy
	breaker   *resilience.CircuitBreaker
	model     string
	logger    core.Logger
}

// LLMDOMAnalysisOptions configures LLMDOMAnalysisStrategy.
type LLMDOMAnalysisOptions struct {
	Extractor *domextract.Extractor
	DOMCache  *cache.DOMCache
	Provider  llm.Provider
	Retry     *resilience.RetryStrategy
	Breaker   *resilience.CircuitBreaker
	Model     string
	Logger    core.Logger
}

// NewLLMDOMAnalysisStrategy builds the LLM_DOM_ANALYSIS reference
// strategy.
func NewLLMDOMAnalysisStrategy(opts LLMDOMAnalysisOptions) *LLMDOMAnalysisStrategy {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/discovery/llm-dom")
	}
	return &LLMDOMAnalysisStrategy{
		extractor: opts.Extractor,
		domCache:  opts.DOMCache,
		provider:  opts.Provider,
		retry:     opts.Retry,
		breaker:   opts.Breaker,
		model:     opts.Model,
		logger:    logger,
	}
}

// Name implements Strategy.
func (s *LLMDOMAnalysisStrategy) Name() string { return "LLM_DOM_ANALYSIS" }

// Discover implements Strategy.
func (s *LLMDOMAnalysisStrategy) Discover(ctx context.Context, req Request) (*Result, error) {
	domSummary := s.domSummary(ctx, req)

	answer, err := s.askLLM(ctx, req, domSummary)
	if err != nil {
		return nil, err
	}

	return validateAndScoreAnswer(ctx, req, answer, s.Name())
}

func (s *LLMDOMAnalysisStrategy) domSummary(ctx context.Context, req Request) string {
	if req.HTML != "" {
		return req.HTML
	}
	if req.URL != "" {
		if cached, ok := s.domCache.Get(req.URL); ok {
			return cached
		}
	}
	if s.extractor == nil || req.Session == nil {
		return "[]"
	}
	summary := s.extractor.Extract(ctx, req.Session, domextract.DefaultOptions())
	if req.URL != "" {
		s.domCache.Set(req.URL, summary)
	}
	return summary
}

func (s *LLMDOMAnalysisStrategy) askLLM(ctx context.Context, req Request, domSummary string) (*llmElementAnswer, error) {
	var raw string
	call := func(ctx context.Context) error {
		resp, err := s.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
			Model: s.model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: elementDiscoverySystemPrompt},
				{Role: llm.RoleUser, Content: renderElementDiscoveryPrompt(req, domSummary)},
			},
			ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
		})
		if err != nil {
			return err
		}
		raw = resp.Content
		return nil
	}

	breakerOp := func() error {
		return s.retry.Execute(ctx, resilience.DefaultRetryPolicy(), call)
	}
	if err := s.breaker.Execute(LLMDOMAnalysisKey, breakerOp); err != nil {
		return nil, err
	}

	var answer llmElementAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, core.NewFrameworkError("discovery.LLMDOMAnalysisStrategy.Discover", "provider_error",
			fmt.Errorf("%w: could not parse element-discovery response: %v", core.ErrProviderError, err))
	}
	return &answer, nil
}

// validateAndScoreAnswer tries the primary selector, then alternatives
// in order with confidence decayed by alternativeDecay each step,
// scoring the final candidate per spec §4.7 (+0.1 unique, +0.1 visible,
// clamped to [0,1]). Shared by LLMDOMAnalysisStrategy and
// VisionAIStrategy, whose post-processing is identical once they have
// an llmElementAnswer.
func validateAndScoreAnswer(ctx context.Context, req Request, answer *llmElementAnswer, strategyName string) (*Result, error) {
	if req.Session == nil {
		return &Result{
			Selector:     answer.Selector,
			Confidence:   clamp01(answer.Confidence),
			Alternatives: answer.Alternatives,
			ElementInfo:  answer.ElementInfo,
			Strategy:     strategyName,
		}, nil
	}

	candidates := append([]string{answer.Selector}, answer.Alternatives...)
	confidence := answer.Confidence
	for i, candidate := range candidates {
		if candidate == "" {
			continue
		}
		validation, err := req.Session.ValidateSelector(ctx, candidate)
		if err != nil || !validation.Exists {
			confidence *= alternativeDecay
			continue
		}

		score := confidence
		if validation.IsUnique {
			score += 0.1
		}
		if validation.IsVisible {
			score += 0.1
		}
		score = clamp01(score)

		remaining := append([]string{}, candidates[:i]...)
		remaining = append(remaining, candidates[i+1:]...)
		return &Result{
			Selector:     candidate,
			Confidence:   score,
			Alternatives: remaining,
			ElementInfo:  answer.ElementInfo,
			Strategy:     strategyName,
		}, nil
	}

	return nil, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const elementDiscoverySystemPrompt = `You resolve a natural-language element description to a CSS selector using a page's DOM summary. Respond with JSON only: {"selector": string, "confidence": number between 0 and 1, "alternatives": [string], "elementInfo": object}. Never return pixel coordinates.`

func renderElementDiscoveryPrompt(req Request, domSummary string) string {
	return fmt.Sprintf(
		"Action: %s\nDescription: %s\nURL: %s\nDOM summary (JSON array of candidate elements):\n%s",
		req.ActionType, req.Description, req.URL, domSummary,
	)
}
