package discovery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/adaptiveqa/browserpilot/cache"
	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/resilience"
)

// VisionAIKey is the circuit breaker key VISION_AI's LLM calls are
// gated on. It shares LLMDOMAnalysisKey's breaker state when both
// strategies are constructed over the same *resilience.CircuitBreaker,
// since both ultimately hit the same LLM backend concern.
const VisionAIKey = "llm-dom-discovery"

// screenshotQuality is the JPEG quality spec §4.7 asks for.
const screenshotQuality = 80

// VisionAIStrategy is the hybrid screenshot+DOM strategy (spec §4.7).
// For semantic concepts it sends a screenshot alongside the DOM
// summary; for non-semantic descriptions it behaves like DOM-only
// analysis (no screenshot is captured).
type VisionAIStrategy struct {
	extractor *domextract.Extractor
	domCache  *cache.DOMCache
	provider  llm.Provider
	retry     *resilience.RetryStrategy
	breaker   *resilience.CircuitBreaker
	model     string
	logger    core.Logger
}

// VisionAIOptions configures VisionAIStrategy.
type VisionAIOptions struct {
	Extractor *domextract.Extractor
	DOMCache  *cache.DOMCache
	Provider  llm.Provider
	Retry     *resilience.RetryStrategy
	Breaker   *resilience.CircuitBreaker
	Model     string
	Logger    core.Logger
}

// NewVisionAIStrategy builds the VISION_AI reference strategy.
func NewVisionAIStrategy(opts VisionAIOptions) *VisionAIStrategy {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/discovery/vision")
	}
	return &VisionAIStrategy{
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
func (s *VisionAIStrategy) Name() string { return "VISION_AI" }

// Discover implements Strategy.
func (s *VisionAIStrategy) Discover(ctx context.Context, req Request) (*Result, error) {
	semantic := isSemanticConcept(req.Description)

	domSummary := s.domSummary(ctx, req)

	var screenshot []byte
	if semantic && req.Session != nil {
		shot, err := req.Session.Screenshot(ctx, screenshotQuality)
		if err != nil {
			s.logger.WarnWithContext(ctx, "vision screenshot capture failed", map[string]interface{}{"error": err.Error()})
		} else {
			screenshot = shot
		}
	}

	answer, err := s.askLLM(ctx, req, domSummary, screenshot)
	if err != nil {
		return nil, err
	}

	return validateAndScoreAnswer(ctx, req, answer, s.Name())
}

func (s *VisionAIStrategy) domSummary(ctx context.Context, req Request) string {
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
	opts := domextract.DefaultOptions()
	opts.IncludeContainers = true
	summary := s.extractor.Extract(ctx, req.Session, opts)
	if req.URL != "" {
		s.domCache.Set(req.URL, summary)
	}
	return summary
}

func (s *VisionAIStrategy) askLLM(ctx context.Context, req Request, domSummary string, screenshot []byte) (*llmElementAnswer, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: elementDiscoverySystemPrompt},
	}

	if len(screenshot) > 0 {
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(screenshot)
		messages = append(messages, llm.Message{
			Role: llm.RoleUser,
			Parts: []llm.ContentPart{
				{Type: llm.ContentTypeText, Text: renderElementDiscoveryPrompt(req, domSummary)},
				{Type: llm.ContentTypeImageURL, ImageURL: &llm.ImageURL{URL: dataURL}},
			},
		})
	} else {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: renderElementDiscoveryPrompt(req, domSummary)})
	}

	var raw string
	call := func(ctx context.Context) error {
		resp, err := s.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
			Model:          s.model,
			Messages:       messages,
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
	if err := s.breaker.Execute(VisionAIKey, breakerOp); err != nil {
		return nil, err
	}

	var answer llmElementAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, core.NewFrameworkError("discovery.VisionAIStrategy.Discover", "provider_error",
			fmt.Errorf("%w: could not parse element-discovery response: %v", core.ErrProviderError, err))
	}
	return &answer, nil
}
