package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptiveqa/browserpilot/cache"
	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/resilience"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) CreateChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (llm.ChatCompletionResponse, error) {
	if f.err != nil {
		return llm.ChatCompletionResponse{}, f.err
	}
	return llm.ChatCompletionResponse{Content: f.content, Role: llm.RoleAssistant}, nil
}
func (f *fakeProvider) SupportsVision() bool                         { return true }
func (f *fakeProvider) SupportsJSONMode() bool                       { return true }
func (f *fakeProvider) ValidateConnection(ctx context.Context) error { return nil }
func (f *fakeProvider) GetAvailableModels() []string                 { return []string{"fake-model"} }

type fakeBrowserSession struct {
	validations map[string]domextract.SelectorValidation
}

func (f *fakeBrowserSession) CurrentURL(ctx context.Context) (string, error) { return "https://example.com", nil }
func (f *fakeBrowserSession) QueryElements(ctx context.Context, selectors []string, includePosition bool) ([]domextract.RawElement, error) {
	return nil, nil
}
func (f *fakeBrowserSession) ValidateSelector(ctx context.Context, selector string) (domextract.SelectorValidation, error) {
	v, ok := f.validations[selector]
	if !ok {
		return domextract.SelectorValidation{}, nil
	}
	return v, nil
}
func (f *fakeBrowserSession) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return []byte("jpeg"), nil
}

func newTestRetryAndBreaker() (*resilience.RetryStrategy, *resilience.CircuitBreaker) {
	retry := resilience.NewRetryStrategy(nil)
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
	}, nil)
	return retry, breaker
}

func TestLLMDOMAnalysisStrategy_Discover_ReturnsScoredSelector(t *testing.T) {
	provider := &fakeProvider{content: `{"selector":"#submit","confidence":0.6,"alternatives":["#other"],"elementInfo":{"tag":"button"}}`}
	retry, breaker := newTestRetryAndBreaker()
	strategy := NewLLMDOMAnalysisStrategy(LLMDOMAnalysisOptions{
		DOMCache: cache.New(cache.Config{}, nil),
		Provider: provider,
		Retry:    retry,
		Breaker:  breaker,
	})

	session := &fakeBrowserSession{validations: map[string]domextract.SelectorValidation{
		"#submit": {Exists: true, IsUnique: true, IsVisible: true, Count: 1},
	}}

	result, err := strategy.Discover(context.Background(), Request{
		Description: "submit button", ActionType: "click", URL: "https://example.com", Session: session,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "#submit", result.Selector)
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
	assert.Equal(t, "LLM_DOM_ANALYSIS", result.Strategy)
}

func TestLLMDOMAnalysisStrategy_Discover_FallsBackToAlternativeWithDecay(t *testing.T) {
	provider := &fakeProvider{content: `{"selector":"#missing","confidence":0.8,"alternatives":["#fallback"],"elementInfo":{}}`}
	retry, breaker := newTestRetryAndBreaker()
	strategy := NewLLMDOMAnalysisStrategy(LLMDOMAnalysisOptions{
		DOMCache: cache.New(cache.Config{}, nil),
		Provider: provider,
		Retry:    retry,
		Breaker:  breaker,
	})

	session := &fakeBrowserSession{validations: map[string]domextract.SelectorValidation{
		"#missing":  {Exists: false},
		"#fallback": {Exists: true, IsUnique: false, IsVisible: true, Count: 2},
	}}

	result, err := strategy.Discover(context.Background(), Request{
		Description: "submit button", ActionType: "click", URL: "https://example.com", Session: session,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "#fallback", result.Selector)
	// 0.8 * 0.9 (decay for #missing) + 0.1 (visible, not unique) = 0.82
	assert.InDelta(t, 0.82, result.Confidence, 0.001)
}

func TestLLMDOMAnalysisStrategy_Discover_AllCandidatesFailReturnsNilResult(t *testing.T) {
	provider := &fakeProvider{content: `{"selector":"#missing","confidence":0.8,"alternatives":[],"elementInfo":{}}`}
	retry, breaker := newTestRetryAndBreaker()
	strategy := NewLLMDOMAnalysisStrategy(LLMDOMAnalysisOptions{
		DOMCache: cache.New(cache.Config{}, nil),
		Provider: provider,
		Retry:    retry,
		Breaker:  breaker,
	})
	session := &fakeBrowserSession{validations: map[string]domextract.SelectorValidation{"#missing": {Exists: false}}}

	result, err := strategy.Discover(context.Background(), Request{Description: "submit button", Session: session})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestLLMDOMAnalysisStrategy_Discover_ProviderErrorPropagates(t *testing.T) {
	provider := &fakeProvider{err: errors.New("rate limited")}
	retry, breaker := newTestRetryAndBreaker()
	strategy := NewLLMDOMAnalysisStrategy(LLMDOMAnalysisOptions{
		DOMCache: cache.New(cache.Config{}, nil),
		Provider: provider,
		Retry:    retry,
		Breaker:  breaker,
	})

	_, err := strategy.Discover(context.Background(), Request{Description: "submit button"})
	assert.Error(t, err)
}

func TestLLMDOMAnalysisStrategy_Discover_MalformedJSONIsProviderError(t *testing.T) {
	provider := &fakeProvider{content: "not json"}
	retry, breaker := newTestRetryAndBreaker()
	strategy := NewLLMDOMAnalysisStrategy(LLMDOMAnalysisOptions{
		DOMCache: cache.New(cache.Config{}, nil),
		Provider: provider,
		Retry:    retry,
		Breaker:  breaker,
	})

	_, err := strategy.Discover(context.Background(), Request{Description: "submit button"})
	assert.Error(t, err)
}
