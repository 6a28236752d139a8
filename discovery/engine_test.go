package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name   string
	result *Result
	err    error
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Discover(ctx context.Context, req Request) (*Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestIsSemanticConcept(t *testing.T) {
	assert.True(t, isSemanticConcept("the login form"))
	assert.True(t, isSemanticConcept("Sign Up Form"))
	assert.True(t, isSemanticConcept("navigation menu"))
	assert.False(t, isSemanticConcept("the submit button"))
}

func TestEngine_Discover_NoStrategiesRaisesError(t *testing.T) {
	e := New(nil)
	_, err := e.Discover(context.Background(), Request{Description: "submit button"})
	assert.Error(t, err)
}

func TestEngine_Discover_AllStrategiesFailRaisesErrorNamingThem(t *testing.T) {
	e := New(nil,
		&fakeStrategy{name: "A", err: errors.New("boom")},
		&fakeStrategy{name: "B", result: nil},
	)
	_, err := e.Discover(context.Background(), Request{Description: "submit button"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestEngine_Discover_PicksHighestConfidence(t *testing.T) {
	e := New(nil,
		&fakeStrategy{name: "A", result: &Result{Selector: "#a", Confidence: 0.6, Strategy: "A"}},
		&fakeStrategy{name: "B", result: &Result{Selector: "#b", Confidence: 0.9, Strategy: "B"}},
	)
	result, err := e.Discover(context.Background(), Request{Description: "submit button"})
	require.NoError(t, err)
	assert.Equal(t, "#b", result.Selector)
	assert.Contains(t, result.Alternatives, "#a")
}

func TestEngine_Discover_SemanticConceptPrefersVisionFirst(t *testing.T) {
	vision := &fakeStrategy{name: visionStrategyName, result: &Result{Selector: "#login-form", Confidence: 0.5, Strategy: visionStrategyName}}
	other := &fakeStrategy{name: "LLM_DOM_ANALYSIS", result: &Result{Selector: "#other", Confidence: 0.99, Strategy: "LLM_DOM_ANALYSIS"}}
	e := New(nil, other, vision)

	result, err := e.Discover(context.Background(), Request{Description: "the login form"})
	require.NoError(t, err)
	assert.Equal(t, "#login-form", result.Selector, "vision result should short-circuit for semantic concepts")
}

func TestEngine_Discover_SemanticConceptFallsBackWhenVisionFindsNothing(t *testing.T) {
	vision := &fakeStrategy{name: visionStrategyName, result: nil}
	other := &fakeStrategy{name: "LLM_DOM_ANALYSIS", result: &Result{Selector: "#other", Confidence: 0.8, Strategy: "LLM_DOM_ANALYSIS"}}
	e := New(nil, other, vision)

	result, err := e.Discover(context.Background(), Request{Description: "the login form"})
	require.NoError(t, err)
	assert.Equal(t, "#other", result.Selector)
}

func TestEngine_Discover_OneStrategyErrorsDoesNotPoisonOthers(t *testing.T) {
	e := New(nil,
		&fakeStrategy{name: "A", err: errors.New("boom")},
		&fakeStrategy{name: "B", result: &Result{Selector: "#b", Confidence: 0.7, Strategy: "B"}},
	)
	result, err := e.Discover(context.Background(), Request{Description: "submit button"})
	require.NoError(t, err)
	assert.Equal(t, "#b", result.Selector)
}

func TestEngine_FindAlternatives_ExcludesFailedSelector(t *testing.T) {
	e := New(nil,
		&fakeStrategy{name: "A", result: &Result{Selector: "#a", Confidence: 0.9, Alternatives: []string{"#b", "#c"}, Strategy: "A"}},
	)
	alts, err := e.FindAlternatives(context.Background(), "#a", "submit button")
	require.NoError(t, err)
	assert.NotContains(t, alts, "#a")
	assert.Contains(t, alts, "#b")
	assert.Contains(t, alts, "#c")
}
