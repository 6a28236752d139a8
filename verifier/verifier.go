// Package verifier checks a step's observable effect against its
// intent, either structurally (navigate/type/verify_*) or, when
// nothing structural applies, via an LLM call over the step's snapshot
// and optional screenshot (spec §4.9).
package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/storage"
)

const verifyAnswerSystemPrompt = `You judge whether a browser automation step achieved its intent, given a description of the step and the page's observable state afterward. Respond with JSON only: {"isVerified": bool, "evidence": string}.`

// Verifier implements spec §4.9's verifyStep/verifyAssertions.
type Verifier struct {
	provider llm.Provider
	model    string
	logger   core.Logger
}

// Options configures Verifier.
type Options struct {
	Provider llm.Provider
	Model    string
	Logger   core.Logger
}

// New builds a Verifier.
func New(opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/verifier")
	}
	return &Verifier{provider: opts.Provider, model: opts.Model, logger: logger}
}

const verifyActionPrefix = "verify_"

// VerifyStep checks result against step's intent (spec §4.9).
func (v *Verifier) VerifyStep(ctx context.Context, step storage.Step, result storage.ExecutionResult) (storage.Verification, error) {
	switch {
	case step.Action.Name == "navigate":
		return v.verifyNavigate(result), nil
	case step.Action.Name == "type":
		return v.verifyType(step, result), nil
	case strings.HasPrefix(step.Action.Name, verifyActionPrefix) && result.Status == storage.StepSuccess:
		return v.verifyDOMCheckAction(), nil
	default:
		return v.verifyWithLLM(ctx, step.Description, result)
	}
}

func (v *Verifier) verifyNavigate(result storage.ExecutionResult) storage.Verification {
	if result.Status != storage.StepSuccess {
		return storage.Verification{IsVerified: false, Evidence: fmt.Sprintf("navigation did not succeed: %s", result.Error)}
	}
	return storage.Verification{
		IsVerified: true,
		Evidence:   fmt.Sprintf("Navigation successful: Page loaded at %s", result.Snapshot.Metadata.URL),
	}
}

func (v *Verifier) verifyType(step storage.Step, result storage.ExecutionResult) storage.Verification {
	wanted, _ := step.Action.Arguments["value"].(string)
	typed := result.Snapshot.Metadata.TypedValue
	if typed == wanted {
		return storage.Verification{
			IsVerified: true,
			Evidence:   fmt.Sprintf("typed value %q matches requested value %q", typed, wanted),
		}
	}
	return storage.Verification{
		IsVerified: false,
		Evidence:   fmt.Sprintf("typed value %q does not match requested value %q", typed, wanted),
	}
}

// verifyDOMCheckAction trusts a successful verify_* action's own DOM-level
// check rather than re-verifying; a failed verify_* action falls through
// to verifyWithLLM instead, since a failure isn't the success-case this
// shortcut covers (spec §4.9).
func (v *Verifier) verifyDOMCheckAction() storage.Verification {
	return storage.Verification{IsVerified: true, Evidence: "DOM-level check already passed"}
}

func (v *Verifier) verifyWithLLM(ctx context.Context, description string, result storage.ExecutionResult) (storage.Verification, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: verifyAnswerSystemPrompt},
		{Role: llm.RoleUser, Content: renderVerifyPrompt(description, result)},
	}

	if shot := result.Snapshot.Metadata.ScreenshotBase64; shot != "" && v.provider.SupportsVision() {
		messages[1] = llm.Message{
			Role: llm.RoleUser,
			Parts: []llm.ContentPart{
				{Type: llm.ContentTypeText, Text: renderVerifyPrompt(description, result)},
				{Type: llm.ContentTypeImageURL, ImageURL: &llm.ImageURL{URL: "data:image/jpeg;base64," + shot}},
			},
		}
	}

	resp, err := v.provider.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Model:          v.model,
		Messages:       messages,
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	if err != nil {
		return storage.Verification{}, core.NewFrameworkError("verifier.VerifyStep", "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}

	answer, err := parseVerifyAnswer(resp.Content)
	if err != nil {
		return storage.Verification{}, core.NewFrameworkError("verifier.VerifyStep", "validation", fmt.Errorf("%w: %v", core.ErrValidation, err))
	}
	return answer, nil
}

func renderVerifyPrompt(description string, result storage.ExecutionResult) string {
	return fmt.Sprintf(
		"Step intent: %s\nAction status: %s\nPage URL after step: %s\nError (if any): %s",
		description, result.Status, result.Snapshot.Metadata.URL, result.Error,
	)
}

// VerifyAssertions produces one Verification per assertion over
// lastResult's final snapshot (spec §4.9).
func (v *Verifier) VerifyAssertions(ctx context.Context, assertions []storage.Assertion, lastResult storage.ExecutionResult) ([]storage.Verification, error) {
	out := make([]storage.Verification, 0, len(assertions))
	for _, a := range assertions {
		verification, err := v.verifyAssertion(ctx, a, lastResult)
		if err != nil {
			return nil, err
		}
		out = append(out, verification)
	}
	return out, nil
}

func (v *Verifier) verifyAssertion(ctx context.Context, assertion storage.Assertion, lastResult storage.ExecutionResult) (storage.Verification, error) {
	description := fmt.Sprintf("assert %s %s %s", assertion.Target, assertion.Operation, assertion.Value)
	return v.verifyWithLLM(ctx, description, lastResult)
}
