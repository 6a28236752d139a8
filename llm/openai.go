package llm

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/adaptiveqa/browserpilot/core"
)

// ChatCompletionsClient captures the subset of the official OpenAI SDK
// this package drives, narrowed for testability (real vs. fake client
// are interchangeable).
type ChatCompletionsClient interface {
	New(ctx context.Context, params openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

// OpenAIOptions configures OpenAIProvider.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string // custom gateway base URL (spec §4.6)

	Model       string
	VisionModel string

	// Client overrides the real SDK client, for tests.
	Client ChatCompletionsClient
	Logger core.Logger
}

// OpenAIProvider implements Provider over the OpenAI Chat Completions
// API (spec §4.6).
type OpenAIProvider struct {
	chat        ChatCompletionsClient
	model       string
	visionModel string
	logger      core.Logger
}

// NewOpenAIProvider builds an OpenAI-backed provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" && opts.Client == nil {
		return nil, core.NewFrameworkError("llm.NewOpenAIProvider", "validation",
			fmt.Errorf("%w: openai api key is required", core.ErrValidation))
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o"
	}
	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = model
	}

	chat := opts.Client
	if chat == nil {
		reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		sdkClient := openaisdk.NewClient(reqOpts...)
		chat = sdkClient.Chat.Completions
	}

	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/llm/openai")
	}

	return &OpenAIProvider{chat: chat, model: model, visionModel: visionModel, logger: logger}, nil
}

// CreateChatCompletion implements Provider.
func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaisdk.Float(*req.Temperature)
	}
	jsonModeRequested := req.ResponseFormat != nil && req.ResponseFormat.Type == ResponseFormatJSONObject
	if jsonModeRequested {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openaisdk.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return ChatCompletionResponse{}, p.classifyError("llm.OpenAIProvider.CreateChatCompletion", err)
	}
	if len(resp.Choices) == 0 {
		return ChatCompletionResponse{}, core.NewFrameworkError("llm.OpenAIProvider.CreateChatCompletion", "provider_error",
			fmt.Errorf("%w: no choices in response", core.ErrProviderError))
	}

	content := resp.Choices[0].Message.Content
	if jsonModeRequested {
		content = stripJSONCodeFence(content)
	}

	var usage *Usage
	if resp.Usage.TotalTokens > 0 {
		usage = &Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		}
	}

	return ChatCompletionResponse{
		Content: content,
		Role:    RoleAssistant,
		Model:   resp.Model,
		Usage:   usage,
	}, nil
}

func (p *OpenAIProvider) convertMessages(messages []Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openaisdk.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(m.Content))
		case RoleUser:
			if !m.IsMultimodal() {
				out = append(out, openaisdk.UserMessage(m.Content))
				continue
			}
			parts, err := p.convertParts(m.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{
				OfUser: &openaisdk.ChatCompletionUserMessageParam{
					Content: openaisdk.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			})
		default:
			return nil, core.NewFrameworkError("llm.OpenAIProvider.convertMessages", "validation",
				fmt.Errorf("%w: unsupported message role %q", core.ErrValidation, m.Role))
		}
	}
	return out, nil
}

func (p *OpenAIProvider) convertParts(parts []ContentPart) ([]openaisdk.ChatCompletionContentPartUnionParam, error) {
	out := make([]openaisdk.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case ContentTypeText:
			out = append(out, openaisdk.TextContentPart(part.Text))
		case ContentTypeImageURL:
			if part.ImageURL == nil {
				return nil, core.NewFrameworkError("llm.OpenAIProvider.convertParts", "validation",
					fmt.Errorf("%w: image_url part missing image url", core.ErrValidation))
			}
			detail := part.ImageURL.Detail
			if detail == "" {
				detail = "auto"
			}
			out = append(out, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
				URL:    part.ImageURL.URL,
				Detail: detail,
			}))
		default:
			return nil, core.NewFrameworkError("llm.OpenAIProvider.convertParts", "validation",
				fmt.Errorf("%w: unsupported content part type %q", core.ErrValidation, part.Type))
		}
	}
	return out, nil
}

// SupportsVision implements Provider. The configured vision model is
// assumed vision-capable; callers route image-bearing requests to it
// via ChatCompletionRequest.Model.
func (p *OpenAIProvider) SupportsVision() bool { return true }

// SupportsJSONMode implements Provider. The Chat Completions API
// requests JSON natively via response_format.
func (p *OpenAIProvider) SupportsJSONMode() bool { return true }

// ValidateConnection implements Provider with a minimal completion
// call.
func (p *OpenAIProvider) ValidateConnection(ctx context.Context) error {
	_, err := p.CreateChatCompletion(ctx, ChatCompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// GetAvailableModels implements Provider.
func (p *OpenAIProvider) GetAvailableModels() []string {
	if p.visionModel != "" && p.visionModel != p.model {
		return []string{p.model, p.visionModel}
	}
	return []string{p.model}
}

func (p *OpenAIProvider) classifyError(op string, err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return core.NewFrameworkError(op, "transient", fmt.Errorf("%w: %v", core.ErrTransientRemote, err))
		}
		return core.NewFrameworkError(op, "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return core.NewFrameworkError(op, "transient", fmt.Errorf("%w: %v", core.ErrTransientRemote, err))
}
