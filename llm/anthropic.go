package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adaptiveqa/browserpilot/core"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// package drives, satisfied by *sdk.MessageService or a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures AnthropicProvider.
type AnthropicOptions struct {
	APIKey string

	// BaseURL and AuthToken support gateway deployments that front the
	// Anthropic API with their own endpoint/credential (spec §4.6).
	BaseURL   string
	AuthToken string

	Model       string
	VisionModel string
	MaxTokens   int // default completion cap when a request omits one

	// Client overrides the real SDK client, for tests.
	Client MessagesClient
	Logger core.Logger
}

// AnthropicProvider implements Provider over the Anthropic Messages API
// (spec §4.6). Anthropic has no native JSON response mode, so JSON-mode
// requests are satisfied by instructing the model via a trailing system
// note and stripping any code fence from the reply.
type AnthropicProvider struct {
	msg         MessagesClient
	model       string
	visionModel string
	maxTokens   int
	logger      core.Logger
}

const defaultAnthropicMaxTokens = 4096

// NewAnthropicProvider builds an Anthropic-backed provider.
func NewAnthropicProvider(opts AnthropicOptions) (*AnthropicProvider, error) {
	if opts.APIKey == "" && opts.AuthToken == "" && opts.Client == nil {
		return nil, core.NewFrameworkError("llm.NewAnthropicProvider", "validation",
			fmt.Errorf("%w: anthropic api key or auth token is required", core.ErrValidation))
	}
	model := opts.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	client := opts.Client
	if client == nil {
		reqOpts := []option.RequestOption{}
		if opts.AuthToken != "" {
			reqOpts = append(reqOpts, option.WithAuthToken(opts.AuthToken))
		} else {
			reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
		}
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		sdkClient := sdk.NewClient(reqOpts...)
		client = &sdkClient.Messages
	}

	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/llm/anthropic")
	}

	return &AnthropicProvider{msg: client, model: model, visionModel: visionModel, maxTokens: maxTokens, logger: logger}, nil
}

// CreateChatCompletion implements Provider.
func (p *AnthropicProvider) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	jsonModeRequested := req.ResponseFormat != nil && req.ResponseFormat.Type == ResponseFormatJSONObject

	conversation, system, err := p.encodeMessages(req.Messages, jsonModeRequested)
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return ChatCompletionResponse{}, p.classifyError("llm.AnthropicProvider.CreateChatCompletion", err)
	}

	content := extractText(msg)
	if jsonModeRequested {
		content = stripJSONCodeFence(content)
	}

	return ChatCompletionResponse{
		Content: content,
		Role:    RoleAssistant,
		Model:   string(msg.Model),
		Usage:   usageFrom(msg),
	}, nil
}

func (p *AnthropicProvider) encodeMessages(messages []Message, jsonModeRequested bool) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	system := make([]sdk.TextBlockParam, 0, 1)

	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
			continue
		}

		blocks, err := p.encodeBlocks(m)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		switch m.Role {
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, core.NewFrameworkError("llm.AnthropicProvider.encodeMessages", "validation",
				fmt.Errorf("%w: unsupported message role %q", core.ErrValidation, m.Role))
		}
	}

	if jsonModeRequested {
		note := "Respond with JSON only, no prose and no code fences."
		system = append(system, sdk.TextBlockParam{Text: note})
	}
	if len(conversation) == 0 {
		return nil, nil, core.NewFrameworkError("llm.AnthropicProvider.encodeMessages", "validation",
			fmt.Errorf("%w: at least one user/assistant message is required", core.ErrValidation))
	}
	return conversation, system, nil
}

func (p *AnthropicProvider) encodeBlocks(m Message) ([]sdk.ContentBlockParamUnion, error) {
	if !m.IsMultimodal() {
		if m.Content == "" {
			return nil, nil
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Content)}, nil
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Type {
		case ContentTypeText:
			if part.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(part.Text))
			}
		case ContentTypeImageURL:
			if part.ImageURL == nil {
				return nil, core.NewFrameworkError("llm.AnthropicProvider.encodeBlocks", "validation",
					fmt.Errorf("%w: image_url part missing image url", core.ErrValidation))
			}
			mediaType, data, err := splitDataURL(part.ImageURL.URL)
			if err != nil {
				return nil, core.NewFrameworkError("llm.AnthropicProvider.encodeBlocks", "validation", err)
			}
			blocks = append(blocks, sdk.NewImageBlockBase64(mediaType, data))
		default:
			return nil, core.NewFrameworkError("llm.AnthropicProvider.encodeBlocks", "validation",
				fmt.Errorf("%w: unsupported content part type %q", core.ErrValidation, part.Type))
		}
	}
	return blocks, nil
}

// splitDataURL splits a "data:<mediaType>;base64,<data>" URL into its
// media type and base64 payload. Anthropic vision input is base64-only,
// matching the data URLs the VISION_AI discovery strategy and the
// verifier build from screenshot bytes.
func splitDataURL(url string) (mediaType, data string, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", fmt.Errorf("%w: image url must be a data: URL", core.ErrValidation)
	}
	rest := strings.TrimPrefix(url, prefix)
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed data URL", core.ErrValidation)
	}
	meta := strings.TrimSuffix(parts[0], ";base64")
	if meta == "" {
		meta = "image/png"
	}
	return meta, parts[1], nil
}

func extractText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func usageFrom(msg *sdk.Message) *Usage {
	u := msg.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return &Usage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
}

// SupportsVision implements Provider.
func (p *AnthropicProvider) SupportsVision() bool { return true }

// SupportsJSONMode implements Provider. Anthropic has no native JSON
// response format; requests are satisfied by post-processing (spec
// §4.6(b)).
func (p *AnthropicProvider) SupportsJSONMode() bool { return false }

// ValidateConnection implements Provider with a minimal completion
// call.
func (p *AnthropicProvider) ValidateConnection(ctx context.Context) error {
	_, err := p.CreateChatCompletion(ctx, ChatCompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// GetAvailableModels implements Provider.
func (p *AnthropicProvider) GetAvailableModels() []string {
	if p.visionModel != "" && p.visionModel != p.model {
		return []string{p.model, p.visionModel}
	}
	return []string{p.model}
}

func (p *AnthropicProvider) classifyError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return core.NewFrameworkError(op, "transient", fmt.Errorf("%w: %v", core.ErrTransientRemote, err))
		}
		return core.NewFrameworkError(op, "provider_error", fmt.Errorf("%w: %v", core.ErrProviderError, err))
	}
	return core.NewFrameworkError(op, "transient", fmt.Errorf("%w: %v", core.ErrTransientRemote, err))
}
