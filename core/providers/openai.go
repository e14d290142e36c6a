package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI's GPT models and for
// OpenAI-compatible gateways when configured with a BaseURL and Gateway=true.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

// Supported OpenAI models
var openaiModels = map[string]bool{
	"gpt-5.2":       true,
	"gpt-5.2-codex": true,
	"gpt-5-mini":    true,
}

// NewOpenAIProvider creates a new OpenAI provider with the given configuration
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.Model == "" {
		config.Model = DefaultOpenAIConfig().Model
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultOpenAIConfig().MaxTokens
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", config.Organization))
	}

	if config.Project != "" {
		opts = append(opts, option.WithHeader("OpenAI-Project", config.Project))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client: &client,
		config: config,
	}, nil
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string {
	if p.config.Gateway {
		return string(ProviderTypeOpenRouter)
	}
	return string(ProviderTypeOpenAI)
}

// Complete performs a non-streaming completion request
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := p.buildParams(req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai complete: %w", err)
	}

	return p.convertResponse(completion), nil
}

// ValidateConfig checks if the provider configuration is valid
func (p *OpenAIProvider) ValidateConfig() error {
	return p.config.Validate()
}

// SupportsModel checks if the provider supports the given model.
// Gateway deployments route arbitrary model identifiers server-side.
func (p *OpenAIProvider) SupportsModel(model string) bool {
	if p.config.Gateway {
		return true
	}
	return openaiModels[model]
}

// Close cleans up any resources
func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) SupportedModels() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-5.2", Name: "GPT-5.2", MaxContext: 400000},
		{ID: "gpt-5.2-codex", Name: "GPT-5.2 Codex", MaxContext: 400000},
		{ID: "gpt-5-mini", Name: "GPT-5 Mini", MaxContext: 400000},
	}
}

// buildParams constructs Chat Completions parameters from a Request
func (p *OpenAIProvider) buildParams(req *Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}

	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.StopSequences,
		}
	}

	return params
}

// convertResponse converts a Chat Completions response to generic format
func (p *OpenAIProvider) convertResponse(completion *openai.ChatCompletion) *Response {
	var content string
	stopReason := StopReasonEndTurn

	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		content = choice.Message.Content
		switch choice.FinishReason {
		case "length":
			stopReason = StopReasonMaxTokens
		case "stop":
			stopReason = StopReasonEndTurn
		}
	}

	return &Response{
		Content:    content,
		Model:      completion.Model,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
}
