package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// OpenRouterDefaultModel is the free model the pipeline targets when no
	// stage routing is configured.
	OpenRouterDefaultModel = "z-ai/glm-4.5-air:free"
)

// OpenAIAdapter implements the Adapter interface for OpenAI's chat
// completions API and for OpenAI-compatible gateways such as OpenRouter.
type OpenAIAdapter struct {
	name      string
	client    openai.Client
	models    []string
	maxTokens int64
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAdapter{
		name:   "openai",
		client: client,
		models: []string{
			"gpt-5.2-instant",
			"gpt-5.2-thinking",
			"gpt-5.2-codex",
			"gpt-5.2-pro",
		},
		maxTokens: 4096,
	}, nil
}

// NewOpenRouterAdapter creates an adapter that talks to OpenRouter through
// the OpenAI client.
func NewOpenRouterAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(openRouterBaseURL),
	)
	return &OpenAIAdapter{
		name:   "openrouter",
		client: client,
		models: []string{OpenRouterDefaultModel},
	}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Models returns the list of supported models.
func (a *OpenAIAdapter) Models() []string {
	return append([]string(nil), a.models...)
}

// Generate sends a prompt as a single user message and returns the first
// choice's content.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if a.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(a.maxTokens)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, callError(a.name, "chat completion failed", status, err)
	}

	if len(resp.Choices) == 0 {
		return nil, emptyResponse(a.name, "response has no choices")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, emptyResponse(a.name, "first choice has no message content")
	}

	return &Response{
		Content: content,
		Adapter: a.name,
		Model:   model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
