package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat APIs.
type OpenAIProvider struct {
	client *openai.Client
	apiKey string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		apiKey: apiKey,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, &ProviderError{Provider: "openai", Msg: "API key not configured"}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Msg: "empty response choices"}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Response{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

// classifyOpenAIError maps go-openai error types onto the transient/permanent
// taxonomy.
func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:  "openai",
			Status:    apiErr.HTTPStatusCode,
			Msg:       apiErr.Message,
			Transient: transientStatus(apiErr.HTTPStatusCode),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider:  "openai",
			Status:    reqErr.HTTPStatusCode,
			Msg:       reqErr.Error(),
			Transient: transientStatus(reqErr.HTTPStatusCode),
		}
	}

	// Transport-level failure (connection refused, timeout).
	return &ProviderError{Provider: "openai", Msg: err.Error(), Transient: true}
}
