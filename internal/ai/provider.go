package ai

import (
	"context"
	"errors"
	"fmt"
)

// Request is a provider-agnostic text-generation request.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Response is a provider-agnostic response.
type Response struct {
	Text  string
	Model string
}

// Provider is the interface all AI backends implement.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string // "anthropic" or "openai"
}

// ProviderError is a typed failure from an AI backend. Transient errors
// (rate limits, timeouts, 5xx) are retryable; everything else (bad
// credentials, malformed requests) is permanent.
type ProviderError struct {
	Provider  string
	Status    int // HTTP status, 0 for transport failures
	Msg       string
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Msg)
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// transientStatus classifies an HTTP status code from a provider.
func transientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// New returns the provider for a resolved source setting.
func New(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", name)
	}
}
