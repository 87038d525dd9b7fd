// Package llm wraps the language-model providers behind a single completion
// interface and holds the helpers used to pull structured output out of
// model responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CrMo2001/intelli-vis/pkg/config"
)

var ErrNoTextContent = errors.New("no text content in response")

// Client is the interface for interacting with an LLM.
type Client interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewFromConfig builds the provider client selected by cfg, wrapped with
// transient-error retries. cfg must already be validated.
func NewFromConfig(log *slog.Logger, cfg *config.Config) (Client, error) {
	var base Client
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		base = NewAnthropicClient(log, AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.LLMMaxTokens,
		})
	case config.ProviderOpenAI:
		base = NewOpenAIClient(log, OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.LLMMaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
	return NewRetryingClient(log, base, RetryConfig{MaxTries: cfg.LLMMaxRetries}), nil
}
