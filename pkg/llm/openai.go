package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

type OpenAIClient struct {
	log       *slog.Logger
	client    openai.Client
	model     string
	maxTokens int64
}

func NewOpenAIClient(log *slog.Logger, cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		log:       log,
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	c.log.Debug("llm: openai call starting", "model", c.model, "maxTokens", c.maxTokens, "userPromptLen", len(userPrompt))

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)

	duration := time.Since(start)
	llmCallsTotal.WithLabelValues("openai", outcomeLabel(err)).Inc()
	llmCallDuration.WithLabelValues("openai").Observe(duration.Seconds())
	if err != nil {
		c.log.Warn("llm: openai call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrNoTextContent
	}
	c.log.Debug("llm: openai call completed", "duration", duration, "finishReason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
