package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
)

const (
	DefaultMaxTries        = 3
	DefaultInitialInterval = 500 * time.Millisecond
)

type RetryConfig struct {
	MaxTries        int
	InitialInterval time.Duration
}

// RetryingClient retries transient provider failures. It knows nothing about
// the content of responses; malformed output is the caller's problem.
type RetryingClient struct {
	log  *slog.Logger
	next Client
	cfg  RetryConfig
}

func NewRetryingClient(log *slog.Logger, next Client, cfg RetryConfig) *RetryingClient {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	return &RetryingClient{log: log, next: next, cfg: cfg}
}

func (c *RetryingClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			llmRetriesTotal.Inc()
			c.log.Warn("llm: retrying completion", "attempt", attempt)
		}
		text, err := c.next.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			if !IsTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return text, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.cfg.MaxTries)))
}

// IsTransient reports whether err is worth retrying: rate limits, timeouts,
// server errors and network failures. Other API errors and context
// cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNoTextContent) {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return transientStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return transientStatus(openaiErr.StatusCode)
	}
	return true
}

func transientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
