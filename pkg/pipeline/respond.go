package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/llm"
	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
)

// maxPromptRows caps how many result rows are shown to the model.
const maxPromptRows = 50

type ResponderConfig struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Prompts *Prompts
}

func (cfg *ResponderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts are required")
	}
	return nil
}

// Responder explains result rows in natural language.
type Responder struct {
	log *slog.Logger
	cfg ResponderConfig
}

func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Responder{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Responder) Respond(ctx context.Context, query string, columns []string, records []map[string]any) (string, error) {
	userPrompt := fmt.Sprintf("Query: %s\n\nResult rows (%d total):\n%s",
		query, len(records), sandbox.FormatRecords(columns, records, maxPromptRows))

	response, err := r.cfg.LLM.Complete(ctx, r.cfg.Prompts.Respond, userPrompt)
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return "", errors.New("model returned an empty response")
	}
	return response, nil
}
