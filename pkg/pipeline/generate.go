package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/llm"
)

// generationPayload is the JSON contract the model answers with.
type generationPayload struct {
	Code           string            `json:"code" jsonschema:"only the transformation code that replaces {generated_code}; must assign processed_df"`
	ChannelMapping map[string]string `json:"channel_mapping" jsonschema:"chart channel name to processed_df column name"`
}

type GeneratorConfig struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Prompts *Prompts
}

func (cfg *GeneratorConfig) Validate() error {
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

// Generator asks the model for a transformation fragment and renders it into
// the script template.
type Generator struct {
	log *slog.Logger
	cfg GeneratorConfig
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{log: cfg.Logger, cfg: cfg}, nil
}

// Generate makes one LLM call. The returned mapping is keyed by exactly the
// requested channel names that the model mapped; extra keys are dropped.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (*CodeGenerationResult, error) {
	tmpl := in.CodeTemplate
	if tmpl == "" {
		tmpl = DefaultCodeTemplate
	}

	userPrompt, err := buildGeneratePrompt(in, tmpl)
	if err != nil {
		return nil, err
	}

	response, err := g.cfg.LLM.Complete(ctx, g.cfg.Prompts.Generate, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	payload, err := parseGenerationResponse(response)
	if err != nil {
		return nil, err
	}

	fragment := llm.StripCodeFence(payload.Code)
	if strings.TrimSpace(fragment) == "" {
		return nil, errors.New("model returned no code")
	}

	code, err := RenderTemplate(tmpl, in.DataPath, in.SheetName, fragment)
	if err != nil {
		return nil, fmt.Errorf("failed to render code template: %w", err)
	}

	mapping := make(map[string]string, len(in.Channels))
	if len(in.Channels) == 0 {
		for k, v := range payload.ChannelMapping {
			if v != "" {
				mapping[k] = v
			}
		}
	} else {
		for _, ch := range in.Channels {
			col, ok := payload.ChannelMapping[ch.Name]
			if !ok || col == "" {
				g.log.Warn("pipeline: channel left unmapped", "chartID", in.ChartID, "channel", ch.Name)
				continue
			}
			mapping[ch.Name] = col
		}
	}

	g.log.Debug("pipeline: generated code", "attempt", in.Retry.Attempt, "code", code, "channelMapping", mapping)
	return &CodeGenerationResult{Code: code, Fragment: fragment, ChannelMapping: mapping}, nil
}

// parseGenerationResponse reads the JSON payload. A bare fenced code block is
// accepted with an empty mapping since models sometimes drop the wrapper.
func parseGenerationResponse(response string) (*generationPayload, error) {
	var payload generationPayload
	err := llm.DecodeJSON(response, &payload)
	if err == nil && payload.Code != "" {
		return &payload, nil
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "```json") {
		return &generationPayload{Code: trimmed}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	return nil, errors.New("model returned no code")
}

func buildGeneratePrompt(in GenerateInput, tmpl string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Preprocessing instructions:\n")
	sb.WriteString(in.Instructions)
	sb.WriteString("\n\nDataset description:\n")
	sb.WriteString(in.DatasetDescription)
	sb.WriteString("\n\nDataset sample:\n")
	sb.WriteString(in.DatasetSample)
	if in.SheetName != "" {
		sb.WriteString(fmt.Sprintf("\n\nSheet loaded into df: %s", in.SheetName))
	}
	sb.WriteString("\n\nCode template:\n```python\n")
	sb.WriteString(tmpl)
	sb.WriteString("\n```")

	if in.ChartID != "" {
		sb.WriteString(fmt.Sprintf("\n\nChart template: %s", in.ChartID))
	}
	if len(in.Channels) > 0 {
		channels, err := json.Marshal(in.Channels)
		if err != nil {
			return "", fmt.Errorf("failed to marshal channels: %w", err)
		}
		sb.WriteString("\n\nTarget channels (map each one, do not rename columns):\n")
		sb.Write(channels)
	} else {
		sb.WriteString("\n\nTarget channels: none")
	}

	if in.Retry.PreviousCode != "" || in.Retry.PreviousError != "" {
		sb.WriteString("\n\nThe previous attempt failed. Fix it rather than starting over.")
		sb.WriteString("\n\nPrevious code:\n```python\n")
		sb.WriteString(in.Retry.PreviousCode)
		sb.WriteString("\n```\n\nError from the previous attempt:\n")
		sb.WriteString(in.Retry.PreviousError)
	}
	return sb.String(), nil
}
