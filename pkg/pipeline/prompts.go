package pipeline

import (
	"fmt"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/llm"
	"github.com/CrMo2001/intelli-vis/pkg/pipeline/prompts"
)

// Prompts contains all the pipeline prompts loaded from embedded files.
type Prompts struct {
	Classify string // Prompt for query classification
	Generate string // Prompt for transformation code generation
	Respond  string // Prompt for natural-language answers over result rows
}

// LoadPrompts loads all prompts from the embedded filesystem and fills in
// the output schemas.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Classify, err = loadPrompt("CLASSIFY.md"); err != nil {
		return nil, fmt.Errorf("failed to load CLASSIFY: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Respond, err = loadPrompt("RESPOND.md"); err != nil {
		return nil, fmt.Errorf("failed to load RESPOND: %w", err)
	}

	classifySchema, err := llm.SchemaFor[classificationPayload]()
	if err != nil {
		return nil, fmt.Errorf("failed to render classification schema: %w", err)
	}
	generateSchema, err := llm.SchemaFor[generationPayload]()
	if err != nil {
		return nil, fmt.Errorf("failed to render generation schema: %w", err)
	}
	p.Classify = strings.Replace(p.Classify, "{{CLASSIFICATION_SCHEMA}}", classifySchema, 1)
	p.Generate = strings.Replace(p.Generate, "{{GENERATION_SCHEMA}}", generateSchema, 1)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
