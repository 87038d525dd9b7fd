package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/llm"
)

// maxHistoryContent is the rune limit for assistant turns in the classifier prompt.
const maxHistoryContent = 500

// ClassifyInput is everything the classifier sees for one query.
type ClassifyInput struct {
	Query          string
	Dataset        Dataset
	Templates      []catalog.ChartTemplate
	SystemState    json.RawMessage
	MessageHistory []Message
}

// classificationPayload is the JSON contract the model answers with.
type classificationPayload struct {
	QueryType                 string     `json:"query_type" jsonschema:"one of value, visualization, replace, report"`
	SheetName                 string     `json:"sheet_name" jsonschema:"workbook sheet to read"`
	PreprocessingInstructions string     `json:"preprocessing_instructions" jsonschema:"instructions for the code that transforms the sheet"`
	ChartID                   string     `json:"chart_id,omitempty" jsonschema:"chart template id for visualization and replace"`
	ChartTitle                string     `json:"chart_title,omitempty" jsonschema:"short Chinese chart title for visualization and replace"`
	ExistingVisualizationID   string     `json:"existing_visualization_id,omitempty" jsonschema:"id of the chart to replace, for replace"`
	Province                  string     `json:"province,omitempty" jsonschema:"province name, for report"`
	Year                      flexString `json:"year,omitempty" jsonschema:"report year, for report"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexString(n.String())
	return nil
}

type ClassifierConfig struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Prompts *Prompts
}

func (cfg *ClassifierConfig) Validate() error {
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

// Classifier turns a free-text query into a validated Classification.
type Classifier struct {
	log *slog.Logger
	cfg ClassifierConfig
}

func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{log: cfg.Logger, cfg: cfg}, nil
}

// Classify makes one LLM call and validates the answer. Any failure is a
// classification error; a partial classification is never returned. With no
// chart templates a visualization or replace answer is downgraded to a value
// query.
func (c *Classifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, errors.New("query is empty")
	}

	userPrompt, err := buildClassifyPrompt(in)
	if err != nil {
		return nil, err
	}

	response, err := c.cfg.LLM.Complete(ctx, c.cfg.Prompts.Classify, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	c.log.Debug("pipeline: classification response", "response", response)

	classification, err := ParseClassification(response)
	if err != nil {
		return nil, err
	}

	if len(in.Templates) == 0 {
		switch q := classification.(type) {
		case VisualizationQuery:
			c.log.Warn("pipeline: no chart templates loaded, answering visualization as value query", "chartID", q.ChartID)
			return ValueQuery{Common: q.Common}, nil
		case ReplaceQuery:
			c.log.Warn("pipeline: no chart templates loaded, answering replace as value query", "chartID", q.ChartID)
			return ValueQuery{Common: q.Common}, nil
		}
	}

	c.log.Info("pipeline: query classified", "queryType", classification.Kind(), "sheet", classification.Base().SheetName)
	return classification, nil
}

// ParseClassification validates a model response into one of the four
// classification kinds, rejecting responses missing fields their kind needs.
func ParseClassification(response string) (Classification, error) {
	var p classificationPayload
	if err := llm.DecodeJSON(response, &p); err != nil {
		return nil, err
	}

	common := Common{
		SheetName:                 strings.TrimSpace(p.SheetName),
		PreprocessingInstructions: strings.TrimSpace(p.PreprocessingInstructions),
	}
	kind := QueryKind(strings.ToLower(strings.TrimSpace(p.QueryType)))

	switch kind {
	case KindValue, KindVisualization, KindReplace:
		if common.PreprocessingInstructions == "" {
			return nil, fmt.Errorf("%s classification is missing preprocessing_instructions", kind)
		}
	}

	switch kind {
	case KindValue:
		return ValueQuery{Common: common}, nil
	case KindVisualization, KindReplace:
		vis := VisualizationQuery{
			Common:     common,
			ChartID:    strings.TrimSpace(p.ChartID),
			ChartTitle: strings.TrimSpace(p.ChartTitle),
		}
		if vis.ChartID == "" {
			return nil, fmt.Errorf("%s classification is missing chart_id", kind)
		}
		if kind == KindVisualization {
			return vis, nil
		}
		existing := strings.TrimSpace(p.ExistingVisualizationID)
		if existing == "" {
			return nil, errors.New("replace classification is missing existing_visualization_id")
		}
		return ReplaceQuery{VisualizationQuery: vis, ExistingVisualizationID: existing}, nil
	case KindReport:
		report := ReportQuery{
			Common:   common,
			Province: strings.TrimSpace(p.Province),
			Year:     strings.TrimSpace(string(p.Year)),
		}
		if report.Province == "" {
			return nil, errors.New("report classification is missing province")
		}
		if report.Year == "" {
			return nil, errors.New("report classification is missing year")
		}
		return report, nil
	default:
		return nil, fmt.Errorf("unknown query_type %q", p.QueryType)
	}
}

func buildClassifyPrompt(in ClassifyInput) (string, error) {
	templates := in.Templates
	if templates == nil {
		templates = []catalog.ChartTemplate{}
	}
	templatesJSON, err := json.MarshalIndent(templates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal chart templates: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Dataset description:\n")
	sb.WriteString(in.Dataset.Description)
	sb.WriteString("\n\nDataset sample (first rows of each sheet):\n")
	sb.WriteString(in.Dataset.Sample)
	sb.WriteString("\n\nChart templates:\n")
	sb.Write(templatesJSON)

	if state := bytes.TrimSpace(in.SystemState); len(state) > 0 && string(state) != "null" {
		sb.WriteString("\n\nCurrent system state (existing visualizations):\n")
		sb.Write(state)
	}

	if len(in.MessageHistory) > 0 {
		sb.WriteString("\n\nPrevious conversation:\n")
		for _, msg := range in.MessageHistory {
			if msg.Role == "user" {
				sb.WriteString(fmt.Sprintf("User: %s\n", msg.Content))
				continue
			}
			sb.WriteString(fmt.Sprintf("Assistant: %s\n", truncate(msg.Content, maxHistoryContent)))
		}
	}

	sb.WriteString("\n\nQuery to classify: ")
	sb.WriteString(in.Query)
	return sb.String(), nil
}
