package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompts(t *testing.T) *Prompts {
	t.Helper()
	p, err := LoadPrompts()
	require.NoError(t, err)
	return p
}

func TestIntelliVis_Pipeline_LoadPrompts(t *testing.T) {
	t.Parallel()

	p := testPrompts(t)
	assert.NotContains(t, p.Classify, "{{CLASSIFICATION_SCHEMA}}")
	assert.Contains(t, p.Classify, `"query_type"`)
	assert.Contains(t, p.Classify, `"preprocessing_instructions"`)
	assert.NotContains(t, p.Generate, "{{GENERATION_SCHEMA}}")
	assert.Contains(t, p.Generate, `"channel_mapping"`)
	assert.NotEmpty(t, p.Respond)
}

func TestIntelliVis_Pipeline_ParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		expected Classification
		errMsg   string
	}{
		{
			name:     "value",
			response: `{"query_type": "value", "sheet_name": "gdp", "preprocessing_instructions": "filter 2020"}`,
			expected: ValueQuery{Common: Common{SheetName: "gdp", PreprocessingInstructions: "filter 2020"}},
		},
		{
			name:     "visualization in fence with mixed case",
			response: "```json\n{\"query_type\": \"Visualization\", \"sheet_name\": \"s\", \"preprocessing_instructions\": \"p\", \"chart_id\": \"barChart\", \"chart_title\": \"能耗\"}\n```",
			expected: VisualizationQuery{Common: Common{SheetName: "s", PreprocessingInstructions: "p"}, ChartID: "barChart", ChartTitle: "能耗"},
		},
		{
			name:     "replace",
			response: `{"query_type": "replace", "sheet_name": "s", "preprocessing_instructions": "p", "chart_id": "lineChart", "chart_title": "t", "existing_visualization_id": "vis-3"}`,
			expected: ReplaceQuery{
				VisualizationQuery:      VisualizationQuery{Common: Common{SheetName: "s", PreprocessingInstructions: "p"}, ChartID: "lineChart", ChartTitle: "t"},
				ExistingVisualizationID: "vis-3",
			},
		},
		{
			name:     "report with numeric year",
			response: `{"query_type": "report", "sheet_name": "", "preprocessing_instructions": "", "province": "湖北", "year": 2022}`,
			expected: ReportQuery{Province: "湖北", Year: "2022"},
		},
		{
			name:     "report with string year",
			response: `{"query_type": "report", "province": "湖北", "year": "not-a-number"}`,
			expected: ReportQuery{Province: "湖北", Year: "not-a-number"},
		},
		{name: "value without instructions", response: `{"query_type": "value", "sheet_name": "s"}`, errMsg: "missing preprocessing_instructions"},
		{name: "visualization without chart", response: `{"query_type": "visualization", "preprocessing_instructions": "p"}`, errMsg: "missing chart_id"},
		{name: "replace without target", response: `{"query_type": "replace", "preprocessing_instructions": "p", "chart_id": "c"}`, errMsg: "missing existing_visualization_id"},
		{name: "report without province", response: `{"query_type": "report", "year": "2020"}`, errMsg: "missing province"},
		{name: "report without year", response: `{"query_type": "report", "province": "湖北"}`, errMsg: "missing year"},
		{name: "unknown type", response: `{"query_type": "chitchat"}`, errMsg: `unknown query_type "chitchat"`},
		{name: "not json", response: "I think this is a chart", errMsg: "no JSON found"},
		{name: "bad year type", response: `{"query_type": "report", "province": "p", "year": [2020]}`, errMsg: "failed to parse JSON response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseClassification(tt.response)
			if tt.errMsg != "" {
				require.ErrorContains(t, err, tt.errMsg)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIntelliVis_Pipeline_Classifier_BuildsPrompt(t *testing.T) {
	t.Parallel()

	llmClient := &mockLLM{responses: []string{`{"query_type": "visualization", "sheet_name": "s", "preprocessing_instructions": "p", "chart_id": "barChart"}`}}
	c, err := NewClassifier(ClassifierConfig{Logger: testLogger(t), LLM: llmClient, Prompts: testPrompts(t)})
	require.NoError(t, err)

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}

	got, err := c.Classify(context.Background(), ClassifyInput{
		Query:       "画出各行业能耗柱状图",
		Dataset:     Dataset{Description: "energy data", Sample: "sheet:s\na,b\n1,2\n"},
		Templates:   []catalog.ChartTemplate{{ID: "barChart", Description: "bars", Channels: []catalog.Channel{{Name: "x", Type: "nominal"}}}},
		SystemState: json.RawMessage(`[{"id": "vis-1", "type": "barChart"}]`),
		MessageHistory: []Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: string(long)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, KindVisualization, got.Kind())

	require.Len(t, llmClient.calls, 1)
	user := llmClient.calls[0].User
	assert.Contains(t, user, "energy data")
	assert.Contains(t, user, "sheet:s")
	assert.Contains(t, user, `"id": "barChart"`)
	assert.Contains(t, user, `"vis-1"`)
	assert.Contains(t, user, "User: hello")
	assert.Contains(t, user, "Assistant: "+string(long[:500])+"...")
	assert.NotContains(t, user, string(long[:501]))
	assert.Contains(t, user, "Query to classify: 画出各行业能耗柱状图")
}

func TestIntelliVis_Pipeline_Classifier_TruncatesHistoryOnRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("能", 600)
	prompt, err := buildClassifyPrompt(ClassifyInput{
		Query:   "再画一个饼图",
		Dataset: Dataset{Description: "energy data", Sample: "sheet:s\na,b\n1,2\n"},
		MessageHistory: []Message{
			{Role: "user", Content: "上一个问题"},
			{Role: "assistant", Content: long},
		},
	})
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "Assistant: "+strings.Repeat("能", 500)+"...\n")
	assert.NotContains(t, prompt, strings.Repeat("能", 501))
}

func TestIntelliVis_Pipeline_Classifier_EmptyCatalogDowngrades(t *testing.T) {
	t.Parallel()

	for _, response := range []string{
		`{"query_type": "visualization", "sheet_name": "s", "preprocessing_instructions": "p", "chart_id": "barChart"}`,
		`{"query_type": "replace", "sheet_name": "s", "preprocessing_instructions": "p", "chart_id": "barChart", "existing_visualization_id": "v"}`,
	} {
		c, err := NewClassifier(ClassifierConfig{Logger: testLogger(t), LLM: &mockLLM{responses: []string{response}}, Prompts: testPrompts(t)})
		require.NoError(t, err)

		got, err := c.Classify(context.Background(), ClassifyInput{Query: "chart please"})
		require.NoError(t, err)
		assert.Equal(t, ValueQuery{Common: Common{SheetName: "s", PreprocessingInstructions: "p"}}, got)
	}
}

func TestIntelliVis_Pipeline_Classifier_Errors(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(ClassifierConfig{Logger: testLogger(t), LLM: &mockLLM{err: errors.New("rate limited")}, Prompts: testPrompts(t)})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), ClassifyInput{Query: "q"})
	require.ErrorContains(t, err, "rate limited")

	_, err = c.Classify(context.Background(), ClassifyInput{Query: "   "})
	require.ErrorContains(t, err, "query is empty")

	_, err = NewClassifier(ClassifierConfig{Logger: testLogger(t)})
	require.Error(t, err)
}
