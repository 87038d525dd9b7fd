package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = catalog.New([]catalog.ChartTemplate{
	{
		ID:          "barChart",
		Description: "bar chart",
		Channels: []catalog.Channel{
			{Name: "x", Type: "nominal"},
			{Name: "y", Type: "quantitative"},
		},
	},
})

type orchestratorFixture struct {
	classifier *mockClassifier
	gen        *mockGenerator
	exec       *mockExecutor
	responder  *mockResponder
	reports    *mockReports
	orch       *Orchestrator
}

func newOrchestratorFixture(t *testing.T, classification Classification, outcomes ...sandbox.Outcome) *orchestratorFixture {
	t.Helper()
	if len(outcomes) == 0 {
		outcomes = []sandbox.Outcome{success(map[string]any{"year": 2020, "value": 100})}
	}
	f := &orchestratorFixture{
		classifier: &mockClassifier{classification: classification},
		gen:        &mockGenerator{},
		exec:       &mockExecutor{outcomes: outcomes},
		responder:  &mockResponder{response: "2020年的数值为100。"},
		reports:    &mockReports{path: "/tmp/report.md"},
	}
	runner, err := NewCoordinator(CoordinatorConfig{
		Logger:    testLogger(t),
		Generator: f.gen,
		Executor:  f.exec,
		Clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	f.orch, err = New(Config{
		Logger:     testLogger(t),
		Catalog:    testCatalog,
		Classifier: f.classifier,
		Runner:     runner,
		Responder:  f.responder,
		Reports:    f.reports,
	})
	require.NoError(t, err)
	return f
}

func testRequest(query string) Request {
	return Request{
		Query:   query,
		Dataset: Dataset{Path: "/data/energy.xlsx", Description: "desc", Sample: "sample"},
	}
}

func TestIntelliVis_Pipeline_Orchestrator_ValueQuery(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ValueQuery{Common: Common{SheetName: "gdp", PreprocessingInstructions: "2020 value"}})

	res, perr := f.orch.Process(context.Background(), testRequest("2020年的数值是多少"))
	require.Nil(t, perr)
	assert.Equal(t, &ProcessResult{
		QueryType: KindValue,
		Data:      []map[string]any{{"year": 2020, "value": 100}},
		Response:  "2020年的数值为100。",
	}, res)
	assert.Equal(t, 1, f.responder.calls)

	require.Len(t, f.gen.inputs, 1)
	in := f.gen.inputs[0]
	assert.Equal(t, "2020 value", in.Instructions)
	assert.Equal(t, "/data/energy.xlsx", in.DataPath)
	assert.Equal(t, "gdp", in.SheetName)
	assert.Empty(t, in.ChartID)
	assert.Empty(t, in.Channels)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query_type":"value","data":[{"year":2020,"value":100}],"response":"2020年的数值为100。"}`, string(body))
}

func TestIntelliVis_Pipeline_Orchestrator_ValueQuery_ResponderFailureOmitsResponse(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ValueQuery{Common: Common{PreprocessingInstructions: "x"}})
	f.responder.err = errors.New("llm down")

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	require.Nil(t, perr)
	assert.Empty(t, res.Response)
	assert.Len(t, res.Data, 1)
}

func TestIntelliVis_Pipeline_Orchestrator_ValueQuery_EmptyRowsSerializeAsArray(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ValueQuery{Common: Common{PreprocessingInstructions: "x"}}, success())

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	require.Nil(t, perr)
	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"data":[]`)
}

func TestIntelliVis_Pipeline_Orchestrator_VisualizationQuery(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, VisualizationQuery{
		Common:     Common{SheetName: "ind", PreprocessingInstructions: "by industry"},
		ChartID:    "barChart",
		ChartTitle: "各行业能耗",
	})

	res, perr := f.orch.Process(context.Background(), testRequest("画柱状图"))
	require.Nil(t, perr)
	assert.Equal(t, KindVisualization, res.QueryType)
	assert.Equal(t, "barChart", res.ChartID)
	assert.Equal(t, "各行业能耗", res.ChartTitle)
	assert.Equal(t, map[string]string{"x": "col_x", "y": "col_y"}, res.ChannelMapping)
	assert.Empty(t, res.ExistingVisualizationID)
	assert.Empty(t, res.Response)
	assert.Equal(t, 0, f.responder.calls)

	assert.Equal(t, []catalog.Channel{{Name: "x", Type: "nominal"}, {Name: "y", Type: "quantitative"}}, f.gen.inputs[0].Channels)
	assert.Len(t, f.classifier.inputs[0].Templates, 1)
}

func TestIntelliVis_Pipeline_Orchestrator_ReplaceQuery(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ReplaceQuery{
		VisualizationQuery: VisualizationQuery{
			Common:  Common{PreprocessingInstructions: "x"},
			ChartID: "barChart",
		},
		ExistingVisualizationID: "vis-7",
	})

	res, perr := f.orch.Process(context.Background(), testRequest("把图换成柱状图"))
	require.Nil(t, perr)
	assert.Equal(t, KindReplace, res.QueryType)
	assert.Equal(t, "vis-7", res.ExistingVisualizationID)
	assert.Equal(t, "barChart", res.ChartID)
}

// An unknown chart id proceeds with no channels instead of failing.
func TestIntelliVis_Pipeline_Orchestrator_UnknownChartProceeds(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, VisualizationQuery{
		Common:  Common{PreprocessingInstructions: "x"},
		ChartID: "chart-missing",
	})

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	require.Nil(t, perr)
	assert.Equal(t, KindVisualization, res.QueryType)
	assert.Equal(t, "chart-missing", res.ChartID)
	assert.Empty(t, res.ChannelMapping)
	assert.NotNil(t, res.ChannelMapping)
	assert.Empty(t, f.gen.inputs[0].Channels)
	assert.Equal(t, "chart-missing", f.gen.inputs[0].ChartID)
}

func TestIntelliVis_Pipeline_Orchestrator_ChannelMappingIsStable(t *testing.T) {
	t.Parallel()

	classification := VisualizationQuery{Common: Common{PreprocessingInstructions: "x"}, ChartID: "barChart"}
	var mappings []map[string]string
	for i := 0; i < 3; i++ {
		f := newOrchestratorFixture(t, classification)
		res, perr := f.orch.Process(context.Background(), testRequest("same query"))
		require.Nil(t, perr)
		mappings = append(mappings, res.ChannelMapping)
	}

	for _, m := range mappings[1:] {
		if diff := cmp.Diff(mappings[0], m); diff != "" {
			t.Errorf("channel mapping changed (-first +later):\n%s", diff)
		}
	}
	keys := make([]string, 0, len(mappings[0]))
	for k := range mappings[0] {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, testCatalog.Templates()[0].ChannelNames(), keys)
}

func TestIntelliVis_Pipeline_Orchestrator_ExecutionFailurePropagates(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ValueQuery{Common: Common{PreprocessingInstructions: "x"}},
		failure(sandbox.FailureScriptError, "first", "tb1"),
		failure(sandbox.FailureScriptError, "last", "tb3"),
	)

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, &Error{Kind: ErrorExecution, ExecutionKind: sandbox.FailureScriptError, Message: "last", Traceback: "tb3"}, perr)
	assert.Equal(t, 0, f.responder.calls)
}

func TestIntelliVis_Pipeline_Orchestrator_ReportQuery(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ReportQuery{Province: "湖北", Year: " 2022 "})

	res, perr := f.orch.Process(context.Background(), testRequest("生成湖北2022年报告"))
	require.Nil(t, perr)
	assert.Equal(t, &ProcessResult{QueryType: KindReport, ReportPath: "/tmp/report.md", Province: "湖北", Year: 2022}, res)
	assert.Equal(t, "湖北", f.reports.province)
	assert.Equal(t, 2022, f.reports.year)
	assert.Equal(t, 0, f.gen.calls())
}

func TestIntelliVis_Pipeline_Orchestrator_ReportInvalidYear(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ReportQuery{Province: "湖北", Year: "not-a-number"})

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, ErrorReport, perr.Kind)
	assert.Equal(t, "invalid year format: not-a-number", perr.Message)
	assert.Equal(t, 0, f.reports.calls)
}

func TestIntelliVis_Pipeline_Orchestrator_ReportGeneratorFailure(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, ReportQuery{Province: "湖北", Year: "2022"})
	f.reports.err = errors.New("sheet missing")

	_, perr := f.orch.Process(context.Background(), testRequest("q"))
	require.NotNil(t, perr)
	assert.Equal(t, ErrorReport, perr.Kind)
	assert.Equal(t, "Error generating report: sheet missing", perr.Message)
}

func TestIntelliVis_Pipeline_Orchestrator_ClassificationError(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, nil)
	f.classifier.err = errors.New("no JSON found in response")

	res, perr := f.orch.Process(context.Background(), testRequest("q"))
	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, ErrorClassification, perr.Kind)
	assert.Equal(t, "Error analyzing query requirements: no JSON found in response", perr.Message)
	assert.Equal(t, 0, f.gen.calls())
}

func TestIntelliVis_Pipeline_Orchestrator_RecoversPanic(t *testing.T) {
	t.Parallel()

	runner, err := NewCoordinator(CoordinatorConfig{Logger: testLogger(t), Generator: &mockGenerator{}, Executor: &mockExecutor{outcomes: []sandbox.Outcome{success()}}})
	require.NoError(t, err)
	orch, err := New(Config{Logger: testLogger(t), Classifier: panickingClassifier{}, Runner: runner})
	require.NoError(t, err)

	res, perr := orch.Process(context.Background(), testRequest("q"))
	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, ErrorUnexpected, perr.Kind)
	assert.Equal(t, "Error processing query: boom", perr.Message)
}

func TestIntelliVis_Pipeline_Orchestrator_ReportsNotConfigured(t *testing.T) {
	t.Parallel()

	runner, err := NewCoordinator(CoordinatorConfig{Logger: testLogger(t), Generator: &mockGenerator{}, Executor: &mockExecutor{outcomes: []sandbox.Outcome{success()}}})
	require.NoError(t, err)
	orch, err := New(Config{
		Logger:     testLogger(t),
		Classifier: &mockClassifier{classification: ReportQuery{Province: "p", Year: "2020"}},
		Runner:     runner,
	})
	require.NoError(t, err)

	_, perr := orch.Process(context.Background(), testRequest("q"))
	require.NotNil(t, perr)
	assert.Equal(t, "report generation is not configured", perr.Message)
}

func TestIntelliVis_Pipeline_Orchestrator_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = New(Config{Logger: testLogger(t)})
	require.ErrorContains(t, err, "classifier is required")
	_, err = New(Config{Logger: testLogger(t), Classifier: &mockClassifier{}})
	require.ErrorContains(t, err, "loop runner is required")
}

// End to end through the real classifier and generator with a scripted model.
func TestIntelliVis_Pipeline_Orchestrator_WithScriptedModel(t *testing.T) {
	t.Parallel()

	prompts := testPrompts(t)
	model := &mockLLM{responses: []string{
		`{"query_type": "value", "sheet_name": "gdp", "preprocessing_instructions": "select 2020"}`,
		`{"code": "processed_df = df[df['year'] == 2020]", "channel_mapping": {}}`,
		"2020年GDP为100。",
	}}
	classifier, err := NewClassifier(ClassifierConfig{Logger: testLogger(t), LLM: model, Prompts: prompts})
	require.NoError(t, err)
	generator, err := NewGenerator(GeneratorConfig{Logger: testLogger(t), LLM: model, Prompts: prompts})
	require.NoError(t, err)
	responder, err := NewResponder(ResponderConfig{Logger: testLogger(t), LLM: model, Prompts: prompts})
	require.NoError(t, err)
	exec := &mockExecutor{outcomes: []sandbox.Outcome{{
		Records: []map[string]any{{"year": int64(2020), "value": int64(100)}},
		Columns: []string{"year", "value"},
	}}}
	runner, err := NewCoordinator(CoordinatorConfig{Logger: testLogger(t), Generator: generator, Executor: exec})
	require.NoError(t, err)
	orch, err := New(Config{Logger: testLogger(t), Catalog: testCatalog, Classifier: classifier, Runner: runner, Responder: responder})
	require.NoError(t, err)

	res, perr := orch.Process(context.Background(), testRequest("2020年GDP是多少"))
	require.Nil(t, perr)
	assert.Equal(t, KindValue, res.QueryType)
	assert.Equal(t, "2020年GDP为100。", res.Response)

	require.Len(t, exec.scripts, 1)
	assert.Contains(t, exec.scripts[0], `pd.read_excel("/data/energy.xlsx", sheet_name="gdp")`)
	assert.Contains(t, exec.scripts[0], "    processed_df = df[df['year'] == 2020]\n")

	require.Len(t, model.calls, 3)
	assert.Contains(t, model.calls[2].User, "2020年GDP是多少")
	assert.Contains(t, model.calls[2].User, "year\tvalue")
}
