package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
)

// QueryKind is the intent the classifier assigned to a query.
type QueryKind string

const (
	KindValue         QueryKind = "value"
	KindVisualization QueryKind = "visualization"
	KindReplace       QueryKind = "replace"
	KindReport        QueryKind = "report"
)

// Classification is a closed union over ValueQuery, VisualizationQuery,
// ReplaceQuery and ReportQuery. Values are validated when parsed.
type Classification interface {
	Kind() QueryKind
	Base() Common
}

// Common holds the fields every classification carries. An empty SheetName
// selects the first sheet.
type Common struct {
	SheetName                 string
	PreprocessingInstructions string
}

func (c Common) Base() Common { return c }

type ValueQuery struct {
	Common
}

func (ValueQuery) Kind() QueryKind { return KindValue }

type VisualizationQuery struct {
	Common
	ChartID    string
	ChartTitle string
}

func (VisualizationQuery) Kind() QueryKind { return KindVisualization }

// ReplaceQuery asks for a new chart that takes the place of an existing one
// in the caller's view.
type ReplaceQuery struct {
	VisualizationQuery
	ExistingVisualizationID string
}

func (ReplaceQuery) Kind() QueryKind { return KindReplace }

// ReportQuery carries the year as the classifier produced it; coercion to an
// integer happens in the orchestrator.
type ReportQuery struct {
	Common
	Province string
	Year     string
}

func (ReportQuery) Kind() QueryKind { return KindReport }

// Dataset is the context every prompt receives about the workbook.
type Dataset struct {
	Path        string
	Description string
	Sample      string
}

// Message is one turn of prior conversation supplied by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one top-level query. CodeTemplate overrides the default
// script template when set. Its {data_path} and {sheet_name} placeholders
// expand to quoted Python literals and must appear unquoted, as in
// pd.read_excel({data_path}, sheet_name={sheet_name}).
type Request struct {
	Query          string
	Dataset        Dataset
	CodeTemplate   string
	SystemState    json.RawMessage
	MessageHistory []Message
}

// RetryState is what one attempt hands to the next.
type RetryState struct {
	Attempt       int
	PreviousCode  string
	PreviousError string
}

// CodeGenerationResult is a rendered script ready to execute.
type CodeGenerationResult struct {
	Code           string
	Fragment       string
	ChannelMapping map[string]string
}

// GenerateInput is everything the code generator needs for one attempt.
type GenerateInput struct {
	Instructions       string
	DatasetDescription string
	DatasetSample      string
	CodeTemplate       string
	DataPath           string
	SheetName          string
	ChartID            string
	Channels           []catalog.Channel
	Retry              RetryState
}

// ProcessResult is the envelope returned for a successful query. Which
// fields are set depends on QueryType.
type ProcessResult struct {
	QueryType               QueryKind         `json:"query_type"`
	Data                    []map[string]any  `json:"data,omitzero"`
	Columns                 []string          `json:"columns,omitempty"`
	ChartID                 string            `json:"chart_id,omitempty"`
	ChartTitle              string            `json:"chart_title,omitempty"`
	ChannelMapping          map[string]string `json:"channel_mapping,omitzero"`
	ExistingVisualizationID string            `json:"existing_visualization_id,omitempty"`
	Response                string            `json:"response,omitempty"`
	ReportPath              string            `json:"report_path,omitempty"`
	Province                string            `json:"province,omitempty"`
	Year                    int               `json:"year,omitempty"`
}

type ErrorKind string

const (
	ErrorClassification ErrorKind = "classification"
	ErrorGeneration     ErrorKind = "generation"
	ErrorExecution      ErrorKind = "execution"
	ErrorReport         ErrorKind = "report"
	ErrorUnexpected     ErrorKind = "unexpected"
)

// Error is a failure returned as data to the caller. ExecutionKind is set
// only for execution errors.
type Error struct {
	Kind          ErrorKind           `json:"-"`
	ExecutionKind sandbox.FailureKind `json:"-"`
	Message       string              `json:"error"`
	Traceback     string              `json:"traceback,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
