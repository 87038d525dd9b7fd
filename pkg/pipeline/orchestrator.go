// Package pipeline answers natural-language questions about the dataset:
// classify the query, generate and execute transformation code with error
// feedback, then shape the result for the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
)

// QueryClassifier decides what kind of query the user asked.
type QueryClassifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// LoopRunner runs the generate-execute loop.
type LoopRunner interface {
	Run(ctx context.Context, in RunInput) (*RunResult, *Error)
}

// ResponseSynthesizer explains result rows in natural language.
type ResponseSynthesizer interface {
	Respond(ctx context.Context, query string, columns []string, records []map[string]any) (string, error)
}

// ReportGenerator writes a report document and returns its path.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, province string, year int) (string, error)
}

type Config struct {
	Logger      *slog.Logger
	Catalog     *catalog.Catalog
	Classifier  QueryClassifier
	Runner      LoopRunner
	Responder   ResponseSynthesizer // optional
	Reports     ReportGenerator     // optional
	MaxAttempts int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Classifier == nil {
		return errors.New("classifier is required")
	}
	if cfg.Runner == nil {
		return errors.New("loop runner is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.New(nil)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

// Orchestrator routes a classified query to the loop, the responder or the
// report generator and builds the result envelope.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Process answers one query. Exactly one of the return values is non-nil.
// Errors from the classifier, the loop and year coercion are returned as they
// are; a panic anywhere below is recovered into an unexpected error.
func (o *Orchestrator) Process(ctx context.Context, req Request) (result *ProcessResult, perr *Error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("pipeline: panic while processing query", "panic", r, "stack", string(debug.Stack()))
			result = nil
			perr = newError(ErrorUnexpected, "Error processing query: %v", r)
		}
	}()

	o.log.Info("pipeline: processing query", "query", truncate(req.Query, 50))

	classification, err := o.cfg.Classifier.Classify(ctx, ClassifyInput{
		Query:          req.Query,
		Dataset:        req.Dataset,
		Templates:      o.cfg.Catalog.Templates(),
		SystemState:    req.SystemState,
		MessageHistory: req.MessageHistory,
	})
	if err != nil {
		o.log.Warn("pipeline: classification failed", "error", err)
		queriesTotal.WithLabelValues("unknown", string(ErrorClassification)).Inc()
		return nil, newError(ErrorClassification, "Error analyzing query requirements: %v", err)
	}

	kind := classification.Kind()
	switch q := classification.(type) {
	case ValueQuery:
		result, perr = o.processValue(ctx, req, q)
	case VisualizationQuery:
		result, perr = o.processVisualization(ctx, req, q, "")
	case ReplaceQuery:
		result, perr = o.processVisualization(ctx, req, q.VisualizationQuery, q.ExistingVisualizationID)
	case ReportQuery:
		result, perr = o.processReport(ctx, q)
	default:
		perr = newError(ErrorUnexpected, "Error processing query: unsupported classification %T", classification)
	}

	if perr != nil {
		queriesTotal.WithLabelValues(string(kind), string(perr.Kind)).Inc()
		return nil, perr
	}
	queriesTotal.WithLabelValues(string(kind), "success").Inc()
	return result, nil
}

func (o *Orchestrator) processValue(ctx context.Context, req Request, q ValueQuery) (*ProcessResult, *Error) {
	run, perr := o.cfg.Runner.Run(ctx, o.runInput(req, q.Common, "", nil))
	if perr != nil {
		return nil, perr
	}

	result := &ProcessResult{
		QueryType: KindValue,
		Data:      run.Records,
		Columns:   run.Columns,
	}
	if o.cfg.Responder != nil {
		response, err := o.cfg.Responder.Respond(ctx, req.Query, run.Columns, run.Records)
		if err != nil {
			o.log.Warn("pipeline: response synthesis failed, omitting response", "error", err)
		} else {
			result.Response = response
		}
	}
	o.log.Info("pipeline: value query completed", "rows", len(run.Records), "attempts", run.Attempts)
	return result, nil
}

func (o *Orchestrator) processVisualization(ctx context.Context, req Request, q VisualizationQuery, existingID string) (*ProcessResult, *Error) {
	var channels []catalog.Channel
	if tmpl, ok := o.cfg.Catalog.Lookup(q.ChartID); ok {
		channels = tmpl.Channels
	} else {
		o.log.Warn("pipeline: chart template not found, proceeding without channels", "chartID", q.ChartID)
	}

	run, perr := o.cfg.Runner.Run(ctx, o.runInput(req, q.Common, q.ChartID, channels))
	if perr != nil {
		return nil, perr
	}

	mapping := run.ChannelMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	o.warnUnknownColumns(q.ChartID, mapping, run.Columns)

	kind := KindVisualization
	if existingID != "" {
		kind = KindReplace
	}
	o.log.Info("pipeline: visualization query completed", "queryType", kind, "chartID", q.ChartID, "rows", len(run.Records), "attempts", run.Attempts)
	return &ProcessResult{
		QueryType:               kind,
		Data:                    run.Records,
		Columns:                 run.Columns,
		ChartID:                 q.ChartID,
		ChartTitle:              q.ChartTitle,
		ChannelMapping:          mapping,
		ExistingVisualizationID: existingID,
	}, nil
}

func (o *Orchestrator) processReport(ctx context.Context, q ReportQuery) (*ProcessResult, *Error) {
	year, err := strconv.Atoi(strings.TrimSpace(q.Year))
	if err != nil {
		return nil, newError(ErrorReport, "invalid year format: %s", q.Year)
	}
	if o.cfg.Reports == nil {
		return nil, newError(ErrorReport, "report generation is not configured")
	}

	path, err := o.cfg.Reports.GenerateReport(ctx, q.Province, year)
	if err != nil {
		o.log.Warn("pipeline: report generation failed", "province", q.Province, "year", year, "error", err)
		return nil, newError(ErrorReport, "Error generating report: %v", err)
	}

	o.log.Info("pipeline: report generated", "province", q.Province, "year", year, "path", path)
	return &ProcessResult{
		QueryType:  KindReport,
		ReportPath: path,
		Province:   q.Province,
		Year:       year,
	}, nil
}

func (o *Orchestrator) runInput(req Request, c Common, chartID string, channels []catalog.Channel) RunInput {
	return RunInput{
		Instructions:       c.PreprocessingInstructions,
		DatasetDescription: req.Dataset.Description,
		DatasetSample:      req.Dataset.Sample,
		DataPath:           req.Dataset.Path,
		SheetName:          c.SheetName,
		CodeTemplate:       req.CodeTemplate,
		ChartID:            chartID,
		Channels:           channels,
		MaxAttempts:        o.cfg.MaxAttempts,
	}
}

func (o *Orchestrator) warnUnknownColumns(chartID string, mapping map[string]string, columns []string) {
	if len(columns) == 0 {
		return
	}
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}
	for ch, col := range mapping {
		if _, ok := known[col]; !ok {
			o.log.Warn("pipeline: channel mapped to a column missing from the result", "chartID", chartID, "channel", ch, "column", col)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
