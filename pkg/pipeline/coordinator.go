package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
	"github.com/jonboulle/clockwork"
)

const DefaultMaxAttempts = 3

// CodeGenerator produces a script for one attempt.
type CodeGenerator interface {
	Generate(ctx context.Context, in GenerateInput) (*CodeGenerationResult, error)
}

// ScriptExecutor runs a script and reports rows or a failure.
type ScriptExecutor interface {
	Execute(ctx context.Context, script string) sandbox.Outcome
}

type CoordinatorConfig struct {
	Logger      *slog.Logger
	Generator   CodeGenerator
	Executor    ScriptExecutor
	Clock       clockwork.Clock
	MaxAttempts int
}

func (cfg *CoordinatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Generator == nil {
		return errors.New("code generator is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

// RunInput describes one generate-execute loop. MaxAttempts overrides the
// configured budget when positive.
type RunInput struct {
	Instructions       string
	DatasetDescription string
	DatasetSample      string
	DataPath           string
	SheetName          string
	CodeTemplate       string
	ChartID            string
	Channels           []catalog.Channel
	MaxAttempts        int
}

// RunResult is the first successful execution.
type RunResult struct {
	Records        []map[string]any
	Columns        []string
	ChannelMapping map[string]string
	Code           string
	Attempts       int
}

// Coordinator drives generation and execution with error feedback.
type Coordinator struct {
	log *slog.Logger
	cfg CoordinatorConfig
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{log: cfg.Logger, cfg: cfg}, nil
}

// Run performs at most MaxAttempts generations and executions. It returns on
// the first successful execution. A generation error ends the loop at once;
// execution failures feed the failed script and its error into the next
// attempt, and after the last attempt that failure is returned.
func (c *Coordinator) Run(ctx context.Context, in RunInput) (*RunResult, *Error) {
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}

	var state RetryState
	var last *sandbox.Failure

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state.Attempt = attempt
		start := c.cfg.Clock.Now()

		generated, err := c.cfg.Generator.Generate(ctx, GenerateInput{
			Instructions:       in.Instructions,
			DatasetDescription: in.DatasetDescription,
			DatasetSample:      in.DatasetSample,
			CodeTemplate:       in.CodeTemplate,
			DataPath:           in.DataPath,
			SheetName:          in.SheetName,
			ChartID:            in.ChartID,
			Channels:           in.Channels,
			Retry:              state,
		})
		if err != nil {
			generationAttemptsTotal.WithLabelValues("generation_error").Inc()
			attemptsPerRun.Observe(float64(attempt))
			c.log.Warn("pipeline: code generation failed", "attempt", attempt, "error", err)
			return nil, newError(ErrorGeneration, "Error generating code: %v", err)
		}

		outcome := c.cfg.Executor.Execute(ctx, generated.Code)
		if outcome.OK() {
			generationAttemptsTotal.WithLabelValues("success").Inc()
			attemptsPerRun.Observe(float64(attempt))
			c.log.Info("pipeline: execution succeeded", "attempt", attempt, "rows", len(outcome.Records), "duration", c.cfg.Clock.Since(start))
			return &RunResult{
				Records:        outcome.Records,
				Columns:        outcome.Columns,
				ChannelMapping: generated.ChannelMapping,
				Code:           generated.Code,
				Attempts:       attempt,
			}, nil
		}

		generationAttemptsTotal.WithLabelValues("execution_error").Inc()
		last = outcome.Failure
		c.log.Info("pipeline: execution failed",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"kind", last.Kind,
			"error", last.Message,
			"duration", c.cfg.Clock.Since(start))

		state = RetryState{
			Attempt:       attempt,
			PreviousCode:  generated.Code,
			PreviousError: last.Message + "\n" + last.Traceback,
		}

		if ctx.Err() != nil {
			break
		}
	}

	attemptsPerRun.Observe(float64(state.Attempt))
	c.log.Warn("pipeline: all attempts failed", "attempts", state.Attempt, "kind", last.Kind, "error", last.Message)
	return nil, &Error{
		Kind:          ErrorExecution,
		ExecutionKind: last.Kind,
		Message:       last.Message,
		Traceback:     last.Traceback,
	}
}
