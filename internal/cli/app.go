package cli

import (
	"fmt"
	"log/slog"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/config"
	"github.com/CrMo2001/intelli-vis/pkg/dataset"
	"github.com/CrMo2001/intelli-vis/pkg/llm"
	"github.com/CrMo2001/intelli-vis/pkg/logger"
	"github.com/CrMo2001/intelli-vis/pkg/pipeline"
	"github.com/CrMo2001/intelli-vis/pkg/report"
	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
	"github.com/spf13/cobra"
)

const defaultChartsDir = "charts"

// app holds the components every command that answers queries needs.
type app struct {
	log          *slog.Logger
	cfg          *config.Config
	catalog      *catalog.Catalog
	dataset      pipeline.Dataset
	orchestrator *pipeline.Orchestrator
}

// loadConfig applies root flags first so they win over the environment, then
// fills the rest from the environment.
func loadConfig(cmd *cobra.Command) (*slog.Logger, *config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	envFile, err := flags.GetString("env-file")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	datasetConfig, err := flags.GetString("dataset-config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dataset-config flag: %w", err)
	}
	chartsDir, err := flags.GetString("charts-dir")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get charts-dir flag: %w", err)
	}

	log := logger.New(verbose)

	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg := &config.Config{
		DatasetConfigPath: datasetConfig,
		ChartsDir:         chartsDir,
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return log, cfg, nil
}

func newApp(log *slog.Logger, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	charts, err := catalog.Load(log, cfg.ChartsDir)
	if err != nil {
		return nil, err
	}

	desc, err := dataset.LoadDescriptor(cfg.DatasetConfigPath)
	if err != nil {
		return nil, err
	}
	workbook := dataset.NewWorkbook(desc.Path)
	sample, err := workbook.Sample(desc.SheetNames(), dataset.DefaultSampleRows)
	if err != nil {
		return nil, fmt.Errorf("failed to sample dataset: %w", err)
	}
	log.Info("cli: dataset loaded", "path", desc.Path, "sheets", len(desc.Sheets))

	llmClient, err := llm.NewFromConfig(log, cfg)
	if err != nil {
		return nil, err
	}

	prompts, err := pipeline.LoadPrompts()
	if err != nil {
		return nil, err
	}
	classifier, err := pipeline.NewClassifier(pipeline.ClassifierConfig{Logger: log, LLM: llmClient, Prompts: prompts})
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	generator, err := pipeline.NewGenerator(pipeline.GeneratorConfig{Logger: log, LLM: llmClient, Prompts: prompts})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	responder, err := pipeline.NewResponder(pipeline.ResponderConfig{Logger: log, LLM: llmClient, Prompts: prompts})
	if err != nil {
		return nil, fmt.Errorf("failed to create responder: %w", err)
	}

	executor, err := sandbox.New(sandbox.Config{
		Logger:         log,
		Interpreter:    cfg.PythonBin,
		Timeout:        cfg.ExecTimeout,
		MaxOutputBytes: cfg.ExecMaxOutputBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	coordinator, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Logger:      log,
		Generator:   generator,
		Executor:    executor,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	orchCfg := pipeline.Config{
		Logger:      log,
		Catalog:     charts,
		Classifier:  classifier,
		Runner:      coordinator,
		Responder:   responder,
		MaxAttempts: cfg.MaxAttempts,
	}
	if desc.Report.EnergyBalanceSheet != "" {
		reports, err := report.New(report.Config{
			Logger:       log,
			LLM:          llmClient,
			Workbook:     workbook,
			Settings:     desc.Report,
			TemplatePath: cfg.ReportTemplatePath,
			OutputDir:    cfg.ReportOutputDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create report generator: %w", err)
		}
		orchCfg.Reports = reports
	} else {
		log.Warn("cli: dataset has no report settings, report queries are disabled")
	}

	orchestrator, err := pipeline.New(orchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &app{
		log:     log,
		cfg:     cfg,
		catalog: charts,
		dataset: pipeline.Dataset{
			Path:        desc.Path,
			Description: desc.FullDescription(),
			Sample:      sample,
		},
		orchestrator: orchestrator,
	}, nil
}
