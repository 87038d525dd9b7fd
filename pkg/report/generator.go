// Package report builds the provincial energy consumption report: statistics
// computed from the workbook are substituted into a text template, and the
// language model writes paragraph conclusions and the abstract.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/dataset"
	"github.com/CrMo2001/intelli-vis/pkg/llm"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger       *slog.Logger
	LLM          llm.Client
	Workbook     *dataset.Workbook
	Settings     dataset.ReportSettings
	TemplatePath string
	OutputDir    string
	Clock        clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Workbook == nil {
		return errors.New("workbook is required")
	}
	if cfg.TemplatePath == "" {
		return errors.New("template path is required")
	}
	if cfg.OutputDir == "" {
		return errors.New("output dir is required")
	}
	if cfg.Settings.EnergyBalanceSheet == "" || cfg.Settings.IndustrySheet == "" || cfg.Settings.GDPSheet == "" {
		return errors.New("report sheets are required")
	}
	if cfg.Settings.BaseYear == 0 {
		return errors.New("base year is required")
	}
	if cfg.Settings.IntensityTarget <= 0 {
		return errors.New("intensity target must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Generator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{log: cfg.Logger, cfg: cfg}, nil
}

// GenerateReport writes the report for province and year and returns the
// path of the written file.
func (g *Generator) GenerateReport(ctx context.Context, province string, year int) (string, error) {
	start := g.cfg.Clock.Now()
	s := g.cfg.Settings

	tables, err := g.cfg.Workbook.ReadSheets(s.EnergyBalanceSheet, s.IndustrySheet, s.GDPSheet)
	if err != nil {
		return "", err
	}
	values, err := ComputeValues(Inputs{
		EnergyBalance: tables[s.EnergyBalanceSheet],
		Industry:      tables[s.IndustrySheet],
		GDP:           tables[s.GDPSheet],
	}, s, province, year)
	if err != nil {
		return "", fmt.Errorf("failed to compute report values: %w", err)
	}
	g.log.Debug("report: values computed", "province", province, "year", year, "values", len(values.Values))

	tmpl, err := os.ReadFile(g.cfg.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read report template: %w", err)
	}

	doc, err := g.Render(ctx, string(tmpl), values)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report output dir: %w", err)
	}
	path := filepath.Join(g.cfg.OutputDir, g.fileName(province, year))
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	g.log.Info("report: generated", "path", path, "province", province, "year", year,
		"duration", g.cfg.Clock.Since(start))
	return path, nil
}

// Render fills tmpl with values, then generates conclusions and the
// abstract.
func (g *Generator) Render(ctx context.Context, tmpl string, values *Values) (string, error) {
	paragraphs := splitParagraphs(FillPlaceholders(tmpl, values))
	if err := g.fillConclusions(ctx, paragraphs, values.Year); err != nil {
		return "", err
	}
	if err := g.fillAbstract(ctx, paragraphs, values.Year, values.Province); err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func (g *Generator) fileName(province string, year int) string {
	stamp := g.cfg.Clock.Now().UTC().Format("20060102T150405")
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("report_%s_%d_%s_%s.md", sanitize(province), year, stamp, id)
}

// sanitize keeps a province name safe to use as a path element.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

