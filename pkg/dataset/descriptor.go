package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is the YAML description of the workbook the service answers
// questions about.
type Descriptor struct {
	Path        string         `yaml:"path"`
	Description string         `yaml:"description"`
	Sheets      []SheetInfo    `yaml:"sheets"`
	Report      ReportSettings `yaml:"report"`
}

type SheetInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ReportSettings names the sheets and constants used by report generation.
type ReportSettings struct {
	EnergyBalanceSheet string  `yaml:"energy_balance_sheet"`
	IndustrySheet      string  `yaml:"industry_sheet"`
	GDPSheet           string  `yaml:"gdp_sheet"`
	EnergyType         string  `yaml:"energy_type"`
	BaseYear           int     `yaml:"base_year"`
	IntensityTarget    float64 `yaml:"intensity_target"`
}

// LoadDescriptor parses the descriptor at path. A relative workbook path is
// resolved against the descriptor's directory.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset descriptor: %w", err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dataset descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(d.Path) {
		d.Path = filepath.Join(filepath.Dir(path), d.Path)
	}
	return &d, nil
}

func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return errors.New("dataset path is required")
	}
	for i, s := range d.Sheets {
		if s.Name == "" {
			return fmt.Errorf("sheet %d has no name", i)
		}
	}
	if d.Report.BaseYear == 0 {
		d.Report.BaseYear = 2020
	}
	if d.Report.IntensityTarget == 0 {
		d.Report.IntensityTarget = 0.135
	}
	return nil
}

// FullDescription renders the dataset description followed by the per-sheet
// descriptions, which is what the LLM prompts receive.
func (d *Descriptor) FullDescription() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(d.Description))
	if len(d.Sheets) > 0 {
		sb.WriteString(fmt.Sprintf("\n\nThe workbook has %d sheets:\n", len(d.Sheets)))
		for i, s := range d.Sheets {
			sb.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, s.Name, strings.TrimSpace(s.Description)))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (d *Descriptor) SheetNames() []string {
	names := make([]string, len(d.Sheets))
	for i, s := range d.Sheets {
		names[i] = s.Name
	}
	return names
}
