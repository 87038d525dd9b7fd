package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/dataset"
	"github.com/xuri/excelize/v2"
)

const (
	colYear       = "year"
	colValue      = "value"
	colEnergyType = "energy_type"
	colIndustry   = "industry"
)

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|2\d{3})\b`)

// YearSeries maps a year to an aggregated value.
type YearSeries map[int]float64

func (s YearSeries) at(year int, what string) (float64, error) {
	v, ok := s[year]
	if !ok {
		return 0, fmt.Errorf("no %s data for year %d", what, year)
	}
	return v, nil
}

// IndustrySeries holds per-industry yearly totals. Industries keeps the order
// in which each industry first appears in the sheet.
type IndustrySeries struct {
	Industries []string
	ByYear     map[int]map[string]float64
}

// ParseYear reads a year cell. Cells may hold a plain year, a formatted date
// or an unformatted Excel date serial.
func ParseYear(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	if n, err := strconv.Atoi(cell); err == nil && n >= 1800 && n <= 2999 {
		return n, nil
	}
	if m := yearPattern.FindString(cell); m != "" {
		return strconv.Atoi(m)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil && f > 3000 {
		t, err := excelize.ExcelDateToTime(f, false)
		if err == nil {
			return t.Year(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse year from %q", cell)
}

func parseValue(cell string) (float64, error) {
	cell = strings.ReplaceAll(strings.TrimSpace(cell), ",", "")
	if cell == "" {
		return 0, nil
	}
	return strconv.ParseFloat(cell, 64)
}

func columns(t *dataset.Table, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = t.Column(name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("sheet %q has no %q column", t.Sheet, name)
		}
	}
	return idx, nil
}

// SumByYear totals the value column per year over rows accepted by keep.
func SumByYear(t *dataset.Table, keep func(row []string) bool) (YearSeries, error) {
	idx, err := columns(t, colYear, colValue)
	if err != nil {
		return nil, err
	}
	series := YearSeries{}
	for i, row := range t.Rows {
		if keep != nil && !keep(row) {
			continue
		}
		year, err := ParseYear(row[idx[0]])
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: %w", t.Sheet, i+2, err)
		}
		v, err := parseValue(row[idx[1]])
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: invalid value %q", t.Sheet, i+2, row[idx[1]])
		}
		series[year] += v
	}
	return series, nil
}

// ConsumptionByYear totals consumption of one energy type per year.
func ConsumptionByYear(t *dataset.Table, energyType string) (YearSeries, error) {
	col := t.Column(colEnergyType)
	if col < 0 {
		return nil, fmt.Errorf("sheet %q has no %q column", t.Sheet, colEnergyType)
	}
	return SumByYear(t, func(row []string) bool {
		return strings.TrimSpace(row[col]) == energyType
	})
}

// IntensityByYear divides energy by GDP for every year present in both
// series with nonzero GDP.
func IntensityByYear(energy, gdp YearSeries) YearSeries {
	out := YearSeries{}
	for year, e := range energy {
		if g, ok := gdp[year]; ok && g != 0 {
			out[year] = e / g
		}
	}
	return out
}

// ConsumptionByIndustry totals the value column per year and industry.
func ConsumptionByIndustry(t *dataset.Table) (*IndustrySeries, error) {
	idx, err := columns(t, colYear, colIndustry, colValue)
	if err != nil {
		return nil, err
	}
	out := &IndustrySeries{ByYear: map[int]map[string]float64{}}
	seen := map[string]bool{}
	for i, row := range t.Rows {
		year, err := ParseYear(row[idx[0]])
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: %w", t.Sheet, i+2, err)
		}
		industry := strings.TrimSpace(row[idx[1]])
		v, err := parseValue(row[idx[2]])
		if err != nil {
			return nil, fmt.Errorf("sheet %q row %d: invalid value %q", t.Sheet, i+2, row[idx[2]])
		}
		if !seen[industry] {
			seen[industry] = true
			out.Industries = append(out.Industries, industry)
		}
		if out.ByYear[year] == nil {
			out.ByYear[year] = map[string]float64{}
		}
		out.ByYear[year][industry] += v
	}
	return out, nil
}

// Total sums every industry in a year.
func (s *IndustrySeries) Total(year int) float64 {
	var total float64
	for _, v := range s.ByYear[year] {
		total += v
	}
	return total
}

// Ranked is an industry with the value it was ranked by.
type Ranked struct {
	Industry string
	Value    float64
}

// TopByConsumption returns industries in year sorted by consumption,
// largest first. Ties keep sheet order.
func (s *IndustrySeries) TopByConsumption(year int) []Ranked {
	var out []Ranked
	for _, ind := range s.Industries {
		if v, ok := s.ByYear[year][ind]; ok {
			out = append(out, Ranked{ind, v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// TopByGrowth returns year-over-year ratios, largest first. Industries
// missing either year or with zero prior consumption are skipped.
func (s *IndustrySeries) TopByGrowth(year int) []Ranked {
	var out []Ranked
	for _, ind := range s.Industries {
		cur, ok := s.ByYear[year][ind]
		if !ok {
			continue
		}
		prev, ok := s.ByYear[year-1][ind]
		if !ok || prev == 0 {
			continue
		}
		out = append(out, Ranked{ind, cur / prev})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}
