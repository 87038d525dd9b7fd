package report

import (
	"fmt"

	"github.com/CrMo2001/intelli-vis/pkg/dataset"
)

const (
	wordIncrease = "增长"
	wordDecrease = "下降"
	wordHigher   = "高于"
	wordLower    = "低于"
)

// Values are the numbers and words substituted into the report template.
// Values[i] fills <placeholder_val{i+1}>, and likewise for Choices and
// Industries.
type Values struct {
	Year       int
	Province   string
	Values     []float64
	Choices    []string
	Industries []string
}

// Inputs are the sheets report statistics are computed from.
type Inputs struct {
	EnergyBalance *dataset.Table
	Industry      *dataset.Table
	GDP           *dataset.Table
}

// ComputeValues derives every placeholder value for year. Per-year averages
// since the base year are zero when year is the base year.
func ComputeValues(in Inputs, settings dataset.ReportSettings, province string, year int) (*Values, error) {
	base := settings.BaseYear
	target := settings.IntensityTarget

	consumption, err := ConsumptionByYear(in.EnergyBalance, settings.EnergyType)
	if err != nil {
		return nil, err
	}
	industryEnergy, err := SumByYear(in.Industry, nil)
	if err != nil {
		return nil, err
	}
	gdp, err := SumByYear(in.GDP, nil)
	if err != nil {
		return nil, err
	}
	intensity := IntensityByYear(industryEnergy, gdp)

	cY, err := consumption.at(year, "energy consumption")
	if err != nil {
		return nil, err
	}
	cPrev, err := consumption.at(year-1, "energy consumption")
	if err != nil {
		return nil, err
	}
	cBase, err := consumption.at(base, "energy consumption")
	if err != nil {
		return nil, err
	}
	iY, err := intensity.at(year, "energy intensity")
	if err != nil {
		return nil, err
	}
	iPrev, err := intensity.at(year-1, "energy intensity")
	if err != nil {
		return nil, err
	}
	iBase, err := intensity.at(base, "energy intensity")
	if err != nil {
		return nil, err
	}
	for name, v := range map[string]float64{
		fmt.Sprintf("energy consumption in %d", year-1): cPrev,
		fmt.Sprintf("energy consumption in %d", base):   cBase,
		fmt.Sprintf("energy intensity in %d", year-1):   iPrev,
		fmt.Sprintf("energy intensity in %d", base):     iBase,
	} {
		if v == 0 {
			return nil, fmt.Errorf("%s is zero", name)
		}
	}

	elapsed := float64(year - base)
	perYear := func(v float64) float64 {
		if elapsed == 0 {
			return 0
		}
		return v / elapsed
	}

	v := &Values{Year: year, Province: province}

	yoy := cY / cPrev
	sinceBase := cY / cBase
	v.Values = append(v.Values, cY, cPrev, yoy)
	v.Choices = append(v.Choices, pick(cY > cPrev, wordIncrease, wordDecrease))
	v.Choices = append(v.Choices, pick(iY > iPrev, wordIncrease, wordDecrease))
	v.Values = append(v.Values, iY/iPrev, cBase, cY, sinceBase, perYear(sinceBase))
	v.Choices = append(v.Choices, pick(yoy > perYear(sinceBase), wordHigher, wordLower))

	drop := (iBase - iY) / iBase
	v.Values = append(v.Values, drop, drop/target, elapsed, perYear(target*100-drop))

	industries, err := ConsumptionByIndustry(in.Industry)
	if err != nil {
		return nil, err
	}
	top := industries.TopByConsumption(year)
	if len(top) < 2 {
		return nil, fmt.Errorf("need at least two industries with data for %d, found %d", year, len(top))
	}
	v.Industries = append(v.Industries, top[0].Industry, top[1].Industry)
	v.Values = append(v.Values, 0, 0)

	growth := industries.TopByGrowth(year)
	if len(growth) < 2 {
		return nil, fmt.Errorf("need at least two industries with data for %d and %d, found %d", year-1, year, len(growth))
	}
	v.Values = append(v.Values, growth[0].Value, growth[1].Value)
	v.Industries = append(v.Industries, growth[0].Industry, growth[1].Industry)
	v.Choices = append(v.Choices, pick(industries.Total(year) > industries.Total(base), wordIncrease, wordDecrease))

	return v, nil
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
