package ml

import (
	"fmt"
	"math"
)

// Category is a risk stratum.
type Category int

const (
	Low Category = iota
	Medium
	High
	VeryHigh
)

// Categories lists the strata from lowest to highest risk.
var Categories = []Category{Low, Medium, High, VeryHigh}

func (c Category) String() string {
	switch c {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case VeryHigh:
		return "VeryHigh"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	for _, cat := range Categories {
		if cat.String() == string(text) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown risk category %q", text)
}

// Stratify maps a risk score onto a stratum. Each interval includes its
// upper bound: score <= p25 is Low, p25 < score <= p50 is Medium,
// p50 < score <= p75 is High and anything above p75 is VeryHigh.
func Stratify(score float64, p Percentiles) (Category, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(score) {
		return 0, fmt.Errorf("risk score is NaN")
	}
	switch {
	case score <= p.P25:
		return Low, nil
	case score <= p.P50:
		return Medium, nil
	case score <= p.P75:
		return High, nil
	default:
		return VeryHigh, nil
	}
}

// Stratify maps score onto a stratum with the model's own percentiles.
func (m *Model) Stratify(score float64) (Category, error) {
	return Stratify(score, m.RiskPercentiles)
}
