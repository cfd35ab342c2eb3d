package evaluator

import (
	"encoding/json"
	"math"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

type Classification string

const (
	Improved Classification = "improved"
	Normal   Classification = "normal"
	Warning  Classification = "warning"
	Alert    Classification = "alert"
	Critical Classification = "critical"
)

// Severity maps a classification to the alert severity it raises. Improved
// and Normal raise nothing.
func (c Classification) Severity() (models.Severity, bool) {
	switch c {
	case Warning, Alert:
		return models.SeverityWarning, true
	case Critical:
		return models.SeverityCritical, true
	}
	return "", false
}

// Result is the outcome of comparing one value to its reference.
type Result struct {
	Classification Classification `json:"classification"`
	PercentChange  float64        `json:"percent_change"`
	ZScore         float64        `json:"z_score"`
	FromBaseline   bool           `json:"from_baseline"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"classification": r.Classification,
		"percent_change": finite(r.PercentChange),
		"z_score":        finite(r.ZScore),
		"from_baseline":  r.FromBaseline,
	})
}

// Classify compares value with the baseline mean. Bands on the percentage
// change: below -10 Improved, below 10 Normal, below 20 Warning, up to 50
// Alert, above 50 Critical.
func Classify(value float64, b *models.MetricBaseline) Result {
	pct := percentChange(value, b.Mean)
	return Result{
		Classification: band(pct),
		PercentChange:  pct,
		ZScore:         zScore(value, b.Mean, b.StdDev),
		FromBaseline:   true,
	}
}

func band(pct float64) Classification {
	switch {
	case pct < -10:
		return Improved
	case pct < 10:
		return Normal
	case pct < 20:
		return Warning
	case pct <= 50:
		return Alert
	default:
		return Critical
	}
}

func percentChange(value, mean float64) float64 {
	if mean == 0 {
		switch {
		case value > 0:
			return math.Inf(1)
		case value < 0:
			return math.Inf(-1)
		}
		return 0
	}
	return (value - mean) * 100 / math.Abs(mean)
}

func zScore(value, mean, stdDev float64) float64 {
	if stdDev == 0 {
		switch {
		case value > mean:
			return math.Inf(1)
		case value < mean:
			return math.Inf(-1)
		}
		return 0
	}
	return (value - mean) / stdDev
}

// ClassifyThreshold applies the fixed operator thresholds of a catalogue
// entry. It is used when no baseline exists yet.
func ClassifyThreshold(value float64, def config.MetricDefinition) Result {
	result := Result{Classification: Normal}
	switch {
	case def.CriticalThreshold != nil && value > *def.CriticalThreshold:
		result.Classification = Critical
	case def.WarningThreshold != nil && value > *def.WarningThreshold:
		result.Classification = Warning
	}
	return result
}

// finite makes a float safe for JSON metadata.
func finite(v float64) interface{} {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return v
}
