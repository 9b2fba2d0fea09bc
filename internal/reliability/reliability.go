package reliability

import "github.com/shyim/sitespeed-compare/internal/stats"

type Label string

const (
	Excellent Label = "Excellent"
	Good      Label = "Good"
	Fair      Label = "Fair"
	Poor      Label = "Poor"
	Variable  Label = "Variable"
)

// MinSamples is the smallest sample count that gets a CV-based label.
const MinSamples = 3

var explanations = map[Label]string{
	Excellent: "Results are highly consistent across runs",
	Good:      "Results are consistent with minor variation",
	Fair:      "Moderate variation between runs; compare with care",
	Poor:      "High variance suggests external factors (network, system load)",
	Variable:  "Not enough usable samples to judge consistency",
}

// Classify maps a coefficient of variation (percent) to a label. ok=false or
// a sample count below MinSamples yields Variable.
func Classify(cv float64, ok bool, n int) Label {
	if !ok || n < MinSamples {
		return Variable
	}
	switch {
	case cv <= 10:
		return Excellent
	case cv <= 20:
		return Good
	case cv <= 40:
		return Fair
	default:
		return Poor
	}
}

func ClassifySamples(values []float64) Label {
	cv, ok := stats.CoefficientOfVariation(values)
	return Classify(cv, ok, len(values))
}

func (l Label) Explanation() string {
	if e, ok := explanations[l]; ok {
		return e
	}
	return explanations[Variable]
}
