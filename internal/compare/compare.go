package compare

import (
	"math"

	moremath "github.com/aclements/go-moremath/stats"

	"github.com/shyim/sitespeed-compare/internal/models"
)

type Outcome string

const (
	WinnerA        Outcome = "a"
	WinnerB        Outcome = "b"
	NotSignificant Outcome = "not_significant"
	Unavailable    Outcome = "unavailable"
)

// PercentageDifference is (b-a)/a*100 with the sign preserved. Undefined when a is zero.
func PercentageDifference(a, b float64) (float64, bool) {
	if a == 0 {
		return 0, false
	}
	return (b - a) / a * 100, true
}

// TimeBasedWinner picks the lower elapsed time, unless the gap is smaller
// than the combined spread of both sides.
func TimeBasedWinner(a, b, spreadA, spreadB float64) Outcome {
	return lowerWins(a, b, spreadA, spreadB)
}

// SizeBasedWinner picks the smaller byte or resource count under the same
// significance guard as TimeBasedWinner.
func SizeBasedWinner(a, b, spreadA, spreadB float64) Outcome {
	return lowerWins(a, b, spreadA, spreadB)
}

func lowerWins(a, b, spreadA, spreadB float64) Outcome {
	if math.Abs(a-b) < spreadA+spreadB {
		return NotSignificant
	}
	if a < b {
		return WinnerA
	}
	if b < a {
		return WinnerB
	}
	return NotSignificant
}

// MetricComparison is the cross-browser verdict for one metric.
type MetricComparison struct {
	Metric               models.MetricName `json:"metric"`
	Unit                 models.Unit       `json:"unit"`
	Outcome              Outcome           `json:"outcome"`
	ValueA               *float64          `json:"valueA,omitempty"`
	ValueB               *float64          `json:"valueB,omitempty"`
	SpreadA              *float64          `json:"spreadA,omitempty"`
	SpreadB              *float64          `json:"spreadB,omitempty"`
	PercentageDifference *float64          `json:"percentageDifference,omitempty"`
	PValue               *float64          `json:"pValue,omitempty"`
}

// MetricFor compares one metric of two finished runs. A metric missing on
// either side yields Unavailable rather than a comparison against zero.
func MetricFor(name models.MetricName, a, b *models.PerformanceTestResults) MetricComparison {
	mc := MetricComparison{Metric: name, Unit: name.Unit(), Outcome: Unavailable}

	sa, okA := a.Summary(name)
	sb, okB := b.Summary(name)
	if okA {
		mc.ValueA, mc.SpreadA = ptr(sa.Median), ptr(sa.Spread())
	}
	if okB {
		mc.ValueB, mc.SpreadB = ptr(sb.Median), ptr(sb.Spread())
	}
	if !okA || !okB {
		return mc
	}

	if name.IsTiming() {
		mc.Outcome = TimeBasedWinner(sa.Median, sb.Median, sa.Spread(), sb.Spread())
	} else {
		mc.Outcome = SizeBasedWinner(sa.Median, sb.Median, sa.Spread(), sb.Spread())
	}
	if d, ok := PercentageDifference(sa.Median, sb.Median); ok {
		mc.PercentageDifference = &d
	}
	if p, ok := mannWhitney(a.Metrics.Get(name), b.Metrics.Get(name)); ok {
		mc.PValue = &p
	}
	return mc
}

// mannWhitney returns the two-sided Mann-Whitney U p-value. Identical or
// empty samples have no p-value.
func mannWhitney(a, b []float64) (float64, bool) {
	res, err := moremath.MannWhitneyUTest(a, b, moremath.LocationDiffers)
	if err != nil {
		return 0, false
	}
	return res.P, true
}

func ptr(v float64) *float64 {
	return &v
}
