// Package stats computes the summary statistics used to judge page-load samples.
//
// Every function leaves its input untouched and reports ok=false when no
// result is defined (empty input, non-positive mean). Standard deviation is the
// population form and percentiles are linearly interpolated, so identical
// inputs always produce identical outputs.
package stats

import (
	"math"
	"sort"
)

const outlierFence = 1.5

func sorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

func Median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	s := sorted(values)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2, true
	}
	return s[mid], true
}

func Min(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m, true
}

func Max(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m, true
}

// Percentile returns the p-th quantile (0 <= p <= 1) interpolated linearly
// between the closest ranks of the sorted values.
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return percentileSorted(sorted(values), p), true
}

func percentileSorted(s []float64, p float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	p = math.Max(0, math.Min(1, p))
	idx := p * float64(len(s)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return s[lower]
	}
	weight := idx - float64(lower)
	return s[lower] + (s[upper]-s[lower])*weight
}

func Percentile95(values []float64) (float64, bool) {
	return Percentile(values, 0.95)
}

// StandardDeviation is the population standard deviation (divides by n).
func StandardDeviation(values []float64) (float64, bool) {
	mean, ok := Mean(values)
	if !ok {
		return 0, false
	}
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values))), true
}

// Quartiles returns Q1 and Q3 using the same interpolation as Percentile.
func Quartiles(values []float64) (q1, q3 float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	s := sorted(values)
	return percentileSorted(s, 0.25), percentileSorted(s, 0.75), true
}

func InterquartileRange(values []float64) (float64, bool) {
	q1, q3, ok := Quartiles(values)
	if !ok {
		return 0, false
	}
	return q3 - q1, true
}

// CoefficientOfVariation is stddev/mean as a percentage. Undefined when the
// mean is not positive.
func CoefficientOfVariation(values []float64) (float64, bool) {
	mean, ok := Mean(values)
	if !ok || mean <= 0 {
		return 0, false
	}
	sd, _ := StandardDeviation(values)
	return sd / mean * 100, true
}

// ConsistencyRatio is IQR/median, the sampler's stop criterion.
func ConsistencyRatio(values []float64) (float64, bool) {
	median, ok := Median(values)
	if !ok || median <= 0 {
		return 0, false
	}
	iqr, _ := InterquartileRange(values)
	return iqr / median, true
}

// RejectOutliers keeps the values inside [Q1-1.5*IQR, Q3+1.5*IQR] in their
// original order.
func RejectOutliers(values []float64) []float64 {
	q1, q3, ok := Quartiles(values)
	if !ok {
		return nil
	}
	iqr := q3 - q1
	lo, hi := q1-outlierFence*iqr, q3+outlierFence*iqr
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	return kept
}
