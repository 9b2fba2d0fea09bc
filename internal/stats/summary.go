package stats

// Summary holds the headline statistics for one metric. All fields are
// computed over the outlier-filtered samples; Outliers counts what was dropped.
type Summary struct {
	Count    int      `json:"count"`
	Outliers int      `json:"outliers"`
	Mean     float64  `json:"mean"`
	Median   float64  `json:"median"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	P95      float64  `json:"p95"`
	StdDev   float64  `json:"stdDev"`
	IQR      float64  `json:"iqr"`
	CV       *float64 `json:"cv,omitempty"`
}

// Spread is the half-IQR used as the per-side significance margin.
func (s Summary) Spread() float64 {
	return s.IQR / 2
}

// Summarize filters outliers and computes the Summary of what remains.
func Summarize(values []float64) (Summary, bool) {
	if len(values) == 0 {
		return Summary{}, false
	}
	kept := RejectOutliers(values)
	if len(kept) == 0 {
		kept = values
	}

	s := Summary{
		Count:    len(kept),
		Outliers: len(values) - len(kept),
	}
	s.Mean, _ = Mean(kept)
	s.Median, _ = Median(kept)
	s.Min, _ = Min(kept)
	s.Max, _ = Max(kept)
	s.P95, _ = Percentile95(kept)
	s.StdDev, _ = StandardDeviation(kept)
	s.IQR, _ = InterquartileRange(kept)
	if cv, ok := CoefficientOfVariation(kept); ok {
		s.CV = &cv
	}
	return s, true
}
