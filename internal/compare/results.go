package compare

import (
	"errors"
	"fmt"
	"time"

	"github.com/shyim/sitespeed-compare/internal/models"
)

// BrowserComparisonResults pairs two finished runs against the same URL.
// It is immutable once built and safe for concurrent readers.
type BrowserComparisonResults struct {
	ID          string                         `json:"id"`
	URL         string                         `json:"url"`
	A           *models.PerformanceTestResults `json:"a"`
	B           *models.PerformanceTestResults `json:"b"`
	Iterations  int                            `json:"iterations"`
	Comparisons []MetricComparison             `json:"comparisons"`
	CreatedAt   time.Time                      `json:"createdAt"`
}

// Overall tallies the significant wins over timing metrics.
type Overall struct {
	WinsA          int     `json:"winsA"`
	WinsB          int     `json:"winsB"`
	NotSignificant int     `json:"notSignificant"`
	Unavailable    int     `json:"unavailable"`
	Winner         Outcome `json:"winner"`
}

// New compares a and b metric by metric, in models.AllMetrics order.
func New(id string, a, b *models.PerformanceTestResults) (*BrowserComparisonResults, error) {
	if a == nil || b == nil {
		return nil, errors.New("both browser results are required")
	}
	if a.URL != b.URL {
		return nil, fmt.Errorf("results are for different URLs: %q vs %q", a.URL, b.URL)
	}

	iterations := a.Iterations
	if b.Iterations < iterations {
		iterations = b.Iterations
	}

	res := &BrowserComparisonResults{
		ID:         id,
		URL:        a.URL,
		A:          a,
		B:          b,
		Iterations: iterations,
		CreatedAt:  time.Now().UTC(),
	}
	for _, name := range models.AllMetrics {
		_, inA := a.Metrics[name]
		_, inB := b.Metrics[name]
		if !inA && !inB {
			continue
		}
		res.Comparisons = append(res.Comparisons, MetricFor(name, a, b))
	}
	return res, nil
}

func (r *BrowserComparisonResults) Metric(name models.MetricName) (MetricComparison, bool) {
	for _, c := range r.Comparisons {
		if c.Metric == name {
			return c, true
		}
	}
	return MetricComparison{}, false
}

// PercentageDifference returns B relative to A for a metric, when defined.
func (r *BrowserComparisonResults) PercentageDifference(name models.MetricName) (float64, bool) {
	c, ok := r.Metric(name)
	if !ok || c.PercentageDifference == nil {
		return 0, false
	}
	return *c.PercentageDifference, true
}

func (r *BrowserComparisonResults) Overall() Overall {
	var o Overall
	for _, c := range r.Comparisons {
		if !c.Metric.IsTiming() {
			continue
		}
		switch c.Outcome {
		case WinnerA:
			o.WinsA++
		case WinnerB:
			o.WinsB++
		case NotSignificant:
			o.NotSignificant++
		default:
			o.Unavailable++
		}
	}
	switch {
	case o.WinsA > o.WinsB:
		o.Winner = WinnerA
	case o.WinsB > o.WinsA:
		o.Winner = WinnerB
	default:
		o.Winner = NotSignificant
	}
	return o
}

// BrowserName resolves an outcome to the browser it refers to.
func (r *BrowserComparisonResults) BrowserName(o Outcome) string {
	switch o {
	case WinnerA:
		return r.A.Browser
	case WinnerB:
		return r.B.Browser
	default:
		return ""
	}
}
