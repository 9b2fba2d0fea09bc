package models

import (
	"time"

	"github.com/shyim/sitespeed-compare/internal/reliability"
	"github.com/shyim/sitespeed-compare/internal/stats"
)

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// PerformanceTestResults is the finalized outcome of one browser's run. It is
// built once by NewPerformanceTestResults and never mutated afterwards.
type PerformanceTestResults struct {
	ID               string                       `json:"id"`
	Browser          string                       `json:"browser"`
	URL              string                       `json:"url"`
	Status           Status                       `json:"status"`
	PrimaryMetric    MetricName                   `json:"primaryMetric"`
	Iterations       int                          `json:"iterations"`
	FailedAttempts   int                          `json:"failedAttempts"`
	Metrics          DetailedMetrics              `json:"metrics"`
	DroppedMetrics   []MetricName                 `json:"droppedMetrics,omitempty"`
	Warmup           TrialOutcome                 `json:"warmup,omitempty"`
	Summaries        map[MetricName]stats.Summary `json:"summaries"`
	ReliabilityScore reliability.Label            `json:"reliabilityScore"`
	ReliabilityType  string                       `json:"reliabilityType"`
	P95ToP50Ratio    *float64                     `json:"p95ToP50Ratio,omitempty"`
	StartedAt        time.Time                    `json:"startedAt"`
	FinishedAt       time.Time                    `json:"finishedAt"`
}

// RunRecord is what a sampler hands over when it stops.
type RunRecord struct {
	ID             string
	Browser        string
	URL            string
	Status         Status
	PrimaryMetric  MetricName
	FailedAttempts int
	Metrics        DetailedMetrics
	Warmup         TrialOutcome
	StartedAt      time.Time
	FinishedAt     time.Time
}

// NewPerformanceTestResults takes ownership of rec.Metrics, trims metrics that
// were not reported by every successful trial and derives summaries and
// reliability from the primary metric. An empty rec.PrimaryMetric selects
// PrimaryMetric.
func NewPerformanceTestResults(rec RunRecord) *PerformanceTestResults {
	primaryName := rec.PrimaryMetric
	if primaryName == "" {
		primaryName = PrimaryMetric
	}
	metrics := DetailedMetrics{}
	iterations := 0
	if primary, ok := rec.Metrics[primaryName]; ok {
		iterations = primary.Len()
	}

	var dropped []MetricName
	for _, name := range rec.Metrics.Names() {
		set := rec.Metrics[name]
		if set.Len() != iterations || iterations == 0 {
			dropped = append(dropped, name)
			continue
		}
		metrics[name] = set
	}

	res := &PerformanceTestResults{
		ID:             rec.ID,
		Browser:        rec.Browser,
		URL:            rec.URL,
		Status:         rec.Status,
		PrimaryMetric:  primaryName,
		Iterations:     iterations,
		FailedAttempts: rec.FailedAttempts,
		Metrics:        metrics,
		DroppedMetrics: dropped,
		Warmup:         rec.Warmup,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
	res.Summaries = Summaries(metrics)

	primary := metrics.Get(primaryName)
	res.ReliabilityScore = reliability.ClassifySamples(primary)
	res.ReliabilityType = res.ReliabilityScore.Explanation()
	res.P95ToP50Ratio = p95ToP50(primary)
	return res
}

// Summaries derives a Summary for every metric from its raw samples.
func Summaries(metrics DetailedMetrics) map[MetricName]stats.Summary {
	out := make(map[MetricName]stats.Summary, len(metrics))
	for name, set := range metrics {
		if s, ok := stats.Summarize(set.Values()); ok {
			out[name] = s
		}
	}
	return out
}

func p95ToP50(values []float64) *float64 {
	median, ok := stats.Median(values)
	if !ok || median <= 0 {
		return nil
	}
	p95, _ := stats.Percentile95(values)
	ratio := p95 / median
	return &ratio
}

// Summary returns the summary for a metric if one could be computed.
func (r *PerformanceTestResults) Summary(name MetricName) (stats.Summary, bool) {
	s, ok := r.Summaries[name]
	return s, ok
}

func (r *PerformanceTestResults) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
