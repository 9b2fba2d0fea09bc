package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

type MetricName string

const (
	LoadComplete         MetricName = "loadComplete"
	DOMComplete          MetricName = "domComplete"
	DOMContentLoaded     MetricName = "domContentLoaded"
	DOMInteractive       MetricName = "domInteractive"
	FirstContentfulPaint MetricName = "firstContentfulPaint"
	TimeToFirstByte      MetricName = "timeToFirstByte"
	ResponseTime         MetricName = "responseTime"
	ServerTime           MetricName = "serverTime"
	TransferSize         MetricName = "transferSize"
	DecodedBodySize      MetricName = "decodedBodySize"
	EncodedBodySize      MetricName = "encodedBodySize"
	ResourceCount        MetricName = "resourceCount"
)

// PrimaryMetric drives the sampler's consistency check.
const PrimaryMetric = LoadComplete

// AllMetrics lists every known metric in reporting order.
var AllMetrics = []MetricName{
	LoadComplete,
	DOMComplete,
	DOMContentLoaded,
	DOMInteractive,
	FirstContentfulPaint,
	TimeToFirstByte,
	ResponseTime,
	ServerTime,
	TransferSize,
	DecodedBodySize,
	EncodedBodySize,
	ResourceCount,
}

type Unit string

const (
	UnitSeconds Unit = "seconds"
	UnitBytes   Unit = "bytes"
	UnitCount   Unit = "count"
)

// Unit reports the fixed unit of a metric. Unknown metrics are treated as timings.
func (m MetricName) Unit() Unit {
	switch m {
	case TransferSize, DecodedBodySize, EncodedBodySize:
		return UnitBytes
	case ResourceCount:
		return UnitCount
	default:
		return UnitSeconds
	}
}

// IsTiming reports whether lower values mean faster page loads.
func (m MetricName) IsTiming() bool {
	return m.Unit() == UnitSeconds
}

func (m MetricName) Valid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// SampleSet is the append-only, trial-ordered list of values for one metric.
type SampleSet struct {
	metric MetricName
	unit   Unit
	values []float64
}

func NewSampleSet(metric MetricName) *SampleSet {
	return &SampleSet{metric: metric, unit: metric.Unit()}
}

func (s *SampleSet) Metric() MetricName { return s.metric }
func (s *SampleSet) Unit() Unit         { return s.unit }
func (s *SampleSet) Len() int           { return len(s.values) }

func (s *SampleSet) Append(v float64) {
	s.values = append(s.values, v)
}

// Values returns a copy so callers cannot rewrite recorded trials.
func (s *SampleSet) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

type sampleSetJSON struct {
	Metric MetricName `json:"metric"`
	Unit   Unit       `json:"unit"`
	Values []float64  `json:"values"`
}

func (s *SampleSet) MarshalJSON() ([]byte, error) {
	values := s.values
	if values == nil {
		values = []float64{}
	}
	return json.Marshal(sampleSetJSON{Metric: s.metric, Unit: s.unit, Values: values})
}

func (s *SampleSet) UnmarshalJSON(data []byte) error {
	var raw sampleSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Metric == "" {
		return fmt.Errorf("sample set: missing metric name")
	}
	s.metric = raw.Metric
	s.unit = raw.Unit
	if s.unit == "" {
		s.unit = raw.Metric.Unit()
	}
	s.values = raw.Values
	return nil
}

// DetailedMetrics maps each metric to its samples for one browser run.
type DetailedMetrics map[MetricName]*SampleSet

// Get returns the samples for a metric, or nil when the metric was never recorded.
func (d DetailedMetrics) Get(name MetricName) []float64 {
	set, ok := d[name]
	if !ok {
		return nil
	}
	return set.Values()
}

// Names returns the recorded metrics in AllMetrics order, unknown names last.
func (d DetailedMetrics) Names() []MetricName {
	names := make([]MetricName, 0, len(d))
	for _, m := range AllMetrics {
		if _, ok := d[m]; ok {
			names = append(names, m)
		}
	}
	var extra []MetricName
	for m := range d {
		if !m.Valid() {
			extra = append(extra, m)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(names, extra...)
}

// TrialOutcome is the raw per-metric bundle produced by one successful trial.
type TrialOutcome map[MetricName]float64
