// Package export writes finished runs and comparisons as JSON documents and
// reads them back. Documents carry every raw sample, so Verify can re-derive
// the stored summaries and reliability labels.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/shyim/sitespeed-compare/internal/compare"
	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/reliability"
)

const Version = 1

type Kind string

const (
	KindResult     Kind = "result"
	KindComparison Kind = "comparison"
)

var ErrUnsupportedVersion = errors.New("unsupported export version")

type Document struct {
	Version    int                               `json:"version"`
	Kind       Kind                              `json:"kind"`
	Result     *models.PerformanceTestResults    `json:"result,omitempty"`
	Comparison *compare.BrowserComparisonResults `json:"comparison,omitempty"`
}

func ForResult(r *models.PerformanceTestResults) Document {
	return Document{Version: Version, Kind: KindResult, Result: r}
}

func ForComparison(c *compare.BrowserComparisonResults) Document {
	return Document{Version: Version, Kind: KindComparison, Comparison: c}
}

func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return doc, fmt.Errorf("decode export: %w", err)
	}
	if doc.Version != Version {
		return doc, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	switch doc.Kind {
	case KindResult:
		if doc.Result == nil {
			return doc, errors.New("decode export: result document without result")
		}
	case KindComparison:
		if doc.Comparison == nil || doc.Comparison.A == nil || doc.Comparison.B == nil {
			return doc, errors.New("decode export: incomplete comparison document")
		}
	default:
		return doc, fmt.Errorf("decode export: unknown kind %q", doc.Kind)
	}
	return doc, nil
}

// Mismatch describes a stored value that differs from its re-derivation.
type Mismatch struct {
	Browser string            `json:"browser"`
	Metric  models.MetricName `json:"metric,omitempty"`
	Field   string            `json:"field"`
}

func (m Mismatch) String() string {
	if m.Metric == "" {
		return fmt.Sprintf("%s: %s", m.Browser, m.Field)
	}
	return fmt.Sprintf("%s/%s: %s", m.Browser, m.Metric, m.Field)
}

// Verify recomputes every derived value from the raw samples and reports
// anything that does not match exactly.
func Verify(doc Document) []Mismatch {
	switch doc.Kind {
	case KindResult:
		return verifyResult(doc.Result)
	case KindComparison:
		out := verifyResult(doc.Comparison.A)
		out = append(out, verifyResult(doc.Comparison.B)...)
		fresh, err := compare.New(doc.Comparison.ID, doc.Comparison.A, doc.Comparison.B)
		if err != nil {
			return append(out, Mismatch{Field: "comparison: " + err.Error()})
		}
		if !reflect.DeepEqual(fresh.Comparisons, doc.Comparison.Comparisons) {
			out = append(out, Mismatch{Field: "comparisons"})
		}
		return out
	}
	return nil
}

func verifyResult(r *models.PerformanceTestResults) []Mismatch {
	if r == nil {
		return nil
	}
	var out []Mismatch
	derived := models.Summaries(r.Metrics)
	for name, s := range derived {
		stored, ok := r.Summaries[name]
		if !ok {
			out = append(out, Mismatch{Browser: r.Browser, Metric: name, Field: "summary missing"})
			continue
		}
		if !reflect.DeepEqual(stored, s) {
			out = append(out, Mismatch{Browser: r.Browser, Metric: name, Field: "summary"})
		}
	}
	for name := range r.Summaries {
		if _, ok := derived[name]; !ok {
			out = append(out, Mismatch{Browser: r.Browser, Metric: name, Field: "summary without samples"})
		}
	}
	for name, set := range r.Metrics {
		if set.Len() != r.Iterations {
			out = append(out, Mismatch{Browser: r.Browser, Metric: name, Field: "sample count"})
		}
	}
	primary := r.PrimaryMetric
	if primary == "" {
		primary = models.PrimaryMetric
	}
	if label := reliability.ClassifySamples(r.Metrics.Get(primary)); label != r.ReliabilityScore {
		out = append(out, Mismatch{Browser: r.Browser, Field: "reliability score"})
	}
	return out
}
