package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shyim/sitespeed-compare/internal/models"
)

const (
	browsertimeSummary = "browsertime.summary-total.json"
	pagexraySummary    = "pagexray.summary-total.json"
)

// readOutputDir loads the summaries a single-iteration sitespeed.io run writes
// into <dir>/data.
func readOutputDir(dir string) (models.TrialOutcome, error) {
	bt, err := os.ReadFile(filepath.Join(dir, "data", browsertimeSummary))
	if err != nil {
		return nil, fmt.Errorf("%w: browsertime summary not found: %w", models.ErrNavigation, err)
	}
	px, err := os.ReadFile(filepath.Join(dir, "data", pagexraySummary))
	if err != nil {
		px = nil
	}
	return parseSummaries(bt, px)
}

// parseSummaries maps browsertime and pagexray summaries to trial metrics.
// Browsertime reports milliseconds; timings are converted to seconds. A nil
// pagexray summary leaves the size metrics absent.
func parseSummaries(browsertimeJSON, pagexrayJSON []byte) (models.TrialOutcome, error) {
	var bt models.BrowserTime
	if err := json.Unmarshal(browsertimeJSON, &bt); err != nil {
		return nil, fmt.Errorf("%w: failed to parse browsertime summary: %w", models.ErrNavigation, err)
	}

	out := models.TrialOutcome{}
	ms := func(name models.MetricName, m *models.Metric) {
		if m != nil {
			out[name] = m.Median / 1000
		}
	}

	if bt.PageTimings != nil {
		ms(models.LoadComplete, bt.PageTimings.PageLoadTime)
		ms(models.DOMContentLoaded, bt.PageTimings.DomContentLoadedTime)
		ms(models.DOMInteractive, bt.PageTimings.DomInteractiveTime)
		ms(models.ResponseTime, bt.PageTimings.ServerResponseTime)
		ms(models.ServerTime, bt.PageTimings.BackEndTime)
	}
	if _, ok := out[models.LoadComplete]; !ok && bt.Timings != nil {
		ms(models.LoadComplete, bt.Timings.FullyLoaded)
	}
	if bt.NavigationTiming != nil {
		ms(models.DOMComplete, bt.NavigationTiming.DomComplete)
	}
	if bt.GoogleWebVitals != nil {
		ms(models.FirstContentfulPaint, bt.GoogleWebVitals.FirstContentfulPaint)
		ms(models.TimeToFirstByte, bt.GoogleWebVitals.Ttfb)
	}

	if len(bytes.TrimSpace(pagexrayJSON)) > 0 {
		var px models.PageXray
		if err := json.Unmarshal(pagexrayJSON, &px); err != nil {
			return nil, fmt.Errorf("%w: failed to parse pagexray summary: %w", models.ErrNavigation, err)
		}
		if px.TransferSize != nil {
			out[models.TransferSize] = px.TransferSize.Median
		}
		if px.ContentSize != nil {
			out[models.DecodedBodySize] = px.ContentSize.Median
		}
		if px.Requests != nil {
			out[models.ResourceCount] = px.Requests.Median
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: sitespeed reported no metrics", models.ErrNavigation)
	}
	return out, nil
}
