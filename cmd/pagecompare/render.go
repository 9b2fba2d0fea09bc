package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/shyim/sitespeed-compare/internal/compare"
	"github.com/shyim/sitespeed-compare/internal/models"
)

func formatValue(unit models.Unit, v *float64) string {
	if v == nil {
		return "-"
	}
	switch unit {
	case models.UnitSeconds:
		return fmt.Sprintf("%.0f ms", *v*1000)
	case models.UnitBytes:
		return fmt.Sprintf("%.1f KB", *v/1024)
	default:
		return fmt.Sprintf("%.0f", *v)
	}
}

func formatSpread(unit models.Unit, v *float64) string {
	if v == nil {
		return ""
	}
	return " ± " + formatValue(unit, v)
}

func outcomeLabel(c *compare.BrowserComparisonResults, o compare.Outcome) string {
	switch o {
	case compare.WinnerA, compare.WinnerB:
		return c.BrowserName(o)
	case compare.NotSignificant:
		return "no significant difference"
	default:
		return "unavailable"
	}
}

func comparisonTable(c *compare.BrowserComparisonResults) pterm.TableData {
	data := pterm.TableData{{"Metric", c.A.Browser, c.B.Browser, "Diff", "p", "Winner"}}
	for _, mc := range c.Comparisons {
		diff := "-"
		if mc.PercentageDifference != nil {
			diff = fmt.Sprintf("%+.1f%%", *mc.PercentageDifference)
		}
		p := "-"
		if mc.PValue != nil {
			p = fmt.Sprintf("%.3f", *mc.PValue)
		}
		data = append(data, []string{
			string(mc.Metric),
			formatValue(mc.Unit, mc.ValueA) + formatSpread(mc.Unit, mc.SpreadA),
			formatValue(mc.Unit, mc.ValueB) + formatSpread(mc.Unit, mc.SpreadB),
			diff,
			p,
			outcomeLabel(c, mc.Outcome),
		})
	}
	return data
}

func resultTable(r *models.PerformanceTestResults) pterm.TableData {
	data := pterm.TableData{{"Metric", "Median", "Mean", "P95", "Min", "Max", "CV", "Outliers"}}
	for _, name := range models.AllMetrics {
		s, ok := r.Summary(name)
		if !ok {
			continue
		}
		unit := name.Unit()
		cv := "-"
		if s.CV != nil {
			cv = fmt.Sprintf("%.1f%%", *s.CV)
		}
		data = append(data, []string{
			string(name),
			formatValue(unit, &s.Median),
			formatValue(unit, &s.Mean),
			formatValue(unit, &s.P95),
			formatValue(unit, &s.Min),
			formatValue(unit, &s.Max),
			cv,
			fmt.Sprint(s.Outliers),
		})
	}
	return data
}

func renderResult(r *models.PerformanceTestResults) {
	pterm.DefaultSection.Printfln("%s: %s", r.Browser, r.URL)
	pterm.Info.Printfln("status %s, %d trials, %d failed in %s, reliability %s (%s)",
		r.Status, r.Iterations, r.FailedAttempts, r.Duration().Round(time.Second), r.ReliabilityScore, r.ReliabilityType)
	if len(r.DroppedMetrics) > 0 {
		pterm.Warning.Printfln("dropped incomplete metrics: %v", r.DroppedMetrics)
	}
	pterm.DefaultTable.WithHasHeader().WithData(resultTable(r)).Render()
}

func renderComparison(c *compare.BrowserComparisonResults) {
	renderResult(c.A)
	renderResult(c.B)

	pterm.DefaultSection.Printfln("%s vs %s (%d iterations)", c.A.Browser, c.B.Browser, c.Iterations)
	pterm.DefaultTable.WithHasHeader().WithData(comparisonTable(c)).Render()

	overall := c.Overall()
	if overall.Winner == compare.NotSignificant {
		pterm.Info.Printfln("No overall winner (%s %d, %s %d timing wins)", c.A.Browser, overall.WinsA, c.B.Browser, overall.WinsB)
		return
	}
	pterm.Success.Printfln("%s is faster overall (%d vs %d timing wins)", c.BrowserName(overall.Winner), max(overall.WinsA, overall.WinsB), min(overall.WinsA, overall.WinsB))
}
