// Package presenter renders finished time series for human consumption.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"forest_service/internal/domain/model"
)

const separator = "================================================================================"

// FormatTimeSeries renders the full plain-text analysis report: per-period
// measurements with change and data quality annotations, followed by
// summary statistics. Purely a formatting pass over the series.
func FormatTimeSeries(series *model.TimeSeries) string {
	var b strings.Builder

	b.WriteString("\n" + separator + "\n")
	b.WriteString("FOREST COVER TIME SERIES ANALYSIS\n")
	b.WriteString(separator + "\n\n")
	fmt.Fprintf(&b, "Region: %s\n", series.RegionName)
	fmt.Fprintf(&b, "Threshold: %g (tree probability)\n", series.Threshold)
	fmt.Fprintf(&b, "Aggregation Window: %d days\n", series.WindowDays)
	if len(series.Periods) > 0 {
		fmt.Fprintf(&b, "Analysis Period: %s to %s\n",
			series.Periods[0].Window.Start.Format("2006-01-02"),
			series.Periods[len(series.Periods)-1].Window.End.Format("2006-01-02"))
	}

	b.WriteString("\n" + separator + "\n")
	b.WriteString("PERIOD FOREST AREA MEASUREMENTS\n")
	b.WriteString(separator + "\n\n")

	for i, p := range series.Periods {
		writePeriod(&b, series, i, p)
	}

	if series.Summary != nil {
		writeSummary(&b, series)
	}

	fmt.Fprintf(&b, "\n%s\nTimestamp: %s\n%s\n",
		separator, series.GeneratedAt.Format(time.DateTime), separator)
	return b.String()
}

func writePeriod(b *strings.Builder, series *model.TimeSeries, i int, p model.PeriodMetric) {
	currentPct := coveragePct(p.CurrentCoverageHa, series.TotalRegionHa)
	finalPct := coveragePct(p.FinalCoverageHa, series.TotalRegionHa)
	gapFilledPct := finalPct - currentPct

	fmt.Fprintf(b, "Period %-5d (%s)\n", i+1, p.Window)
	fmt.Fprintf(b, "             Forest Area: %12.2f ha\n", p.ForestAreaHa)
	fmt.Fprintf(b, "             Images Used: %12d images", p.ImageCount)
	if p.ImageCount < 3 {
		b.WriteString("  ** LOW DATA **")
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "             Current Cov: %12.2f ha (%5.1f%%)", p.CurrentCoverageHa, currentPct)
	if gapFilledPct > 1 {
		fmt.Fprintf(b, "\n             Gap-Filled:  %12.2f ha (%5.1f%%) [+%.1f%% from history]",
			p.FinalCoverageHa, finalPct, gapFilledPct)
	}
	b.WriteString("\n")

	if i > 0 {
		prev := series.Periods[i-1].ForestAreaHa
		changeHa := p.ForestAreaHa - prev
		changePct := 0.0
		if prev > 0 {
			changePct = changeHa / prev * 100
		}
		fmt.Fprintf(b, "             Change:      %+12.2f ha (%+6.2f%%) %s\n", changeHa, changePct, trendLabel(changeHa))
	}
	b.WriteString("\n")
}

func writeSummary(b *strings.Builder, series *model.TimeSeries) {
	s := series.Summary

	b.WriteString(separator + "\n")
	b.WriteString("SUMMARY STATISTICS\n")
	b.WriteString(separator + "\n\n")
	fmt.Fprintf(b, "Total Change:        %12.2f ha (%+6.2f%%)\n", s.TotalChangeHa, s.TotalChangePct)
	fmt.Fprintf(b, "Minimum Area:        %12.2f ha\n", s.MinAreaHa)
	fmt.Fprintf(b, "Maximum Area:        %12.2f ha\n", s.MaxAreaHa)
	fmt.Fprintf(b, "Average Area:        %12.2f ha\n", s.AvgAreaHa)
	fmt.Fprintf(b, "Volatility:          %12.2f ha (%.1f%% of avg)\n", s.VolatilityHa, s.VolatilityPct)

	b.WriteString("\n" + separator + "\n")
	b.WriteString("DATA QUALITY ASSESSMENT\n")
	b.WriteString(separator + "\n\n")
	fmt.Fprintf(b, "Region Total Area:   %12.2f ha\n\n", series.TotalRegionHa)
	fmt.Fprintf(b, "Total Images:        %12d images across all periods\n", s.TotalImages)
	fmt.Fprintf(b, "Average per Period:  %12.1f images\n", s.AvgImages)
	fmt.Fprintf(b, "Low Data Periods:    %12d periods (< 3 images)\n\n", s.LowDataPeriods)
	fmt.Fprintf(b, "Current Period Avg:  %12.2f ha (%5.1f%% of region)\n", s.AvgCurrentCoverageHa, s.AvgCurrentCoveragePct)
	fmt.Fprintf(b, "After Gap-Filling:   %12.2f ha (%5.1f%% of region)\n", s.AvgFinalCoverageHa, s.AvgFinalCoveragePct)
	fmt.Fprintf(b, "Gap-Filled Avg:      %12.1f%% from historical data\n", s.AvgGapFilledPct)
	fmt.Fprintf(b, "Partial Coverage:    %12d periods (< 80%% current coverage)\n", s.PartialCoveragePeriods)

	if s.LowDataPeriods > 0 || s.PartialCoveragePeriods > 0 {
		b.WriteString("\nWARNING: cloud coverage issues detected\n")
		if s.LowDataPeriods > 0 {
			fmt.Fprintf(b, "  - %d periods with < 3 images (unreliable)\n", s.LowDataPeriods)
		}
		if s.PartialCoveragePeriods > 0 {
			fmt.Fprintf(b, "  - %d periods with < 80%% current coverage\n", s.PartialCoveragePeriods)
		}
		if s.AvgGapFilledPct >= 1 {
			fmt.Fprintf(b, "  - gap-filling added %.1f%% coverage on average\n", s.AvgGapFilledPct)
		}
	} else {
		b.WriteString("\nGood data quality across all periods.\n")
	}
}

func trendLabel(changeHa float64) string {
	switch {
	case changeHa > 0:
		return "Growth"
	case changeHa < 0:
		return "Loss"
	default:
		return "Stable"
	}
}

func coveragePct(ha, totalHa float64) float64 {
	if totalHa <= 0 {
		return 0
	}
	return ha / totalHa * 100
}
