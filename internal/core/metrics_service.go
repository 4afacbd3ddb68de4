package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forest_service/internal/domain/model"
)

// Thresholds for the data quality flags derived in the summary.
const (
	lowDataImageCount  = 3
	partialCoveragePct = 80.0
)

// ForestMetricsService drives the full time series: window generation,
// per-window compositing, and summary derivation. One outstanding service
// request at a time; a failed window aborts the run.
type ForestMetricsService struct {
	reducer    *Reducer
	compositor *Compositor
	log        *slog.Logger
}

func NewForestMetricsService(reducer *Reducer, compositor *Compositor) *ForestMetricsService {
	return &ForestMetricsService{
		reducer:    reducer,
		compositor: compositor,
		log:        slog.Default(),
	}
}

// Run assembles the forest-cover time series for the request's region and
// date range. The total region area is reduced once and reused for every
// coverage percentage.
func (s *ForestMetricsService) Run(ctx context.Context, req model.TimeSeriesRequest) (*model.TimeSeries, error) {
	windows := GenerateWindows(req.Start, req.End, req.WindowDays)
	s.log.Info("starting forest metrics run",
		"region", req.RegionName,
		"start", req.Start.Format("2006-01-02"),
		"end", req.End.Format("2006-01-02"),
		"windows", len(windows),
		"window_days", req.WindowDays)

	totalRegionHa, err := s.totalRegionArea(ctx, req.Geometry)
	if err != nil {
		return nil, fmt.Errorf("failed to compute region area for %s: %w", req.RegionName, err)
	}
	s.log.Info("total region area computed", "region", req.RegionName, "total_ha", totalRegionHa)

	periods := make([]model.PeriodMetric, 0, len(windows))
	for i, window := range windows {
		metric, err := s.compositor.Composite(ctx, req.Geometry, window, req.WindowDays, req.LookbackDays, req.Threshold, totalRegionHa)
		if err != nil {
			return nil, fmt.Errorf("window %s failed: %w", window, err)
		}
		periods = append(periods, metric)

		s.log.Info("period processed",
			"progress", fmt.Sprintf("%d/%d", i+1, len(windows)),
			"window", window.String(),
			"forest_ha", metric.ForestAreaHa,
			"images", metric.ImageCount,
			"final_coverage_ha", metric.FinalCoverageHa)
	}

	return &model.TimeSeries{
		RegionID:      req.RegionID,
		RegionName:    req.RegionName,
		Threshold:     req.Threshold,
		WindowDays:    req.WindowDays,
		LookbackDays:  req.LookbackDays,
		TotalRegionHa: totalRegionHa,
		Periods:       periods,
		Summary:       Summarize(periods, totalRegionHa),
		GeneratedAt:   time.Now(),
	}, nil
}

// totalRegionArea reduces the per-pixel area over the region to hectares.
func (s *ForestMetricsService) totalRegionArea(ctx context.Context, geom *model.Geometry) (float64, error) {
	areaM2, err := s.reducer.Reduce(ctx, model.PixelArea(), geom, model.ReducerSum, "area")
	if err != nil {
		return 0, err
	}
	return areaM2 / 10000, nil
}

// Summarize derives the summary statistics from the period metrics. Pure:
// no service calls. Returns nil for fewer than two periods, where change
// and volatility are undefined.
func Summarize(periods []model.PeriodMetric, totalRegionHa float64) *model.TimeSeriesSummary {
	if len(periods) < 2 {
		return nil
	}

	first := periods[0].ForestAreaHa
	last := periods[len(periods)-1].ForestAreaHa

	summary := &model.TimeSeriesSummary{
		TotalChangeHa: last - first,
		MinAreaHa:     periods[0].ForestAreaHa,
		MaxAreaHa:     periods[0].ForestAreaHa,
	}
	if first > 0 {
		summary.TotalChangePct = summary.TotalChangeHa / first * 100
	}

	var areaSum, currentSum, finalSum float64
	for _, p := range periods {
		areaSum += p.ForestAreaHa
		if p.ForestAreaHa < summary.MinAreaHa {
			summary.MinAreaHa = p.ForestAreaHa
		}
		if p.ForestAreaHa > summary.MaxAreaHa {
			summary.MaxAreaHa = p.ForestAreaHa
		}

		summary.TotalImages += p.ImageCount
		if p.ImageCount < lowDataImageCount {
			summary.LowDataPeriods++
		}

		currentSum += p.CurrentCoverageHa
		finalSum += p.FinalCoverageHa
		if totalRegionHa > 0 && p.CurrentCoverageHa/totalRegionHa*100 < partialCoveragePct {
			summary.PartialCoveragePeriods++
		}
	}

	n := float64(len(periods))
	summary.AvgAreaHa = areaSum / n
	summary.VolatilityHa = summary.MaxAreaHa - summary.MinAreaHa
	if summary.AvgAreaHa > 0 {
		summary.VolatilityPct = summary.VolatilityHa / summary.AvgAreaHa * 100
	}

	summary.AvgImages = float64(summary.TotalImages) / n
	summary.AvgCurrentCoverageHa = currentSum / n
	summary.AvgFinalCoverageHa = finalSum / n
	if totalRegionHa > 0 {
		summary.AvgCurrentCoveragePct = summary.AvgCurrentCoverageHa / totalRegionHa * 100
		summary.AvgFinalCoveragePct = summary.AvgFinalCoverageHa / totalRegionHa * 100
	}
	summary.AvgGapFilledPct = summary.AvgFinalCoveragePct - summary.AvgCurrentCoveragePct

	return summary
}
