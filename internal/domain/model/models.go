package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRequest marks request parameters rejected at construction time.
// It is never retried and surfaces straight to the caller.
var ErrInvalidRequest = errors.New("invalid request")

// RetryPolicy governs retrying of remote zonal reductions. Process-wide, no
// per-request override.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase float64
}

// RegionInfo is a region row loaded from the regions table.
type RegionInfo struct {
	ID       uuid.UUID
	Name     string
	Type     string
	Geometry *Geometry
}

// ExtractionRequest describes an annual-loss extraction for one region.
// Immutable after construction through NewExtractionRequest.
type ExtractionRequest struct {
	RegionID   uuid.UUID
	RegionName string
	Geometry   *Geometry
	StartYear  int
	EndYear    int
	// Threshold is the minimum % canopy cover to classify a pixel as forest.
	Threshold int
}

// NewExtractionRequest validates parameters and applies the configured
// default threshold when the caller passes a negative one.
func NewExtractionRequest(
	regionID uuid.UUID,
	regionName string,
	geometry *Geometry,
	startYear, endYear, threshold, defaultThreshold int,
) (ExtractionRequest, error) {
	if threshold < 0 {
		threshold = defaultThreshold
	}
	if !(2000 <= startYear && startYear <= endYear) {
		return ExtractionRequest{}, fmt.Errorf("%w: invalid year range: %d-%d", ErrInvalidRequest, startYear, endYear)
	}
	if threshold > 100 {
		return ExtractionRequest{}, fmt.Errorf("%w: tree cover threshold must be 0-100%%, got %d", ErrInvalidRequest, threshold)
	}
	if err := geometry.Validate(); err != nil {
		return ExtractionRequest{}, err
	}
	return ExtractionRequest{
		RegionID:   regionID,
		RegionName: regionName,
		Geometry:   geometry,
		StartYear:  startYear,
		EndYear:    endYear,
		Threshold:  threshold,
	}, nil
}

// AnnualLossRecord is one (region, year) forest loss measurement.
// BaselineKm2 is the year 2000 reference area, identical across all records
// of one extraction.
type AnnualLossRecord struct {
	RegionID       uuid.UUID `db:"region_id" json:"region_id"`
	RegionName     string    `db:"region_name" json:"region_name"`
	Year           int       `db:"year" json:"year"`
	LossKm2        float64   `db:"loss_km2" json:"loss_km2"`
	BaselineKm2    float64   `db:"baseline_cover_km2" json:"baseline_cover_km2"`
	Threshold      int       `db:"tree_cover_threshold" json:"tree_cover_threshold"`
	DatasetVersion string    `db:"dataset_version" json:"dataset_version"`
}

// AggregationWindow is a half-open [Start, End) analysis window.
type AggregationWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w AggregationWindow) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// PeriodMetric is the measurement for one aggregation window.
// FinalCoverageHa >= CurrentCoverageHa always: gap-filling only adds coverage.
type PeriodMetric struct {
	Window            AggregationWindow `json:"window"`
	ForestAreaHa      float64           `json:"forest_area_ha"`
	ImageCount        int               `json:"image_count"`
	CurrentCoverageHa float64           `json:"current_coverage_ha"`
	FinalCoverageHa   float64           `json:"final_coverage_ha"`
}

// AnalysisDefaults carries the process-wide fallbacks applied to unset
// time series request fields.
type AnalysisDefaults struct {
	WindowDays      int
	LookbackDays    int
	ForestThreshold float64
}

// TimeSeriesRequest describes one forest-cover time series run.
type TimeSeriesRequest struct {
	RegionID     uuid.UUID
	RegionName   string
	Geometry     *Geometry
	Start        time.Time
	End          time.Time
	WindowDays   int
	Threshold    float64 // tree probability threshold for forest classification
	LookbackDays int
}

// NewTimeSeriesRequest validates parameters, applying defaults for unset
// window, lookback, and threshold values.
func NewTimeSeriesRequest(
	regionID uuid.UUID,
	regionName string,
	geometry *Geometry,
	start, end time.Time,
	windowDays int,
	threshold float64,
	lookbackDays int,
	defaults AnalysisDefaults,
) (TimeSeriesRequest, error) {
	if windowDays <= 0 {
		windowDays = defaults.WindowDays
	}
	if lookbackDays <= 0 {
		lookbackDays = defaults.LookbackDays
	}
	if threshold <= 0 {
		threshold = defaults.ForestThreshold
	}
	if !start.Before(end) {
		return TimeSeriesRequest{}, fmt.Errorf("%w: analysis start %s is not before end %s",
			ErrInvalidRequest, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if threshold > 1 {
		return TimeSeriesRequest{}, fmt.Errorf("%w: forest threshold must be in (0,1], got %g", ErrInvalidRequest, threshold)
	}
	if err := geometry.Validate(); err != nil {
		return TimeSeriesRequest{}, err
	}
	return TimeSeriesRequest{
		RegionID:     regionID,
		RegionName:   regionName,
		Geometry:     geometry,
		Start:        start,
		End:          end,
		WindowDays:   windowDays,
		Threshold:    threshold,
		LookbackDays: lookbackDays,
	}, nil
}

// TimeSeries is the finished output of one run: per-period metrics plus
// derived summary statistics.
type TimeSeries struct {
	RegionID      uuid.UUID          `json:"region_id"`
	RegionName    string             `json:"region_name"`
	Threshold     float64            `json:"threshold"`
	WindowDays    int                `json:"window_days"`
	LookbackDays  int                `json:"lookback_days"`
	TotalRegionHa float64            `json:"total_region_ha"`
	Periods       []PeriodMetric     `json:"periods"`
	Summary       *TimeSeriesSummary `json:"summary,omitempty"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// TimeSeriesSummary holds read-only reductions over the period metrics,
// computed without further service calls.
type TimeSeriesSummary struct {
	TotalChangeHa  float64 `json:"total_change_ha"`
	TotalChangePct float64 `json:"total_change_pct"`
	MinAreaHa      float64 `json:"min_area_ha"`
	MaxAreaHa      float64 `json:"max_area_ha"`
	AvgAreaHa      float64 `json:"avg_area_ha"`
	VolatilityHa   float64 `json:"volatility_ha"`
	VolatilityPct  float64 `json:"volatility_pct"`

	TotalImages    int     `json:"total_images"`
	AvgImages      float64 `json:"avg_images"`
	LowDataPeriods int     `json:"low_data_periods"`

	AvgCurrentCoverageHa   float64 `json:"avg_current_coverage_ha"`
	AvgFinalCoverageHa     float64 `json:"avg_final_coverage_ha"`
	AvgCurrentCoveragePct  float64 `json:"avg_current_coverage_pct"`
	AvgFinalCoveragePct    float64 `json:"avg_final_coverage_pct"`
	AvgGapFilledPct        float64 `json:"avg_gap_filled_pct"`
	PartialCoveragePeriods int     `json:"partial_coverage_periods"`
}
