package core

import (
	"context"
	"fmt"
	"log/slog"

	"forest_service/internal/domain/model"
)

// Baseline dataset band layout: "treecover2000" holds % canopy cover at the
// reference year, "lossyear" holds the year-code of first loss (1 = 2001).
const (
	baselineReferenceYear = 2000
	bandTreeCover         = "treecover2000"
	bandLossYear          = "lossyear"
)

// BaselineConfig pins the annual-loss dataset used by the extractor.
type BaselineConfig struct {
	AssetID        string
	DatasetVersion string
	// MaxYear is the last year encoded in the lossyear band.
	MaxYear int
}

// BaselineExtractor computes a one-time baseline forest area and per-year
// loss areas for a region. One instance serves every region; the injected
// reducer carries the session and retry policy.
type BaselineExtractor struct {
	reducer *Reducer
	cfg     BaselineConfig
	log     *slog.Logger

	// dataset expression slot, built on first use
	dataset map[string]model.Image
}

func NewBaselineExtractor(reducer *Reducer, cfg BaselineConfig) *BaselineExtractor {
	return &BaselineExtractor{
		reducer: reducer,
		cfg:     cfg,
		log:     slog.Default(),
		dataset: make(map[string]model.Image),
	}
}

// ExtractRegion computes the year 2000 baseline once, then the loss area
// for each year of the request in ascending order. Total service calls:
// 1 + (EndYear - StartYear + 1). Any reduction failure aborts the whole
// extraction with no partial record set.
func (e *BaselineExtractor) ExtractRegion(ctx context.Context, req model.ExtractionRequest) ([]model.AnnualLossRecord, error) {
	e.log.Info("extracting annual loss baseline",
		"region", req.RegionName,
		"start_year", req.StartYear,
		"end_year", req.EndYear,
		"threshold", req.Threshold)

	baselineKm2, err := e.calculateBaseline(ctx, req.Geometry, req.Threshold)
	if err != nil {
		return nil, fmt.Errorf("baseline calculation for %s failed: %w", req.RegionName, err)
	}
	e.log.Info("year 2000 baseline computed",
		"region", req.RegionName,
		"baseline_km2", baselineKm2,
		"threshold", req.Threshold)

	records := make([]model.AnnualLossRecord, 0, req.EndYear-req.StartYear+1)
	for year := req.StartYear; year <= req.EndYear; year++ {
		lossKm2, err := e.calculateLossForYear(ctx, req.Geometry, year)
		if err != nil {
			return nil, fmt.Errorf("loss calculation for %s year %d failed: %w", req.RegionName, year, err)
		}
		e.log.Debug("annual loss computed", "region", req.RegionName, "year", year, "loss_km2", lossKm2)

		records = append(records, model.AnnualLossRecord{
			RegionID:       req.RegionID,
			RegionName:     req.RegionName,
			Year:           year,
			LossKm2:        lossKm2,
			BaselineKm2:    baselineKm2,
			Threshold:      req.Threshold,
			DatasetVersion: e.cfg.DatasetVersion,
		})
	}

	return records, nil
}

// calculateBaseline reduces the reference-year forest mask to km².
func (e *BaselineExtractor) calculateBaseline(ctx context.Context, geom *model.Geometry, threshold int) (float64, error) {
	forestMask := e.band(bandTreeCover).Gte(float64(threshold))
	areaM2, err := e.reducer.Reduce(ctx, forestMask.MulPixelArea(), geom, model.ReducerSum, bandTreeCover)
	if err != nil {
		return 0, err
	}
	return areaM2 / 1e6, nil
}

// calculateLossForYear reduces the per-year loss mask to km². The dataset
// encodes years as codes: 1 = 2001 up to MaxYear - 2000.
func (e *BaselineExtractor) calculateLossForYear(ctx context.Context, geom *model.Geometry, year int) (float64, error) {
	yearCode := year - baselineReferenceYear
	if yearCode < 1 || yearCode > e.cfg.MaxYear-baselineReferenceYear {
		return 0, &YearOutOfRangeError{Year: year, MinYear: baselineReferenceYear + 1, MaxYear: e.cfg.MaxYear}
	}

	lossMask := e.band(bandLossYear).Eq(float64(yearCode))
	areaM2, err := e.reducer.Reduce(ctx, lossMask.MulPixelArea(), geom, model.ReducerSum, bandLossYear)
	if err != nil {
		return 0, err
	}
	return areaM2 / 1e6, nil
}

// band returns the memoized dataset band expression.
func (e *BaselineExtractor) band(name string) model.Image {
	img, ok := e.dataset[name]
	if !ok {
		img = model.AssetImage(e.cfg.AssetID, name)
		e.dataset[name] = img
	}
	return img
}
