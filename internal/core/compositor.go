package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forest_service/internal/domain/model"
)

// Land cover collection band layout: "label" is the per-pixel majority
// class (treesClass marks forest), "trees" the per-pixel tree probability.
const (
	bandLabel  = "label"
	bandTrees  = "trees"
	treesClass = 1

	// escalationLookbackDays is the widened horizon used when the first
	// backward walk leaves coverage incomplete. Applied at most once per
	// window.
	escalationLookbackDays = 365

	// fullCoveragePct is the coverage share below which the lookback
	// escalates.
	fullCoveragePct = 99.9
)

// CompositorConfig pins the image collection and gap-filling behavior.
// Window and lookback sizes are per-request parameters, not configuration;
// request defaults are applied at request construction.
type CompositorConfig struct {
	Collection    string
	EnableGapFill bool
}

// Compositor builds a cloud/sensor-gap-free forest composite for one
// analysis window by merging the current observation window with a widening
// series of historical windows chosen by recency.
type Compositor struct {
	service model.RasterService
	reducer *Reducer
	cfg     CompositorConfig
	log     *slog.Logger
}

func NewCompositor(service model.RasterService, reducer *Reducer, cfg CompositorConfig) *Compositor {
	return &Compositor{
		service: service,
		reducer: reducer,
		cfg:     cfg,
		log:     slog.Default(),
	}
}

// Composite measures forest area and coverage for one window.
//
// When the current window has images, the composite is the per-pixel
// majority label and mean tree probability across it; otherwise both bands
// start fully masked. Missing pixels are filled from historical composites,
// most recent first, walking backward in windowDays-sized steps up to
// lookbackDays before the window. If coverage still falls short of 99.9%
// of the region and at least one historical composite was found, the walk
// widens once to a 365-day horizon. Precedence: current data, then the
// first mosaic, then the extended mosaic.
//
// totalRegionHa of zero disables the coverage-percentage check (percentages
// are defined as 0 for a zero-area region).
func (c *Compositor) Composite(ctx context.Context, geom *model.Geometry, window model.AggregationWindow, windowDays, lookbackDays int, threshold, totalRegionHa float64) (model.PeriodMetric, error) {
	query := c.query(geom, window.Start, window.End)
	imageCount, err := c.service.CollectionSize(ctx, query)
	if err != nil {
		return model.PeriodMetric{}, fmt.Errorf("collection query for %s failed: %w", window, err)
	}

	var currentLabel, currentTrees model.Image
	if imageCount > 0 {
		currentLabel = model.Composite(query, bandLabel, model.ReducerMode)
		currentTrees = model.Composite(query, bandTrees, model.ReducerMean)
	} else {
		currentLabel = model.EmptyImage(bandLabel)
		currentTrees = model.EmptyImage(bandTrees)
	}

	currentCoverageHa, err := c.coverage(ctx, currentLabel, geom)
	if err != nil {
		return model.PeriodMetric{}, fmt.Errorf("current coverage for %s failed: %w", window, err)
	}

	finalLabel := currentLabel
	finalTrees := currentTrees

	if c.cfg.EnableGapFill {
		lookbackStart := window.Start.AddDate(0, 0, -lookbackDays)

		composites, err := c.historicalComposites(ctx, geom, window.Start, lookbackStart, windowDays)
		if err != nil {
			return model.PeriodMetric{}, err
		}
		if len(composites) > 0 {
			mosaic := model.MostRecentMosaic(composites)
			finalLabel = currentLabel.Unmask(mosaic.Select(bandLabel))
			finalTrees = currentTrees.Unmask(mosaic.Select(bandTrees))
		}

		checkCoverageHa, err := c.coverage(ctx, finalLabel, geom)
		if err != nil {
			return model.PeriodMetric{}, fmt.Errorf("coverage check for %s failed: %w", window, err)
		}
		checkPct := 0.0
		if totalRegionHa > 0 {
			checkPct = checkCoverageHa / totalRegionHa * 100
		}

		if checkPct < fullCoveragePct && len(composites) > 0 {
			c.log.Debug("escalating gap-fill lookback",
				"window", window.String(),
				"coverage_pct", checkPct,
				"lookback_days", escalationLookbackDays)

			extended, err := c.historicalComposites(ctx, geom, lookbackStart, window.Start.AddDate(0, 0, -escalationLookbackDays), windowDays)
			if err != nil {
				return model.PeriodMetric{}, err
			}
			if len(extended) > 0 {
				mosaic := model.MostRecentMosaic(extended)
				finalLabel = finalLabel.Unmask(mosaic.Select(bandLabel))
				finalTrees = finalTrees.Unmask(mosaic.Select(bandTrees))
			}
		}
	}

	finalCoverageHa, err := c.coverage(ctx, finalLabel, geom)
	if err != nil {
		return model.PeriodMetric{}, fmt.Errorf("final coverage for %s failed: %w", window, err)
	}

	forestMask := finalLabel.Eq(treesClass).And(finalTrees.Gte(threshold))
	forestM2, err := c.reducer.Reduce(ctx, forestMask.MulPixelArea(), geom, model.ReducerSum, bandLabel)
	if err != nil {
		return model.PeriodMetric{}, fmt.Errorf("forest area for %s failed: %w", window, err)
	}

	return model.PeriodMetric{
		Window:            window,
		ForestAreaHa:      forestM2 / 10000,
		ImageCount:        imageCount,
		CurrentCoverageHa: currentCoverageHa,
		FinalCoverageHa:   finalCoverageHa,
	}, nil
}

// historicalComposites walks backward from newest in windowDays-sized
// steps while the step end stays after oldest, building one composite per
// non-empty step tagged with the step's end date for recency ordering.
func (c *Compositor) historicalComposites(ctx context.Context, geom *model.Geometry, newest, oldest time.Time, windowDays int) ([]model.Image, error) {
	var composites []model.Image
	for windowEnd := newest; windowEnd.After(oldest); {
		windowStart := windowEnd.AddDate(0, 0, -windowDays)
		query := c.query(geom, windowStart, windowEnd)

		size, err := c.service.CollectionSize(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("historical collection query for %s failed: %w", windowEnd.Format("2006-01-02"), err)
		}
		if size > 0 {
			composites = append(composites, model.Bundle(windowEnd,
				model.Composite(query, bandLabel, model.ReducerMode),
				model.Composite(query, bandTrees, model.ReducerMean),
			))
		}

		windowEnd = windowStart
	}
	return composites, nil
}

// coverage reduces the defined-pixel area of a label image to hectares.
func (c *Compositor) coverage(ctx context.Context, label model.Image, geom *model.Geometry) (float64, error) {
	coveredM2, err := c.reducer.Reduce(ctx, label.CoverageMask().MulPixelArea(), geom, model.ReducerSum, bandLabel)
	if err != nil {
		return 0, err
	}
	return coveredM2 / 10000, nil
}

func (c *Compositor) query(geom *model.Geometry, start, end time.Time) model.CollectionQuery {
	return model.CollectionQuery{
		Collection: c.cfg.Collection,
		Bounds:     geom,
		Start:      start,
		End:        end,
		Bands:      []string{bandLabel, bandTrees},
	}
}
