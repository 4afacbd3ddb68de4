package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"forest_service/internal/domain/model"
)

// Reducer executes zonal reductions against the raster service with bounded
// exponential-backoff retry. Scale and pixel budget are fixed per instance
// from configuration; the retry policy is process-wide.
type Reducer struct {
	service   model.RasterService
	policy    model.RetryPolicy
	scale     int
	maxPixels int64
	sleep     func(time.Duration)
	log       *slog.Logger
}

func NewReducer(service model.RasterService, policy model.RetryPolicy, scale int, maxPixels int64) *Reducer {
	return &Reducer{
		service:   service,
		policy:    policy,
		scale:     scale,
		maxPixels: maxPixels,
		sleep:     time.Sleep,
		log:       slog.Default(),
	}
}

// Reduce aggregates the image's pixels inside geom and extracts band from
// the result. A missing band means no qualifying pixels and yields 0.0, not
// an error.
//
// Transient service failures are retried up to MaxAttempts total calls; the
// wait before attempt k (0-indexed) is BackoffBase**k seconds. Fatal
// failures (bad geometry, auth) abort immediately. When all attempts fail
// the call returns ReductionExhaustedError.
func (r *Reducer) Reduce(ctx context.Context, img model.Image, geom *model.Geometry, kind model.ReducerKind, band string) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.sleep(r.backoff(attempt - 1))
		}

		stats, err := r.service.ReduceRegion(ctx, img, geom, kind, r.scale, r.maxPixels)
		if err == nil {
			return stats[band], nil
		}
		if !model.IsTransient(err) {
			return 0, fmt.Errorf("reduction of %s failed: %w", band, err)
		}

		lastErr = err
		r.log.Warn("raster reduction failed",
			"band", band,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"error", err)
	}

	r.log.Error("raster reduction exhausted retries", "band", band, "attempts", r.policy.MaxAttempts)
	return 0, &ReductionExhaustedError{Band: band, Attempts: r.policy.MaxAttempts, Err: lastErr}
}

func (r *Reducer) backoff(failedAttempt int) time.Duration {
	seconds := math.Pow(r.policy.BackoffBase, float64(failedAttempt))
	return time.Duration(seconds * float64(time.Second))
}
