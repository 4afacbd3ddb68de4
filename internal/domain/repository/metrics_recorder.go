package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"forest_service/internal/domain/model"
)

// MetricsRecorder persists a finished time series. The core never reads
// persisted data back mid-run.
type MetricsRecorder interface {
	SaveTimeSeries(ctx context.Context, series *model.TimeSeries) error
}

type PostgresMetricsRecorder struct {
	db *sqlx.DB
}

func NewPostgresMetricsRecorder(db *sqlx.DB) *PostgresMetricsRecorder {
	return &PostgresMetricsRecorder{db: db}
}

// SaveTimeSeries stores one run: a run row carrying the summary as JSON
// plus one row per period, all in a single transaction.
func (r *PostgresMetricsRecorder) SaveTimeSeries(ctx context.Context, series *model.TimeSeries) error {
	const runQuery = `
		INSERT INTO forest.forest_timeseries_runs (
			region_id, threshold, window_days, lookback_days,
			total_region_ha, summary, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING run_id`

	const periodQuery = `
		INSERT INTO forest.forest_period_metrics (
			run_id, region_id, period_start, period_end,
			forest_area_ha, image_count, current_coverage_ha, final_coverage_ha
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	summaryJSON, err := json.Marshal(series.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int64
	if err := tx.GetContext(ctx, &runID, runQuery,
		series.RegionID, series.Threshold, series.WindowDays, series.LookbackDays,
		series.TotalRegionHa, summaryJSON, series.GeneratedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run for region %s: %w", series.RegionID, err)
	}

	for _, p := range series.Periods {
		if _, err := tx.ExecContext(ctx, periodQuery,
			runID, series.RegionID, p.Window.Start, p.Window.End,
			p.ForestAreaHa, p.ImageCount, p.CurrentCoverageHa, p.FinalCoverageHa,
		); err != nil {
			return fmt.Errorf("failed to insert period metric %s: %w", p.Window, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit time series: %w", err)
	}
	return nil
}
