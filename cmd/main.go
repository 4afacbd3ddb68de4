package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"forest_service/internal/api"
	"forest_service/internal/config"
	"forest_service/internal/core"
	"forest_service/internal/domain/model"
	"forest_service/internal/domain/repository"
	"forest_service/internal/infrastructure/publisher"
	"forest_service/internal/infrastructure/rasterclient"
	"forest_service/internal/presenter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Repositories
	postgresRepo := repository.NewPostgresRepository(cfg.DatabaseURL())
	overpassRepo := repository.NewOverpassRepository(
		cfg.Overpass.Endpoint,
		time.Duration(cfg.Overpass.TimeoutSeconds)*time.Second,
	)
	recorder := repository.NewPostgresMetricsRecorder(postgresRepo.DB)

	// Raster service session: initialized once, injected everywhere
	raster := rasterclient.NewHTTPRasterClient(cfg.Raster.Endpoint, cfg.Raster.ProjectID)
	if err := raster.Initialize(context.Background()); err != nil {
		log.Fatalf("failed to initialize raster service session: %v", err)
	}
	slog.Info("raster service session initialized", "project", cfg.Raster.ProjectID)

	// Core services
	baselineReducer := core.NewReducer(raster, cfg.RetryPolicy(), cfg.Raster.BaselineScale, cfg.Raster.BaselineMaxPixels)
	compositeReducer := core.NewReducer(raster, cfg.RetryPolicy(), cfg.Raster.CompositeScale, cfg.Raster.CompositeMaxPixels)

	baseline := core.NewBaselineExtractor(baselineReducer, core.BaselineConfig{
		AssetID:        cfg.Raster.BaselineAssetID,
		DatasetVersion: cfg.Raster.DatasetVersion,
		MaxYear:        cfg.Raster.DatasetMaxYear,
	})
	compositor := core.NewCompositor(raster, compositeReducer, core.CompositorConfig{
		Collection:    cfg.Raster.Collection,
		EnableGapFill: cfg.Analysis.EnableGapFilling,
	})
	metrics := core.NewForestMetricsService(compositeReducer, compositor)

	// Result publisher (optional)
	var pub api.SeriesPublisher
	if cfg.Publisher.BindAddr != "" {
		zmqPub, err := publisher.New(cfg.Publisher.BindAddr)
		if err != nil {
			log.Fatalf("failed to start publisher: %v", err)
		}
		defer zmqPub.Close()
		pub = zmqPub
		slog.Info("result publisher bound", "addr", cfg.Publisher.BindAddr)
	}

	// HTTP handlers
	handler := api.NewHandler(
		baseline, metrics, postgresRepo, overpassRepo, postgresRepo, recorder, pub,
		cfg.Analysis.TreeCoverThreshold, cfg.AnalysisDefaults(),
	)
	http.HandleFunc("/api/baseline", handler.ExtractBaseline)
	http.HandleFunc("/api/timeseries", handler.ExtractTimeSeries)

	// Scheduled monitoring for a configured region
	if cfg.Scheduler.CronSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Scheduler.CronSchedule, func() {
			runScheduled(cfg, postgresRepo, metrics, recorder, pub)
		})
		if err != nil {
			log.Fatalf("failed to schedule monitoring job: %v", err)
		}
		c.Start()
		slog.Info("scheduled monitoring enabled", "schedule", cfg.Scheduler.CronSchedule)
	}

	slog.Info("starting server", "addr", cfg.HTTP.Addr)
	log.Fatal(http.ListenAndServe(cfg.HTTP.Addr, nil))
}

// runScheduled re-runs the configured region over a trailing analysis
// range, persisting and publishing the result.
func runScheduled(
	cfg *config.Settings,
	regions *repository.PostgresRepository,
	metrics *core.ForestMetricsService,
	recorder repository.MetricsRecorder,
	pub api.SeriesPublisher,
) {
	regionID, err := uuid.Parse(cfg.Scheduler.RegionID)
	if err != nil {
		slog.Error("scheduler.region_id is not a valid UUID", "value", cfg.Scheduler.RegionID)
		return
	}

	ctx := context.Background()
	region, err := regions.GetRegion(ctx, regionID)
	if err != nil {
		slog.Error("scheduled run failed to load region", "region_id", regionID, "error", err)
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -cfg.Scheduler.AnalysisDays)
	req, err := model.NewTimeSeriesRequest(
		region.ID, region.Name, region.Geometry,
		start, end, cfg.Analysis.WindowDays, cfg.Analysis.ForestThreshold, cfg.Analysis.LookbackDays,
		cfg.AnalysisDefaults(),
	)
	if err != nil {
		slog.Error("scheduled run request invalid", "region", region.Name, "error", err)
		return
	}

	series, err := metrics.Run(ctx, req)
	if err != nil {
		slog.Error("scheduled run failed", "region", region.Name, "error", err)
		return
	}

	if err := recorder.SaveTimeSeries(ctx, series); err != nil {
		slog.Error("scheduled run failed to store series", "region", region.Name, "error", err)
	}
	if pub != nil {
		if err := pub.PublishTimeSeries(series); err != nil {
			slog.Warn("scheduled run failed to publish series", "region", region.Name, "error", err)
		}
	}

	slog.Info("scheduled run completed", "region", region.Name, "periods", len(series.Periods))
	os.Stdout.WriteString(presenter.FormatTimeSeries(series))
}
