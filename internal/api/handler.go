package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"forest_service/internal/core"
	"forest_service/internal/domain/model"
	"forest_service/internal/domain/repository"
	"forest_service/internal/presenter"
)

// BaselineExtractor runs annual-loss extractions. Implemented by
// core.BaselineExtractor.
type BaselineExtractor interface {
	ExtractRegion(ctx context.Context, req model.ExtractionRequest) ([]model.AnnualLossRecord, error)
}

// SeriesRunner runs forest-cover time series. Implemented by
// core.ForestMetricsService.
type SeriesRunner interface {
	Run(ctx context.Context, req model.TimeSeriesRequest) (*model.TimeSeries, error)
}

// RegionSource loads region geometry by id.
type RegionSource interface {
	GetRegion(ctx context.Context, id uuid.UUID) (model.RegionInfo, error)
}

// BoundarySource resolves a named boundary from OpenStreetMap.
type BoundarySource interface {
	GetProtectedAreaBoundary(ctx context.Context, name string) (*model.Geometry, error)
}

// LossStore persists finished annual-loss extractions.
type LossStore interface {
	SaveAnnualLoss(ctx context.Context, records []model.AnnualLossRecord) error
}

// SeriesPublisher pushes finished series to downstream consumers.
type SeriesPublisher interface {
	PublishTimeSeries(series *model.TimeSeries) error
	PublishAnnualLoss(records []model.AnnualLossRecord) error
}

type Handler struct {
	baseline  BaselineExtractor
	series    SeriesRunner
	regions   RegionSource
	boundary  BoundarySource
	losses    LossStore
	recorder  repository.MetricsRecorder
	publisher SeriesPublisher // may be nil when publishing is disabled

	defaultTreeCover int
	defaults         model.AnalysisDefaults
	log              *slog.Logger
}

func NewHandler(
	baseline BaselineExtractor,
	series SeriesRunner,
	regions RegionSource,
	boundary BoundarySource,
	losses LossStore,
	recorder repository.MetricsRecorder,
	pub SeriesPublisher,
	defaultTreeCover int,
	defaults model.AnalysisDefaults,
) *Handler {
	return &Handler{
		baseline:         baseline,
		series:           series,
		regions:          regions,
		boundary:         boundary,
		losses:           losses,
		recorder:         recorder,
		publisher:        pub,
		defaultTreeCover: defaultTreeCover,
		defaults:         defaults,
		log:              slog.Default(),
	}
}

type BaselineRequest struct {
	RegionID  string `json:"region_id"`
	StartYear int    `json:"start_year"`
	EndYear   int    `json:"end_year"`
	Threshold *int   `json:"threshold,omitempty"`
	DryRun    bool   `json:"dry_run"`
}

type BaselineResponse struct {
	RegionID    string                   `json:"region_id"`
	RegionName  string                   `json:"region_name"`
	BaselineKm2 float64                  `json:"baseline_km2"`
	TotalLoss   float64                  `json:"total_loss_km2"`
	LossRatePct float64                  `json:"loss_rate_pct"`
	Records     []model.AnnualLossRecord `json:"records"`
	Stored      bool                     `json:"stored"`
}

// ExtractBaseline runs an annual-loss extraction for a stored region and
// persists the records unless dry_run is set.
func (h *Handler) ExtractBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	regionID, err := uuid.Parse(req.RegionID)
	if err != nil {
		http.Error(w, "Invalid region_id", http.StatusBadRequest)
		return
	}

	region, err := h.regions.GetRegion(r.Context(), regionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	threshold := -1
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	extraction, err := model.NewExtractionRequest(
		region.ID, region.Name, region.Geometry,
		req.StartYear, req.EndYear, threshold, h.defaultTreeCover,
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	records, err := h.baseline.ExtractRegion(r.Context(), extraction)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stored := false
	if !req.DryRun {
		if err := h.losses.SaveAnnualLoss(r.Context(), records); err != nil {
			h.log.Error("failed to store annual loss records", "region", region.Name, "error", err)
			http.Error(w, "Failed to store records", http.StatusInternalServerError)
			return
		}
		stored = true
	}

	if h.publisher != nil {
		if err := h.publisher.PublishAnnualLoss(records); err != nil {
			h.log.Warn("failed to publish annual loss records", "region", region.Name, "error", err)
		}
	}

	var totalLoss float64
	for _, rec := range records {
		totalLoss += rec.LossKm2
	}
	resp := BaselineResponse{
		RegionID:   region.ID.String(),
		RegionName: region.Name,
		TotalLoss:  totalLoss,
		Records:    records,
		Stored:     stored,
	}
	if len(records) > 0 {
		resp.BaselineKm2 = records[0].BaselineKm2
		if resp.BaselineKm2 > 0 {
			resp.LossRatePct = totalLoss / resp.BaselineKm2 * 100
		}
	}
	writeJSON(w, resp)
}

type TimeSeriesRequest struct {
	RegionID     string  `json:"region_id,omitempty"`
	BoundaryName string  `json:"boundary_name,omitempty"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	WindowDays   int     `json:"window_days,omitempty"`
	LookbackDays int     `json:"lookback_days,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	DryRun       bool    `json:"dry_run"`
	Format       string  `json:"format,omitempty"` // "json" (default) or "text"
}

// ExtractTimeSeries runs the forest-cover time series for a region loaded
// from the regions table, or for a named OSM boundary when region_id is
// not given.
func (h *Handler) ExtractTimeSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TimeSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		http.Error(w, "Invalid start_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		http.Error(w, "Invalid end_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	regionID, regionName, geom, err := h.resolveRegion(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	run, err := model.NewTimeSeriesRequest(
		regionID, regionName, geom,
		start, end, req.WindowDays, req.Threshold, req.LookbackDays, h.defaults,
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	series, err := h.series.Run(r.Context(), run)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !req.DryRun {
		if err := h.recorder.SaveTimeSeries(r.Context(), series); err != nil {
			h.log.Error("failed to store time series", "region", regionName, "error", err)
			http.Error(w, "Failed to store time series", http.StatusInternalServerError)
			return
		}
	}
	if h.publisher != nil {
		if err := h.publisher.PublishTimeSeries(series); err != nil {
			h.log.Warn("failed to publish time series", "region", regionName, "error", err)
		}
	}

	if req.Format == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(presenter.FormatTimeSeries(series)))
		return
	}
	writeJSON(w, series)
}

func (h *Handler) resolveRegion(ctx context.Context, req TimeSeriesRequest) (uuid.UUID, string, *model.Geometry, error) {
	if req.RegionID != "" {
		id, err := uuid.Parse(req.RegionID)
		if err != nil {
			return uuid.Nil, "", nil, errInvalid("invalid region_id")
		}
		region, err := h.regions.GetRegion(ctx, id)
		if err != nil {
			return uuid.Nil, "", nil, err
		}
		return region.ID, region.Name, region.Geometry, nil
	}

	if req.BoundaryName == "" {
		return uuid.Nil, "", nil, errInvalid("region_id or boundary_name is required")
	}
	geom, err := h.boundary.GetProtectedAreaBoundary(ctx, req.BoundaryName)
	if err != nil {
		return uuid.Nil, "", nil, err
	}
	// Ad-hoc boundaries get a fresh id; they are not persisted as regions.
	return uuid.New(), req.BoundaryName, geom, nil
}

func errInvalid(msg string) error {
	return &invalidError{msg: msg}
}

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }

// writeError maps the error taxonomy to HTTP statuses: request problems to
// 400, missing regions to 404, exhausted retries to 502, the rest to 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var yearErr *core.YearOutOfRangeError
	var exhausted *core.ReductionExhaustedError
	var invalid *invalidError
	switch {
	case errors.Is(err, model.ErrInvalidRequest) || errors.As(err, &invalid) || errors.As(err, &yearErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrRegionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &exhausted):
		h.log.Error("extraction aborted, retries exhausted", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error("extraction failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
