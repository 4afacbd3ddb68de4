package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forest_service/internal/domain/model"
	"forest_service/internal/domain/repository"
)

type stubBaseline struct {
	records []model.AnnualLossRecord
	err     error
	got     model.ExtractionRequest
}

func (s *stubBaseline) ExtractRegion(ctx context.Context, req model.ExtractionRequest) ([]model.AnnualLossRecord, error) {
	s.got = req
	return s.records, s.err
}

type stubRunner struct {
	series *model.TimeSeries
	err    error
	got    model.TimeSeriesRequest
}

func (s *stubRunner) Run(ctx context.Context, req model.TimeSeriesRequest) (*model.TimeSeries, error) {
	s.got = req
	return s.series, s.err
}

type stubRegions struct {
	region model.RegionInfo
	err    error
}

func (s *stubRegions) GetRegion(ctx context.Context, id uuid.UUID) (model.RegionInfo, error) {
	return s.region, s.err
}

type stubBoundary struct {
	geom *model.Geometry
	err  error
}

func (s *stubBoundary) GetProtectedAreaBoundary(ctx context.Context, name string) (*model.Geometry, error) {
	return s.geom, s.err
}

type stubLossStore struct {
	saved []model.AnnualLossRecord
	err   error
}

func (s *stubLossStore) SaveAnnualLoss(ctx context.Context, records []model.AnnualLossRecord) error {
	s.saved = records
	return s.err
}

type stubRecorder struct {
	saved *model.TimeSeries
	err   error
}

func (s *stubRecorder) SaveTimeSeries(ctx context.Context, series *model.TimeSeries) error {
	s.saved = series
	return s.err
}

func testRegion() model.RegionInfo {
	return model.RegionInfo{
		ID:   uuid.New(),
		Name: "Iguaçu National Park",
		Type: "national_park",
		Geometry: model.NewPolygon(model.Ring{
			{Lon: -52.9, Lat: -25.3},
			{Lon: -52.9, Lat: -25.0},
			{Lon: -52.5, Lat: -25.0},
			{Lon: -52.5, Lat: -25.3},
			{Lon: -52.9, Lat: -25.3},
		}),
	}
}

type handlerFixture struct {
	handler  *Handler
	baseline *stubBaseline
	runner   *stubRunner
	regions  *stubRegions
	losses   *stubLossStore
	recorder *stubRecorder
}

func newFixture(region model.RegionInfo) *handlerFixture {
	f := &handlerFixture{
		baseline: &stubBaseline{},
		runner:   &stubRunner{},
		regions:  &stubRegions{region: region},
		losses:   &stubLossStore{},
		recorder: &stubRecorder{},
	}
	defaults := model.AnalysisDefaults{WindowDays: 30, LookbackDays: 180, ForestThreshold: 0.5}
	f.handler = NewHandler(f.baseline, f.runner, f.regions, &stubBoundary{}, f.losses, f.recorder, nil, 30, defaults)
	return f
}

func postJSON(t *testing.T, handler http.HandlerFunc, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestExtractBaselineHappyPath(t *testing.T) {
	region := testRegion()
	f := newFixture(region)
	f.baseline.records = []model.AnnualLossRecord{
		{RegionID: region.ID, Year: 2023, LossKm2: 1.5, BaselineKm2: 100},
		{RegionID: region.ID, Year: 2024, LossKm2: 2.5, BaselineKm2: 100},
	}

	rec := postJSON(t, f.handler.ExtractBaseline, BaselineRequest{
		RegionID:  region.ID.String(),
		StartYear: 2023,
		EndYear:   2024,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BaselineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, region.Name, resp.RegionName)
	assert.InDelta(t, 4.0, resp.TotalLoss, 1e-9)
	assert.InDelta(t, 100.0, resp.BaselineKm2, 1e-9)
	assert.InDelta(t, 4.0, resp.LossRatePct, 1e-9)
	assert.True(t, resp.Stored)
	assert.Len(t, f.losses.saved, 2)
	assert.Equal(t, 30, f.baseline.got.Threshold, "default tree cover threshold applied")
}

func TestExtractBaselineDryRunSkipsStore(t *testing.T) {
	region := testRegion()
	f := newFixture(region)
	f.baseline.records = []model.AnnualLossRecord{{Year: 2024, LossKm2: 1, BaselineKm2: 50}}

	rec := postJSON(t, f.handler.ExtractBaseline, BaselineRequest{
		RegionID:  region.ID.String(),
		StartYear: 2024,
		EndYear:   2024,
		DryRun:    true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.losses.saved)
}

func TestExtractBaselineRejectsBadInput(t *testing.T) {
	region := testRegion()

	t.Run("malformed region id", func(t *testing.T) {
		f := newFixture(region)
		rec := postJSON(t, f.handler.ExtractBaseline, BaselineRequest{RegionID: "not-a-uuid"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reversed year range", func(t *testing.T) {
		f := newFixture(region)
		rec := postJSON(t, f.handler.ExtractBaseline, BaselineRequest{
			RegionID:  region.ID.String(),
			StartYear: 2024,
			EndYear:   2020,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown region", func(t *testing.T) {
		f := newFixture(region)
		f.regions.err = repository.ErrRegionNotFound
		rec := postJSON(t, f.handler.ExtractBaseline, BaselineRequest{
			RegionID:  region.ID.String(),
			StartYear: 2023,
			EndYear:   2024,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		f := newFixture(region)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		f.handler.ExtractBaseline(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestExtractTimeSeriesHappyPath(t *testing.T) {
	region := testRegion()
	f := newFixture(region)
	f.runner.series = &model.TimeSeries{
		RegionID:    region.ID,
		RegionName:  region.Name,
		GeneratedAt: time.Now(),
	}

	rec := postJSON(t, f.handler.ExtractTimeSeries, TimeSeriesRequest{
		RegionID:  region.ID.String(),
		StartDate: "2025-01-01",
		EndDate:   "2025-07-01",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.runner.series, f.recorder.saved)
	assert.Equal(t, 30, f.runner.got.WindowDays, "defaults applied to unset fields")
	assert.Equal(t, 0.5, f.runner.got.Threshold)
}

func TestExtractTimeSeriesTextFormat(t *testing.T) {
	region := testRegion()
	f := newFixture(region)
	f.runner.series = &model.TimeSeries{
		RegionID:    region.ID,
		RegionName:  region.Name,
		GeneratedAt: time.Now(),
	}

	rec := postJSON(t, f.handler.ExtractTimeSeries, TimeSeriesRequest{
		RegionID:  region.ID.String(),
		StartDate: "2025-01-01",
		EndDate:   "2025-07-01",
		Format:    "text",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "FOREST COVER TIME SERIES ANALYSIS")
}

func TestExtractTimeSeriesRequiresRegionOrBoundary(t *testing.T) {
	f := newFixture(testRegion())

	rec := postJSON(t, f.handler.ExtractTimeSeries, TimeSeriesRequest{
		StartDate: "2025-01-01",
		EndDate:   "2025-07-01",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractTimeSeriesRejectsBadDates(t *testing.T) {
	region := testRegion()
	f := newFixture(region)

	rec := postJSON(t, f.handler.ExtractTimeSeries, TimeSeriesRequest{
		RegionID:  region.ID.String(),
		StartDate: "01/01/2025",
		EndDate:   "2025-07-01",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
