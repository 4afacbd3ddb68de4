package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtractionRequestAppliesDefaultThreshold(t *testing.T) {
	req, err := NewExtractionRequest(uuid.New(), "test", NewPolygon(squareRing()), 2020, 2024, -1, 30)

	require.NoError(t, err)
	assert.Equal(t, 30, req.Threshold)
}

func TestNewExtractionRequestRejectsBadInput(t *testing.T) {
	geom := NewPolygon(squareRing())

	tests := []struct {
		name               string
		start, end, thresh int
	}{
		{"start before dataset", 1999, 2005, 30},
		{"reversed year range", 2024, 2020, 30},
		{"threshold above 100", 2020, 2024, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractionRequest(uuid.New(), "test", geom, tt.start, tt.end, tt.thresh, 30)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	t.Run("invalid geometry", func(t *testing.T) {
		_, err := NewExtractionRequest(uuid.New(), "test", &Geometry{Type: GeometryPolygon}, 2020, 2024, 30, 30)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestNewTimeSeriesRequestAppliesDefaults(t *testing.T) {
	defaults := AnalysisDefaults{WindowDays: 30, LookbackDays: 180, ForestThreshold: 0.5}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	req, err := NewTimeSeriesRequest(uuid.New(), "test", NewPolygon(squareRing()), start, end, 0, 0, 0, defaults)

	require.NoError(t, err)
	assert.Equal(t, 30, req.WindowDays)
	assert.Equal(t, 180, req.LookbackDays)
	assert.Equal(t, 0.5, req.Threshold)
}

func TestNewTimeSeriesRequestRejectsBadInput(t *testing.T) {
	geom := NewPolygon(squareRing())
	defaults := AnalysisDefaults{WindowDays: 30, LookbackDays: 180, ForestThreshold: 0.5}
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewTimeSeriesRequest(uuid.New(), "test", geom, start, end, 30, 0.5, 180, defaults)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewTimeSeriesRequest(uuid.New(), "test", geom, end, start, 30, 1.5, 180, defaults)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAggregationWindowString(t *testing.T) {
	w := AggregationWindow{
		Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "2025-06-01 to 2025-07-01", w.String())
}

func TestImageOutputBandPropagation(t *testing.T) {
	asset := AssetImage("UMD/hansen/global_forest_change_2024_v1_12", "treecover2000")

	assert.Equal(t, "treecover2000", asset.OutputBand())
	assert.Equal(t, "treecover2000", asset.Gte(30).OutputBand())
	assert.Equal(t, "treecover2000", asset.Gte(30).MulPixelArea().OutputBand())
	assert.Equal(t, "area", PixelArea().OutputBand())
	assert.Empty(t, Bundle(time.Now(), asset).OutputBand())
	assert.Equal(t, "label", MostRecentMosaic(nil).Select("label").OutputBand())
}
