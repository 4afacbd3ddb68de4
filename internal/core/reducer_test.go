package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forest_service/internal/domain/model"
)

func newTestReducer(service model.RasterService, maxAttempts int) (*Reducer, *[]time.Duration) {
	r := NewReducer(service, model.RetryPolicy{MaxAttempts: maxAttempts, BackoffBase: 2.0}, 30, 1e9)
	sleeps := &[]time.Duration{}
	r.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return r, sleeps
}

func TestReducerSucceedsFirstTry(t *testing.T) {
	service := &stubService{results: []map[string]float64{{"treecover2000": 1.25e8}}}
	reducer, sleeps := newTestReducer(service, 3)

	got, err := reducer.Reduce(context.Background(), model.PixelArea(), testGeometry(), model.ReducerSum, "treecover2000")

	require.NoError(t, err)
	assert.Equal(t, 1.25e8, got)
	assert.Equal(t, 1, service.calls)
	assert.Empty(t, *sleeps)
}

func TestReducerMissingBandIsZero(t *testing.T) {
	// A band with no qualifying pixels is absent from the stats, not an error
	service := &stubService{results: []map[string]float64{{}}}
	reducer, _ := newTestReducer(service, 3)

	got, err := reducer.Reduce(context.Background(), model.PixelArea(), testGeometry(), model.ReducerSum, "lossyear")

	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestReducerRetriesTransientFailures(t *testing.T) {
	service := &stubService{
		failures: 2,
		err:      &transientErr{msg: "service unavailable"},
		results:  []map[string]float64{{"label": 42.0}},
	}
	reducer, sleeps := newTestReducer(service, 3)

	got, err := reducer.Reduce(context.Background(), model.PixelArea(), testGeometry(), model.ReducerSum, "label")

	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
	assert.Equal(t, 3, service.calls)
	// Backoff before retry k is base**(k-1) seconds: 1s then 2s for base 2
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestReducerExhaustsRetries(t *testing.T) {
	service := &stubService{failures: 3, err: &transientErr{msg: "timeout"}}
	reducer, sleeps := newTestReducer(service, 3)

	_, err := reducer.Reduce(context.Background(), model.PixelArea(), testGeometry(), model.ReducerSum, "label")

	var exhausted *ReductionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "label", exhausted.Band)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, service.calls)
	assert.Len(t, *sleeps, 2)
}

func TestReducerFatalErrorAbortsImmediately(t *testing.T) {
	fatal := errors.New("invalid geometry")
	service := &stubService{failures: 3, err: fatal}
	reducer, sleeps := newTestReducer(service, 3)

	_, err := reducer.Reduce(context.Background(), model.PixelArea(), testGeometry(), model.ReducerSum, "label")

	require.ErrorIs(t, err, fatal)
	var exhausted *ReductionExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, service.calls)
	assert.Empty(t, *sleeps)
}
