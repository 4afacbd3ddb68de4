package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"forest_service/internal/domain/model"
)

// transientErr mimics a retryable service failure.
type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

// stubService scripts ReduceRegion outcomes call by call: the first
// failures calls return err, then results are returned in order.
type stubService struct {
	failures int
	err      error
	results  []map[string]float64
	calls    int
}

func (s *stubService) CollectionSize(ctx context.Context, q model.CollectionQuery) (int, error) {
	return 0, nil
}

func (s *stubService) ReduceRegion(ctx context.Context, img model.Image, geom *model.Geometry, reducer model.ReducerKind, scale int, maxPixels int64) (map[string]float64, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, s.err
	}
	if len(s.results) == 0 {
		return map[string]float64{}, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

// scriptedService serves queued results in order and fails with err once
// the queue is empty.
type scriptedService struct {
	results []map[string]float64
	err     error
	calls   int
}

func (s *scriptedService) CollectionSize(ctx context.Context, q model.CollectionQuery) (int, error) {
	return 0, nil
}

func (s *scriptedService) ReduceRegion(ctx context.Context, img model.Image, geom *model.Geometry, reducer model.ReducerKind, scale int, maxPixels int64) (map[string]float64, error) {
	s.calls++
	if len(s.results) == 0 {
		return nil, s.err
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

// gridService evaluates image expressions over a small in-memory pixel
// grid, standing in for the remote raster aggregation service.
type point struct{ X, Y int }

type pixel map[string]float64 // band -> value; absent band means masked

type observation struct {
	at     time.Time
	pixels map[point]pixel
}

type gridService struct {
	observations []observation
	assets       map[string]map[point]pixel
	points       []point // region pixel universe
	pixelAreaM2  float64

	sizeCalls   int
	reduceCalls int
}

func newGridService(points []point, pixelAreaM2 float64) *gridService {
	return &gridService{
		points:      points,
		pixelAreaM2: pixelAreaM2,
		assets:      make(map[string]map[point]pixel),
	}
}

func (g *gridService) addObservation(at time.Time, pixels map[point]pixel) {
	g.observations = append(g.observations, observation{at: at, pixels: pixels})
}

// uniform builds a pixel map assigning the same label and trees value to
// every given point.
func uniform(points []point, label, trees float64) map[point]pixel {
	pixels := make(map[point]pixel, len(points))
	for _, p := range points {
		pixels[p] = pixel{"label": label, "trees": trees}
	}
	return pixels
}

func (g *gridService) CollectionSize(ctx context.Context, q model.CollectionQuery) (int, error) {
	g.sizeCalls++
	count := 0
	for _, obs := range g.observations {
		if inRange(obs.at, q.Start, q.End) {
			count++
		}
	}
	return count, nil
}

func (g *gridService) ReduceRegion(ctx context.Context, img model.Image, geom *model.Geometry, reducer model.ReducerKind, scale int, maxPixels int64) (map[string]float64, error) {
	g.reduceCalls++
	if reducer != model.ReducerSum {
		return nil, fmt.Errorf("unsupported zonal reducer %q", reducer)
	}

	band := img.OutputBand()
	sum := 0.0
	defined := false
	for _, p := range g.points {
		if v, ok := g.eval(img, p); ok {
			sum += v
			defined = true
		}
	}
	if !defined {
		// No qualifying pixels: the band is absent from the result
		return map[string]float64{}, nil
	}
	return map[string]float64{band: sum}, nil
}

func (g *gridService) eval(img model.Image, p point) (float64, bool) {
	switch img.Op {
	case model.OpAsset:
		v, ok := g.assets[img.Asset][p][img.Band]
		return v, ok

	case model.OpComposite:
		var values []float64
		for _, obs := range g.observations {
			if !inRange(obs.at, img.Query.Start, img.Query.End) {
				continue
			}
			if v, ok := obs.pixels[p][img.Band]; ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return 0, false
		}
		switch img.Reducer {
		case model.ReducerMode:
			return mode(values), true
		case model.ReducerMean:
			return mean(values), true
		default:
			return 0, false
		}

	case model.OpEmpty:
		return 0, false

	case model.OpPixelArea:
		return g.pixelAreaM2, true

	case model.OpGte:
		v, ok := g.eval(img.Inputs[0], p)
		if !ok {
			return 0, false
		}
		return boolToF(v >= img.Value), true

	case model.OpEq:
		v, ok := g.eval(img.Inputs[0], p)
		if !ok {
			return 0, false
		}
		return boolToF(v == img.Value), true

	case model.OpAnd:
		a, aok := g.eval(img.Inputs[0], p)
		b, bok := g.eval(img.Inputs[1], p)
		if !aok || !bok {
			return 0, false
		}
		return boolToF(a != 0 && b != 0), true

	case model.OpMul:
		a, aok := g.eval(img.Inputs[0], p)
		b, bok := g.eval(img.Inputs[1], p)
		if !aok || !bok {
			return 0, false
		}
		return a * b, true

	case model.OpCoverageMask:
		_, ok := g.eval(img.Inputs[0], p)
		return boolToF(ok), true

	case model.OpUnmask:
		if v, ok := g.eval(img.Inputs[0], p); ok {
			return v, true
		}
		return g.eval(img.Inputs[1], p)

	case model.OpSelect:
		return g.evalSelect(img.Inputs[0], img.Band, p)

	default:
		return 0, false
	}
}

// evalSelect resolves a band from a bundle or a most-recent-valid mosaic.
func (g *gridService) evalSelect(src model.Image, band string, p point) (float64, bool) {
	switch src.Op {
	case model.OpBundle:
		if img, ok := bundleBand(src, band); ok {
			return g.eval(img, p)
		}
		return 0, false

	case model.OpMosaic:
		bundles := make([]model.Image, len(src.Inputs))
		copy(bundles, src.Inputs)
		sort.SliceStable(bundles, func(i, j int) bool {
			return bundles[i].StampMS > bundles[j].StampMS
		})
		for _, bundle := range bundles {
			probe, ok := bundleBand(bundle, "label")
			if !ok {
				continue
			}
			if _, ok := g.eval(probe, p); ok {
				if img, ok := bundleBand(bundle, band); ok {
					return g.eval(img, p)
				}
				return 0, false
			}
		}
		return 0, false

	default:
		return 0, false
	}
}

func bundleBand(bundle model.Image, band string) (model.Image, bool) {
	for _, img := range bundle.Inputs {
		if img.OutputBand() == band {
			return img, true
		}
	}
	return model.Image{}, false
}

func inRange(at, start, end time.Time) bool {
	return !at.Before(start) && at.Before(end)
}

func mode(values []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := values[0], 0
	for v, count := range counts {
		if count > bestCount || (count == bestCount && v < best) {
			best, bestCount = v, count
		}
	}
	return best
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// testGeometry is a small valid region polygon shared across tests.
func testGeometry() *model.Geometry {
	return model.NewPolygon(model.Ring{
		{Lon: -52.9, Lat: -25.3},
		{Lon: -52.9, Lat: -25.0},
		{Lon: -52.5, Lat: -25.0},
		{Lon: -52.5, Lat: -25.3},
		{Lon: -52.9, Lat: -25.3},
	})
}
