package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/serjvanilla/go-overpass"

	"forest_service/internal/domain/model"
)

// OverpassRepository fetches region boundaries from OpenStreetMap for
// regions not yet seeded in the regions table.
type OverpassRepository struct {
	client *overpass.Client
}

func NewOverpassRepository(endpoint string, timeout time.Duration) *OverpassRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassRepository{client: &client}
}

// GetProtectedAreaBoundary fetches the named protected area or national
// park and assembles its closed ways into a multipolygon region.
func (r *OverpassRepository) GetProtectedAreaBoundary(ctx context.Context, name string) (*model.Geometry, error) {
	query := fmt.Sprintf(`
		[out:json];
		(
			relation["boundary"~"protected_area|national_park"]["name"=%q];
			way["boundary"~"protected_area|national_park"]["name"=%q];
		);
		out body;
		>;
		out skel qt;
	`, name, name)

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute boundary query for %q: %w", name, err)
	}

	geom, err := assembleBoundary(result)
	if err != nil {
		return nil, fmt.Errorf("no usable boundary found for %q: %w", name, err)
	}
	return geom, nil
}

func (r *OverpassRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	// The overpass client has no context support; the injected HTTP
	// client's timeout bounds the call.
	result, err := r.client.Query(query)
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}

	return &result, nil
}

// assembleBoundary converts every closed way in the result into one
// polygon ring of a multipolygon geometry.
func assembleBoundary(result *overpass.Result) (*model.Geometry, error) {
	var polygons [][]model.Ring

	for _, way := range result.Ways {
		if len(way.Nodes) < 4 {
			continue
		}
		first := way.Nodes[0]
		last := way.Nodes[len(way.Nodes)-1]
		if first == nil || last == nil || first.ID != last.ID {
			continue
		}

		ring := make(model.Ring, 0, len(way.Nodes))
		for _, node := range way.Nodes {
			if node == nil {
				continue
			}
			ring = append(ring, model.Coordinate{Lon: node.Lon, Lat: node.Lat})
		}
		if len(ring) < 4 {
			continue
		}
		// Ring closure by coordinates, not just node identity
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		polygons = append(polygons, []model.Ring{ring})
	}

	if len(polygons) == 0 {
		return nil, fmt.Errorf("result contains no closed ways")
	}

	geom := &model.Geometry{Type: model.GeometryMultiPolygon, Polygons: polygons}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return geom, nil
}
