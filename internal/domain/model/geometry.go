package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coordinate is a WGS84 position. GeoJSON order on the wire: [lon, lat].
type Coordinate struct {
	Lon float64
	Lat float64
}

// Ring is a closed sequence of coordinates (first == last).
type Ring []Coordinate

// Geometry is an immutable polygon or multipolygon in WGS84 (EPSG:4326).
// Each polygon is a list of rings: outer boundary first, holes after.
type Geometry struct {
	Type     string
	Polygons [][]Ring
}

const (
	GeometryPolygon      = "Polygon"
	GeometryMultiPolygon = "MultiPolygon"
)

type Bounds struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// BBox renders the bounds in Overpass "south,west,north,east" order.
func (b Bounds) BBox() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// NewPolygon builds a single-ring polygon geometry.
func NewPolygon(ring Ring) *Geometry {
	return &Geometry{Type: GeometryPolygon, Polygons: [][]Ring{{ring}}}
}

// Validate checks the geometry invariants: non-empty, every ring closed
// with at least four positions, coordinates within WGS84 range.
func (g *Geometry) Validate() error {
	if g == nil || len(g.Polygons) == 0 {
		return fmt.Errorf("%w: empty geometry", ErrInvalidRequest)
	}
	if g.Type != GeometryPolygon && g.Type != GeometryMultiPolygon {
		return fmt.Errorf("%w: unsupported geometry type %q", ErrInvalidRequest, g.Type)
	}
	for _, polygon := range g.Polygons {
		if len(polygon) == 0 {
			return fmt.Errorf("%w: polygon without rings", ErrInvalidRequest)
		}
		for _, ring := range polygon {
			if len(ring) < 4 {
				return fmt.Errorf("%w: ring has %d positions, need at least 4", ErrInvalidRequest, len(ring))
			}
			if ring[0] != ring[len(ring)-1] {
				return fmt.Errorf("%w: ring is not closed", ErrInvalidRequest)
			}
			for _, c := range ring {
				if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
					return fmt.Errorf("%w: coordinate out of WGS84 range", ErrInvalidRequest)
				}
			}
		}
	}
	return nil
}

// Bounds returns the bounding box over all rings.
func (g *Geometry) Bounds() Bounds {
	b := Bounds{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, polygon := range g.Polygons {
		for _, ring := range polygon {
			for _, c := range ring {
				b.MinLat = math.Min(b.MinLat, c.Lat)
				b.MinLon = math.Min(b.MinLon, c.Lon)
				b.MaxLat = math.Max(b.MaxLat, c.Lat)
				b.MaxLon = math.Max(b.MaxLon, c.Lon)
			}
		}
	}
	return b
}

// ApproxAreaKm2 estimates the bounding-box area accounting for the Earth's
// curvature. Used for logging and sanity checks only; authoritative region
// area comes from a pixel-area reduction on the raster service.
func (g *Geometry) ApproxAreaKm2() float64 {
	b := g.Bounds()
	latMid := (b.MinLat + b.MaxLat) / 2 * math.Pi / 180
	dLat := b.MaxLat - b.MinLat
	dLon := b.MaxLon - b.MinLon

	// Degree-to-meter conversion factors at the mid latitude
	kx := 111132.92 - 559.82*math.Cos(2*latMid)
	ky := 111412.84 * math.Cos(latMid)

	return math.Abs(dLat*kx*dLon*ky) / 1e6
}

type geoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MarshalJSON renders standard GeoJSON ([lon, lat] position order).
func (g *Geometry) MarshalJSON() ([]byte, error) {
	switch g.Type {
	case GeometryPolygon:
		if len(g.Polygons) != 1 {
			return nil, fmt.Errorf("polygon geometry must hold exactly one polygon, got %d", len(g.Polygons))
		}
		return json.Marshal(struct {
			Type        string        `json:"type"`
			Coordinates [][][]float64 `json:"coordinates"`
		}{g.Type, ringsToCoords(g.Polygons[0])})
	case GeometryMultiPolygon:
		coords := make([][][][]float64, 0, len(g.Polygons))
		for _, polygon := range g.Polygons {
			coords = append(coords, ringsToCoords(polygon))
		}
		return json.Marshal(struct {
			Type        string          `json:"type"`
			Coordinates [][][][]float64 `json:"coordinates"`
		}{g.Type, coords})
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw geoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode geometry: %w", err)
	}

	switch raw.Type {
	case GeometryPolygon:
		var coords [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to decode polygon coordinates: %w", err)
		}
		rings, err := coordsToRings(coords)
		if err != nil {
			return err
		}
		g.Type = GeometryPolygon
		g.Polygons = [][]Ring{rings}
	case GeometryMultiPolygon:
		var coords [][][][]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to decode multipolygon coordinates: %w", err)
		}
		g.Type = GeometryMultiPolygon
		g.Polygons = nil
		for _, polyCoords := range coords {
			rings, err := coordsToRings(polyCoords)
			if err != nil {
				return err
			}
			g.Polygons = append(g.Polygons, rings)
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	return nil
}

func ringsToCoords(rings []Ring) [][][]float64 {
	out := make([][][]float64, 0, len(rings))
	for _, ring := range rings {
		positions := make([][]float64, 0, len(ring))
		for _, c := range ring {
			positions = append(positions, []float64{c.Lon, c.Lat})
		}
		out = append(out, positions)
	}
	return out
}

func coordsToRings(coords [][][]float64) ([]Ring, error) {
	rings := make([]Ring, 0, len(coords))
	for _, ringCoords := range coords {
		ring := make(Ring, 0, len(ringCoords))
		for _, pos := range ringCoords {
			if len(pos) < 2 {
				return nil, fmt.Errorf("position must have 2 components, got %d", len(pos))
			}
			ring = append(ring, Coordinate{Lon: pos[0], Lat: pos[1]})
		}
		rings = append(rings, ring)
	}
	return rings, nil
}
