package model

import (
	"context"
	"errors"
	"time"
)

// ReducerKind selects the aggregation applied by a zonal reduction or a
// collection composite on the raster service.
type ReducerKind string

const (
	ReducerSum  ReducerKind = "sum"
	ReducerMean ReducerKind = "mean"
	ReducerMode ReducerKind = "mode"
)

// CollectionQuery filters an image collection by bounds and date range.
// The date range is half-open [Start, End).
type CollectionQuery struct {
	Collection string    `json:"collection"`
	Bounds     *Geometry `json:"bounds"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Bands      []string  `json:"bands"`
}

// Image op kinds understood by the raster aggregation service.
const (
	OpAsset        = "asset"         // named dataset image, one band selected
	OpComposite    = "composite"     // per-pixel reduction of a collection band
	OpEmpty        = "empty"         // fully masked image
	OpPixelArea    = "pixel_area"    // per-pixel area in m², band "area"
	OpGte          = "gte"           // 1 where input >= value
	OpEq           = "eq"            // 1 where input == value
	OpAnd          = "and"           // 1 where both inputs are non-zero
	OpMul          = "mul"           // product of two inputs
	OpCoverageMask = "coverage_mask" // 1 where input has data, 0 elsewhere (unmasked)
	OpUnmask       = "unmask"        // input where defined, else fallback
	OpBundle       = "bundle"        // multi-band composite tagged with a recency stamp
	OpMosaic       = "mosaic"        // per-pixel most-recent-valid merge of bundles
	OpSelect       = "select"        // band selection from a multi-band input
)

// Image is a lazily evaluated server-side raster expression. The service
// evaluates the whole tree remotely; the client never sees pixels. This is
// the wire form sent to the reduce endpoint.
type Image struct {
	Op      string           `json:"op"`
	Band    string           `json:"band,omitempty"`
	Value   float64          `json:"value,omitempty"`
	Asset   string           `json:"asset,omitempty"`
	Reducer ReducerKind      `json:"reducer,omitempty"`
	Query   *CollectionQuery `json:"query,omitempty"`
	StampMS int64            `json:"timestamp_ms,omitempty"`
	Inputs  []Image          `json:"inputs,omitempty"`
}

// AssetImage selects one band of a named dataset image.
func AssetImage(assetID, band string) Image {
	return Image{Op: OpAsset, Asset: assetID, Band: band}
}

// Composite reduces a collection band per pixel (mode for labels, mean for
// probabilities). A pixel is defined when at least one image in the query
// range has data there.
func Composite(q CollectionQuery, band string, reducer ReducerKind) Image {
	query := q
	return Image{Op: OpComposite, Band: band, Reducer: reducer, Query: &query}
}

// EmptyImage is a fully masked image carrying the given band name.
func EmptyImage(band string) Image {
	return Image{Op: OpEmpty, Band: band}
}

// PixelArea is the per-pixel area image in m².
func PixelArea() Image {
	return Image{Op: OpPixelArea, Band: "area"}
}

// Gte maps pixels to 1 where the input is >= v, 0 otherwise.
func (im Image) Gte(v float64) Image {
	return Image{Op: OpGte, Value: v, Inputs: []Image{im}}
}

// Eq maps pixels to 1 where the input equals v, 0 otherwise.
func (im Image) Eq(v float64) Image {
	return Image{Op: OpEq, Value: v, Inputs: []Image{im}}
}

// And is the logical AND of two mask images.
func (im Image) And(other Image) Image {
	return Image{Op: OpAnd, Inputs: []Image{im, other}}
}

// Mul multiplies two images per pixel.
func (im Image) Mul(other Image) Image {
	return Image{Op: OpMul, Inputs: []Image{im, other}}
}

// MulPixelArea scales a mask image to an area image in m².
func (im Image) MulPixelArea() Image {
	return im.Mul(PixelArea())
}

// CoverageMask is 1 where the input has a defined value and 0 elsewhere;
// the result itself is defined everywhere.
func (im Image) CoverageMask() Image {
	return Image{Op: OpCoverageMask, Inputs: []Image{im}}
}

// Unmask substitutes the fallback image wherever the input is masked.
func (im Image) Unmask(fallback Image) Image {
	return Image{Op: OpUnmask, Inputs: []Image{im, fallback}}
}

// Bundle groups per-window composite bands under one recency stamp so a
// mosaic can order them by time.
func Bundle(stamp time.Time, bands ...Image) Image {
	return Image{Op: OpBundle, StampMS: stamp.UnixMilli(), Inputs: bands}
}

// MostRecentMosaic merges bundles per pixel, keeping the value from the
// bundle with the latest stamp that has data at that pixel.
func MostRecentMosaic(bundles []Image) Image {
	return Image{Op: OpMosaic, Inputs: bundles}
}

// Select extracts one band from a multi-band image (bundle or mosaic).
func (im Image) Select(band string) Image {
	return Image{Op: OpSelect, Band: band, Inputs: []Image{im}}
}

// OutputBand is the band name under which a reduction of this image reports
// its value. Mirrors the service's band propagation rules: unary and binary
// ops keep the band of their first input.
func (im Image) OutputBand() string {
	switch im.Op {
	case OpAsset, OpComposite, OpEmpty, OpPixelArea, OpSelect:
		return im.Band
	case OpBundle, OpMosaic:
		return "" // multi-band, needs Select
	default:
		if len(im.Inputs) == 0 {
			return im.Band
		}
		return im.Inputs[0].OutputBand()
	}
}

// RasterService is the session handle to the remote raster aggregation
// service. It must be initialized and authenticated before the core is
// invoked; at most one active project per process. Implementations report
// retryability of failures through the Transient interface.
type RasterService interface {
	// CollectionSize counts images matching the query.
	CollectionSize(ctx context.Context, q CollectionQuery) (int, error)

	// ReduceRegion aggregates the image's pixels inside geom to one scalar
	// per band. Bands with no qualifying pixels may be absent from the
	// result map.
	ReduceRegion(ctx context.Context, img Image, geom *Geometry, reducer ReducerKind, scale int, maxPixels int64) (map[string]float64, error)
}

// Transient is implemented by service errors that are worth retrying
// (network failures, timeouts, server-side errors). Anything else is fatal.
type Transient interface {
	error
	Transient() bool
}

// IsTransient reports whether err is a retryable service failure.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}
