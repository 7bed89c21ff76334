package geosample

import (
	"errors"
	"fmt"
)

const (
	defaultProjectorCacheSize = 16
	boundsDensifyPoints       = 21
)

var errInvalidGeoPoint = errors.New("latitude or longitude out of range")

// A Sampler answers point and extremum queries against a single Grid. It is
// safe for concurrent use.
type Sampler struct {
	grid           *Grid
	projectorCache *ProjectorCache
	displayCRS     string
	bilinear       bool
	decodeOptions  []DecodeOption
}

// A SamplerOption sets an option on a Sampler.
type SamplerOption func(*Sampler)

// WithProjectorCache sets the cache from which the Sampler obtains
// Projectors. Samplers sharing a cache share Projectors.
func WithProjectorCache(projectorCache *ProjectorCache) SamplerOption {
	return func(s *Sampler) {
		s.projectorCache = projectorCache
	}
}

// WithDisplayCRS sets the CRS used by DisplayBounds and Argmax when they are
// passed an empty CRS.
func WithDisplayCRS(displayCRS string) SamplerOption {
	return func(s *Sampler) {
		s.displayCRS = displayCRS
	}
}

// WithBilinear sets whether values are bilinearly interpolated between pixel
// centers instead of read from the containing cell.
func WithBilinear(bilinear bool) SamplerOption {
	return func(s *Sampler) {
		s.bilinear = bilinear
	}
}

// WithDecodeOptions sets the options passed to Decode by NewSampler.
func WithDecodeOptions(decodeOptions ...DecodeOption) SamplerOption {
	return func(s *Sampler) {
		s.decodeOptions = append(s.decodeOptions, decodeOptions...)
	}
}

// NewSampler returns a new Sampler over the GeoTIFF in data.
func NewSampler(data []byte, options ...SamplerOption) (*Sampler, error) {
	s := newSampler(options...)
	grid, err := Decode(data, s.decodeOptions...)
	if err != nil {
		return nil, err
	}
	s.grid = grid
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGridSampler returns a new Sampler over grid.
func NewGridSampler(grid *Grid, options ...SamplerOption) (*Sampler, error) {
	if grid == nil {
		return nil, ErrEmptyRaster
	}
	s := newSampler(options...)
	s.grid = grid
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func newSampler(options ...SamplerOption) *Sampler {
	s := &Sampler{
		displayCRS: DefaultCRS,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Sampler) init() error {
	if s.projectorCache != nil {
		return nil
	}
	projectorCache, err := NewProjectorCache(defaultProjectorCacheSize)
	if err != nil {
		return err
	}
	s.projectorCache = projectorCache
	return nil
}

// Grid returns s's Grid.
func (s *Sampler) Grid() *Grid {
	return s.grid
}

// Metadata returns the metadata of s's Grid.
func (s *Sampler) Metadata() Metadata {
	return s.grid.Metadata()
}

// Bounds returns the bounds of s's Grid in its native CRS.
func (s *Sampler) Bounds() Bounds {
	return s.grid.Bounds()
}

// DisplayBounds returns the bounds of s's Grid reprojected to crs, or to the
// display CRS if crs is empty. Each edge is densified before reprojection so
// that curved edges are enclosed. Bounds that cross the antimeridian in a
// geographic CRS have MinX greater than MaxX. If reprojection fails then the
// native bounds are returned with Reprojected set to false.
func (s *Sampler) DisplayBounds(crs string) DisplayBounds {
	if crs == "" {
		crs = s.displayCRS
	}
	native := s.grid.Bounds()
	nativeDisplayBounds := DisplayBounds{
		Bounds: native,
		CRS:    s.grid.crs,
	}

	projector, err := s.projectorCache.Get(s.grid.crs, crs)
	if err != nil {
		return nativeDisplayBounds
	}
	bounds, err := projector.ForwardBounds(native, boundsDensifyPoints)
	if err != nil {
		return nativeDisplayBounds
	}
	return DisplayBounds{
		Bounds:      bounds,
		CRS:         projector.Target(),
		Reprojected: true,
	}
}

// Extract returns the value of s's Grid at each of points, whose coordinates
// are in sourceCRS, or DefaultCRS if sourceCRS is empty. The result has one
// entry per point, in the same order. Points that cannot be sampled are
// reported in their result and do not stop the remaining points. The only
// error returned is an *UnknownCRSError.
func (s *Sampler) Extract(points []GeoPoint, sourceCRS string) ([]SampleResult, error) {
	if sourceCRS == "" {
		sourceCRS = DefaultCRS
	}
	projector, err := s.projectorCache.Get(sourceCRS, s.grid.crs)
	if err != nil {
		return nil, err
	}
	checkRange := isGeographicEPSG(sourceCRS)

	results := make([]SampleResult, len(points))
	for i, point := range points {
		results[i] = s.sample(projector, point, checkRange)
		extractedPoints.WithLabelValues(extractResultLabel(results[i])).Inc()
	}
	return results, nil
}

// Sample returns the value of s's Grid at point, whose coordinates are in
// sourceCRS.
func (s *Sampler) Sample(point GeoPoint, sourceCRS string) (SampleResult, error) {
	results, err := s.Extract([]GeoPoint{point}, sourceCRS)
	if err != nil {
		return SampleResult{}, err
	}
	return results[0], nil
}

func (s *Sampler) sample(projector *Projector, point GeoPoint, checkRange bool) SampleResult {
	result := SampleResult{
		Point: point,
	}
	if checkRange && !point.Valid() {
		result.Err = &ProjectionError{X: point.Lon, Y: point.Lat, Err: errInvalidGeoPoint}
		return result
	}

	x, y, err := projector.Forward(point.Lon, point.Lat)
	if err != nil {
		result.Err = err
		return result
	}

	cell, ok := s.grid.transform.Cell(x, y, s.grid.width, s.grid.height)
	if !ok {
		result.Err = ErrOutside
		return result
	}
	result.Cell = cell

	value := s.grid.At(cell)
	if s.bilinear {
		col, row := s.grid.transform.Inverse(x, y)
		value, ok = s.grid.Bilinear(col, row)
		if !ok {
			result.Err = ErrNoData
			return result
		}
	}
	if !isFinite(value) {
		result.Err = ErrNoData
		return result
	}

	result.Value = value
	result.OK = true
	return result
}

// Argmax returns the location of the highest finite value in s's Grid, with
// the point reprojected to displayCRS, or to the display CRS if displayCRS
// is empty. Ties are resolved in favor of the first cell in row-major order.
func (s *Sampler) Argmax(displayCRS string) (ExtremumResult, error) {
	if displayCRS == "" {
		displayCRS = s.displayCRS
	}
	cell, value, err := s.grid.Argmax()
	if err != nil {
		return ExtremumResult{}, err
	}
	projector, err := s.projectorCache.Get(s.grid.crs, displayCRS)
	if err != nil {
		return ExtremumResult{}, err
	}
	x, y, err := projector.Forward(s.grid.transform.CellCenter(cell))
	if err != nil {
		return ExtremumResult{}, fmt.Errorf("row %d col %d: %w", cell.Row, cell.Col, err)
	}
	return ExtremumResult{
		Value: value,
		Cell:  cell,
		Point: GeoPoint{Lat: y, Lon: x},
	}, nil
}
