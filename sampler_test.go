package geosample

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func newTestSampler(t *testing.T, width, height int, samples []float64, crs string, transform Affine, options ...SamplerOption) *Sampler {
	t.Helper()
	grid, err := NewGrid(width, height, samples, crs, transform)
	assert.NoError(t, err)
	sampler, err := NewGridSampler(grid, options...)
	assert.NoError(t, err)
	return sampler
}

func TestSamplerArgmax(t *testing.T) {
	// Pixel (0, 0) is at (0, 2) and pixel (2, 2) is at (2, 0).
	sampler := newTestSampler(t, 2, 2, []float64{1, 5, 5, 2}, "EPSG:4326", Affine{0, 1, 0, 2, 0, -1})

	actual, err := sampler.Argmax("")
	assert.NoError(t, err)
	assert.Equal(t, 5.0, actual.Value)
	assert.Equal(t, Cell{Row: 0, Col: 1}, actual.Cell)
	assert.True(t, math.Abs(actual.Point.Lon-1.5) < 1e-9)
	assert.True(t, math.Abs(actual.Point.Lat-1.5) < 1e-9)
}

func TestSamplerArgmax_Ties(t *testing.T) {
	for _, tc := range []struct {
		name     string
		samples  []float64
		expected Cell
	}{
		{
			name:     "same_row",
			samples:  []float64{7, 1, 7, 1, 1, 1},
			expected: Cell{Row: 0, Col: 0},
		},
		{
			name:     "different_rows",
			samples:  []float64{1, 1, 3, 3, 1, 1},
			expected: Cell{Row: 0, Col: 2},
		},
		{
			name:     "nan_first",
			samples:  []float64{math.NaN(), 2, math.Inf(1), 2, 1, 0},
			expected: Cell{Row: 0, Col: 1},
		},
		{
			name:     "negative",
			samples:  []float64{-3, -2, -1, -1, -2, -3},
			expected: Cell{Row: 0, Col: 2},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sampler := newTestSampler(t, 3, 2, tc.samples, "EPSG:4326", NewAffineNorthUp(0, 2, 1, 1))
			actual, err := sampler.Argmax("EPSG:4326")
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual.Cell)
		})
	}
}

func TestSamplerArgmax_AllMissing(t *testing.T) {
	nan := math.NaN()
	sampler := newTestSampler(t, 2, 2, []float64{nan, nan, math.Inf(1), math.Inf(-1)}, "EPSG:4326", NewAffineNorthUp(0, 2, 1, 1))
	_, err := sampler.Argmax("")
	assert.True(t, errors.Is(err, ErrAllMissing))
}

func TestSamplerArgmax_Projected(t *testing.T) {
	samples := make([]float64, 100)
	samples[23] = 100
	sampler := newTestSampler(t, 10, 10, samples, "EPSG:32632", NewAffineNorthUp(499955, 55, 10, 10))

	actual, err := sampler.Argmax("")
	assert.NoError(t, err)
	assert.Equal(t, Cell{Row: 2, Col: 3}, actual.Cell)
	assert.Equal(t, 100.0, actual.Value)
	// The cell center is at (499990, 30).
	assert.True(t, math.Abs(actual.Point.Lon-(9-10/111319.49)) < 1e-4)
	assert.True(t, math.Abs(actual.Point.Lat-30/110574.0) < 1e-4)
}

func TestSamplerExtract(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i)
	}
	samples[99] = math.NaN()
	// Covers longitudes 0 to 10 and latitudes 0 to 10.
	sampler := newTestSampler(t, 10, 10, samples, "EPSG:4326", NewAffineNorthUp(0, 10, 1, 1))

	points := []GeoPoint{
		{Lat: 91, Lon: 0},
		{Lat: 9.5, Lon: 0.5},
		{Lat: 5.5, Lon: 5.5},
		{Lat: 20, Lon: 5},
		{Lat: 0.5, Lon: 9.5},
		{Lat: 0.5, Lon: 3.5},
		{Lat: -1, Lon: -1},
		{Lat: math.NaN(), Lon: 1},
	}
	actual, err := sampler.Extract(points, "")
	assert.NoError(t, err)
	assert.Equal(t, len(points), len(actual))
	for i, result := range actual {
		assert.Equal(t, points[i].Lon, result.Point.Lon)
	}

	var projectionError *ProjectionError
	assert.False(t, actual[0].OK)
	assert.True(t, errors.As(actual[0].Err, &projectionError))

	assert.True(t, actual[1].OK)
	assert.Equal(t, 0.0, actual[1].Value)
	assert.Equal(t, Cell{Row: 0, Col: 0}, actual[1].Cell)

	assert.True(t, actual[2].OK)
	assert.Equal(t, 45.0, actual[2].Value)

	assert.False(t, actual[3].OK)
	assert.True(t, errors.Is(actual[3].Err, ErrOutside))

	assert.False(t, actual[4].OK)
	assert.True(t, errors.Is(actual[4].Err, ErrNoData))
	assert.Equal(t, Cell{Row: 9, Col: 9}, actual[4].Cell)

	assert.True(t, actual[5].OK)
	assert.Equal(t, 93.0, actual[5].Value)

	assert.False(t, actual[6].OK)
	assert.True(t, errors.Is(actual[6].Err, ErrOutside))

	assert.False(t, actual[7].OK)
	assert.True(t, errors.As(actual[7].Err, &projectionError))
}

func TestSamplerExtract_InvalidLatitude(t *testing.T) {
	sampler := newTestSampler(t, 2, 2, []float64{1, 5, 5, 2}, "EPSG:4326", Affine{0, 1, 0, 2, 0, -1})
	actual, err := sampler.Extract([]GeoPoint{{Lat: 91, Lon: 0}}, "EPSG:4326")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(actual))
	assert.False(t, actual[0].OK)
	assert.Error(t, actual[0].Err)
}

func TestSamplerExtract_Empty(t *testing.T) {
	sampler := newTestSampler(t, 1, 1, []float64{1}, "EPSG:4326", NewAffineNorthUp(0, 1, 1, 1))
	actual, err := sampler.Extract(nil, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(actual))
}

func TestSamplerExtract_BoundsAndCenter(t *testing.T) {
	sampler := newTestSampler(t, 3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, "EPSG:4326", NewAffineNorthUp(10, 50, 0.5, 0.5))

	bounds := sampler.Bounds()
	assert.Equal(t, Bounds{MinX: 10, MinY: 48.5, MaxX: 11.5, MaxY: 50}, bounds)

	centerX, centerY := bounds.Center()
	center, err := sampler.Sample(GeoPoint{Lat: centerY, Lon: centerX}, "")
	assert.NoError(t, err)
	assert.True(t, center.OK)
	assert.Equal(t, 5.0, center.Value)
	assert.Equal(t, Cell{Row: 1, Col: 1}, center.Cell)

	for _, point := range []GeoPoint{
		{Lat: 50.01, Lon: 11},
		{Lat: 48.49, Lon: 11},
		{Lat: 49, Lon: 9.99},
		{Lat: 49, Lon: 11.51},
	} {
		result, err := sampler.Sample(point, "")
		assert.NoError(t, err)
		assert.False(t, result.OK)
		assert.True(t, errors.Is(result.Err, ErrOutside))
	}
}

func TestSamplerExtract_Projected(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i)
	}
	sampler := newTestSampler(t, 10, 10, samples, "EPSG:32632", NewAffineNorthUp(499955, 55, 10, 10))

	actual, err := sampler.Sample(GeoPoint{Lat: 0, Lon: 9}, "epsg:4326")
	assert.NoError(t, err)
	assert.True(t, actual.OK)
	assert.Equal(t, Cell{Row: 5, Col: 4}, actual.Cell)
	assert.Equal(t, 54.0, actual.Value)

	// Coordinates in a projected CRS are not range checked.
	actual, err = sampler.Sample(GeoPoint{Lat: 10, Lon: 500000}, "EPSG:32632")
	assert.NoError(t, err)
	assert.True(t, actual.OK)
	assert.Equal(t, Cell{Row: 4, Col: 4}, actual.Cell)
}

func TestSamplerExtract_ProjectedGeographicRange(t *testing.T) {
	// EPSG:4087 is a projected CRS with a code in the geographic range.
	sampler := newTestSampler(t, 1, 1, []float64{7}, "EPSG:4087", NewAffineNorthUp(1000000, 1000010, 10, 10))
	actual, err := sampler.Sample(GeoPoint{Lat: 1000005, Lon: 1000005}, "EPSG:4087")
	assert.NoError(t, err)
	assert.True(t, actual.OK)
	assert.Equal(t, 7.0, actual.Value)
}

func TestSamplerExtract_UnknownCRS(t *testing.T) {
	sampler := newTestSampler(t, 1, 1, []float64{1}, "EPSG:4326", NewAffineNorthUp(0, 1, 1, 1))
	_, err := sampler.Extract([]GeoPoint{{Lat: 0, Lon: 0}}, "EPSG:999999")
	var unknownCRSError *UnknownCRSError
	assert.True(t, errors.As(err, &unknownCRSError))

	sampler = newTestSampler(t, 1, 1, []float64{1}, "", NewAffineNorthUp(0, 1, 1, 1))
	_, err = sampler.Extract([]GeoPoint{{Lat: 0, Lon: 0}}, "")
	assert.True(t, errors.As(err, &unknownCRSError))
}

func TestSamplerExtract_Bilinear(t *testing.T) {
	samples := []float64{
		0, 10,
		20, 30,
	}
	sampler := newTestSampler(t, 2, 2, samples, "EPSG:4326", NewAffineNorthUp(0, 2, 1, 1), WithBilinear(true))

	for _, tc := range []struct {
		point    GeoPoint
		expected float64
	}{
		{point: GeoPoint{Lat: 1, Lon: 1}, expected: 15},
		{point: GeoPoint{Lat: 1.5, Lon: 0.5}, expected: 0},
		{point: GeoPoint{Lat: 0.25, Lon: 1.75}, expected: 30},
		{point: GeoPoint{Lat: 1.5, Lon: 1}, expected: 5},
	} {
		actual, err := sampler.Sample(tc.point, "")
		assert.NoError(t, err)
		assert.True(t, actual.OK)
		assert.True(t, math.Abs(tc.expected-actual.Value) < 1e-9, "%v: got %v", tc.point, actual.Value)
	}

	samples[3] = math.NaN()
	actual, err := sampler.Sample(GeoPoint{Lat: 1, Lon: 1}, "")
	assert.NoError(t, err)
	assert.False(t, actual.OK)
	assert.True(t, errors.Is(actual.Err, ErrNoData))
}

func TestSamplerDisplayBounds(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		sampler := newTestSampler(t, 2, 2, []float64{1, 2, 3, 4}, "EPSG:4326", NewAffineNorthUp(5, 45, 1, 1))
		actual := sampler.DisplayBounds("")
		assert.True(t, actual.Reprojected)
		assert.Equal(t, "EPSG:4326", actual.CRS)
		assert.True(t, math.Abs(actual.MinX-5) < 1e-9)
		assert.True(t, math.Abs(actual.MaxY-45) < 1e-9)
	})

	t.Run("projected", func(t *testing.T) {
		sampler := newTestSampler(t, 10, 10, make([]float64, 100), "EPSG:32632", NewAffineNorthUp(400000, 5500000, 1000, 1000))
		actual := sampler.DisplayBounds("EPSG:4326")
		assert.True(t, actual.Reprojected)
		assert.True(t, 7 < actual.MinX && actual.MaxX < 9)
		assert.True(t, 49 < actual.MinY && actual.MaxY < 50)
		assert.True(t, actual.MinX < actual.MaxX && actual.MinY < actual.MaxY)
	})

	t.Run("antimeridian", func(t *testing.T) {
		// UTM zone 1 eastings below about 166000 lie west of the antimeridian.
		sampler := newTestSampler(t, 4, 1, make([]float64, 4), "EPSG:32601", NewAffineNorthUp(100000, 100000, 100000, 100000))
		actual := sampler.DisplayBounds("EPSG:4326")
		assert.True(t, actual.Reprojected)
		assert.True(t, actual.MinX > actual.MaxX)
		assert.True(t, 179 < actual.MinX && actual.MinX < 180)
		assert.True(t, -178 < actual.MaxX && actual.MaxX < -176)
		assert.True(t, -0.1 < actual.MinY && actual.MaxY < 1)
	})

	t.Run("unknown_crs", func(t *testing.T) {
		sampler := newTestSampler(t, 2, 2, []float64{1, 2, 3, 4}, "", NewAffineNorthUp(5, 45, 1, 1))
		actual := sampler.DisplayBounds("")
		assert.False(t, actual.Reprojected)
		assert.Equal(t, Bounds{MinX: 5, MinY: 43, MaxX: 7, MaxY: 45}, actual.Bounds)
	})

	t.Run("display_crs_option", func(t *testing.T) {
		sampler := newTestSampler(t, 2, 2, []float64{1, 2, 3, 4}, "EPSG:4326", NewAffineNorthUp(0, 1, 1, 1), WithDisplayCRS("EPSG:3857"))
		actual := sampler.DisplayBounds("")
		assert.True(t, actual.Reprojected)
		assert.Equal(t, "EPSG:3857", actual.CRS)
		assert.True(t, math.Abs(actual.MaxX-222638.98) < 1)
	})
}

func TestNewSampler(t *testing.T) {
	grid := testGrid(t, 4, 4, "EPSG:4326", NewAffineNorthUp(0, 4, 1, 1))
	var buffer bytes.Buffer
	assert.NoError(t, Encode(&buffer, grid))

	sampler, err := NewSampler(buffer.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, 4, sampler.Metadata().Width)
	actual, err := sampler.Sample(GeoPoint{Lat: 2.5, Lon: 1.5}, "")
	assert.NoError(t, err)
	assert.Equal(t, 11.0, actual.Value)

	_, err = NewSampler([]byte("not a raster"))
	assert.True(t, errors.Is(err, ErrFormat))

	_, err = NewGridSampler(nil)
	assert.True(t, errors.Is(err, ErrEmptyRaster))
}

func TestNewSampler_DecodeOptions(t *testing.T) {
	grid := testGrid(t, 2, 2, "", NewAffineNorthUp(0, 2, 1, 1))
	var buffer bytes.Buffer
	assert.NoError(t, Encode(&buffer, grid))

	sampler, err := NewSampler(buffer.Bytes(), WithDecodeOptions(WithDefaultCRS("EPSG:4326")))
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:4326", sampler.Grid().CRS())
}
