package geosample

import (
	"fmt"
	"math"
)

// A Grid is an immutable single-band raster held in memory. Missing values
// are represented by NaNs. A Grid is safe for concurrent use.
type Grid struct {
	width     int
	height    int
	samples   []float64
	crs       string
	transform Affine
	noData    float64
	hasNoData bool
	dataType  string
	bandCount int
}

// Metadata describes a Grid.
type Metadata struct {
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	BandCount int      `json:"bandCount"`
	DataType  string   `json:"dataType"`
	NoData    *float64 `json:"noData,omitempty"`
	CRS       string   `json:"crs"`
	Transform Affine   `json:"transform"`
	Bounds    Bounds   `json:"bounds"`
}

// NewGrid returns a new Grid of the given size. samples are in row-major
// order and are not copied.
func NewGrid(width, height int, samples []float64, crs string, transform Affine) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyRaster
	}
	if len(samples) != width*height {
		return nil, fmt.Errorf("got %d samples, expected %d", len(samples), width*height)
	}
	if !transform.Invertible() {
		return nil, ErrDegenerateTransform
	}
	return &Grid{
		width:     width,
		height:    height,
		samples:   samples,
		crs:       crs,
		transform: transform,
		dataType:  "float64",
		bandCount: 1,
	}, nil
}

// Width returns g's width.
func (g *Grid) Width() int { return g.width }

// Height returns g's height.
func (g *Grid) Height() int { return g.height }

// CRS returns g's CRS.
func (g *Grid) CRS() string { return g.crs }

// Transform returns g's affine transform.
func (g *Grid) Transform() Affine { return g.transform }

// NoData returns g's nodata value, if any.
func (g *Grid) NoData() (float64, bool) { return g.noData, g.hasNoData }

// Bounds returns g's bounds in its native CRS.
func (g *Grid) Bounds() Bounds {
	return g.transform.Bounds(g.width, g.height)
}

// Metadata returns g's metadata.
func (g *Grid) Metadata() Metadata {
	metadata := Metadata{
		Width:     g.width,
		Height:    g.height,
		BandCount: g.bandCount,
		DataType:  g.dataType,
		CRS:       g.crs,
		Transform: g.transform,
		Bounds:    g.Bounds(),
	}
	if g.hasNoData {
		noData := g.noData
		metadata.NoData = &noData
	}
	return metadata
}

// At returns the sample at cell. It returns NaN if cell is outside g.
func (g *Grid) At(cell Cell) float64 {
	if cell.Row < 0 || g.height <= cell.Row || cell.Col < 0 || g.width <= cell.Col {
		return math.NaN()
	}
	return g.samples[cell.Row*g.width+cell.Col]
}

// Argmax returns the cell containing the highest finite sample. Ties are
// resolved in favor of the first cell in row-major order.
func (g *Grid) Argmax() (Cell, float64, error) {
	index := -1
	maxSample := math.Inf(-1)
	for i, sample := range g.samples {
		if !isFinite(sample) {
			continue
		}
		if index == -1 || sample > maxSample {
			index = i
			maxSample = sample
		}
	}
	if index == -1 {
		return Cell{}, math.NaN(), ErrAllMissing
	}
	return Cell{Row: index / g.width, Col: index % g.width}, maxSample, nil
}

// Range returns the minimum and maximum finite samples in g.
func (g *Grid) Range() (float64, float64, bool) {
	minSample, maxSample := math.Inf(1), math.Inf(-1)
	found := false
	for _, sample := range g.samples {
		if !isFinite(sample) {
			continue
		}
		found = true
		minSample = min(minSample, sample)
		maxSample = max(maxSample, sample)
	}
	return minSample, maxSample, found
}

// Bilinear returns the bilinear interpolation of the samples around the
// fractional pixel coordinate (col, row), treating samples as located at
// pixel centers. Edges are clamped. It returns false if any contributing
// sample is missing.
func (g *Grid) Bilinear(col, row float64) (float64, bool) {
	x, y := col-0.5, row-0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	dx, dy := x-x0, y-y0
	c0 := g.clampCol(int(x0))
	c1 := g.clampCol(int(x0) + 1)
	r0 := g.clampRow(int(y0))
	r1 := g.clampRow(int(y0) + 1)
	value := 0.0
	for _, term := range [4]struct {
		sample float64
		weight float64
	}{
		{g.samples[r0*g.width+c0], (1 - dx) * (1 - dy)},
		{g.samples[r0*g.width+c1], dx * (1 - dy)},
		{g.samples[r1*g.width+c0], (1 - dx) * dy},
		{g.samples[r1*g.width+c1], dx * dy},
	} {
		if term.weight == 0 {
			continue
		}
		if !isFinite(term.sample) {
			return math.NaN(), false
		}
		value += term.sample * term.weight
	}
	return value, true
}

func (g *Grid) clampCol(col int) int {
	return min(max(col, 0), g.width-1)
}

func (g *Grid) clampRow(row int) int {
	return min(max(row, 0), g.height-1)
}
