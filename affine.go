package geosample

import "math"

// An Affine is an affine transform from pixel space to a CRS, with
// coefficients in GDAL order:
//
//	x = a[0] + col*a[1] + row*a[2]
//	y = a[3] + col*a[4] + row*a[5]
type Affine [6]float64

// NewAffineNorthUp returns the transform of a north-up raster whose top left
// corner is at (originX, originY) with pixels of the given size.
func NewAffineNorthUp(originX, originY, pixelSizeX, pixelSizeY float64) Affine {
	return Affine{originX, pixelSizeX, 0, originY, 0, -pixelSizeY}
}

// det returns the determinant of the linear part of a.
func (a Affine) det() float64 {
	return a[1]*a[5] - a[2]*a[4]
}

// Invertible returns whether a is invertible.
func (a Affine) Invertible() bool {
	for _, coefficient := range a {
		if math.IsNaN(coefficient) || math.IsInf(coefficient, 0) {
			return false
		}
	}
	det := a.det()
	return det != 0 && !math.IsNaN(det) && !math.IsInf(det, 0)
}

// Forward returns the CRS coordinate of the fractional pixel coordinate (col,
// row).
func (a Affine) Forward(col, row float64) (float64, float64) {
	return a[0] + col*a[1] + row*a[2], a[3] + col*a[4] + row*a[5]
}

// Inverse returns the fractional pixel coordinate (col, row) of the CRS
// coordinate (x, y). a must be invertible.
func (a Affine) Inverse(x, y float64) (float64, float64) {
	det := a.det()
	dx, dy := x-a[0], y-a[3]
	return (a[5]*dx - a[2]*dy) / det, (-a[4]*dx + a[1]*dy) / det
}

// Cell returns the cell containing the CRS coordinate (x, y) in a raster of
// the given size.
func (a Affine) Cell(x, y float64, width, height int) (Cell, bool) {
	col, row := a.Inverse(x, y)
	col, row = math.Floor(col), math.Floor(row)
	if !(0 <= col && col < float64(width) && 0 <= row && row < float64(height)) {
		return Cell{}, false
	}
	return Cell{Row: int(row), Col: int(col)}, true
}

// CellCenter returns the CRS coordinate of the center of cell.
func (a Affine) CellCenter(cell Cell) (float64, float64) {
	return a.Forward(float64(cell.Col)+0.5, float64(cell.Row)+0.5)
}

// Bounds returns the bounds of a raster of the given size.
func (a Affine) Bounds(width, height int) Bounds {
	x, y := a.Forward(0, 0)
	bounds := Bounds{MinX: x, MinY: y, MaxX: x, MaxY: y}
	for _, corner := range [][2]float64{
		{float64(width), 0},
		{0, float64(height)},
		{float64(width), float64(height)},
	} {
		bounds.extend(a.Forward(corner[0], corner[1]))
	}
	return bounds
}
