// Package geosample reads pixel values from georeferenced rasters at
// geographic coordinates.
package geosample

import (
	"errors"
	"fmt"
)

// DefaultCRS is the reference system of GeoPoints unless stated otherwise.
const DefaultCRS = "EPSG:4326"

var (
	ErrFormat              = errors.New("unrecognized raster format")
	ErrEmptyRaster         = errors.New("empty raster")
	ErrAllMissing          = errors.New("all values missing")
	ErrDegenerateTransform = errors.New("degenerate affine transform")
	ErrOutside             = errors.New("outside raster")
	ErrNoData              = errors.New("no data")
)

// A GeoPoint is a geographic coordinate in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Valid returns whether p lies within the valid latitude and longitude
// ranges.
func (p GeoPoint) Valid() bool {
	return -90 <= p.Lat && p.Lat <= 90 && -180 <= p.Lon && p.Lon <= 180
}

// A Cell is a pixel index.
type Cell struct {
	Row int
	Col int
}

// Bounds is a rectangle in some CRS.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Contains returns whether (x, y) lies within b, inclusive.
func (b Bounds) Contains(x, y float64) bool {
	return b.MinX <= x && x <= b.MaxX && b.MinY <= y && y <= b.MaxY
}

// Center returns the center of b.
func (b Bounds) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// extend grows b to include (x, y).
func (b *Bounds) extend(x, y float64) {
	b.MinX = min(b.MinX, x)
	b.MinY = min(b.MinY, y)
	b.MaxX = max(b.MaxX, x)
	b.MaxY = max(b.MaxY, y)
}

// DisplayBounds are Bounds reprojected for display. If Reprojected is false
// then reprojection failed and Bounds are in the raster's native CRS.
type DisplayBounds struct {
	Bounds
	CRS         string `json:"crs"`
	Reprojected bool   `json:"reprojected"`
}

// A SampleResult is the result of sampling a raster at a single point. If OK
// is false then there is no value at the point and Err says why.
type SampleResult struct {
	Point GeoPoint
	Value float64
	Cell  Cell
	OK    bool
	Err   error
}

// An ExtremumResult is the location of the highest value in a raster.
type ExtremumResult struct {
	Value float64
	Cell  Cell
	Point GeoPoint
}

// An UnknownCRSError is returned when a CRS cannot be resolved.
type UnknownCRSError struct {
	CRS string
	Err error
}

func (e *UnknownCRSError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: unknown CRS", e.CRS)
	}
	return fmt.Sprintf("%s: unknown CRS: %v", e.CRS, e.Err)
}

func (e *UnknownCRSError) Unwrap() error {
	return e.Err
}

// A ProjectionError is returned when a single coordinate cannot be
// reprojected.
type ProjectionError struct {
	X   float64
	Y   float64
	Err error
}

func (e *ProjectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("(%g, %g): projection failed", e.X, e.Y)
	}
	return fmt.Sprintf("(%g, %g): projection failed: %v", e.X, e.Y, e.Err)
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}
