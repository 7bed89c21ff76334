package geosample

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/twpayne/go-proj/v10"
)

var (
	errNonFinite       = errors.New("non-finite coordinate")
	errProjectorClosed = errors.New("projector closed")
)

// A Projector reprojects coordinates between two CRSs. Coordinates are always
// in (x, y) order, where x is the easting or longitude and y is the northing
// or latitude, regardless of the axis order declared by either CRS.
type Projector struct {
	mutex  sync.Mutex
	source string
	target string
	pj     *proj.PJ
}

// NewProjector returns a new Projector from source to target.
func NewProjector(source, target string) (*Projector, error) {
	source, target = normalizeCRS(source), normalizeCRS(target)
	for _, crs := range []string{source, target} {
		if crs == "" {
			return nil, &UnknownCRSError{CRS: crs}
		}
		pj, err := proj.New(crs)
		if err != nil {
			return nil, &UnknownCRSError{CRS: crs, Err: err}
		}
		pj.Destroy()
	}

	pj, err := proj.NewCRSToCRS(source, target, nil)
	if err != nil {
		return nil, &UnknownCRSError{CRS: source + " to " + target, Err: err}
	}
	normalizedPJ, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, &UnknownCRSError{CRS: source + " to " + target, Err: err}
	}

	return &Projector{
		source: source,
		target: target,
		pj:     normalizedPJ,
	}, nil
}

// Source returns p's source CRS.
func (p *Projector) Source() string {
	return p.source
}

// Target returns p's target CRS.
func (p *Projector) Target() string {
	return p.target
}

// Forward reprojects (x, y) from p's source CRS to p's target CRS.
func (p *Projector) Forward(x, y float64) (float64, float64, error) {
	return p.trans(x, y, (*proj.PJ).Forward)
}

// Inverse reprojects (x, y) from p's target CRS to p's source CRS.
func (p *Projector) Inverse(x, y float64) (float64, float64, error) {
	return p.trans(x, y, (*proj.PJ).Inverse)
}

// ForwardBounds reprojects bounds from p's source CRS to p's target CRS,
// densifying each edge with densifyPoints intermediate points. If the target
// CRS is geographic and the result crosses the antimeridian then the returned
// MinX is greater than MaxX.
func (p *Projector) ForwardBounds(bounds Bounds, densifyPoints int) (Bounds, error) {
	boundsErr := func(err error) error {
		return &ProjectionError{X: bounds.MinX, Y: bounds.MinY, Err: err}
	}
	for _, v := range []float64{bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY} {
		if !isFinite(v) {
			return Bounds{}, boundsErr(errNonFinite)
		}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.pj == nil {
		return Bounds{}, boundsErr(errProjectorClosed)
	}
	projBounds, err := p.pj.ForwardBounds(proj.Bounds{
		XMin: bounds.MinX,
		YMin: bounds.MinY,
		XMax: bounds.MaxX,
		YMax: bounds.MaxY,
	}, densifyPoints)
	if err != nil {
		return Bounds{}, boundsErr(err)
	}
	for _, v := range []float64{projBounds.XMin, projBounds.YMin, projBounds.XMax, projBounds.YMax} {
		if !isFinite(v) {
			return Bounds{}, boundsErr(errNonFinite)
		}
	}
	return Bounds{
		MinX: projBounds.XMin,
		MinY: projBounds.YMin,
		MaxX: projBounds.XMax,
		MaxY: projBounds.YMax,
	}, nil
}

// Close releases the resources associated with p.
func (p *Projector) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.pj != nil {
		p.pj.Destroy()
		p.pj = nil
	}
}

func (p *Projector) trans(x, y float64, f func(*proj.PJ, proj.Coord) (proj.Coord, error)) (float64, float64, error) {
	if !isFinite(x) || !isFinite(y) {
		return 0, 0, &ProjectionError{X: x, Y: y, Err: errNonFinite}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.pj == nil {
		return 0, 0, &ProjectionError{X: x, Y: y, Err: errProjectorClosed}
	}
	coord, err := f(p.pj, proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, &ProjectionError{X: x, Y: y, Err: err}
	}
	if !isFinite(coord.X()) || !isFinite(coord.Y()) {
		return 0, 0, &ProjectionError{X: x, Y: y, Err: errNonFinite}
	}
	return coord.X(), coord.Y(), nil
}

// normalizeCRS returns crs in a canonical form so that "epsg:4326" and
// " EPSG:4326" share a cache entry.
func normalizeCRS(crs string) string {
	crs = strings.TrimSpace(crs)
	if authority, code, ok := strings.Cut(crs, ":"); ok && !strings.ContainsAny(crs, " [=+") {
		return strings.ToUpper(authority) + ":" + code
	}
	return crs
}

// epsgCode returns the EPSG code of crs, if crs is of the form EPSG:n.
func epsgCode(crs string) (int, bool) {
	authority, codeStr, ok := strings.Cut(normalizeCRS(crs), ":")
	if !ok || authority != "EPSG" {
		return 0, false
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code <= 0 {
		return 0, false
	}
	return code, true
}

// nonGeographicEPSGCodes are commonly used projected and geocentric CRSs whose
// EPSG codes fall within the geographic range.
var nonGeographicEPSGCodes = map[int]bool{
	4087: true, // WGS 84 / World Equidistant Cylindrical
	4088: true, // World Equidistant Cylindrical (Sphere)
	4328: true, // WGS 84 geocentric
	4936: true, // ETRS89 geocentric
	4978: true, // WGS 84 geocentric
}

// isGeographicEPSG returns whether crs is an EPSG code in the geographic CRS
// range 4000 to 4999. Codes in nonGeographicEPSGCodes are excluded, but the
// range contains other rarely used non-geographic CRSs that are not.
func isGeographicEPSG(crs string) bool {
	code, ok := epsgCode(crs)
	return ok && 4000 <= code && code < 5000 && !nonGeographicEPSGCodes[code]
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
