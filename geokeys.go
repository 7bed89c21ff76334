package geosample

import (
	"errors"
	"fmt"
	"strings"
)

var errGeoKeys = errors.New("invalid GeoKey directory")

// A GeoKey is a GeoTIFF GeoKey identifier.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS         GeoKey = 2048
	GeoKeyGeogCitation        GeoKey = 2049
	GeoKeyGeodeticDatum       GeoKey = 2050
	GeoKeyPrimeMeridian       GeoKey = 2051
	GeoKeyAngularUnits        GeoKey = 2054
	GeoKeyGeogAngularUnitSize GeoKey = 2055
	GeoKeyEllipsoid           GeoKey = 2056

	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyProjection   GeoKey = 3074
	GeoKeyProjMethod   GeoKey = 3075
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyFalseEasting    GeoKey = 3082
	GeoKeyFalseNorthing   GeoKey = 3083
	GeoKeyCenterLongitude GeoKey = 3088
	GeoKeyCenterLatitude  GeoKey = 3089
)

// Model types.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	ModelTypeGeocentric = 3
)

// Raster types.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

const userDefined = 32767

// GeoKeys are the parsed contents of a GeoKey directory.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated
// GeoDoubleParamsTag and GeoASCIIParamsTag.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, errGeoKeys
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errGeoKeys
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errGeoKeys
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errGeoKeys
	}
	numberOfKeys := int(directory[3])
	if len(directory) < 4+4*numberOfKeys {
		return nil, errGeoKeys
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		count := int(keyValues[2])
		valueOffset := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("%w: key %d: count %d", errGeoKeys, key, count)
			}
			geoKeys.Params[key] = valueOffset
		case tagGeoDoubleParams:
			// Multi-valued double params are not needed to identify a CRS.
			if count != 1 {
				continue
			}
			if valueOffset >= len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: double param %d out of range", errGeoKeys, key, valueOffset)
			}
			geoKeys.DoubleParams[key] = doubleParams[valueOffset]
		case tagGeoASCIIParams:
			if valueOffset+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: ASCII param out of range", errGeoKeys, key)
			}
			geoKeys.ASCIIParams[key] = string(asciiParams[valueOffset : valueOffset+count])
		default:
			return nil, fmt.Errorf("%w: key %d: unsupported location %d", errGeoKeys, key, tiffTagLocation)
		}
	}
	return geoKeys, nil
}

// CRS returns the CRS identified by k, suitable for passing to
// NewProjector. It returns false if k does not identify a CRS.
func (k *GeoKeys) CRS() (string, bool) {
	modelType := k.Params[GeoKeyGTModelType]
	if code, ok := k.Params[GeoKeyProjectedCRS]; ok && code != userDefined && modelType != ModelTypeGeographic {
		return fmt.Sprintf("EPSG:%d", code), true
	}
	if code, ok := k.Params[GeoKeyGeodeticCRS]; ok && code != userDefined && modelType != ModelTypeProjected {
		return fmt.Sprintf("EPSG:%d", code), true
	}

	// User-defined CRSs written by ESRI tools embed WKT in a citation.
	for _, key := range []GeoKey{GeoKeyPCSCitation, GeoKeyGTCitation, GeoKeyGeogCitation} {
		if wkt, ok := citationWKT(k.ASCIIParams[key]); ok {
			return wkt, true
		}
	}
	return "", false
}

// RasterType returns k's raster type, defaulting to RasterPixelIsArea.
func (k *GeoKeys) RasterType() int {
	if rasterType, ok := k.Params[GeoKeyGTRasterType]; ok {
		return rasterType
	}
	return RasterPixelIsArea
}

// citationWKT extracts WKT from an ASCII citation.
func citationWKT(citation string) (string, bool) {
	citation = strings.TrimSuffix(citation, "|")
	if _, wkt, ok := strings.Cut(citation, "ESRI PE String = "); ok {
		citation = wkt
	}
	for _, prefix := range []string{"PROJCS[", "GEOGCS[", "PROJCRS[", "GEOGCRS["} {
		if index := strings.Index(citation, prefix); index >= 0 {
			return strings.TrimSuffix(citation[index:], "|"), true
		}
	}
	return "", false
}
